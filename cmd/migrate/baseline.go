package main

import (
	"github.com/spf13/cobra"
)

var baselineCmd = &cobra.Command{
	Use:   "baseline <id>",
	Short: "Record every migration up to <id> as applied without running it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd, "")
		if err != nil {
			return err
		}
		defer s.Close()

		recs, err := s.runner.Baseline(cmd.Context(), s.src, args[0])
		if err != nil {
			return s.fail("baseline failed", err)
		}
		for _, r := range recs {
			s.log.Debug("baseline.mark", map[string]any{"id": r.ID, "order": r.ExecutionOrder})
		}
		s.log.Info("baseline complete", map[string]any{"count": len(recs), "dry_run": s.cfg.DryRun})
		return nil
	},
}

func init() {
	rootCmd.AddCommand(baselineCmd)
}
