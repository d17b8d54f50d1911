package main

import (
	"github.com/spf13/cobra"
)

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Update stored checksums to current files (use after intentional edits)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd, "")
		if err != nil {
			return err
		}
		defer s.Close()

		fixed, err := s.runner.Repair(cmd.Context(), s.src)
		if err != nil {
			return s.fail("repair failed", err)
		}
		for _, m := range fixed {
			s.log.Info("repair.checksum", map[string]any{"id": m.ID, "recorded": m.Recorded, "current": m.Current})
		}
		s.log.Info("repair complete", map[string]any{"updated": len(fixed), "dry_run": s.cfg.DryRun})
		return nil
	},
}

func init() {
	rootCmd.AddCommand(repairCmd)
}
