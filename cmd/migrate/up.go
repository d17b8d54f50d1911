package main

import (
	"github.com/spf13/cobra"

	"github.com/clereview/dbmigrate/internal/metrics"
	"github.com/clereview/dbmigrate/internal/migrator"
)

var upCmd = &cobra.Command{
	Use:   "up [dsn]",
	Short: "Apply all pending migrations",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var dsn string
		if len(args) == 1 {
			dsn = args[0]
		}
		s, err := openSession(cmd, dsn)
		if err != nil {
			return err
		}
		defer s.Close()

		s.runner.Progress = func(stage string, sc migrator.Script, rec *migrator.AppliedRecord, err error) {
			fields := map[string]any{"id": sc.ID}
			if rec != nil {
				fields["order"] = rec.ExecutionOrder
			}
			switch stage {
			case "start":
				s.log.Debug("migrate.start", fields)
			case "success":
				fields["duration_ms"] = rec.DurationMS
				s.log.Info("migrate.success", fields)
			case "error":
				fields["error"] = err.Error()
				s.log.Error("migrate.error", fields)
			}
		}

		rep := s.runner.Run(cmd.Context(), s.src)
		if s.cfg.MetricsFile != "" {
			metrics.ObserveReport(rep)
			if err := metrics.WriteTextfile(s.cfg.MetricsFile); err != nil {
				s.log.Warn("metrics write failed", map[string]any{"path": s.cfg.MetricsFile, "error": err.Error()})
			}
		}
		if e := rep.Err(); e != nil {
			return s.fail("up failed", e)
		}

		fields := map[string]any{
			"run_id":      rep.RunID(),
			"applied":     len(rep.AppliedIDs()),
			"dry_run":     rep.DryRun(),
			"duration_ms": rep.Duration().Milliseconds(),
		}
		switch {
		case rep.DryRun():
			fields["pending"] = rep.Pending()
			s.log.Info("dry run, nothing executed", fields)
		case len(rep.AppliedIDs()) == 0:
			s.log.Info("no pending migrations", fields)
		default:
			s.log.Info("up complete", fields)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(upCmd)
}
