package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/clereview/dbmigrate/internal/migrator"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied and pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd, "")
		if err != nil {
			return err
		}
		defer s.Close()

		plan, err := s.runner.Status(cmd.Context(), s.src)
		if err != nil {
			return s.fail("status failed", err)
		}
		items := statusItems(plan)
		if s.log.JSONEnabled() {
			return json.NewEncoder(os.Stdout).Encode(items)
		}
		printStatus(os.Stdout, items)
		s.log.Info("status.summary", map[string]any{
			"applied":  len(plan.Applied),
			"pending":  len(plan.Pending),
			"modified": len(plan.Mismatched),
		})
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

type statusItem struct {
	ID        string     `json:"id"`
	Checksum  string     `json:"checksum"`
	Status    string     `json:"status"` // applied|pending|modified|missing
	AppliedAt *time.Time `json:"applied_at,omitempty"`
	AppliedBy string     `json:"applied_by,omitempty"`
}

func statusItems(plan *migrator.Plan) []statusItem {
	modified := map[string]bool{}
	for _, m := range plan.Mismatched {
		modified[m.ID] = true
	}
	out := make([]statusItem, 0, len(plan.All)+len(plan.Unknown))
	for _, sc := range plan.All {
		it := statusItem{ID: sc.ID, Checksum: sc.Checksum, Status: "pending"}
		if row, ok := plan.Applied[sc.ID]; ok {
			at := row.AppliedAt.UTC()
			it.Status, it.AppliedAt, it.AppliedBy = "applied", &at, row.AppliedBy
			if modified[sc.ID] {
				it.Status = "modified"
			}
		}
		out = append(out, it)
	}
	for _, row := range plan.Unknown {
		at := row.AppliedAt.UTC()
		out = append(out, statusItem{ID: row.ID, Checksum: row.Checksum, Status: "missing", AppliedAt: &at, AppliedBy: row.AppliedBy})
	}
	return out
}

func printStatus(w io.Writer, items []statusItem) {
	for _, it := range items {
		sum := it.Checksum
		if len(sum) > 12 {
			sum = sum[:12]
		}
		at := ""
		if it.AppliedAt != nil {
			at = it.AppliedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%-40s %-8s %s %s\n", it.ID, it.Status, sum, at)
	}
}
