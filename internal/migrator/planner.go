package migrator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/clereview/dbmigrate/internal/checksum"
	"github.com/clereview/dbmigrate/internal/fsutil"
)

// Mismatch is an applied script whose current content no longer matches
// the checksum recorded when it ran.
type Mismatch struct {
	ID       string
	Recorded string
	Current  string
}

type Plan struct {
	Pending    []Script // to apply in order
	Applied    map[string]AppliedRecord
	All        []Script // all discovered
	Mismatched []Mismatch
	// Unknown holds journal rows with no script in the catalog.
	Unknown []AppliedRecord
}

// BuildPlan compares the catalog with the journal. all must already be in
// catalog order.
func BuildPlan(all []Script, applied map[string]AppliedRecord) *Plan {
	p := &Plan{Applied: applied, All: all, Pending: make([]Script, 0, len(all))}
	known := make(map[string]struct{}, len(all))
	for _, s := range all {
		known[s.ID] = struct{}{}
		row, ok := applied[s.ID]
		if !ok {
			p.Pending = append(p.Pending, s)
			continue
		}
		if !checksum.Equal(row.Checksum, s.Checksum) {
			p.Mismatched = append(p.Mismatched, Mismatch{ID: s.ID, Recorded: row.Checksum, Current: s.Checksum})
		}
	}
	for id, row := range applied {
		if _, ok := known[id]; !ok {
			p.Unknown = append(p.Unknown, row)
		}
	}
	sort.Slice(p.Unknown, func(i, j int) bool { return fsutil.Less(p.Unknown[i].ID, p.Unknown[j].ID) })
	return p
}

// Verify fails with an IntegrityError when an applied script changed.
func (p *Plan) Verify() error {
	if len(p.Mismatched) == 0 {
		return nil
	}
	parts := make([]string, 0, len(p.Mismatched))
	for _, m := range p.Mismatched {
		parts = append(parts, fmt.Sprintf("%s (db=%s file=%s)", m.ID, m.Recorded, m.Current))
	}
	return newError(KindIntegrity, p.Mismatched[0].ID, fmt.Errorf("%w: %s", ErrIntegrity, strings.Join(parts, ", ")))
}

// PendingIDs returns the ids still to apply, in order.
func (p *Plan) PendingIDs() []string {
	ids := make([]string, len(p.Pending))
	for i, s := range p.Pending {
		ids[i] = s.ID
	}
	return ids
}

// DiscoverAndPlan loads the catalog and the journal and decides what to run.
// It does not verify checksums; call Verify for that.
func DiscoverAndPlan(ctx context.Context, src Source, st *Storage) (*Plan, error) {
	all, err := src.List(ctx)
	if err != nil {
		return nil, newError(KindCatalogLoad, "", err)
	}
	applied, err := st.GetApplied(ctx)
	if err != nil {
		return nil, newError(KindJournalRead, "", err)
	}
	return BuildPlan(all, applied), nil
}
