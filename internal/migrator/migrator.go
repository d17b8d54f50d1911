// Package migrator applies versioned SQL scripts to a database and keeps a
// journal of what ran.
package migrator

import (
	"context"
	"database/sql"
	"fmt"
	"os/user"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clereview/dbmigrate/internal/db"
	"github.com/clereview/dbmigrate/internal/fsutil"
	"github.com/clereview/dbmigrate/internal/lock"
	"github.com/clereview/dbmigrate/internal/logger"
)

// Progress is called around every script: stage is start, success or error.
type Progress func(stage string, s Script, rec *AppliedRecord, err error)

// Runner is the migration engine. A Runner performs one run at a time.
type Runner struct {
	DB        *sql.DB
	Dialect   db.Dialect
	Storage   *Storage
	AppliedBy string

	// Locker, when set, is held for the whole run.
	Locker      lock.Locker
	LockTimeout time.Duration

	DryRun    bool
	Variables map[string]string
	Progress  Progress
	Log       *logger.Logger

	mu    sync.Mutex
	state State
}

func NewRunner(database *sql.DB, d db.Dialect, table string, appliedBy string) *Runner {
	return &Runner{
		DB:        database,
		Dialect:   d,
		Storage:   &Storage{DB: database, Dialect: d, Table: table},
		AppliedBy: appliedBy,
	}
}

func defaultAppliedBy() string {
	u, err := user.Current()
	if err == nil && u.Username != "" {
		return u.Username
	}
	return "unknown"
}

// Ensure creates the journal table and fills in AppliedBy.
func (r *Runner) Ensure(ctx context.Context) error {
	if err := r.Storage.EnsureInitialized(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(r.AppliedBy) == "" {
		r.AppliedBy = defaultAppliedBy()
	}
	return nil
}

func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) setState(s State, log *logger.Logger) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
	log.Debug("state", map[string]any{"state": s.String()})
}

// acquire takes the advisory lock and returns the matching release func.
func (r *Runner) acquire(ctx context.Context, log *logger.Logger) (func(), *Error) {
	if r.Locker == nil {
		return func() {}, nil
	}
	if err := r.Locker.Acquire(ctx, r.LockTimeout); err != nil {
		return nil, newError(KindLockContention, "", fmt.Errorf("%s: %w", r.Locker.Key(), err))
	}
	log.Debug("lock acquired", map[string]any{"key": r.Locker.Key()})
	return func() {
		// release even when the run was cancelled
		if err := r.Locker.Release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("lock release failed", map[string]any{"key": r.Locker.Key(), "error": err.Error()})
		}
	}, nil
}

// plan loads catalog and journal and refuses to continue over changed
// history.
func (r *Runner) plan(ctx context.Context, src Source, log *logger.Logger) (*Plan, *Error) {
	if err := r.Ensure(ctx); err != nil {
		return nil, newError(KindJournalWrite, "", err)
	}
	p, err := DiscoverAndPlan(ctx, src, r.Storage)
	if err != nil {
		return nil, newError(KindCatalogLoad, "", err)
	}
	for _, row := range p.Unknown {
		log.Warn("journal entry has no script", map[string]any{"id": row.ID, "applied_at": row.AppliedAt})
	}
	if err := p.Verify(); err != nil {
		return nil, newError(KindIntegrity, "", err)
	}
	return p, nil
}

// Run applies every pending script from src in ascending id order and
// stops at the first failure. Scripts that committed before a failure stay
// applied and recorded.
func (r *Runner) Run(ctx context.Context, src Source) *Report {
	rep := &Report{runID: uuid.NewString(), dryRun: r.DryRun, startedAt: time.Now()}
	log := r.Log.With(map[string]any{"run_id": rep.runID})
	finish := func(e *Error) *Report {
		rep.err = e
		rep.duration = time.Since(rep.startedAt)
		if e != nil {
			rep.state = StateFailed
			log.Debug("run failed", map[string]any{"kind": string(e.Kind), "id": e.ScriptID})
		} else {
			rep.state = StateSucceeded
		}
		r.setState(rep.state, log)
		return rep
	}
	r.setState(StateIdle, log)

	release, lerr := r.acquire(ctx, log)
	if lerr != nil {
		return finish(lerr)
	}
	defer release()

	r.setState(StateComputing, log)
	p, perr := r.plan(ctx, src, log)
	if perr != nil {
		return finish(perr)
	}
	rep.pending = p.PendingIDs()
	if r.DryRun || len(p.Pending) == 0 {
		return finish(nil)
	}

	r.setState(StateApplying, log)
	order, err := r.Storage.MaxExecutionOrder(ctx)
	if err != nil {
		return finish(newError(KindJournalRead, "", err))
	}
	for _, s := range p.Pending {
		if err := ctx.Err(); err != nil {
			return finish(newError(KindScriptExecution, s.ID, err))
		}
		order++
		if e := r.apply(ctx, s, order); e != nil {
			return finish(e)
		}
		rep.applied = append(rep.applied, s.ID)
	}
	return finish(nil)
}

// apply runs one script and records it. With transactional DDL the journal
// row is part of the script's transaction. Otherwise, and for
// no-transaction scripts, the row is written right after the script
// commits; a crash in between leaves an applied but unrecorded script.
func (r *Runner) apply(ctx context.Context, s Script, order int64) *Error {
	rec := AppliedRecord{
		ID:             s.ID,
		Checksum:       s.Checksum,
		AppliedBy:      r.AppliedBy,
		ExecutionOrder: order,
	}
	r.progress("start", s, &rec, nil)
	fail := func(kind Kind, err error) *Error {
		r.progress("error", s, &rec, err)
		return newError(kind, s.ID, err)
	}

	body := substitute(string(s.Content), r.Variables)
	start := time.Now()
	done := func() {
		rec.DurationMS = time.Since(start).Milliseconds()
		rec.AppliedAt = time.Now().UTC()
	}

	if s.NoTransaction {
		if err := r.exec(ctx, r.DB, body); err != nil {
			return fail(KindScriptExecution, err)
		}
		done()
		if err := r.Storage.RecordApplied(ctx, r.DB, rec); err != nil {
			return fail(KindJournalWrite, err)
		}
		r.progress("success", s, &rec, nil)
		return nil
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fail(KindScriptExecution, err)
	}
	if err := r.exec(ctx, tx, body); err != nil {
		_ = tx.Rollback()
		return fail(KindScriptExecution, err)
	}
	done()
	if r.Dialect.TransactionalDDL() {
		if err := r.Storage.RecordApplied(ctx, tx, rec); err != nil {
			_ = tx.Rollback()
			return fail(KindJournalWrite, err)
		}
		if err := tx.Commit(); err != nil {
			return fail(KindScriptExecution, err)
		}
	} else {
		if err := tx.Commit(); err != nil {
			return fail(KindScriptExecution, err)
		}
		if err := r.Storage.RecordApplied(ctx, r.DB, rec); err != nil {
			return fail(KindJournalWrite, err)
		}
	}
	r.progress("success", s, &rec, nil)
	return nil
}

func (r *Runner) exec(ctx context.Context, exec Executor, body string) error {
	if strings.TrimSpace(body) == "" {
		return nil
	}
	_, err := exec.ExecContext(ctx, body)
	return err
}

func (r *Runner) progress(stage string, s Script, rec *AppliedRecord, err error) {
	if r.Progress != nil {
		r.Progress(stage, s, rec, err)
	}
}

// Status returns the plan without applying anything. Checksum mismatches
// are reported in the plan rather than as an error.
func (r *Runner) Status(ctx context.Context, src Source) (*Plan, error) {
	if err := r.Ensure(ctx); err != nil {
		return nil, newError(KindJournalWrite, "", err)
	}
	return DiscoverAndPlan(ctx, src, r.Storage)
}

// Baseline records every catalog script up to and including upTo as applied
// without executing it, for databases whose schema already exists.
func (r *Runner) Baseline(ctx context.Context, src Source, upTo string) ([]AppliedRecord, error) {
	log := r.Log.With(map[string]any{"op": "baseline"})
	release, lerr := r.acquire(ctx, log)
	if lerr != nil {
		return nil, lerr
	}
	defer release()

	p, perr := r.plan(ctx, src, log)
	if perr != nil {
		return nil, perr
	}
	found := false
	for _, s := range p.All {
		if s.ID == upTo {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScript, upTo)
	}
	order, err := r.Storage.MaxExecutionOrder(ctx)
	if err != nil {
		return nil, newError(KindJournalRead, "", err)
	}
	var out []AppliedRecord
	for _, s := range p.Pending {
		if fsutil.Less(upTo, s.ID) {
			break
		}
		order++
		rec := AppliedRecord{ID: s.ID, Checksum: s.Checksum, AppliedAt: time.Now().UTC(), AppliedBy: r.AppliedBy, ExecutionOrder: order}
		if r.DryRun {
			out = append(out, rec)
			continue
		}
		if err := r.Storage.RecordApplied(ctx, r.DB, rec); err != nil {
			return out, newError(KindJournalWrite, s.ID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Repair rewrites the stored checksum of every applied script whose content
// changed. Use it after intentional edits to applied scripts.
func (r *Runner) Repair(ctx context.Context, src Source) ([]Mismatch, error) {
	log := r.Log.With(map[string]any{"op": "repair"})
	release, lerr := r.acquire(ctx, log)
	if lerr != nil {
		return nil, lerr
	}
	defer release()

	p, err := r.Status(ctx, src)
	if err != nil {
		return nil, err
	}
	if r.DryRun {
		return p.Mismatched, nil
	}
	var out []Mismatch
	for _, m := range p.Mismatched {
		if err := r.Storage.UpdateChecksum(ctx, m.ID, m.Current); err != nil {
			return out, newError(KindJournalWrite, m.ID, err)
		}
		out = append(out, m)
	}
	return out, nil
}
