package migrator

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/clereview/dbmigrate/internal/db"
	"github.com/clereview/dbmigrate/internal/lock"
)

const journal = "schema_migrations"

func newSQLiteRunner(t *testing.T) (*Runner, *sql.DB) {
	t.Helper()
	database, err := db.OpenSQLite(filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	r := NewRunner(database, db.SQLite{}, journal, "tester")
	r.Locker = lock.NewSQLite(database, "test", journal+"_lock")
	return r, database
}

func journalIDs(t *testing.T, database *sql.DB) []string {
	t.Helper()
	rows, err := database.Query(`SELECT id FROM "schema_migrations" ORDER BY execution_order`)
	require.NoError(t, err)
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		require.NoError(t, rows.Scan(&id))
		ids = append(ids, id)
	}
	require.NoError(t, rows.Err())
	return ids
}

func tableExists(t *testing.T, database *sql.DB, name string) bool {
	t.Helper()
	var n int
	require.NoError(t, database.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n))
	return n == 1
}

func mem(pairs ...string) MemorySource {
	var src MemorySource
	for i := 0; i+1 < len(pairs); i += 2 {
		src.Scripts = append(src.Scripts, MemoryScript{ID: pairs[i], SQL: pairs[i+1]})
	}
	return src
}

var (
	scriptA = []string{"001_a", "CREATE TABLE a (id INTEGER PRIMARY KEY);"}
	scriptB = []string{"002_b", "CREATE TABLE b (id INTEGER PRIMARY KEY);"}
)

func TestRunAppliesPendingInOrder(t *testing.T) {
	r, database := newSQLiteRunner(t)
	ctx := context.Background()

	rep := r.Run(ctx, mem(append(scriptA, scriptB...)...))
	require.Nil(t, rep.Err())
	require.True(t, rep.Successful())
	require.Equal(t, StateSucceeded, rep.State())
	require.Equal(t, []string{"001_a", "002_b"}, rep.AppliedIDs())
	require.Equal(t, []string{"001_a", "002_b"}, journalIDs(t, database))
	require.True(t, tableExists(t, database, "a"))
	require.True(t, tableExists(t, database, "b"))
	require.NotEmpty(t, rep.RunID())

	applied, err := r.Storage.GetApplied(ctx)
	require.NoError(t, err)
	require.Equal(t, "tester", applied["002_b"].AppliedBy)
	require.Equal(t, int64(2), applied["002_b"].ExecutionOrder)
	require.False(t, applied["001_a"].AppliedAt.IsZero())
}

func TestRunOnlyAppliesScriptsMissingFromJournal(t *testing.T) {
	r, database := newSQLiteRunner(t)
	ctx := context.Background()

	require.True(t, r.Run(ctx, mem(scriptA...)).Successful())
	rep := r.Run(ctx, mem(append(scriptA, scriptB...)...))
	require.True(t, rep.Successful())
	require.Equal(t, []string{"002_b"}, rep.AppliedIDs())
	require.Equal(t, []string{"001_a", "002_b"}, journalIDs(t, database))
}

func TestRunIsIdempotent(t *testing.T) {
	r, database := newSQLiteRunner(t)
	ctx := context.Background()
	src := mem(append(scriptA, scriptB...)...)

	require.True(t, r.Run(ctx, src).Successful())
	rep := r.Run(ctx, src)
	require.True(t, rep.Successful())
	require.Empty(t, rep.AppliedIDs())
	require.Empty(t, rep.Pending())
	require.Len(t, journalIDs(t, database), 2)
}

func TestRunOrdersByNumericVersion(t *testing.T) {
	r, database := newSQLiteRunner(t)
	var order []string
	r.Progress = func(stage string, s Script, _ *AppliedRecord, _ error) {
		if stage == "start" {
			order = append(order, s.ID)
		}
	}
	rep := r.Run(context.Background(), mem(
		"10_c", "CREATE TABLE c (id INTEGER);",
		"2_b", "CREATE TABLE b (id INTEGER);",
		"001_a", "CREATE TABLE a (id INTEGER);",
	))
	require.True(t, rep.Successful())
	require.Equal(t, []string{"001_a", "2_b", "10_c"}, order)
	require.Equal(t, order, journalIDs(t, database))
}

func TestRunStopsAtFailingScriptAndRollsItBack(t *testing.T) {
	r, database := newSQLiteRunner(t)
	ctx := context.Background()

	rep := r.Run(ctx, mem(
		"001_a", "CREATE TABLE a (id INTEGER);",
		"002_b", "CREATE TABLE b (id INTEGER); INSERT INTO missing VALUES (1);",
		"003_c", "CREATE TABLE c (id INTEGER);",
	))
	require.False(t, rep.Successful())
	require.Equal(t, StateFailed, rep.State())
	require.Equal(t, []string{"001_a"}, rep.AppliedIDs())

	e := rep.Err()
	require.NotNil(t, e)
	require.Equal(t, KindScriptExecution, e.Kind)
	require.Equal(t, "002_b", e.ScriptID)
	require.True(t, errors.Is(e, ErrScriptExecution))

	require.Equal(t, []string{"001_a"}, journalIDs(t, database))
	require.False(t, tableExists(t, database, "b"))
	require.False(t, tableExists(t, database, "c"))
}

func TestRunFailureWithPartiallyAppliedJournal(t *testing.T) {
	r, database := newSQLiteRunner(t)
	ctx := context.Background()
	require.True(t, r.Run(ctx, mem(scriptA...)).Successful())

	rep := r.Run(ctx, mem(append(scriptA, "002_b", "SELECT * FROM nowhere;")...))
	require.False(t, rep.Successful())
	require.Empty(t, rep.AppliedIDs())
	require.Equal(t, "002_b", rep.Err().ScriptID)
	require.Equal(t, []string{"001_a"}, journalIDs(t, database))
}

func TestRunRefusesChangedAppliedScript(t *testing.T) {
	r, database := newSQLiteRunner(t)
	ctx := context.Background()
	require.True(t, r.Run(ctx, mem(scriptA...)).Successful())

	rep := r.Run(ctx, mem(
		"001_a", "CREATE TABLE a (id INTEGER PRIMARY KEY, extra TEXT);",
		scriptB[0], scriptB[1],
	))
	require.False(t, rep.Successful())
	require.Equal(t, KindIntegrity, rep.Err().Kind)
	require.Equal(t, "001_a", rep.Err().ScriptID)
	require.True(t, errors.Is(rep.Err(), ErrIntegrity))
	require.Empty(t, rep.AppliedIDs())
	require.False(t, tableExists(t, database, "b"))
	require.Equal(t, []string{"001_a"}, journalIDs(t, database))
}

func TestRunNormalizedChecksumIgnoresLineEndings(t *testing.T) {
	r, _ := newSQLiteRunner(t)
	ctx := context.Background()
	src := MemorySource{NormalizeNewlines: true, Scripts: []MemoryScript{{ID: "001_a", SQL: "CREATE TABLE a (id INTEGER);\n"}}}
	require.True(t, r.Run(ctx, src).Successful())

	src.Scripts[0].SQL = "CREATE TABLE a (id INTEGER);\r\n"
	require.True(t, r.Run(ctx, src).Successful())
}

func TestRunLockContention(t *testing.T) {
	r, database := newSQLiteRunner(t)
	ctx := context.Background()

	holder := lock.NewSQLite(database, "test", journal+"_lock")
	require.NoError(t, holder.Acquire(ctx, 0))
	defer holder.Release(ctx)

	r.LockTimeout = 0
	rep := r.Run(ctx, mem(scriptA...))
	require.False(t, rep.Successful())
	require.Equal(t, KindLockContention, rep.Err().Kind)
	require.True(t, errors.Is(rep.Err(), ErrLockContention))
	require.True(t, errors.Is(rep.Err(), lock.ErrLocked))
	require.False(t, tableExists(t, database, "a"))
	require.False(t, tableExists(t, database, journal))
}

func TestRunDryRun(t *testing.T) {
	r, database := newSQLiteRunner(t)
	r.DryRun = true
	rep := r.Run(context.Background(), mem(append(scriptA, scriptB...)...))
	require.True(t, rep.Successful())
	require.True(t, rep.DryRun())
	require.Equal(t, []string{"001_a", "002_b"}, rep.Pending())
	require.Empty(t, rep.AppliedIDs())
	require.False(t, tableExists(t, database, "a"))
	require.Empty(t, journalIDs(t, database))
}

func TestRunSubstitutesVariables(t *testing.T) {
	r, database := newSQLiteRunner(t)
	r.Variables = map[string]string{"table": "widgets"}
	rep := r.Run(context.Background(), mem("001_widgets", "CREATE TABLE $table$ (id INTEGER);"))
	require.True(t, rep.Successful())
	require.True(t, tableExists(t, database, "widgets"))
}

func TestRunNoTransactionScript(t *testing.T) {
	r, database := newSQLiteRunner(t)
	src := mem("001_vacuum", "\n"+NoTransactionDirective+"\nCREATE TABLE n (id INTEGER);")
	scripts, err := src.List(context.Background())
	require.NoError(t, err)
	require.True(t, scripts[0].NoTransaction)

	rep := r.Run(context.Background(), src)
	require.True(t, rep.Successful())
	require.Equal(t, []string{"001_vacuum"}, journalIDs(t, database))
}

func TestRunCatalogDuplicate(t *testing.T) {
	r, database := newSQLiteRunner(t)
	rep := r.Run(context.Background(), mem("1_a", "SELECT 1;", "001_a", "SELECT 2;"))
	require.False(t, rep.Successful())
	require.Equal(t, KindCatalogLoad, rep.Err().Kind)
	require.True(t, errors.Is(rep.Err(), ErrCatalogLoad))
	require.Empty(t, journalIDs(t, database))
}

func TestRunStopsWhenCancelled(t *testing.T) {
	r, database := newSQLiteRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Progress = func(stage string, s Script, _ *AppliedRecord, _ error) {
		if stage == "success" && s.ID == "001_a" {
			cancel()
		}
	}
	rep := r.Run(ctx, mem(append(scriptA, scriptB...)...))
	require.False(t, rep.Successful())
	require.Equal(t, []string{"001_a"}, rep.AppliedIDs())
	require.Equal(t, KindScriptExecution, rep.Err().Kind)
	require.Equal(t, "002_b", rep.Err().ScriptID)
	require.True(t, errors.Is(rep.Err(), context.Canceled))
	require.Equal(t, []string{"001_a"}, journalIDs(t, database))

	// the lock was released despite the cancelled context
	require.True(t, r.Run(context.Background(), mem(append(scriptA, scriptB...)...)).Successful())
}

func TestRunJournalWriteFailureRollsBackScript(t *testing.T) {
	r, database := newSQLiteRunner(t)
	rep := r.Run(context.Background(), mem(
		"001_a", "CREATE TABLE a (id INTEGER);",
		"002_drop", `CREATE TABLE d (id INTEGER); DROP TABLE "schema_migrations";`,
	))
	require.False(t, rep.Successful())
	require.Equal(t, KindJournalWrite, rep.Err().Kind)
	require.Equal(t, "002_drop", rep.Err().ScriptID)
	require.False(t, tableExists(t, database, "d"))
	require.Equal(t, []string{"001_a"}, journalIDs(t, database))
}

func TestRunFileSource(t *testing.T) {
	r, database := newSQLiteRunner(t)
	fsys := fstest.MapFS{
		"migrations/002_users.up.sql":  {Data: []byte("CREATE TABLE users (id INTEGER);")},
		"migrations/001_init.sql":      {Data: []byte("CREATE TABLE init (id INTEGER);")},
		"migrations/001_init.down.sql": {Data: []byte("DROP TABLE init;")},
		"migrations/README.md":         {Data: []byte("notes")},
	}
	rep := r.Run(context.Background(), FileSource{FS: fsys, RootDir: "migrations"})
	require.True(t, rep.Successful(), "%v", rep.Err())
	require.Equal(t, []string{"001_init", "002_users"}, journalIDs(t, database))
}

func TestStatusReportsDrift(t *testing.T) {
	r, _ := newSQLiteRunner(t)
	ctx := context.Background()
	require.True(t, r.Run(ctx, mem(scriptA...)).Successful())

	p, err := r.Status(ctx, mem("001_a", "CREATE TABLE a2 (id INTEGER);", scriptB[0], scriptB[1]))
	require.NoError(t, err)
	require.Equal(t, []string{"002_b"}, p.PendingIDs())
	require.Len(t, p.Mismatched, 1)
	require.Equal(t, "001_a", p.Mismatched[0].ID)
}

func TestBaselineMarksScriptsWithoutRunningThem(t *testing.T) {
	r, database := newSQLiteRunner(t)
	ctx := context.Background()
	src := mem(
		"001_a", "CREATE TABLE a (id INTEGER);",
		"002_b", "CREATE TABLE b (id INTEGER);",
		"003_c", "CREATE TABLE c (id INTEGER);",
	)

	_, err := r.Baseline(ctx, src, "009_missing")
	require.True(t, errors.Is(err, ErrUnknownScript))

	recs, err := r.Baseline(ctx, src, "002_b")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.False(t, tableExists(t, database, "a"))
	require.Equal(t, []string{"001_a", "002_b"}, journalIDs(t, database))

	rep := r.Run(ctx, src)
	require.True(t, rep.Successful())
	require.Equal(t, []string{"003_c"}, rep.AppliedIDs())
}

func TestRepairUpdatesChecksums(t *testing.T) {
	r, _ := newSQLiteRunner(t)
	ctx := context.Background()
	require.True(t, r.Run(ctx, mem(scriptA...)).Successful())

	edited := mem("001_a", "CREATE TABLE IF NOT EXISTS a (id INTEGER PRIMARY KEY);")
	require.Equal(t, KindIntegrity, r.Run(ctx, edited).Err().Kind)

	r.DryRun = true
	fixed, err := r.Repair(ctx, edited)
	require.NoError(t, err)
	require.Len(t, fixed, 1)
	require.Equal(t, KindIntegrity, r.Run(ctx, edited).Err().Kind)

	r.DryRun = false
	fixed, err = r.Repair(ctx, edited)
	require.NoError(t, err)
	require.Len(t, fixed, 1)
	require.True(t, r.Run(ctx, edited).Successful())
}

// mysql cannot roll back DDL, so the journal row is written after commit.
func TestRunNonTransactionalDDLRecordsAfterCommit(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	src := mem("001_init", "CREATE TABLE t (id INT)")
	scripts, err := src.List(context.Background())
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS `schema_migrations`").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id, checksum, applied_at, applied_by, duration_ms, execution_order FROM `schema_migrations`").
		WillReturnRows(sqlmock.NewRows(journalColumns))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(execution_order), 0) FROM `schema_migrations`")).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(int64(0)))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE t (id INT)")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("INSERT INTO `schema_migrations`").
		WithArgs("001_init", scripts[0].Checksum, sqlmock.AnyArg(), "tester", sqlmock.AnyArg(), int64(1)).
		WillReturnError(errors.New("connection reset"))

	r := NewRunner(sqlDB, db.MySQL{}, journal, "tester")
	rep := r.Run(context.Background(), src)
	require.False(t, rep.Successful())
	require.Equal(t, KindJournalWrite, rep.Err().Kind)
	require.Equal(t, "001_init", rep.Err().ScriptID)
	require.NoError(t, mock.ExpectationsWereMet())
}
