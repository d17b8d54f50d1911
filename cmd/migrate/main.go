package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/clereview/dbmigrate/internal/config"
	"github.com/clereview/dbmigrate/internal/db"
	"github.com/clereview/dbmigrate/internal/lock"
	"github.com/clereview/dbmigrate/internal/logger"
	"github.com/clereview/dbmigrate/internal/migrator"
)

const (
	exitOK        = 0
	exitDrift     = 2
	exitLocked    = 3
	exitFail      = 4
	exitPlanError = 5
)

// usageError marks bad invocations, which exit with exitPlanError.
type usageError struct{ error }

var opts struct {
	config      string
	envFile     string
	dsn         string
	driver      string
	dir         string
	json        bool
	dryRun      bool
	lockTimeout int
	table       string
	appliedBy   string
	verbose     bool
	normalize   bool
	metricsFile string
	vars        []string
}

var rootCmd = &cobra.Command{
	Use:           "dbmigrate",
	Short:         "Apply versioned SQL migrations and keep a journal of what ran",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&opts.config, "config", "", "Optional YAML or TOML config path")
	f.StringVar(&opts.envFile, "env-file", "", "Load variables from this .env file (default ./.env if present)")
	f.StringVar(&opts.dsn, "dsn", "", "Database DSN (or DB_DSN / DATABASE_URL)")
	f.StringVar(&opts.driver, "driver", "", "postgres, mysql or sqlite (or DB_DRIVER; guessed from the DSN)")
	f.StringVar(&opts.dir, "dir", "./migrations", "Migrations directory (or MIGRATIONS_DIR)")
	f.BoolVar(&opts.json, "json", false, "JSON logs")
	f.BoolVar(&opts.dryRun, "dry-run", false, "Plan only; do not execute")
	f.IntVar(&opts.lockTimeout, "lock-timeout", 30, "Lock timeout seconds, 0 fails fast (or LOCK_TIMEOUT_SEC)")
	f.StringVar(&opts.table, "table", "schema_migrations", "Journal table name (or MIGRATIONS_TABLE)")
	f.StringVar(&opts.appliedBy, "applied-by", "", "Override applied_by value")
	f.BoolVar(&opts.verbose, "verbose", false, "Verbose per-migration logs")
	f.BoolVar(&opts.normalize, "normalize-newlines", false, "Ignore CRLF vs LF when computing checksums")
	f.StringVar(&opts.metricsFile, "metrics-file", "", "Write Prometheus metrics to this file after up (or METRICS_FILE)")
	f.StringArrayVar(&opts.vars, "var", nil, "Script variable name=value, substituted for $name$ (repeatable)")
}

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitCode(err)
	}
	return exitOK
}

// exitCode maps a failure to the process exit status.
func exitCode(err error) int {
	var ue usageError
	if errors.As(err, &ue) {
		return exitPlanError
	}
	var e *migrator.Error
	if !errors.As(err, &e) {
		if errors.Is(err, lock.ErrLocked) {
			return exitLocked
		}
		return exitFail
	}
	switch e.Kind {
	case migrator.KindIntegrity:
		return exitDrift
	case migrator.KindLockContention:
		return exitLocked
	case migrator.KindCatalogLoad:
		return exitPlanError
	default:
		return exitFail
	}
}

// loadConfig layers defaults, config file, .env, environment and finally
// the flags the user actually set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if err := config.LoadDotEnv(opts.envFile); err != nil {
		return nil, usageError{fmt.Errorf("env file: %w", err)}
	}
	cfg, err := config.Load(opts.config)
	if err != nil {
		return nil, usageError{fmt.Errorf("config: %w", err)}
	}
	cfg = config.MergeEnv(cfg)

	flags := cmd.Flags()
	if flags.Changed("dsn") {
		cfg.DSN = opts.dsn
	}
	if flags.Changed("driver") {
		cfg.Driver = opts.driver
	}
	if flags.Changed("dir") {
		cfg.Dir = opts.dir
	}
	if flags.Changed("json") {
		cfg.JSON = opts.json
	}
	if flags.Changed("dry-run") {
		cfg.DryRun = opts.dryRun
	}
	if flags.Changed("lock-timeout") {
		cfg.LockTimeoutSec = opts.lockTimeout
	}
	if flags.Changed("table") {
		cfg.MigrationsTable = opts.table
	}
	if flags.Changed("applied-by") {
		cfg.AppliedBy = opts.appliedBy
	}
	if flags.Changed("normalize-newlines") {
		cfg.NormalizeNewlines = opts.normalize
	}
	if flags.Changed("metrics-file") {
		cfg.MetricsFile = opts.metricsFile
	}
	for _, v := range opts.vars {
		if err := cfg.SetVariable(v); err != nil {
			return nil, usageError{err}
		}
	}
	return cfg, nil
}

// session is everything a database command needs.
type session struct {
	cfg    *config.Config
	log    *logger.Logger
	db     *sql.DB
	runner *migrator.Runner
	src    migrator.Source
}

func (s *session) Close() error { return s.db.Close() }

// openSession connects to the configured database. A non-empty dsn, given
// as a positional argument, wins over every other source.
func openSession(cmd *cobra.Command, dsn string) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if dsn != "" {
		cfg.DSN = dsn
	}
	log := logger.New(cfg.JSON)
	log.SetVerbose(opts.verbose)

	if cfg.DSN == "" {
		return nil, usageError{errors.New("--dsn or DB_DSN is required")}
	}
	driver := cfg.Driver
	if driver == "" {
		driver = db.Detect(cfg.DSN)
	}
	if driver == "" {
		return nil, usageError{errors.New("cannot tell the database from the DSN, set --driver")}
	}
	database, d, err := db.Open(driver, cfg.DSN)
	if err != nil {
		return nil, usageError{err}
	}

	r := migrator.NewRunner(database, d, cfg.MigrationsTable, cfg.AppliedBy)
	key := lock.KeyFor(d.DatabaseName(cfg.DSN), cfg.MigrationsTable)
	r.Locker = lock.For(d, database, key, cfg.MigrationsTable)
	r.LockTimeout = cfg.LockTimeout()
	r.DryRun = cfg.DryRun
	r.Variables = cfg.Variables
	r.Log = log

	return &session{
		cfg:    cfg,
		log:    log,
		db:     database,
		runner: r,
		src:    migrator.FileSource{RootDir: cfg.Dir, NormalizeNewlines: cfg.NormalizeNewlines},
	}, nil
}

// fail logs err and hands it back to cobra for the exit code.
func (s *session) fail(msg string, err error) error {
	fields := map[string]any{"error": err.Error()}
	var e *migrator.Error
	if errors.As(err, &e) {
		fields["kind"] = string(e.Kind)
		if e.ScriptID != "" {
			fields["id"] = e.ScriptID
		}
	}
	s.log.Error(msg, fields)
	return err
}
