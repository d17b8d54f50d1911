package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DSN               string            `yaml:"dsn" toml:"dsn"`
	Driver            string            `yaml:"driver" toml:"driver"`
	Dir               string            `yaml:"dir" toml:"dir"`
	JSON              bool              `yaml:"json" toml:"json"`
	DryRun            bool              `yaml:"dry_run" toml:"dry_run"`
	LockTimeoutSec    int               `yaml:"lock_timeout_sec" toml:"lock_timeout_sec"`
	MigrationsTable   string            `yaml:"migrations_table" toml:"migrations_table"`
	AppliedBy         string            `yaml:"applied_by" toml:"applied_by"`
	NormalizeNewlines bool              `yaml:"normalize_newlines" toml:"normalize_newlines"`
	MetricsFile       string            `yaml:"metrics_file" toml:"metrics_file"`
	Variables         map[string]string `yaml:"variables" toml:"variables"`
}

func Default() *Config {
	return &Config{
		Dir:             "./migrations",
		LockTimeoutSec:  30,
		MigrationsTable: "schema_migrations",
	}
}

// Load reads a yaml or toml config file, picked by extension. An empty path
// returns the defaults. Unknown keys are an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return cfg, err
		}
		if keys := md.Undecoded(); len(keys) > 0 {
			return cfg, fmt.Errorf("%s: unknown key %s", path, keys[0])
		}
	case ".yaml", ".yml", "":
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	default:
		return cfg, fmt.Errorf("%s: unsupported config format", path)
	}
	return cfg, nil
}

// LoadDotEnv exports the variables of a .env file into the process
// environment without overriding variables that are already set. With an
// empty path ./.env is used and a missing file is not an error.
func LoadDotEnv(path string) error {
	optional := path == ""
	if optional {
		path = ".env"
	}
	err := godotenv.Load(path)
	if optional && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func MergeEnv(cfg *Config) *Config {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DSN = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.DSN = v
	}
	if v := os.Getenv("DB_DRIVER"); v != "" {
		cfg.Driver = v
	}
	if v := os.Getenv("MIGRATIONS_DIR"); v != "" {
		cfg.Dir = v
	}
	if v := os.Getenv("LOCK_TIMEOUT_SEC"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.LockTimeoutSec = i
		}
	}
	if v := os.Getenv("MIGRATIONS_TABLE"); v != "" {
		cfg.MigrationsTable = v
	}
	if v := os.Getenv("APPLIED_BY"); v != "" {
		cfg.AppliedBy = v
	}
	if v := os.Getenv("METRICS_FILE"); v != "" {
		cfg.MetricsFile = v
	}
	return cfg
}

// SetVariable parses a name=value pair into Variables.
func (c *Config) SetVariable(pair string) error {
	name, value, ok := strings.Cut(pair, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return fmt.Errorf("variable %q: want name=value", pair)
	}
	if c.Variables == nil {
		c.Variables = map[string]string{}
	}
	c.Variables[name] = value
	return nil
}

// LockTimeout is how long to wait for another migrator to finish. Zero or
// less fails immediately when the lock is held.
func (c *Config) LockTimeout() time.Duration {
	if c.LockTimeoutSec <= 0 {
		return 0
	}
	return time.Duration(c.LockTimeoutSec) * time.Second
}
