package main

import (
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/clereview/dbmigrate/internal/config"
	"github.com/clereview/dbmigrate/internal/fsutil"
	"github.com/clereview/dbmigrate/internal/logger"
	"github.com/clereview/dbmigrate/internal/migrator"
)

var createSeq bool

var createCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Scaffold <version>_<name>.sql in the migrations directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		log := logger.New(cfg.JSON)
		path, err := createScript(cfg, args[0], createSeq, time.Now())
		if err != nil {
			log.Error("create failed", map[string]any{"error": err.Error()})
			return err
		}
		log.Info("created migration", map[string]any{"path": path})
		return nil
	},
}

func init() {
	createCmd.Flags().BoolVar(&createSeq, "seq", false, "Use the next sequential number (001, 002, ...) instead of a timestamp")
	rootCmd.AddCommand(createCmd)
}

func createScript(cfg *config.Config, name string, seq bool, now time.Time) (string, error) {
	name = sanitize(name)
	if name == "" {
		return "", usageError{errors.New("migration name is empty")}
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return "", err
	}
	ver := now.UTC().Format("20060102150405")
	if seq {
		v, err := nextSequence(cfg.Dir)
		if err != nil {
			return "", err
		}
		ver = v
	}
	path := filepath.Join(cfg.Dir, ver+"_"+name+".sql")
	body := fmt.Sprintf("-- %s\n-- Start with %q to run outside a transaction.\n\n", name, migrator.NoTransactionDirective)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.WriteString(body); err != nil {
		return "", err
	}
	return path, nil
}

// nextSequence returns max(version)+1, padded like the widest existing
// version and at least three digits.
func nextSequence(dir string) (string, error) {
	files, err := fsutil.ScanDir(dir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}
	hi, width := new(big.Int), 3
	for _, f := range files {
		v, ok := new(big.Int).SetString(f.Version, 10)
		if !ok {
			continue
		}
		if v.Cmp(hi) > 0 {
			hi = v
		}
		if len(f.Version) > width {
			width = len(f.Version)
		}
	}
	next := hi.Add(hi, big.NewInt(1)).String()
	if len(next) < width {
		next = strings.Repeat("0", width-len(next)) + next
	}
	return next, nil
}

var unsafeName = regexp.MustCompile(`[^a-z0-9_\-]+`)

func sanitize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "_")
	s = unsafeName.ReplaceAllString(s, "")
	return strings.Trim(s, "_-")
}
