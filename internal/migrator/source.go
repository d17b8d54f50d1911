package migrator

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/clereview/dbmigrate/internal/checksum"
	"github.com/clereview/dbmigrate/internal/fsutil"
)

// NoTransactionDirective on the first non-blank line makes a script run
// outside a transaction, e.g. for CREATE INDEX CONCURRENTLY.
const NoTransactionDirective = "-- migrate:no-transaction"

// Source enumerates migration scripts. List must return the same scripts in
// the same order for the same input, or fail with a CatalogLoadError.
type Source interface {
	List(ctx context.Context) ([]Script, error)
}

// FileSource reads <version>_<name>.sql files from a directory.
type FileSource struct {
	FS                fs.FS // nil means local disk
	RootDir           string
	NormalizeNewlines bool
}

func (src FileSource) List(ctx context.Context) ([]Script, error) {
	var files map[string]*fsutil.File
	var err error
	if src.FS != nil {
		files, err = fsutil.ScanFS(src.FS, src.RootDir)
	} else {
		files, err = fsutil.ScanDir(src.RootDir)
	}
	if err != nil {
		return nil, newError(KindCatalogLoad, "", err)
	}
	out := make([]Script, 0, len(files))
	for _, id := range fsutil.SortKeys(files) {
		f := files[id]
		var b []byte
		if src.FS != nil {
			b, err = fs.ReadFile(src.FS, f.Path)
		} else {
			b, err = os.ReadFile(f.Path)
		}
		if err != nil {
			return nil, newError(KindCatalogLoad, id, err)
		}
		s := newScript(id, f.Version, f.Name, b, src.NormalizeNewlines)
		s.Path = f.Path
		out = append(out, s)
	}
	return out, nil
}

// MemoryScript is an explicitly supplied script.
type MemoryScript struct {
	ID  string
	SQL string
}

// MemorySource serves a fixed list of scripts, in any order.
type MemorySource struct {
	Scripts           []MemoryScript
	NormalizeNewlines bool
}

func (src MemorySource) List(ctx context.Context) ([]Script, error) {
	out := make([]Script, 0, len(src.Scripts))
	for _, ms := range src.Scripts {
		version, name, ok := fsutil.ParseID(ms.ID)
		if !ok {
			return nil, newError(KindCatalogLoad, ms.ID, fmt.Errorf("malformed migration id %q", ms.ID))
		}
		out = append(out, newScript(ms.ID, version, name, []byte(ms.SQL), src.NormalizeNewlines))
	}
	sort.SliceStable(out, func(i, j int) bool { return fsutil.Less(out[i].ID, out[j].ID) })
	for i := 1; i < len(out); i++ {
		if fsutil.SameOrder(out[i-1].ID, out[i].ID) {
			return nil, newError(KindCatalogLoad, out[i].ID,
				fmt.Errorf("duplicate migration id %s (conflicts with %s)", out[i].ID, out[i-1].ID))
		}
	}
	return out, nil
}

func newScript(id, version, name string, content []byte, normalize bool) Script {
	sum := checksum.SHA256(content)
	if normalize {
		sum = checksum.Normalized(content)
	}
	return Script{
		ID:            id,
		Version:       version,
		Name:          name,
		Content:       content,
		Checksum:      sum,
		NoTransaction: hasNoTransaction(content),
	}
}

func hasNoTransaction(content []byte) bool {
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		return strings.EqualFold(line, NoTransactionDirective)
	}
	return false
}

// substitute replaces $name$ tokens for the given variables. Unknown tokens,
// including postgres $$ and $tag$ quoting, are left alone.
func substitute(sql string, vars map[string]string) string {
	if len(vars) == 0 {
		return sql
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "$"+k+"$", v)
	}
	return strings.NewReplacer(pairs...).Replace(sql)
}
