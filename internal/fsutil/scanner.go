package fsutil

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var (
	fileRe = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_\-]+)(\.up)?\.sql$`)
	idRe   = regexp.MustCompile(`^(\d+)(?:_([a-zA-Z0-9_\-]+))?$`)
)

// File is a migration script found on disk or in an fs.FS.
type File struct {
	ID      string // <version>_<name>
	Version string
	Name    string
	Path    string // path in fs
}

// ScanDir scans a local directory on disk.
func ScanDir(dir string) (map[string]*File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	return scan(entries, func(name string) string { return filepath.Join(dir, name) })
}

// ScanFS scans fsys under a root dir path (logical, slash separated).
func ScanFS(fsys fs.FS, root string) (map[string]*File, error) {
	if root == "" {
		root = "."
	}
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return nil, err
	}
	return scan(entries, func(name string) string { return path.Join(root, name) })
}

func scan(entries []fs.DirEntry, full func(name string) string) (map[string]*File, error) {
	out := map[string]*File{}
	seen := map[string]string{} // ordering key -> id
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := fileRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		version, name := m[1], m[2]
		id := version + "_" + name
		if prev, ok := out[id]; ok {
			return nil, fmt.Errorf("duplicate migration id %s (%s and %s)", id, prev.Path, full(e.Name()))
		}
		k := orderKey(version, name)
		if other, ok := seen[k]; ok {
			return nil, fmt.Errorf("migrations %s and %s have the same version and name", other, id)
		}
		seen[k] = id
		out[id] = &File{ID: id, Version: version, Name: name, Path: full(e.Name())}
	}
	return out, nil
}

// ParseID splits an id of the form <version>[_<name>].
func ParseID(id string) (version, name string, ok bool) {
	m := idRe.FindStringSubmatch(id)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// SameOrder reports whether two ids would sort identically.
func SameOrder(a, b string) bool {
	va, na, _ := ParseID(a)
	vb, nb, _ := ParseID(b)
	return orderKey(va, na) == orderKey(vb, nb)
}

func orderKey(version, name string) string {
	return trimZeros(version) + ":" + name
}

func trimZeros(v string) string {
	v = strings.TrimLeft(v, "0")
	if v == "" {
		return "0"
	}
	return v
}

// CompareVersions compares two digit strings by numeric value, without
// limiting their length.
func CompareVersions(a, b string) int {
	a, b = trimZeros(a), trimZeros(b)
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

// Less orders ids by numeric version, then name, then the raw id.
func Less(a, b string) bool {
	va, na, _ := ParseID(a)
	vb, nb, _ := ParseID(b)
	if c := CompareVersions(va, vb); c != 0 {
		return c < 0
	}
	if na != nb {
		return na < nb
	}
	return a < b
}

func SortKeys(m map[string]*File) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return Less(keys[i], keys[j]) })
	return keys
}
