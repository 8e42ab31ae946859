// Package scan discovers locally produced intermediate files and maps their
// names back to ledger rows and forward to final artifact paths.
package scan

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// List returns the base names of regular files directly inside dir whose
// names end with suffix, sorted lexicographically for deterministic
// processing order. Subdirectories are not descended into.
func List(dir, suffix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "scan: read dir %s", dir)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if len(name) <= len(suffix) || !strings.HasSuffix(name, suffix) {
			continue
		}
		switch {
		case e.Type().IsRegular():
		case e.Type()&os.ModeSymlink != 0:
			// Follow the link; dangling links and links to directories are skipped.
			info, err := os.Stat(filepath.Join(dir, name))
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
		default:
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// ModTime returns the modification time of path.
func ModTime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "scan: stat %s", path)
	}
	return info.ModTime(), nil
}

// FS is the filesystem surface the ledger depends on.
type FS interface {
	List(dir, suffix string) ([]string, error)
	ModTime(path string) (time.Time, error)
}

// OS implements FS on the local filesystem.
type OS struct{}

func (OS) List(dir, suffix string) ([]string, error) { return List(dir, suffix) }

func (OS) ModTime(path string) (time.Time, error) { return ModTime(path) }
