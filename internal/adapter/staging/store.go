// Package staging buffers uploaded inputs on disk between ingress and
// execution. Files live under <root>/<YYYY-MM>/<DD>/<id>_<name> and are
// reclaimed by the janitor once their job is terminal and past retention.
package staging

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fairyhunter13/ai-inference-pipeline/internal/domain"
)

// Store implements domain.StagingStore on the local filesystem.
type Store struct{ root string }

// New constructs a Store rooted at dir.
func New(dir string) *Store { return &Store{root: dir} }

// Root returns the staging root directory.
func (s *Store) Root() string { return s.root }

// Check verifies the staging root exists and is writable. Used by readiness.
func (s *Store) Check(_ context.Context) error {
	if err := os.MkdirAll(s.root, 0o750); err != nil {
		return fmt.Errorf("op=staging.check: %w", err)
	}
	probe := filepath.Join(s.root, ".probe")
	if err := os.WriteFile(probe, nil, 0o600); err != nil {
		return fmt.Errorf("op=staging.check: %w", err)
	}
	return os.Remove(probe)
}

// Save writes the reader to the dated staging path for the given job id and
// returns the absolute path. slot distinguishes the two inputs of two-file
// flavors; slot 0 means the flavor's only file. The original filename is
// treated as opaque: only its base name survives, and it never shapes any
// output path.
func (s *Store) Save(_ domain.Context, id string, slot int, filename string, r io.Reader) (string, error) {
	name := sanitizeName(filename)
	now := time.Now().UTC()
	dir := filepath.Join(s.root, now.Format("2006-01"), now.Format("02"))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("op=staging.save: %w", err)
	}
	prefix := id + "_"
	if slot > 0 {
		prefix = fmt.Sprintf("%s_%d_", id, slot)
	}
	path := filepath.Join(dir, prefix+name)
	f, err := os.Create(path) // #nosec G304 -- path assembled from sanitized parts under the staging root
	if err != nil {
		return "", fmt.Errorf("op=staging.save: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("op=staging.save: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("op=staging.save: %w", err)
	}
	return path, nil
}

// Remove deletes a staged file. Paths outside the staging root are refused.
func (s *Store) Remove(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("op=staging.remove: %w", err)
	}
	rootAbs, err := filepath.Abs(s.root)
	if err != nil {
		return fmt.Errorf("op=staging.remove: %w", err)
	}
	if !strings.HasPrefix(abs, rootAbs+string(os.PathSeparator)) {
		return fmt.Errorf("op=staging.remove: %w: path outside staging root", domain.ErrInvalidArgument)
	}
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("op=staging.remove: %w", err)
	}
	return nil
}

// Entry describes one staged file for the janitor sweep.
type Entry struct {
	Path    string
	ID      string
	ModTime time.Time
}

// Entries lists every staged file with the owning job id parsed from the
// filename prefix. Request ids never contain underscores, so the first
// underscore always separates the id from the rest of the name.
func (s *Store) Entries() ([]Entry, error) {
	var out []Entry
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		name := d.Name()
		id := name
		if i := strings.Index(name, "_"); i > 0 {
			id = name[:i]
		}
		out = append(out, Entry{Path: path, ID: id, ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("op=staging.entries: %w", err)
	}
	return out, nil
}

// PruneEmptyDirs removes dated directories left empty by the sweep.
func (s *Store) PruneEmptyDirs() error {
	var dirs []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() && path != s.root {
			dirs = append(dirs, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("op=staging.prune: %w", err)
	}
	// Deepest first so <YYYY-MM> empties after its <DD> children.
	for i := len(dirs) - 1; i >= 0; i-- {
		entries, err := os.ReadDir(dirs[i])
		if err == nil && len(entries) == 0 {
			_ = os.Remove(dirs[i])
		}
	}
	return nil
}

func sanitizeName(filename string) string {
	name := filepath.Base(filepath.Clean(filename))
	if name == "." || name == string(os.PathSeparator) || name == "" {
		name = "input"
	}
	return strings.ReplaceAll(name, string(os.PathSeparator), "-")
}
