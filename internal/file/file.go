package file

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"
)

const appDirPerm os.FileMode = 0o750

const maxFilenameRunes = 120

// EnsureDir creates the directory if it does not exist.
func EnsureDir(dirPath string) error {
	if dirPath == "" {
		return errors.New("empty dir path")
	}
	if err := os.MkdirAll(dirPath, appDirPerm); err != nil { //nolint:gosec // app-owned data dir
		return fmt.Errorf("ensure dir: %w", err)
	}
	return nil
}

// WriteStreamAtomic copies reader into filename via a temporary file in the same
// directory followed by a rename, so filename only ever appears complete.
// The temporary file is removed on any failure.
func WriteStreamAtomic(filename string, reader io.Reader) (int64, error) {
	if filename == "" {
		return 0, errors.New("empty filename")
	}
	dir := filepath.Dir(filename)
	if err := EnsureDir(dir); err != nil {
		return 0, err
	}
	tempFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("create temp: %w", err)
	}
	tmpName := tempFile.Name()

	written, err := io.Copy(tempFile, reader)
	if err != nil {
		_ = tempFile.Close()
		_ = os.Remove(tmpName)
		return written, fmt.Errorf("copy to temp: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		_ = os.Remove(tmpName)
		return written, fmt.Errorf("sync temp: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		_ = os.Remove(tmpName)
		return written, fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, filename); err != nil {
		_ = os.Remove(tmpName)
		return written, fmt.Errorf("rename temp: %w", err)
	}
	return written, nil
}

// RemoveTree deletes path and everything below it. A missing path is not an error.
func RemoveTree(path string) error {
	if path == "" || path == "/" || path == "." {
		return fmt.Errorf("refusing to remove %q", path)
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove tree: %w", err)
	}
	return nil
}

// RemoveFiles deletes each path, ignoring those that no longer exist.
// The first real failure is returned after all paths were attempted.
func RemoveFiles(paths ...string) error {
	var firstErr error
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) && firstErr == nil {
			firstErr = fmt.Errorf("remove file: %w", err)
		}
	}
	return firstErr
}

// Entry describes a direct child directory.
type Entry struct {
	Name    string
	Path    string
	ModTime time.Time
}

// ListDirs returns the immediate subdirectories of root. A missing root yields none.
func ListDirs(root string) ([]Entry, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir: %w", err)
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Entry{Name: e.Name(), Path: filepath.Join(root, e.Name()), ModTime: info.ModTime()})
	}
	return out, nil
}

// SanitizeFilename turns an arbitrary title into a safe single path element.
// Letters and digits of any script are kept; separators and control runes become '_'.
func SanitizeFilename(name, fallback string) string {
	name = strings.TrimSpace(name)
	var b strings.Builder
	runes := 0
	lastUnderscore := false
	for _, r := range name {
		if runes >= maxFilenameRunes {
			break
		}
		keep := unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '-' || r == '(' || r == ')'
		if !keep {
			if lastUnderscore {
				continue
			}
			r = '_'
		}
		lastUnderscore = r == '_'
		b.WriteRune(r)
		runes++
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return fallback
	}
	return out
}
