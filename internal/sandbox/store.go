// Package sandbox confines every file operation to a single root directory.
//
// All paths handed to the store are canonicalized (symlinks and relative
// segments resolved) before the containment check, so `../` traversal and
// symlink indirection cannot escape the root. Overwrites are preceded by a
// timestamped backup under the reserved .backups subdirectory, which is
// never returned by enumeration.
package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	gitignore "github.com/sabhiram/go-gitignore"
)

// BackupDirName is the reserved subdirectory for pre-write backups.
const BackupDirName = ".backups"

// backupTimestampFormat produces names like buggy_calculator_20260128_115901.py
const backupTimestampFormat = "20060102_150405"

// ErrOutsideSandbox is returned when a path resolves outside the sandbox root.
// The operation is rejected; it is never clamped back into the sandbox.
var ErrOutsideSandbox = errors.New("path is outside the sandbox root")

// ErrNotFound is returned when a requested file does not exist.
var ErrNotFound = errors.New("file not found")

// FileRecord describes one file found by Enumerate.
type FileRecord struct {
	Path    string // absolute, canonical path
	RelPath string // path relative to the sandbox root
	Size    int64  // byte size
}

// Info summarizes the sandbox for status reporting.
type Info struct {
	Root      string
	BackupDir string
	FileCount int
}

// Store provides sandboxed file access rooted at a single directory.
type Store struct {
	root      string // canonical absolute path
	backupDir string
	ignore    *gitignore.GitIgnore // optional, consulted during enumeration
	now       func() time.Time     // injectable for backup-name tests
}

// Option configures a Store.
type Option func(*Store)

// WithIgnoreFile loads gitignore-style patterns that Enumerate will skip.
// A missing file is not an error; the option is simply a no-op then.
func WithIgnoreFile(path string) Option {
	return func(s *Store) {
		ign, err := gitignore.CompileIgnoreFile(path)
		if err == nil {
			s.ignore = ign
		}
	}
}

// withClock overrides the backup timestamp clock (tests only).
func withClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a store rooted at root. The root must exist; the backup
// subdirectory is created if missing.
func New(root string, opts ...Option) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("sandbox root cannot be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sandbox root: %w", err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("sandbox root %s is not accessible: %w", root, err)
	}
	fi, err := os.Stat(canonical)
	if err != nil {
		return nil, fmt.Errorf("failed to stat sandbox root: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("sandbox root %s is not a directory", root)
	}

	s := &Store{
		root:      canonical,
		backupDir: filepath.Join(canonical, BackupDirName),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(s.backupDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	return s, nil
}

// Root returns the canonical sandbox root.
func (s *Store) Root() string { return s.root }

// BackupDir returns the reserved backup directory.
func (s *Store) BackupDir() string { return s.backupDir }

// Resolve canonicalizes path and verifies it lies within the sandbox root.
// Relative paths are interpreted relative to the root. The returned path is
// absolute and symlink-free up to the deepest existing ancestor; the target
// itself does not need to exist.
func (s *Store) Resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path cannot be empty: %w", ErrOutsideSandbox)
	}
	p := path
	if !filepath.IsAbs(p) {
		p = filepath.Join(s.root, p)
	}
	p = filepath.Clean(p)

	canonical, err := canonicalize(p)
	if err != nil {
		return "", fmt.Errorf("path validation failed for %s: %w", path, err)
	}

	rel, err := filepath.Rel(s.root, canonical)
	if err != nil {
		return "", fmt.Errorf("path validation failed for %s: %w", path, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("access denied: %s resolves outside sandbox %s: %w", path, s.root, ErrOutsideSandbox)
	}
	return canonical, nil
}

// canonicalize resolves symlinks on the deepest existing ancestor of p and
// rejoins the non-existent remainder. This lets Resolve validate paths that
// are about to be created while still following any symlinks on the way down.
func canonicalize(p string) (string, error) {
	resolved, err := filepath.EvalSymlinks(p)
	if err == nil {
		return resolved, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	// Walk up until an existing ancestor is found.
	var suffix []string
	dir := p
	for {
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no existing ancestor for %s", p)
		}
		suffix = append([]string{filepath.Base(dir)}, suffix...)
		dir = parent
		resolved, err = filepath.EvalSymlinks(dir)
		if err == nil {
			return filepath.Join(append([]string{resolved}, suffix...)...), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
	}
}

// Read returns the content of a file inside the sandbox.
func (s *Store) Read(path string) (string, error) {
	resolved, err := s.Resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}

// Write writes content to a file inside the sandbox, creating parent
// directories as needed. When makeBackup is true and the target already
// exists, the prior content is copied to the backup directory first; a
// backup failure aborts the write. The backup path is returned, or "" when
// no backup was taken.
func (s *Store) Write(path, content string, makeBackup bool) (string, error) {
	resolved, err := s.Resolve(path)
	if err != nil {
		return "", err
	}

	backupPath := ""
	if makeBackup {
		if _, statErr := os.Stat(resolved); statErr == nil {
			backupPath, err = s.backup(resolved)
			if err != nil {
				return "", fmt.Errorf("backup failed, write aborted: %w", err)
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0755); err != nil {
		return backupPath, fmt.Errorf("failed to create parent directory for %s: %w", path, err)
	}
	if err := os.WriteFile(resolved, []byte(content), 0644); err != nil {
		return backupPath, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return backupPath, nil
}

// backup copies an existing file into the backup directory under
// {stem}_{timestamp}{ext}. The copy completes before the caller overwrites
// the original.
func (s *Store) backup(resolved string) (string, error) {
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("failed to read file for backup: %w", err)
	}
	ext := filepath.Ext(resolved)
	stem := strings.TrimSuffix(filepath.Base(resolved), ext)
	name := fmt.Sprintf("%s_%s%s", stem, s.now().Format(backupTimestampFormat), ext)
	backupPath := filepath.Join(s.backupDir, name)
	if err := os.WriteFile(backupPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write backup %s: %w", name, err)
	}
	return backupPath, nil
}

// Restore copies a backup file over the target path. Both paths go through
// sandbox validation, so a backup can only be restored onto a file inside
// the sandbox.
func (s *Store) Restore(backupPath, targetPath string) error {
	resolvedBackup, err := s.Resolve(backupPath)
	if err != nil {
		return err
	}
	resolvedTarget, err := s.Resolve(targetPath)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(resolvedBackup)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: backup %s", ErrNotFound, backupPath)
		}
		return fmt.Errorf("failed to read backup %s: %w", backupPath, err)
	}
	if err := os.MkdirAll(filepath.Dir(resolvedTarget), 0755); err != nil {
		return fmt.Errorf("failed to create parent directory for %s: %w", targetPath, err)
	}
	if err := os.WriteFile(resolvedTarget, data, 0644); err != nil {
		return fmt.Errorf("failed to restore %s: %w", targetPath, err)
	}
	return nil
}

// Enumerate lists files with the given extension under subdir (or the whole
// sandbox when subdir is ""). The backup directory is always skipped, as are
// paths matched by the optional ignore patterns. Results are ordered by
// relative path as produced by the filesystem walk.
func (s *Store) Enumerate(subdir, ext string) ([]FileRecord, error) {
	searchRoot := s.root
	if subdir != "" {
		resolved, err := s.Resolve(subdir)
		if err != nil {
			return nil, err
		}
		searchRoot = resolved
	}

	var records []FileRecord
	err := filepath.WalkDir(searchRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == BackupDirName {
				return filepath.SkipDir
			}
			return nil
		}
		if ext != "" && filepath.Ext(path) != ext {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		if s.ignore != nil && s.ignore.MatchesPath(rel) {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		records = append(records, FileRecord{Path: path, RelPath: rel, Size: fi.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate %s: %w", searchRoot, err)
	}
	return records, nil
}

// Stat returns sandbox summary information for status output.
func (s *Store) Stat() (Info, error) {
	files, err := s.Enumerate("", ".py")
	if err != nil {
		return Info{}, err
	}
	return Info{Root: s.root, BackupDir: s.backupDir, FileCount: len(files)}, nil
}
