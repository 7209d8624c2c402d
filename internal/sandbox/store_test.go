package sandbox

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestNew(t *testing.T) {
	t.Run("missing root", func(t *testing.T) {
		_, err := New(filepath.Join(t.TempDir(), "does-not-exist"))
		assert.Error(t, err)
	})

	t.Run("empty root", func(t *testing.T) {
		_, err := New("")
		assert.Error(t, err)
	})

	t.Run("creates backup dir", func(t *testing.T) {
		store := newTestStore(t)
		fi, err := os.Stat(store.BackupDir())
		require.NoError(t, err)
		assert.True(t, fi.IsDir())
	})

	t.Run("root must be a directory", func(t *testing.T) {
		dir := t.TempDir()
		file := filepath.Join(dir, "plain.txt")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
		_, err := New(file)
		assert.Error(t, err)
	})
}

func TestResolveContainment(t *testing.T) {
	store := newTestStore(t)

	t.Run("relative path inside sandbox", func(t *testing.T) {
		resolved, err := store.Resolve("sub/file.py")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(store.Root(), "sub", "file.py"), resolved)
	})

	t.Run("dot-dot traversal rejected", func(t *testing.T) {
		_, err := store.Resolve("../outside.py")
		assert.ErrorIs(t, err, ErrOutsideSandbox)
	})

	t.Run("nested dot-dot traversal rejected", func(t *testing.T) {
		_, err := store.Resolve("sub/../../../../etc/passwd")
		assert.ErrorIs(t, err, ErrOutsideSandbox)
	})

	t.Run("absolute path outside sandbox rejected", func(t *testing.T) {
		_, err := store.Resolve(string(filepath.Separator) + "etc" + string(filepath.Separator) + "passwd")
		assert.ErrorIs(t, err, ErrOutsideSandbox)
	})

	t.Run("sandbox root itself resolves", func(t *testing.T) {
		resolved, err := store.Resolve(store.Root())
		require.NoError(t, err)
		assert.Equal(t, store.Root(), resolved)
	})

	t.Run("symlink escape rejected", func(t *testing.T) {
		if runtime.GOOS == "windows" {
			t.Skip("symlink creation requires elevation on windows")
		}
		outside := t.TempDir()
		outsideFile := filepath.Join(outside, "secret.py")
		require.NoError(t, os.WriteFile(outsideFile, []byte("secret"), 0644))

		link := filepath.Join(store.Root(), "escape.py")
		require.NoError(t, os.Symlink(outsideFile, link))

		_, err := store.Resolve("escape.py")
		assert.ErrorIs(t, err, ErrOutsideSandbox)
	})

	t.Run("symlinked directory escape rejected", func(t *testing.T) {
		if runtime.GOOS == "windows" {
			t.Skip("symlink creation requires elevation on windows")
		}
		outside := t.TempDir()
		link := filepath.Join(store.Root(), "sneaky")
		require.NoError(t, os.Symlink(outside, link))

		_, err := store.Resolve(filepath.Join("sneaky", "new_file.py"))
		assert.ErrorIs(t, err, ErrOutsideSandbox)
	})
}

func TestReadWrite(t *testing.T) {
	store := newTestStore(t)

	t.Run("read missing file", func(t *testing.T) {
		_, err := store.Read("nope.py")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("write then read", func(t *testing.T) {
		backup, err := store.Write("pkg/mod.py", "print('hi')\n", true)
		require.NoError(t, err)
		assert.Empty(t, backup, "new file should not produce a backup")

		content, err := store.Read("pkg/mod.py")
		require.NoError(t, err)
		assert.Equal(t, "print('hi')\n", content)
	})

	t.Run("write outside sandbox rejected", func(t *testing.T) {
		_, err := store.Write("../evil.py", "x", true)
		assert.ErrorIs(t, err, ErrOutsideSandbox)
	})
}

func TestBackupBeforeOverwrite(t *testing.T) {
	fixed := time.Date(2026, 1, 28, 11, 20, 39, 0, time.UTC)
	dir := t.TempDir()
	store, err := New(dir, withClock(func() time.Time { return fixed }))
	require.NoError(t, err)

	_, err = store.Write("calc.py", "v1\n", true)
	require.NoError(t, err)

	backup, err := store.Write("calc.py", "v2\n", true)
	require.NoError(t, err)
	require.NotEmpty(t, backup)

	// Backup name follows {stem}_{timestamp}{ext} and lives under .backups.
	assert.Equal(t, "calc_20260128_112039.py", filepath.Base(backup))
	assert.Equal(t, store.BackupDir(), filepath.Dir(backup))

	// Backup holds the pre-write content; target holds the new content.
	data, err := os.ReadFile(backup)
	require.NoError(t, err)
	assert.Equal(t, "v1\n", string(data))

	content, err := store.Read("calc.py")
	require.NoError(t, err)
	assert.Equal(t, "v2\n", content)
}

func TestWriteWithoutBackup(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Write("a.py", "v1", true)
	require.NoError(t, err)
	backup, err := store.Write("a.py", "v2", false)
	require.NoError(t, err)
	assert.Empty(t, backup)

	entries, err := os.ReadDir(store.BackupDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRestore(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Write("mod.py", "original\n", true)
	require.NoError(t, err)
	backup, err := store.Write("mod.py", "mangled\n", true)
	require.NoError(t, err)
	require.NotEmpty(t, backup)

	require.NoError(t, store.Restore(backup, "mod.py"))

	content, err := store.Read("mod.py")
	require.NoError(t, err)
	assert.Equal(t, "original\n", content, "restore must reproduce the original bytes")

	t.Run("missing backup", func(t *testing.T) {
		err := store.Restore(filepath.Join(BackupDirName, "ghost_20260101_000000.py"), "mod.py")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("target outside sandbox rejected", func(t *testing.T) {
		err := store.Restore(backup, "../mod.py")
		assert.ErrorIs(t, err, ErrOutsideSandbox)
	})
}

func TestEnumerate(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Write("a.py", "a", false)
	require.NoError(t, err)
	_, err = store.Write(filepath.Join("pkg", "b.py"), "bb", false)
	require.NoError(t, err)
	_, err = store.Write("notes.txt", "text", false)
	require.NoError(t, err)

	// Force a backup artifact into existence.
	_, err = store.Write("a.py", "a2", true)
	require.NoError(t, err)

	records, err := store.Enumerate("", ".py")
	require.NoError(t, err)

	var rels []string
	for _, rec := range records {
		rels = append(rels, filepath.ToSlash(rec.RelPath))
		assert.NotContains(t, rec.RelPath, BackupDirName, "backup dir must never be enumerated")
	}
	assert.ElementsMatch(t, []string{"a.py", "pkg/b.py"}, rels)

	t.Run("subdirectory scope", func(t *testing.T) {
		records, err := store.Enumerate("pkg", ".py")
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, filepath.Join("pkg", "b.py"), records[0].RelPath)
		assert.Equal(t, int64(2), records[0].Size)
	})

	t.Run("subdirectory outside sandbox rejected", func(t *testing.T) {
		_, err := store.Enumerate("..", ".py")
		assert.ErrorIs(t, err, ErrOutsideSandbox)
	})
}

func TestEnumerateIgnorePatterns(t *testing.T) {
	dir := t.TempDir()
	ignoreFile := filepath.Join(dir, ".fixsmithignore")
	require.NoError(t, os.WriteFile(ignoreFile, []byte("vendored/\n"), 0644))

	store, err := New(dir, WithIgnoreFile(ignoreFile))
	require.NoError(t, err)

	_, err = store.Write("keep.py", "k", false)
	require.NoError(t, err)
	_, err = store.Write(filepath.Join("vendored", "skip.py"), "s", false)
	require.NoError(t, err)

	records, err := store.Enumerate("", ".py")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "keep.py", records[0].RelPath)
}

func TestStat(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Write("one.py", "1", false)
	require.NoError(t, err)

	info, err := store.Stat()
	require.NoError(t, err)
	assert.Equal(t, store.Root(), info.Root)
	assert.Equal(t, 1, info.FileCount)
}
