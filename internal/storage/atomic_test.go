package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAtomicWriter_WriteFile(t *testing.T) {
	tempDir := t.TempDir()
	backupDir := filepath.Join(tempDir, "backups")
	writer := NewAtomicWriter(backupDir)

	testFile := filepath.Join(tempDir, "data", "test.json")

	require.NoError(t, writer.WriteFile(testFile, []byte("first"), 0644))
	data, err := os.ReadFile(testFile)
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))

	// overwrite backs up the previous content
	require.NoError(t, writer.WriteFile(testFile, []byte("second"), 0644))
	data, err = os.ReadFile(testFile)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	backups, err := filepath.Glob(filepath.Join(backupDir, "data__test.json.*.backup"))
	require.NoError(t, err)
	require.Len(t, backups, 1)
	old, err := os.ReadFile(backups[0])
	require.NoError(t, err)
	assert.Equal(t, "first", string(old))

	// no temp files left behind
	leftovers, err := filepath.Glob(filepath.Join(tempDir, "data", "*.tmp.*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestAtomicWriter_ConcurrentWrites(t *testing.T) {
	writer := NewAtomicWriter("")
	testFile := filepath.Join(t.TempDir(), "concurrent.txt")

	const writers = 10
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			errs <- writer.WriteFile(testFile, []byte(fmt.Sprintf("writer-%02d", n)), 0644)
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}

	data, err := os.ReadFile(testFile)
	require.NoError(t, err)
	assert.Regexp(t, `^writer-\d\d$`, string(data))
}

func TestAtomicWriter_ReadFileWithRecovery(t *testing.T) {
	tempDir := t.TempDir()
	writer := NewAtomicWriter(filepath.Join(tempDir, "backups"))
	testFile := filepath.Join(tempDir, "state", "record.json")

	require.NoError(t, writer.WriteFile(testFile, []byte("v1"), 0644))
	require.NoError(t, writer.WriteFile(testFile, []byte("v2"), 0644))

	// truncated file falls back to the newest backup
	require.NoError(t, os.WriteFile(testFile, nil, 0644))
	data, err := writer.ReadFile(testFile)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))

	// restored on disk too
	onDisk, err := os.ReadFile(testFile)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(onDisk))
}

func TestAtomicWriter_ReadFileMissing(t *testing.T) {
	tempDir := t.TempDir()
	writer := NewAtomicWriter(filepath.Join(tempDir, "backups"))

	_, err := writer.ReadFile(filepath.Join(tempDir, "absent.json"))
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}

func TestAtomicWriter_Remove(t *testing.T) {
	tempDir := t.TempDir()
	backupDir := filepath.Join(tempDir, "backups")
	writer := NewAtomicWriter(backupDir)
	testFile := filepath.Join(tempDir, "x", "gone.json")

	require.NoError(t, writer.WriteFile(testFile, []byte("a"), 0644))
	require.NoError(t, writer.WriteFile(testFile, []byte("b"), 0644))
	require.NoError(t, writer.Remove(testFile))

	_, err := os.Stat(testFile)
	assert.True(t, os.IsNotExist(err))
	backups, _ := filepath.Glob(filepath.Join(backupDir, "x__gone.json.*.backup"))
	assert.Empty(t, backups)

	// removing twice is fine
	assert.NoError(t, writer.Remove(testFile))
}

func TestAtomicWriter_CleanupBackups(t *testing.T) {
	backupDir := filepath.Join(t.TempDir(), "backups")
	require.NoError(t, os.MkdirAll(backupDir, 0755))
	writer := NewAtomicWriter(backupDir)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, prefix := range []string{"sources__a.json.", "sources__b.json."} {
		for i := 0; i < 4; i++ {
			name := prefix + base.Add(time.Duration(i)*time.Second).Format("20060102-150405.000000000") + ".backup"
			require.NoError(t, os.WriteFile(filepath.Join(backupDir, name), []byte("x"), 0644))
		}
	}

	require.NoError(t, writer.CleanupBackups(0, 2))

	for _, prefix := range []string{"sources__a.json.", "sources__b.json."} {
		left, err := filepath.Glob(filepath.Join(backupDir, prefix+"*.backup"))
		require.NoError(t, err)
		require.Len(t, left, 2, prefix)
		// the newest two survive
		assert.Contains(t, left[1], "20260301-120003")
		assert.Contains(t, left[0], "20260301-120002")
	}
}

func TestAtomicWriter_CleanupBackupsByAge(t *testing.T) {
	backupDir := filepath.Join(t.TempDir(), "backups")
	require.NoError(t, os.MkdirAll(backupDir, 0755))
	writer := NewAtomicWriter(backupDir)

	oldFile := filepath.Join(backupDir, "sources__a.json.20200101-000000.000000000.backup")
	newFile := filepath.Join(backupDir, "sources__a.json.20260101-000000.000000000.backup")
	require.NoError(t, os.WriteFile(oldFile, []byte("x"), 0644))
	require.NoError(t, os.WriteFile(newFile, []byte("x"), 0644))
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(oldFile, past, past))

	require.NoError(t, writer.CleanupBackups(24*time.Hour, 0))

	_, err := os.Stat(oldFile)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(newFile)
	assert.NoError(t, err)
}

func TestAtomicWriter_ErrorHandling(t *testing.T) {
	tempDir := t.TempDir()
	blocker := filepath.Join(tempDir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	writer := NewAtomicWriter("")
	// parent is a regular file
	err := writer.WriteFile(filepath.Join(blocker, "child.json"), []byte("data"), 0644)
	assert.Error(t, err)
}
