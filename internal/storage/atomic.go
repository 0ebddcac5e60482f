package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// fileWriter is the subset of AtomicWriter the local store depends on
type fileWriter interface {
	WriteFile(filename string, data []byte, perm os.FileMode) error
	ReadFile(filename string) ([]byte, error)
}

// AtomicWriter provides atomic file operations with backup/recovery
type AtomicWriter struct {
	locks     map[string]*sync.RWMutex // per-file locks
	locksMu   sync.Mutex               // protects the locks map
	backupDir string
}

// NewAtomicWriter creates a new atomic writer. An empty backupDir disables
// backups.
func NewAtomicWriter(backupDir string) *AtomicWriter {
	return &AtomicWriter{
		locks:     make(map[string]*sync.RWMutex),
		backupDir: backupDir,
	}
}

// WriteFile writes data to a temp file, verifies it and renames it over
// filename. The previous content, if any, is copied to the backup dir.
func (w *AtomicWriter) WriteFile(filename string, data []byte, perm os.FileMode) error {
	fileLock := w.getFileLock(filename)
	fileLock.Lock()
	defer fileLock.Unlock()

	return w.writeLocked(filename, data, perm)
}

func (w *AtomicWriter) writeLocked(filename string, data []byte, perm os.FileMode) error {
	if err := w.createBackup(filename); err != nil {
		return fmt.Errorf("failed to create backup: %w", err)
	}
	return replaceFile(filename, data, perm)
}

// replaceFile writes data next to filename and renames it into place
func replaceFile(filename string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempFile := filename + ".tmp." + generateTempSuffix()
	if err := writeSynced(tempFile, data, perm); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := verifyFileIntegrity(tempFile, data); err != nil {
		os.Remove(tempFile)
		return err
	}

	if err := os.Rename(tempFile, filename); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// ReadFile reads a file, restoring it from the newest backup when it is
// missing or empty.
func (w *AtomicWriter) ReadFile(filename string) ([]byte, error) {
	fileLock := w.getFileLock(filename)
	fileLock.Lock()
	defer fileLock.Unlock()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return w.recoverFromBackup(filename, err)
		}
		return nil, err
	}

	if len(data) == 0 {
		return w.recoverFromBackup(filename, fmt.Errorf("%s is empty", filename))
	}

	return data, nil
}

func (w *AtomicWriter) backupPattern(filename string) string {
	return filepath.Join(w.backupDir, backupPrefix(filename)+"*.backup")
}

// backupPrefix keeps backups of same-named files in different directories
// apart.
func backupPrefix(filename string) string {
	dir := filepath.Base(filepath.Dir(filename))
	return dir + "__" + filepath.Base(filename) + "."
}

func (w *AtomicWriter) createBackup(filename string) error {
	if w.backupDir == "" {
		return nil
	}
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return nil
	}

	if err := os.MkdirAll(w.backupDir, 0755); err != nil {
		return err
	}

	timestamp := time.Now().UTC().Format("20060102-150405.000000000")
	backupPath := filepath.Join(w.backupDir, backupPrefix(filename)+timestamp+".backup")

	return copyFile(filename, backupPath)
}

// recoverFromBackup restores the newest backup of filename. When there is
// none, cause is returned unchanged so callers can test os.IsNotExist.
func (w *AtomicWriter) recoverFromBackup(filename string, cause error) ([]byte, error) {
	if w.backupDir == "" {
		return nil, cause
	}

	matches, err := filepath.Glob(w.backupPattern(filename))
	if err != nil || len(matches) == 0 {
		return nil, cause
	}
	// timestamps sort lexically; newest first
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))

	for _, backup := range matches {
		data, err := os.ReadFile(backup)
		if err != nil {
			return nil, fmt.Errorf("failed to read backup: %w", err)
		}
		if len(data) == 0 {
			continue
		}
		if err := replaceFile(filename, data, 0644); err != nil {
			return nil, fmt.Errorf("failed to restore backup: %w", err)
		}
		return data, nil
	}

	return nil, cause
}

// Remove deletes filename and its backups
func (w *AtomicWriter) Remove(filename string) error {
	fileLock := w.getFileLock(filename)
	fileLock.Lock()
	defer fileLock.Unlock()

	if w.backupDir != "" {
		matches, _ := filepath.Glob(w.backupPattern(filename))
		for _, m := range matches {
			os.Remove(m)
		}
	}
	if err := os.Remove(filename); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (w *AtomicWriter) getFileLock(filename string) *sync.RWMutex {
	w.locksMu.Lock()
	defer w.locksMu.Unlock()

	if lock, exists := w.locks[filename]; exists {
		return lock
	}

	lock := &sync.RWMutex{}
	w.locks[filename] = lock
	return lock
}

// CleanupBackups keeps at most maxCount backups per file and drops any
// older than maxAge. Zero disables the respective limit.
func (w *AtomicWriter) CleanupBackups(maxAge time.Duration, maxCount int) error {
	if w.backupDir == "" {
		return nil
	}

	entries, err := os.ReadDir(w.backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	// names are <dir>__<file>.<timestamp>.backup
	groups := make(map[string][]string)
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || !strings.HasSuffix(name, ".backup") {
			continue
		}
		stem := strings.TrimSuffix(name, ".backup")
		i := strings.LastIndex(stem, ".")
		if i <= 0 {
			continue
		}
		// the timestamp itself contains one dot
		j := strings.LastIndex(stem[:i], ".")
		if j <= 0 {
			continue
		}
		groups[stem[:j]] = append(groups[stem[:j]], name)
	}

	now := time.Now()
	for _, names := range groups {
		sort.Sort(sort.Reverse(sort.StringSlice(names)))
		for i, name := range names {
			path := filepath.Join(w.backupDir, name)
			drop := maxCount > 0 && i >= maxCount
			if !drop && maxAge > 0 {
				if info, err := os.Stat(path); err == nil && now.Sub(info.ModTime()) > maxAge {
					drop = true
				}
			}
			if drop {
				if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("failed to remove backup %s: %w", path, err)
				}
			}
		}
	}

	return nil
}

func writeSynced(path string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func verifyFileIntegrity(filename string, expectedData []byte) error {
	actualData, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	if sha256.Sum256(expectedData) != sha256.Sum256(actualData) {
		return fmt.Errorf("file integrity check failed: hash mismatch")
	}

	return nil
}

func copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	dstFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer dstFile.Close()

	_, err = io.Copy(dstFile, srcFile)
	return err
}

func generateTempSuffix() string {
	timestamp := time.Now().UnixNano()
	hash := sha256.Sum256([]byte(fmt.Sprintf("%d", timestamp)))
	return hex.EncodeToString(hash[:4])
}
