// Package locks provides per-source exclusive locks that hold across
// processes, so two syncs never run the same source at once.
package locks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	rwerrors "github.com/yairfalse/rankwatch/internal/errors"
)

// DefaultPollInterval is how often a blocked Acquire retries
const DefaultPollInterval = 100 * time.Millisecond

// Unlocker releases a held lock
type Unlocker interface {
	Release() error
}

// Locker acquires per-source locks
type Locker interface {
	// Acquire blocks up to timeout. A zero timeout tries exactly once.
	// On timeout the error is of kind rwerrors.KindLock.
	Acquire(ctx context.Context, sourceID string, timeout time.Duration) (Unlocker, error)
}

// Manager hands out file-backed locks under dir
type Manager struct {
	dir          string
	pollInterval time.Duration

	mu   sync.Mutex
	held map[string]bool
}

// NewManager creates a lock manager storing lock files in dir
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	return &Manager{
		dir:          dir,
		pollInterval: DefaultPollInterval,
		held:         make(map[string]bool),
	}, nil
}

// SetPollInterval overrides the retry interval
func (m *Manager) SetPollInterval(d time.Duration) {
	if d > 0 {
		m.pollInterval = d
	}
}

func (m *Manager) path(sourceID string) string {
	name := strings.NewReplacer("/", "-", "\\", "-", "..", "-").Replace(sourceID)
	return filepath.Join(m.dir, name+".lock")
}

// Acquire implements Locker
func (m *Manager) Acquire(ctx context.Context, sourceID string, timeout time.Duration) (Unlocker, error) {
	start := time.Now()
	deadline := start.Add(timeout)

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		lock, err := m.TryAcquire(sourceID)
		if err != nil {
			return nil, err
		}
		if lock != nil {
			return lock, nil
		}
		if !time.Now().Before(deadline) {
			return nil, rwerrors.LockTimeout(sourceID, time.Since(start).Round(time.Millisecond))
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// TryAcquire takes the lock without waiting. It returns nil, nil when the
// lock is held elsewhere.
func (m *Manager) TryAcquire(sourceID string) (*Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.held[sourceID] {
		return nil, nil
	}

	f, err := tryLockFile(m.path(sourceID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", sourceID, err)
	}
	if f == nil {
		return nil, nil
	}

	// owner info for humans; not part of the protocol
	_ = f.Truncate(0)
	_, _ = fmt.Fprintf(f, "pid=%d acquired=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))

	m.held[sourceID] = true
	return &Lock{manager: m, sourceID: sourceID, file: f}, nil
}

// IsLocked reports whether some process currently holds the lock
func (m *Manager) IsLocked(sourceID string) bool {
	lock, err := m.TryAcquire(sourceID)
	if err != nil || lock == nil {
		return true
	}
	lock.Release()
	return false
}

// Lock is a held source lock
type Lock struct {
	manager  *Manager
	sourceID string
	file     *os.File
	once     sync.Once
}

// SourceID returns the locked source
func (l *Lock) SourceID() string {
	return l.sourceID
}

// Release implements Unlocker. Calling it twice is harmless.
func (l *Lock) Release() error {
	var err error
	l.once.Do(func() {
		err = unlockFile(l.file)
		l.manager.mu.Lock()
		delete(l.manager.held, l.sourceID)
		l.manager.mu.Unlock()
	})
	return err
}
