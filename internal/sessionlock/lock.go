// Package sessionlock guarantees at most one active delegation session per
// task source directory, across processes.
//
// The lock is an flock(2) on {dir}/.handoff.lock. The kernel drops it when
// the holding process exits, so a crashed session never leaves a stale lock
// behind. While held, the file records who holds it so a refused caller can
// report the owner.
package sessionlock

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Iron-Ham/handoff/internal/errors"
	"github.com/Iron-Ham/handoff/internal/logging"
)

// FileName is the lock file created inside the locked directory.
const FileName = ".handoff.lock"

// Holder describes the session holding a lock.
type Holder struct {
	SessionID string    `json:"session_id"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`
}

// Lock is an acquired session lock.
type Lock struct {
	Holder
	path   string
	file   *os.File
	logger *logging.Logger
}

// TryAcquire takes the lock on dir without blocking. When another session
// holds it, the returned error wraps ErrSessionActive. logger may be nil.
func TryAcquire(dir, sessionID string, logger *logging.Logger) (*Lock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	path := filepath.Join(dir, FileName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if err == syscall.EWOULDBLOCK {
			if holder, readErr := Read(dir); readErr == nil && holder.PID != 0 {
				logger.Warn("session lock busy",
					"dir", dir,
					"holder_session", holder.SessionID,
					"holder_pid", holder.PID,
				)
				return nil, fmt.Errorf("%w: session %s (PID %d on %s)",
					errors.ErrSessionActive, holder.SessionID, holder.PID, holder.Hostname)
			}
			return nil, errors.Wrapf(errors.ErrSessionActive, "lock %s", path)
		}
		return nil, fmt.Errorf("flock: %w", err)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	lock := &Lock{
		Holder: Holder{
			SessionID: sessionID,
			PID:       os.Getpid(),
			Hostname:  hostname,
			StartedAt: time.Now(),
		},
		path:   path,
		file:   f,
		logger: logger,
	}

	if err := lock.writeHolder(); err != nil {
		_ = lock.Release()
		return nil, err
	}
	logger.Debug("session lock acquired", "dir", dir, "session_id", sessionID)
	return lock, nil
}

func (l *Lock) writeHolder() error {
	data, err := json.MarshalIndent(l.Holder, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal lock holder: %w", err)
	}
	if err := l.file.Truncate(0); err != nil {
		return fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := l.file.WriteAt(data, 0); err != nil {
		return fmt.Errorf("write lock file: %w", err)
	}
	return l.file.Sync()
}

// Release drops the lock. Calling it more than once is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}

	// clear the holder so readers never report a released session
	_ = l.file.Truncate(0)

	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		_ = l.file.Close()
		l.file = nil
		return fmt.Errorf("funlock: %w", err)
	}
	err := l.file.Close()
	l.file = nil
	l.logger.Debug("session lock released", "session_id", l.SessionID)
	return err
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Read returns the holder recorded in dir's lock file. A released lock
// reads as an empty Holder.
func Read(dir string) (Holder, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return Holder{}, err
	}
	var h Holder
	if len(data) == 0 {
		return h, nil
	}
	if err := json.Unmarshal(data, &h); err != nil {
		return Holder{}, fmt.Errorf("parse lock file: %w", err)
	}
	return h, nil
}

// Active reports whether a session currently holds the lock on dir, and
// who. It never takes the lock itself.
func Active(dir string) (Holder, bool, error) {
	f, err := os.Open(filepath.Join(dir, FileName))
	if errors.Is(err, os.ErrNotExist) {
		return Holder{}, false, nil
	}
	if err != nil {
		return Holder{}, false, fmt.Errorf("open lock file: %w", err)
	}
	defer func() { _ = f.Close() }()

	err = syscall.Flock(int(f.Fd()), syscall.LOCK_SH|syscall.LOCK_NB)
	if err == syscall.EWOULDBLOCK {
		holder, readErr := Read(dir)
		return holder, true, readErr
	}
	if err != nil {
		return Holder{}, false, fmt.Errorf("flock: %w", err)
	}
	_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	return Holder{}, false, nil
}
