package sessionlock

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Iron-Ham/handoff/internal/errors"
)

func TestTryAcquire_Release(t *testing.T) {
	dir := t.TempDir()

	lock, err := TryAcquire(dir, "session-1", nil)
	if err != nil {
		t.Fatalf("TryAcquire() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, FileName)); err != nil {
		t.Errorf("lock file should exist: %v", err)
	}

	holder, err := Read(dir)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if holder.SessionID != "session-1" {
		t.Errorf("SessionID = %q, want session-1", holder.SessionID)
	}
	if holder.PID != os.Getpid() {
		t.Errorf("PID = %d, want %d", holder.PID, os.Getpid())
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}

	holder, err = Read(dir)
	if err != nil {
		t.Fatalf("Read() after release error = %v", err)
	}
	if holder.PID != 0 {
		t.Errorf("holder after release = %+v, want empty", holder)
	}
}

func TestTryAcquire_SecondSessionRefused(t *testing.T) {
	dir := t.TempDir()

	first, err := TryAcquire(dir, "session-1", nil)
	if err != nil {
		t.Fatalf("TryAcquire() error = %v", err)
	}
	defer func() { _ = first.Release() }()

	// flock is held per open file description, so a second open in the
	// same process conflicts just like another process would
	second, err := TryAcquire(dir, "session-2", nil)
	if !errors.Is(err, errors.ErrSessionActive) {
		if second != nil {
			_ = second.Release()
		}
		t.Fatalf("second TryAcquire() error = %v, want ErrSessionActive", err)
	}

	if err := first.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	third, err := TryAcquire(dir, "session-3", nil)
	if err != nil {
		t.Fatalf("TryAcquire() after release error = %v", err)
	}
	_ = third.Release()
}

func TestRelease_NilLock(t *testing.T) {
	var l *Lock
	if err := l.Release(); err != nil {
		t.Errorf("Release() on nil lock error = %v", err)
	}
}

func TestRead_MissingFile(t *testing.T) {
	if _, err := Read(t.TempDir()); !os.IsNotExist(err) {
		t.Errorf("Read() error = %v, want not-exist", err)
	}
}

func TestActive(t *testing.T) {
	dir := t.TempDir()

	if _, active, err := Active(dir); err != nil || active {
		t.Fatalf("Active() with no lock file = %v, %v; want false, nil", active, err)
	}

	lock, err := TryAcquire(dir, "session-1", nil)
	if err != nil {
		t.Fatalf("TryAcquire() error = %v", err)
	}
	holder, active, err := Active(dir)
	if err != nil {
		t.Fatalf("Active() error = %v", err)
	}
	if !active || holder.SessionID != "session-1" {
		t.Errorf("Active() = %+v, %v; want session-1, true", holder, active)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, active, err := Active(dir); err != nil || active {
		t.Errorf("Active() after release = %v, %v; want false, nil", active, err)
	}
}
