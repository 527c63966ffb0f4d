package logging

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"sync"
)

// RotationConfig controls size-based rotation of the session log.
type RotationConfig struct {
	// MaxSizeMB is the size at which the active file is rotated.
	MaxSizeMB int
	// MaxBackups is how many rotated files are kept. Older ones are removed.
	MaxBackups int
	// Compress gzips each rotated file.
	Compress bool
}

// DefaultRotationConfig returns the rotation settings used when logging is
// configured with a size limit but no explicit backup count.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{MaxSizeMB: 10, MaxBackups: 3, Compress: false}
}

// RotatingWriter is an io.WriteCloser that rotates the underlying file once
// it grows past MaxSizeMB. Backups are numbered path.1 (newest) to path.N.
type RotatingWriter struct {
	mu      sync.Mutex
	path    string
	cfg     RotationConfig
	limit   int64
	file    *os.File
	written int64
}

// NewRotatingWriter opens (or creates) path for appending.
func NewRotatingWriter(path string, cfg RotationConfig) (*RotatingWriter, error) {
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = DefaultRotationConfig().MaxSizeMB
	}
	if cfg.MaxBackups < 0 {
		cfg.MaxBackups = 0
	}
	rw := &RotatingWriter{
		path:  path,
		cfg:   cfg,
		limit: int64(cfg.MaxSizeMB) * 1024 * 1024,
	}
	if err := rw.open(); err != nil {
		return nil, err
	}
	return rw, nil
}

func (rw *RotatingWriter) open() error {
	f, err := os.OpenFile(rw.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	rw.file = f
	rw.written = info.Size()
	return nil
}

// Write appends p, rotating first if p would push the file past the limit.
// A single write larger than the limit is still written whole.
func (rw *RotatingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.file == nil {
		return 0, os.ErrClosed
	}
	if rw.written > 0 && rw.written+int64(len(p)) > rw.limit {
		if err := rw.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := rw.file.Write(p)
	rw.written += int64(n)
	return n, err
}

// rotate must be called with mu held.
func (rw *RotatingWriter) rotate() error {
	if err := rw.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file for rotation: %w", err)
	}
	rw.file = nil

	if rw.cfg.MaxBackups == 0 {
		if err := os.Remove(rw.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to discard log file: %w", err)
		}
		return rw.open()
	}

	// shift path.N-1 -> path.N, dropping whatever falls off the end
	oldest := rw.backupName(rw.cfg.MaxBackups)
	_ = os.Remove(oldest)
	_ = os.Remove(oldest + ".gz")
	for i := rw.cfg.MaxBackups - 1; i >= 1; i-- {
		from, to := rw.backupName(i), rw.backupName(i+1)
		if _, err := os.Stat(from + ".gz"); err == nil {
			from, to = from+".gz", to+".gz"
		}
		if err := os.Rename(from, to); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to shift log backup: %w", err)
		}
	}

	first := rw.backupName(1)
	if err := os.Rename(rw.path, first); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}
	if rw.cfg.Compress {
		if err := gzipFile(first); err != nil {
			return err
		}
	}
	return rw.open()
}

func (rw *RotatingWriter) backupName(n int) string {
	return fmt.Sprintf("%s.%d", rw.path, n)
}

// gzipFile replaces path with path.gz.
func gzipFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open log backup: %w", err)
	}
	defer func() { _ = src.Close() }()

	dst, err := os.Create(path + ".gz")
	if err != nil {
		return fmt.Errorf("failed to create compressed backup: %w", err)
	}
	zw := gzip.NewWriter(dst)
	if _, err := io.Copy(zw, src); err != nil {
		_ = zw.Close()
		_ = dst.Close()
		_ = os.Remove(path + ".gz")
		return fmt.Errorf("failed to compress log backup: %w", err)
	}
	if err := zw.Close(); err != nil {
		_ = dst.Close()
		return fmt.Errorf("failed to finish compressed backup: %w", err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("failed to close compressed backup: %w", err)
	}
	return os.Remove(path)
}

// Sync flushes the active file to disk.
func (rw *RotatingWriter) Sync() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.file == nil {
		return nil
	}
	return rw.file.Sync()
}

// Close closes the active file. Further writes return os.ErrClosed.
func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.file == nil {
		return nil
	}
	err := rw.file.Close()
	rw.file = nil
	return err
}

// Size returns the number of bytes in the active file.
func (rw *RotatingWriter) Size() int64 {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.written
}
