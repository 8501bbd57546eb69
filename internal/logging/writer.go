// Package logging provides the io.Writer behind the gateway's slog
// output: stdout/stderr passthrough or a size-rotated log file.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Writer resolves a logging output setting to an io.WriteCloser.
// "stdout" and "stderr" (and "") map to the process streams; anything
// else is treated as a file path with size-based rotation.
func Writer(output string, maxSizeMB, maxBackups int) (io.WriteCloser, error) {
	switch output {
	case "", "stdout":
		return nopCloser{os.Stdout}, nil
	case "stderr":
		return nopCloser{os.Stderr}, nil
	default:
		return NewRotatingWriter(output, maxSizeMB, maxBackups)
	}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// RotatingWriter is an io.WriteCloser that rotates its file by size.
// Rotated files are named <base>-<timestamp><ext>; only the newest
// maxBackups of them are kept.
type RotatingWriter struct {
	mu         sync.Mutex
	file       *os.File
	filePath   string
	size       int64
	maxBytes   int64
	maxBackups int
}

// NewRotatingWriter opens filePath (creating parent directories as
// needed) and returns a writer that rotates once the file would exceed
// maxSizeMB.
func NewRotatingWriter(filePath string, maxSizeMB, maxBackups int) (*RotatingWriter, error) {
	rw := &RotatingWriter{
		filePath:   filePath,
		maxBytes:   int64(maxSizeMB) * 1024 * 1024,
		maxBackups: maxBackups,
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	if err := rw.open(); err != nil {
		return nil, err
	}
	return rw, nil
}

func (rw *RotatingWriter) open() error {
	f, err := os.OpenFile(rw.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	rw.file = f
	rw.size = info.Size()
	return nil
}

// Write rotates first when the write would push the file past the size
// limit, so a single rotated file never exceeds maxBytes.
func (rw *RotatingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.size+int64(len(p)) > rw.maxBytes {
		if err := rw.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := rw.file.Write(p)
	rw.size += int64(n)
	return n, err
}

// Rotate forces a rotation regardless of size. Wired to SIGHUP so
// operators can rotate logs externally without restarting the gateway.
func (rw *RotatingWriter) Rotate() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.rotate()
}

// Close closes the underlying file.
func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.file != nil {
		return rw.file.Close()
	}
	return nil
}

// rotate renames the live file aside, reopens a fresh one, and prunes
// old backups. Caller holds mu. Rotation is rare so the prune runs
// inline rather than on a goroutine.
func (rw *RotatingWriter) rotate() error {
	if rw.file != nil {
		rw.file.Close()
	}

	ext := filepath.Ext(rw.filePath)
	base := strings.TrimSuffix(rw.filePath, ext)
	if ext == "" {
		ext = ".log"
	}
	rotated := fmt.Sprintf("%s-%s%s", base, time.Now().Format("20060102-150405"), ext)
	os.Rename(rw.filePath, rotated) //nolint:errcheck

	if err := rw.open(); err != nil {
		return err
	}

	rw.prune()
	return nil
}

// prune removes rotated backups beyond maxBackups, oldest first. The
// timestamp in the name sorts lexically, so a plain string sort orders
// files by age.
func (rw *RotatingWriter) prune() {
	ext := filepath.Ext(rw.filePath)
	base := strings.TrimSuffix(filepath.Base(rw.filePath), ext)
	if ext == "" {
		ext = ".log"
	}
	dir := filepath.Dir(rw.filePath)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	prefix := base + "-"
	var backups []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ext) && name != filepath.Base(rw.filePath) {
			backups = append(backups, name)
		}
	}
	sort.Strings(backups)

	for len(backups) > rw.maxBackups {
		os.Remove(filepath.Join(dir, backups[0])) //nolint:errcheck
		backups = backups[1:]
	}
}
