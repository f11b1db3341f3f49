package utils

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// RotationConfig describes the log file written by SetupLogging. An empty
// Filename means logs go to stderr.
type RotationConfig struct {
	Filename string

	// MaxSize is the size in bytes at which the file is rotated (0 = never).
	MaxSize int64

	// MaxBackups is how many rotated files are kept (0 = all). Backups are
	// numbered, <file>.1 being the most recent.
	MaxBackups int

	// Compress gzips each backup as it is created.
	Compress bool
}

// LogRotator is an io.Writer that rotates its file by size.
type LogRotator struct {
	mu     sync.Mutex
	config RotationConfig
	file   *os.File
	size   int64
}

// NewLogRotator opens or creates the log file, appending to it.
func NewLogRotator(config RotationConfig) (*LogRotator, error) {
	if config.Filename == "" {
		return nil, fmt.Errorf("filename is required")
	}
	if config.MaxSize < 0 || config.MaxBackups < 0 {
		return nil, fmt.Errorf("max size and max backups cannot be negative")
	}

	r := &LogRotator{config: config}
	if err := r.openFile(); err != nil {
		return nil, err
	}
	return r, nil
}

// Write implements io.Writer. A single write is never split across files.
func (r *LogRotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return 0, os.ErrClosed
	}
	if r.config.MaxSize > 0 && r.size > 0 && r.size+int64(len(p)) > r.config.MaxSize {
		if err := r.rotate(); err != nil {
			return 0, fmt.Errorf("failed to rotate log: %w", err)
		}
	}

	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

// Rotate moves the current file to <file>.1 and starts a new one.
func (r *LogRotator) Rotate() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return os.ErrClosed
	}
	return r.rotate()
}

// Close closes the log file
func (r *LogRotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

func (r *LogRotator) rotate() error {
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("failed to close current log file: %w", err)
	}
	r.file = nil

	if err := r.shiftBackups(); err != nil {
		return err
	}

	first := r.backupName(1)
	if err := os.Rename(r.config.Filename, first); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to rename log file: %w", err)
	}
	if r.config.Compress {
		if err := compressFile(first); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to compress log file %s: %v\n", first, err)
		}
	}

	return r.openFile()
}

// shiftBackups renumbers <file>.n to <file>.n+1, dropping the ones beyond
// MaxBackups.
func (r *LogRotator) shiftBackups() error {
	for n := r.highestBackup(); n >= 1; n-- {
		for _, suffix := range []string{"", ".gz"} {
			name := r.backupName(n) + suffix
			if _, err := os.Stat(name); err != nil {
				continue
			}
			if r.config.MaxBackups > 0 && n >= r.config.MaxBackups {
				if err := os.Remove(name); err != nil {
					return fmt.Errorf("failed to remove old backup: %w", err)
				}
				continue
			}
			if err := os.Rename(name, r.backupName(n+1)+suffix); err != nil {
				return fmt.Errorf("failed to rename backup: %w", err)
			}
		}
	}
	return nil
}

func (r *LogRotator) highestBackup() int {
	entries, err := os.ReadDir(filepath.Dir(r.config.Filename))
	if err != nil {
		return 0
	}

	prefix := filepath.Base(r.config.Filename) + "."
	highest := 0
	for _, entry := range entries {
		rest, ok := strings.CutPrefix(entry.Name(), prefix)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(rest, ".gz"))
		if err == nil && n > highest {
			highest = n
		}
	}
	return highest
}

func (r *LogRotator) backupName(n int) string {
	return r.config.Filename + "." + strconv.Itoa(n)
}

func (r *LogRotator) openFile() error {
	if err := os.MkdirAll(filepath.Dir(r.config.Filename), 0750); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(r.config.Filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}

	r.file = file
	r.size = info.Size()
	return nil
}

// compressFile replaces filename with filename.gz.
func compressFile(filename string) error {
	src, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	dst, err := os.OpenFile(filename+".gz", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return err
	}

	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		_ = dst.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		_ = dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return os.Remove(filename)
}
