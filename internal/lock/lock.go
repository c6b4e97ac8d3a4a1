// Package lock keeps a single chat server per data directory.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const fileName = "LOCK"

// HeldError is returned when another server owns the data directory.
type HeldError struct {
	PID  int
	Addr string
	Path string
}

func (e *HeldError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("data directory in use by PID %d serving %s (%s)", e.PID, e.Addr, e.Path)
	}
	return fmt.Sprintf("data directory in use by PID %d (%s)", e.PID, e.Path)
}

// Lock is a held data directory lock.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes an exclusive flock on dir/LOCK and records the owner's pid
// and listen address in it.
func Acquire(dir, addr string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dir, fileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		return nil, readHolder(path)
	}

	l := &Lock{file: f, path: path}
	if err := l.write(addr); err != nil {
		_ = l.Release()
		return nil, err
	}
	return l, nil
}

func (l *Lock) write(addr string) error {
	if err := l.file.Truncate(0); err != nil {
		return err
	}
	content := fmt.Sprintf("pid=%d\naddr=%s\ntime=%s\n",
		os.Getpid(), addr, time.Now().UTC().Format(time.RFC3339))
	_, err := l.file.WriteAt([]byte(content), 0)
	return err
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release drops the lock. It is a no-op on a nil or released lock.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

func readHolder(path string) *HeldError {
	held := &HeldError{Path: path}
	data, _ := os.ReadFile(path)
	for _, line := range strings.Split(string(data), "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			held.PID, _ = strconv.Atoi(value)
		case "addr":
			held.Addr = value
		}
	}
	return held
}
