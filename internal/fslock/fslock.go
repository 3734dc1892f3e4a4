// Package fslock provides exclusive advisory file locks shared by the event
// log and the claim store. Locks are held by open file descriptors and are
// released by the kernel if the process dies.
package fslock

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Lock is a held exclusive lock.
type Lock struct {
	f    *os.File
	path string
	mu   *sync.Mutex
}

// process-local mutexes keyed by path; flock alone does not serialize
// goroutines that open the same file through separate descriptors on every platform.
var (
	localMu sync.Mutex
	local   = map[string]*sync.Mutex{}
)

func localMutex(path string) *sync.Mutex {
	localMu.Lock()
	defer localMu.Unlock()
	m, ok := local[path]
	if !ok {
		m = &sync.Mutex{}
		local[path] = m
	}
	return m
}

// Acquire blocks until it holds an exclusive lock on path, creating the file
// if needed.
func Acquire(path string) (*Lock, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, err
	}
	mu := localMutex(abs)
	mu.Lock()
	f, err := os.OpenFile(abs, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		mu.Unlock()
		return nil, err
	}
	if err := lockFile(f); err != nil {
		f.Close()
		mu.Unlock()
		return nil, fmt.Errorf("lock %s: %w", abs, err)
	}
	return &Lock{f: f, path: abs, mu: mu}, nil
}

// Release drops the lock. It is safe to call once.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := unlockFile(l.f)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	l.mu.Unlock()
	return err
}
