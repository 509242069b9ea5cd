package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// NamedMutex serializes work on a resource identified by name. Lock blocks
// until the mutex is held and returns the function that releases it.
type NamedMutex interface {
	Lock(name string) (unlock func(), err error)
}

// LocalMutex is a NamedMutex scoped to the current process.
type LocalMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLocalMutex creates an in-process named mutex.
func NewLocalMutex() *LocalMutex {
	return &LocalMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock implements NamedMutex.
func (m *LocalMutex) Lock(name string) (func(), error) {
	m.mu.Lock()
	l, ok := m.locks[name]
	if !ok {
		l = &sync.Mutex{}
		m.locks[name] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock, nil
}

// FileMutex is a NamedMutex shared by every process on the machine, backed by
// an advisory lock on a file in dir.
type FileMutex struct {
	dir   string
	local *LocalMutex
}

// NewFileMutex creates a cross-process named mutex keeping its lock files in
// dir.
func NewFileMutex(dir string) *FileMutex {
	return &FileMutex{dir: dir, local: NewLocalMutex()}
}

// Lock implements NamedMutex.
func (m *FileMutex) Lock(name string) (func(), error) {
	// goroutines of this process queue here instead of on the file lock
	unlockLocal, _ := m.local.Lock(name)

	path := filepath.Join(m.dir, name+".lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		unlockLocal()
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		unlockLocal()
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}

	return func() {
		unlockFile(f)
		f.Close()
		unlockLocal()
	}, nil
}
