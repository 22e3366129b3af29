// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

var _ Registry = (*FileRegistry)(nil)

// Lease is held by the single running writer of an identity.
type Lease interface {
	Release() error
}

// Registry tracks which identities have a running writer.
type Registry interface {
	// TryAcquire returns a lease for [identity], or false if another writer
	// holds it.
	TryAcquire(identity string) (Lease, bool, error)
	// IsHeld reports whether a writer holds [identity].
	IsHeld(identity string) (bool, error)
}

// FileRegistry keeps one exclusive OS file lock per identity under a
// directory, so writers in other processes are seen as well.
type FileRegistry struct {
	dir string

	lock sync.Mutex
	held map[string]*flock.Flock
}

// NewFileRegistry creates [dir] if needed.
func NewFileRegistry(dir string) (*FileRegistry, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create lock directory %s: %w", dir, err)
	}
	return &FileRegistry{
		dir:  dir,
		held: make(map[string]*flock.Flock),
	}, nil
}

func (r *FileRegistry) path(identity string) string {
	return filepath.Join(r.dir, identity+".lock")
}

func (r *FileRegistry) TryAcquire(identity string) (Lease, bool, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.held[identity]; ok {
		return nil, false, nil
	}
	fileLock := flock.New(r.path(identity))
	locked, err := fileLock.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("failed to lock %s: %w", identity, err)
	}
	if !locked {
		return nil, false, nil
	}
	r.held[identity] = fileLock
	return &fileLease{registry: r, identity: identity}, true, nil
}

func (r *FileRegistry) IsHeld(identity string) (bool, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.held[identity]; ok {
		return true, nil
	}
	fl := flock.New(r.path(identity))
	locked, err := fl.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to test lock %s: %w", identity, err)
	}
	if !locked {
		return true, nil
	}
	return false, fl.Unlock()
}

func (r *FileRegistry) release(identity string) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	fileLock, ok := r.held[identity]
	if !ok {
		return nil
	}
	delete(r.held, identity)
	return fileLock.Unlock()
}

type fileLease struct {
	registry *FileRegistry
	identity string
	once     sync.Once
	err      error
}

func (l *fileLease) Release() error {
	l.once.Do(func() {
		l.err = l.registry.release(l.identity)
	})
	return l.err
}
