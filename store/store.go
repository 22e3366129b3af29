// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/database/versiondb"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"

	log "github.com/inconshreveable/log15"
)

var (
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrReadOnly         = errors.New("store is read-only")
	ErrStaleSnapshot    = errors.New("snapshot outlived its store")
	ErrClosed           = database.ErrClosed
)

// Mode selects the backend a store is opened with.
type Mode byte

const (
	// ReadWrite persists commits to disk.
	ReadWrite Mode = iota
	// ReadOnly rejects commits.
	ReadOnly
	// ReadOnlyOverlay buffers commits in memory over a read-only base and
	// drops them on close.
	ReadOnlyOverlay
)

func (m Mode) String() string {
	switch m {
	case ReadWrite:
		return "read-write"
	case ReadOnly:
		return "read-only"
	case ReadOnlyOverlay:
		return "read-only+overlay"
	default:
		return fmt.Sprintf("Mode(%d)", byte(m))
	}
}

// Config describes how to open a store. An empty Path opens an in-memory
// store.
type Config struct {
	Path string
	Mode Mode

	// Registry and Identity guard writers. Writers need a lease on Identity
	// and read-only opens fail while one is held. A nil Registry skips the
	// check.
	Registry Registry
	Identity string
}

// backend is implemented by diskBackend and overlayBackend only.
type backend interface {
	snapshot(s *Store) (database.Database, func(), error)
	commit(b *Batch) error
	close() error
}

// Store is the ledger key-value store. Commits and snapshot creation are
// serialized on its lock; reads go through snapshots.
type Store struct {
	mode Mode
	log  log.Logger

	lock       sync.RWMutex
	backend    backend
	generation uint64
	closed     bool
	lease      Lease
}

// Open opens the store described by [config].
func Open(config Config) (*Store, error) {
	s := &Store{
		mode: config.Mode,
		log:  log.New("module", "store", "path", config.Path, "mode", config.Mode),
	}

	if config.Registry != nil {
		switch config.Mode {
		case ReadWrite, ReadOnlyOverlay:
			lease, ok, err := config.Registry.TryAcquire(config.Identity)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, fmt.Errorf("%w: %s has an active writer", ErrStoreUnavailable, config.Identity)
			}
			s.lease = lease
		default:
			held, err := config.Registry.IsHeld(config.Identity)
			if err != nil {
				return nil, err
			}
			if held {
				return nil, fmt.Errorf("%w: %s has an active writer", ErrStoreUnavailable, config.Identity)
			}
		}
	}

	b, err := openBackend(config)
	if err != nil {
		if s.lease != nil {
			_ = s.lease.Release()
		}
		return nil, err
	}
	s.backend = b
	s.log.Debug("opened store")
	return s, nil
}

func openBackend(config Config) (backend, error) {
	switch config.Mode {
	case ReadWrite:
		db, err := openLevel(config.Path, &opt.Options{})
		if err != nil {
			return nil, err
		}
		return &diskBackend{db: db}, nil
	case ReadOnly:
		if config.Path == "" {
			return nil, fmt.Errorf("%w: read-only store needs a path", ErrStoreUnavailable)
		}
		db, err := openLevel(config.Path, &opt.Options{ReadOnly: true, ErrorIfMissing: true})
		if err != nil {
			return nil, err
		}
		return &diskBackend{db: db, readOnly: true}, nil
	case ReadOnlyOverlay:
		var (
			db  *leveldb.DB
			err error
		)
		if _, statErr := os.Stat(config.Path); config.Path == "" || os.IsNotExist(statErr) {
			db, err = leveldb.Open(storage.NewMemStorage(), nil)
		} else {
			db, err = openLevel(config.Path, &opt.Options{ReadOnly: true, ErrorIfMissing: true})
		}
		if err != nil {
			return nil, err
		}
		base := &levelView{reader: db}
		return &overlayBackend{
			base:    db,
			overlay: versiondb.New(base),
			view:    base,
		}, nil
	default:
		return nil, fmt.Errorf("unknown store mode %d", config.Mode)
	}
}

func openLevel(path string, options *opt.Options) (*leveldb.DB, error) {
	if path == "" {
		return leveldb.Open(storage.NewMemStorage(), options)
	}
	db, err := leveldb.OpenFile(path, options)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open %s: %v", ErrStoreUnavailable, path, err)
	}
	return db, nil
}

// Mode returns the mode the store was opened with.
func (s *Store) Mode() Mode { return s.mode }

// Snapshot returns a read-consistent view of the store as of now. It is
// taken under the store lock so it never observes a partial commit.
func (s *Store) Snapshot() (*Snapshot, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	view, release, err := s.backend.snapshot(s)
	if err != nil {
		return nil, fmt.Errorf("failed to take snapshot: %w", err)
	}
	return &Snapshot{
		db: &snapshotDB{
			Database:   view,
			store:      s,
			generation: s.generation,
		},
		release: release,
	}, nil
}

// NewBatch returns an empty batch bound to this store.
func (s *Store) NewBatch() *Batch { return newBatch(s) }

// Commit atomically applies [b].
func (s *Store) Commit(b *Batch) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.mode == ReadOnly {
		return ErrReadOnly
	}
	return s.backend.commit(b)
}

func (s *Store) currentGeneration() (uint64, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return s.generation, s.closed
}

// Close closes the backend, invalidates every snapshot and releases the
// writer lease. Overlay writes are dropped.
func (s *Store) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.closed = true
	s.generation++

	err := s.backend.close()
	if s.lease != nil {
		if releaseErr := s.lease.Release(); err == nil {
			err = releaseErr
		}
	}
	s.log.Debug("closed store")
	return err
}

type diskBackend struct {
	db       *leveldb.DB
	readOnly bool
}

func (d *diskBackend) snapshot(s *Store) (database.Database, func(), error) {
	snap, err := d.db.GetSnapshot()
	if err != nil {
		return nil, nil, err
	}
	return &levelView{reader: snap, store: s}, snap.Release, nil
}

func (d *diskBackend) commit(b *Batch) error {
	if d.readOnly {
		return ErrReadOnly
	}
	batch := new(leveldb.Batch)
	for _, o := range b.ops {
		if o.delete {
			batch.Delete(o.key)
		} else {
			batch.Put(o.key, o.value)
		}
	}
	return d.db.Write(batch, &opt.WriteOptions{Sync: true})
}

func (d *diskBackend) close() error {
	return d.db.Close()
}

// overlayBackend keeps every commit in a versiondb over a read-only base.
// The base is never written.
type overlayBackend struct {
	base    *leveldb.DB
	view    *levelView
	overlay *versiondb.Database
}

func (o *overlayBackend) snapshot(*Store) (database.Database, func(), error) {
	// Freeze the overlay by copying its pending writes into a fresh
	// versiondb over the same base.
	pending, err := o.overlay.CommitBatch()
	if err != nil {
		return nil, nil, err
	}
	frozen := versiondb.New(o.view)
	if err := pending.Replay(frozen); err != nil {
		return nil, nil, err
	}
	return frozen, func() { frozen.Abort() }, nil
}

func (o *overlayBackend) commit(b *Batch) error {
	return b.Replay(o.overlay)
}

func (o *overlayBackend) close() error {
	o.overlay.Abort()
	return o.base.Close()
}
