// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"sync"

	"github.com/ava-labs/avalanchego/database"
)

var _ database.Database = (*snapshotDB)(nil)

// Snapshot is a point-in-time view of a store. It is owned by the operation
// that opened it and must be released when that operation completes.
type Snapshot struct {
	db      *snapshotDB
	once    sync.Once
	release func()
}

// DB returns the read-only view. Batches created from it (directly or
// through prefixdb and versiondb wrappers) commit atomically into the
// store.
func (s *Snapshot) DB() database.Database { return s.db }

// Release frees the resources backing the snapshot.
func (s *Snapshot) Release() {
	s.once.Do(s.release)
}

type snapshotDB struct {
	database.Database

	store      *Store
	generation uint64
}

func (db *snapshotDB) stale() error {
	generation, closed := db.store.currentGeneration()
	if closed || generation != db.generation {
		return ErrStaleSnapshot
	}
	return nil
}

func (db *snapshotDB) Has(key []byte) (bool, error) {
	if err := db.stale(); err != nil {
		return false, err
	}
	return db.Database.Has(key)
}

func (db *snapshotDB) Get(key []byte) ([]byte, error) {
	if err := db.stale(); err != nil {
		return nil, err
	}
	return db.Database.Get(key)
}

func (*snapshotDB) Put([]byte, []byte) error { return ErrReadOnly }

func (*snapshotDB) Delete([]byte) error { return ErrReadOnly }

func (db *snapshotDB) NewBatch() database.Batch { return db.store.NewBatch() }

func (db *snapshotDB) NewIterator() database.Iterator {
	return db.NewIteratorWithStartAndPrefix(nil, nil)
}

func (db *snapshotDB) NewIteratorWithStart(start []byte) database.Iterator {
	return db.NewIteratorWithStartAndPrefix(start, nil)
}

func (db *snapshotDB) NewIteratorWithPrefix(prefix []byte) database.Iterator {
	return db.NewIteratorWithStartAndPrefix(nil, prefix)
}

func (db *snapshotDB) NewIteratorWithStartAndPrefix(start, prefix []byte) database.Iterator {
	if err := db.stale(); err != nil {
		return &errIterator{err: err}
	}
	return db.Database.NewIteratorWithStartAndPrefix(start, prefix)
}

// Close is a no-op; the store owns the backend.
func (*snapshotDB) Close() error { return nil }
