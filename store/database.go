// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"bytes"
	"context"
	"errors"

	"github.com/ava-labs/avalanchego/database"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var (
	_ database.Database = (*levelView)(nil)
	_ database.Iterator = (*levelIterator)(nil)
	_ database.Iterator = (*errIterator)(nil)
)

// levelReader is satisfied by both *leveldb.DB and *leveldb.Snapshot.
type levelReader interface {
	Get(key []byte, ro *opt.ReadOptions) ([]byte, error)
	Has(key []byte, ro *opt.ReadOptions) (bool, error)
	NewIterator(slice *util.Range, ro *opt.ReadOptions) iterator.Iterator
}

// levelView is a read-only database.Database over a goleveldb reader.
// Batches it creates commit into [store], or nowhere when [store] is nil.
type levelView struct {
	reader levelReader
	store  *Store
}

func (v *levelView) Has(key []byte) (bool, error) {
	return v.reader.Has(key, nil)
}

func (v *levelView) Get(key []byte) ([]byte, error) {
	value, err := v.reader.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, database.ErrNotFound
	}
	return value, err
}

func (*levelView) Put([]byte, []byte) error { return ErrReadOnly }

func (*levelView) Delete([]byte) error { return ErrReadOnly }

func (v *levelView) NewBatch() database.Batch { return newBatch(v.store) }

func (v *levelView) NewIterator() database.Iterator {
	return v.NewIteratorWithStartAndPrefix(nil, nil)
}

func (v *levelView) NewIteratorWithStart(start []byte) database.Iterator {
	return v.NewIteratorWithStartAndPrefix(start, nil)
}

func (v *levelView) NewIteratorWithPrefix(prefix []byte) database.Iterator {
	return v.NewIteratorWithStartAndPrefix(nil, prefix)
}

func (v *levelView) NewIteratorWithStartAndPrefix(start, prefix []byte) database.Iterator {
	slice := util.BytesPrefix(prefix)
	if bytes.Compare(start, prefix) > 0 {
		slice.Start = start
	}
	return &levelIterator{it: v.reader.NewIterator(slice, nil)}
}

func (*levelView) Compact([]byte, []byte) error { return nil }

func (*levelView) Close() error { return nil }

func (*levelView) HealthCheck(context.Context) (interface{}, error) { return nil, nil }

// levelIterator copies keys and values out of goleveldb's reused buffers.
type levelIterator struct {
	it    iterator.Iterator
	key   []byte
	value []byte
}

func (i *levelIterator) Next() bool {
	if !i.it.Next() {
		i.key = nil
		i.value = nil
		return false
	}
	i.key = append([]byte(nil), i.it.Key()...)
	i.value = append([]byte(nil), i.it.Value()...)
	return true
}

func (i *levelIterator) Error() error { return i.it.Error() }

func (i *levelIterator) Key() []byte { return i.key }

func (i *levelIterator) Value() []byte { return i.value }

func (i *levelIterator) Release() { i.it.Release() }

type errIterator struct{ err error }

func (*errIterator) Next() bool { return false }
func (i *errIterator) Error() error { return i.err }
func (*errIterator) Key() []byte { return nil }
func (*errIterator) Value() []byte { return nil }
func (*errIterator) Release() {}
