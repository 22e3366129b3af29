// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import "github.com/ava-labs/avalanchego/database"

var _ database.Batch = (*Batch)(nil)

type op struct {
	key    []byte
	value  []byte
	delete bool
}

// Batch buffers writes to any partition of a store. Write commits the whole
// batch atomically.
type Batch struct {
	store *Store
	ops   []op
	size  int
}

func newBatch(s *Store) *Batch {
	return &Batch{store: s}
}

func (b *Batch) Put(key, value []byte) error {
	b.ops = append(b.ops, op{
		key:   append([]byte(nil), key...),
		value: append([]byte(nil), value...),
	})
	b.size += len(key) + len(value)
	return nil
}

func (b *Batch) Delete(key []byte) error {
	b.ops = append(b.ops, op{
		key:    append([]byte(nil), key...),
		delete: true,
	})
	b.size += len(key)
	return nil
}

func (b *Batch) Size() int { return b.size }

// Write commits the batch to its store.
func (b *Batch) Write() error {
	if b.store == nil {
		return ErrReadOnly
	}
	return b.store.Commit(b)
}

func (b *Batch) Reset() {
	b.ops = b.ops[:0]
	b.size = 0
}

// Replay applies the buffered writes to [w] in order.
func (b *Batch) Replay(w database.KeyValueWriterDeleter) error {
	for _, o := range b.ops {
		var err error
		if o.delete {
			err = w.Delete(o.key)
		} else {
			err = w.Put(o.key, o.value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (b *Batch) Inner() database.Batch { return b }

// Len returns the number of buffered writes.
func (b *Batch) Len() int { return len(b.ops) }
