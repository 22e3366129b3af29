// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"path/filepath"
	"testing"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/database/versiondb"
	"github.com/stretchr/testify/require"
)

func put(t *testing.T, s *Store, key, value string) {
	b := s.NewBatch()
	require.NoError(t, b.Put([]byte(key), []byte(value)))
	require.NoError(t, b.Write())
}

func get(t *testing.T, s *Store, key string) ([]byte, error) {
	snap, err := s.Snapshot()
	require.NoError(t, err)
	defer snap.Release()
	return snap.DB().Get([]byte(key))
}

func TestSnapshotIsolation(t *testing.T) {
	require := require.New(t)
	s, err := Open(Config{Mode: ReadWrite})
	require.NoError(err)
	defer s.Close()

	put(t, s, "a", "1")
	snap, err := s.Snapshot()
	require.NoError(err)
	defer snap.Release()

	put(t, s, "a", "2")
	put(t, s, "b", "3")

	value, err := snap.DB().Get([]byte("a"))
	require.NoError(err)
	require.Equal([]byte("1"), value)
	_, err = snap.DB().Get([]byte("b"))
	require.ErrorIs(err, database.ErrNotFound)

	value, err = get(t, s, "a")
	require.NoError(err)
	require.Equal([]byte("2"), value)
}

func TestSnapshotReadOnly(t *testing.T) {
	require := require.New(t)
	s, err := Open(Config{Mode: ReadWrite})
	require.NoError(err)
	defer s.Close()

	snap, err := s.Snapshot()
	require.NoError(err)
	defer snap.Release()
	require.ErrorIs(snap.DB().Put([]byte("a"), nil), ErrReadOnly)
	require.ErrorIs(snap.DB().Delete([]byte("a")), ErrReadOnly)
}

func TestVersionDBCommitsAtomically(t *testing.T) {
	require := require.New(t)
	s, err := Open(Config{Mode: ReadWrite})
	require.NoError(err)
	defer s.Close()

	snap, err := s.Snapshot()
	require.NoError(err)
	defer snap.Release()

	vdb := versiondb.New(snap.DB())
	parts := NewPartitions(vdb)
	require.NoError(parts.State.Put([]byte("k"), []byte("state")))
	require.NoError(parts.Receipts.Put([]byte("k"), []byte("receipt")))
	require.NoError(parts.Events.Put([]byte("k"), []byte("event")))

	// nothing is visible before the commit
	before, err := s.Snapshot()
	require.NoError(err)
	_, err = NewPartitions(before.DB()).State.Get([]byte("k"))
	require.ErrorIs(err, database.ErrNotFound)
	before.Release()

	require.NoError(vdb.Commit())

	after, err := s.Snapshot()
	require.NoError(err)
	defer after.Release()
	afterParts := NewPartitions(after.DB())
	for db, expected := range map[database.Database]string{
		afterParts.State:    "state",
		afterParts.Receipts: "receipt",
		afterParts.Events:   "event",
	} {
		value, err := db.Get([]byte("k"))
		require.NoError(err)
		require.Equal([]byte(expected), value)
	}
}

func TestIteratorWithPrefix(t *testing.T) {
	require := require.New(t)
	s, err := Open(Config{Mode: ReadWrite})
	require.NoError(err)
	defer s.Close()

	put(t, s, "a1", "1")
	put(t, s, "a2", "2")
	put(t, s, "a3", "3")
	put(t, s, "b1", "4")

	snap, err := s.Snapshot()
	require.NoError(err)
	defer snap.Release()

	it := snap.DB().NewIteratorWithStartAndPrefix([]byte("a2"), []byte("a"))
	defer it.Release()
	var keys []string
	for it.Next() {
		keys = append(keys, string(it.Key()))
	}
	require.NoError(it.Error())
	require.Equal([]string{"a2", "a3"}, keys)
}

func TestStaleSnapshot(t *testing.T) {
	require := require.New(t)
	s, err := Open(Config{Mode: ReadWrite})
	require.NoError(err)

	snap, err := s.Snapshot()
	require.NoError(err)
	require.NoError(s.Close())

	_, err = snap.DB().Get([]byte("a"))
	require.ErrorIs(err, ErrStaleSnapshot)
	it := snap.DB().NewIterator()
	require.False(it.Next())
	require.ErrorIs(it.Error(), ErrStaleSnapshot)

	_, err = s.Snapshot()
	require.ErrorIs(err, ErrClosed)
}

func TestReadOnlyRejectsCommit(t *testing.T) {
	require := require.New(t)
	dir := filepath.Join(t.TempDir(), "db")

	s, err := Open(Config{Path: dir, Mode: ReadWrite})
	require.NoError(err)
	put(t, s, "a", "1")
	require.NoError(s.Close())

	ro, err := Open(Config{Path: dir, Mode: ReadOnly})
	require.NoError(err)
	defer ro.Close()

	value, err := get(t, ro, "a")
	require.NoError(err)
	require.Equal([]byte("1"), value)
	b := ro.NewBatch()
	require.NoError(b.Put([]byte("a"), []byte("2")))
	require.ErrorIs(b.Write(), ErrReadOnly)
}

func TestOverlayDiscardsWrites(t *testing.T) {
	require := require.New(t)
	dir := filepath.Join(t.TempDir(), "db")

	s, err := Open(Config{Path: dir, Mode: ReadWrite})
	require.NoError(err)
	put(t, s, "a", "1")
	require.NoError(s.Close())

	overlay, err := Open(Config{Path: dir, Mode: ReadOnlyOverlay})
	require.NoError(err)
	put(t, overlay, "a", "2")
	put(t, overlay, "b", "3")

	snap, err := overlay.Snapshot()
	require.NoError(err)
	put(t, overlay, "a", "4")

	value, err := snap.DB().Get([]byte("a"))
	require.NoError(err)
	require.Equal([]byte("2"), value)
	value, err = get(t, overlay, "a")
	require.NoError(err)
	require.Equal([]byte("4"), value)
	snap.Release()
	require.NoError(overlay.Close())

	ro, err := Open(Config{Path: dir, Mode: ReadOnly})
	require.NoError(err)
	defer ro.Close()
	value, err = get(t, ro, "a")
	require.NoError(err)
	require.Equal([]byte("1"), value)
	_, err = get(t, ro, "b")
	require.ErrorIs(err, database.ErrNotFound)
}

func TestRegistryExclusiveWriter(t *testing.T) {
	require := require.New(t)
	registry, err := NewFileRegistry(t.TempDir())
	require.NoError(err)
	dir := filepath.Join(t.TempDir(), "db")

	config := Config{Path: dir, Mode: ReadWrite, Registry: registry, Identity: "node"}
	s, err := Open(config)
	require.NoError(err)

	held, err := registry.IsHeld("node")
	require.NoError(err)
	require.True(held)

	_, err = Open(config)
	require.ErrorIs(err, ErrStoreUnavailable)
	_, err = Open(Config{Path: dir, Mode: ReadOnly, Registry: registry, Identity: "node"})
	require.ErrorIs(err, ErrStoreUnavailable)

	require.NoError(s.Close())
	held, err = registry.IsHeld("node")
	require.NoError(err)
	require.False(held)

	s, err = Open(config)
	require.NoError(err)
	require.NoError(s.Close())
}

func TestRegistrySeesOtherHolders(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()
	first, err := NewFileRegistry(dir)
	require.NoError(err)
	second, err := NewFileRegistry(dir)
	require.NoError(err)

	lease, ok, err := first.TryAcquire("node")
	require.NoError(err)
	require.True(ok)

	held, err := second.IsHeld("node")
	require.NoError(err)
	require.True(held)
	_, ok, err = second.TryAcquire("node")
	require.NoError(err)
	require.False(ok)

	require.NoError(lease.Release())
	require.NoError(lease.Release())
	held, err = second.IsHeld("node")
	require.NoError(err)
	require.False(held)
}
