// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/database/versiondb"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/crypto/secp256k1"
	"github.com/stretchr/testify/require"

	"github.com/ava-labs/sandboxvm/builder"
	"github.com/ava-labs/sandboxvm/chain"
	"github.com/ava-labs/sandboxvm/engine"
	"github.com/ava-labs/sandboxvm/ledger"
	"github.com/ava-labs/sandboxvm/store"
)

const testLockID = "sandbox"

type storeWriter struct{ s *store.Store }

func (w storeWriter) Snapshot(context.Context) (*store.Snapshot, error) { return w.s.Snapshot() }

type testEnv struct {
	dir      string
	dataDir  string
	registry *store.FileRegistry
	identity chain.Identity
	engine   engine.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	require := require.New(t)
	dir := t.TempDir()
	registry, err := store.NewFileRegistry(filepath.Join(dir, "locks"))
	require.NoError(err)
	key, err := (&secp256k1.Factory{}).NewPrivateKey()
	require.NoError(err)

	env := &testEnv{
		dir:      dir,
		dataDir:  filepath.Join(dir, "chain"),
		registry: registry,
		identity: chain.Identity{
			Magic:          42,
			AddressVersion: 53,
			Validators:     [][]byte{key.PublicKey().Bytes()},
		},
		engine: engine.NewNative(),
	}
	s := env.open(t)
	_, _, err = builder.InitGenesis(s, env.engine, env.identity.Validators)
	require.NoError(err)
	env.deploy(t, s, "first")
	require.NoError(s.Close())
	return env
}

func (env *testEnv) open(t *testing.T) *store.Store {
	s, err := store.Open(store.Config{
		Path:     env.dataDir,
		Mode:     store.ReadWrite,
		Registry: env.registry,
		Identity: testLockID,
	})
	require.NoError(t, err)
	return s
}

func (env *testEnv) manager(dataDir string) *Manager {
	return NewManager(Config{
		Identity: env.identity,
		LockID:   testLockID,
		DataDir:  dataDir,
		Registry: env.registry,
	})
}

// deploy commits a contract called [name] straight into [s].
func (env *testEnv) deploy(t *testing.T, s *store.Store, name string) {
	require := require.New(t)
	ms, err := env.identity.Multisig()
	require.NoError(err)
	script, err := engine.EncodeScript(&engine.Deploy{Name: name})
	require.NoError(err)
	tx := &chain.Transaction{
		SystemFee: engine.DeployGas,
		Signers:   []ids.ShortID{ms.ScriptHash()},
		Script:    script,
		Witnesses: []chain.Witness{{}},
	}
	require.NoError(tx.Initialize())

	snap, err := s.Snapshot()
	require.NoError(err)
	defer snap.Release()
	vdb := versiondb.New(snap.DB())
	receipt, err := env.engine.Execute(store.NewPartitions(vdb).State, engine.Env{Height: 1}, tx)
	require.NoError(err)
	require.Equal(chain.Halt, receipt.State, receipt.Exception)
	require.NoError(vdb.Commit())
}

func stateEntries(t *testing.T, s *store.Store) map[string]string {
	snap, err := s.Snapshot()
	require.NoError(t, err)
	defer snap.Release()
	it := store.NewPartitions(snap.DB()).State.NewIterator()
	defer it.Release()
	entries := make(map[string]string)
	for it.Next() {
		entries[string(it.Key())] = string(it.Value())
	}
	require.NoError(t, it.Error())
	return entries
}

func contracts(t *testing.T, e engine.Engine, s *store.Store) []*engine.Contract {
	snap, err := s.Snapshot()
	require.NoError(t, err)
	defer snap.Release()
	list, err := e.Contracts(store.NewPartitions(snap.DB()).State)
	require.NoError(t, err)
	return list
}

func TestCreateOfflineAndRestore(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)
	ctx := context.Background()
	archive := filepath.Join(env.dir, "cp.tar")

	path, mode, err := env.manager(env.dataDir).Create(ctx, archive, false)
	require.NoError(err)
	require.Equal(Offline, mode)
	require.Equal(archive, path)

	meta, err := ReadMetadata(archive)
	require.NoError(err)
	require.Equal(env.identity.Magic, meta.Magic)
	require.Zero(meta.Height)
	require.Positive(meta.Entries)
	scriptHash, err := env.identity.ScriptHash()
	require.NoError(err)
	require.Equal(scriptHash, meta.ScriptHash)

	// mutate after the checkpoint
	s := env.open(t)
	before := stateEntries(t, s)
	require.Equal(uint64(len(before)), meta.Entries)
	env.deploy(t, s, "second")
	require.Len(contracts(t, env.engine, s), 2)
	require.NoError(s.Close())

	restored := filepath.Join(env.dir, "restored")
	m := env.manager(restored)
	_, err = m.Restore(ctx, archive, restored, RestoreOptions{})
	require.NoError(err)

	s, err = store.Open(store.Config{Path: restored, Mode: store.ReadWrite})
	require.NoError(err)
	defer s.Close()
	require.Equal(before, stateEntries(t, s))
	list := contracts(t, env.engine, s)
	require.Len(list, 1)
	require.Equal("first", list[0].Name)

	snap, err := s.Snapshot()
	require.NoError(err)
	defer snap.Release()
	last, err := ledger.FromDB(snap.DB(), nil).LastAcceptedBlock()
	require.NoError(err)
	require.Equal(meta.Height, last.Height())
	require.Equal(meta.BlockID, last.ID())
}

func TestCreateOnline(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)
	ctx := context.Background()
	archive := filepath.Join(env.dir, "online.tar")

	s := env.open(t)
	defer s.Close()

	// the writer holds the store, so only the handoff works
	_, _, err := env.manager(env.dataDir).Create(ctx, archive, false)
	require.ErrorIs(err, ErrStoreUnavailable)

	m := env.manager(env.dataDir)
	m.SetWriter(storeWriter{s: s})
	_, mode, err := m.Create(ctx, archive, false)
	require.NoError(err)
	require.Equal(Online, mode)

	_, _, err = m.Create(ctx, archive, false)
	require.ErrorIs(err, ErrAlreadyExists)
	_, _, err = m.Create(ctx, archive, true)
	require.NoError(err)

	// restoring over a running writer is refused
	_, err = m.Restore(ctx, archive, filepath.Join(env.dir, "other"), RestoreOptions{})
	require.ErrorIs(err, ErrWriterActive)
}

func TestRestoreIdentityMismatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	archive := filepath.Join(env.dir, "cp.tar")
	_, _, err := env.manager(env.dataDir).Create(ctx, archive, false)
	require.NoError(t, err)

	otherKey, err := (&secp256k1.Factory{}).NewPrivateKey()
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*chain.Identity)
	}{
		{
			name:   "magic",
			mutate: func(i *chain.Identity) { i.Magic++ },
		},
		{
			name:   "address version",
			mutate: func(i *chain.Identity) { i.AddressVersion++ },
		},
		{
			name:   "validators",
			mutate: func(i *chain.Identity) { i.Validators = [][]byte{otherKey.PublicKey().Bytes()} },
		},
	}
	for i, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require := require.New(t)
			identity := env.identity
			test.mutate(&identity)
			m := NewManager(Config{Identity: identity, LockID: "other", Registry: env.registry})
			dest := filepath.Join(env.dir, "mismatch", test.name)

			_, err := m.Restore(ctx, archive, dest, RestoreOptions{})
			require.ErrorIs(err, ErrIdentityMismatch)
			_, err = os.Stat(dest)
			require.True(os.IsNotExist(err), "case %d", i)

			_, err = m.Restore(ctx, archive, dest, RestoreOptions{AllowIdentityMismatch: true})
			require.NoError(err)
		})
	}
}

func TestRestoreDestinationExists(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)
	ctx := context.Background()
	archive := filepath.Join(env.dir, "cp.tar")
	m := env.manager(env.dataDir)
	_, _, err := m.Create(ctx, archive, false)
	require.NoError(err)

	// the data directory still holds the chain
	_, err = m.Restore(ctx, archive, env.dataDir, RestoreOptions{})
	require.ErrorIs(err, ErrDestinationExists)

	s := env.open(t)
	env.deploy(t, s, "later")
	require.NoError(s.Close())

	_, err = m.Restore(ctx, archive, env.dataDir, RestoreOptions{Force: true})
	require.NoError(err)
	s = env.open(t)
	defer s.Close()
	require.Len(contracts(t, env.engine, s), 1)

	leftovers, err := filepath.Glob(filepath.Join(env.dir, ".restore-*"))
	require.NoError(err)
	require.Empty(leftovers)
}

func TestRestoreChecksIdentityFirst(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)
	ctx := context.Background()
	archive := filepath.Join(env.dir, "cp.tar")
	_, _, err := env.manager(env.dataDir).Create(ctx, archive, false)
	require.NoError(err)

	identity := env.identity
	identity.Magic++
	m := NewManager(Config{Identity: identity, LockID: "other", Registry: env.registry})

	// an occupied destination does not hide the foreign chain
	_, err = m.Restore(ctx, archive, env.dataDir, RestoreOptions{})
	require.ErrorIs(err, ErrIdentityMismatch)
	require.NotErrorIs(err, ErrDestinationExists)

	_, err = m.Restore(ctx, archive, env.dataDir, RestoreOptions{AllowIdentityMismatch: true})
	require.ErrorIs(err, ErrDestinationExists)
}

func TestRestoreCorruptArchive(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)
	ctx := context.Background()

	s := env.open(t)
	snap, err := s.Snapshot()
	require.NoError(err)
	dumpFile, err := os.CreateTemp(env.dir, "dump")
	require.NoError(err)
	entries, digest, err := dump(ctx, store.NewPartitions(snap.DB()).State, dumpFile)
	require.NoError(err)
	snap.Release()
	require.NoError(s.Close())

	scriptHash, err := env.identity.ScriptHash()
	require.NoError(err)
	tests := []struct {
		name   string
		mutate func(*Metadata)
	}{
		{
			name:   "entries",
			mutate: func(m *Metadata) { m.Entries++ },
		},
		{
			name:   "digest",
			mutate: func(m *Metadata) { m.Digest = ids.GenerateTestID() },
		},
		{
			name:   "format",
			mutate: func(m *Metadata) { m.Format = Format + 1 },
		},
	}
	for _, test := range tests {
		meta := &Metadata{
			Format:         Format,
			Magic:          env.identity.Magic,
			AddressVersion: env.identity.AddressVersion,
			ScriptHash:     scriptHash,
			Entries:        entries,
			Digest:         digest,
		}
		test.mutate(meta)
		archive := filepath.Join(env.dir, test.name+".tar")
		f, err := os.Create(archive)
		require.NoError(err)
		require.NoError(writeArchive(f, meta, dumpFile))
		require.NoError(f.Close())

		dest := filepath.Join(env.dir, "corrupt-"+test.name)
		_, err = env.manager(dest).Restore(ctx, archive, dest, RestoreOptions{})
		require.ErrorIs(err, ErrCorruptArchive, test.name)
		_, err = os.Stat(dest)
		require.True(os.IsNotExist(err))
	}

	garbage := filepath.Join(env.dir, "garbage.tar")
	require.NoError(os.WriteFile(garbage, []byte("not an archive"), 0o600))
	_, err = env.manager(env.dataDir).Restore(ctx, garbage, filepath.Join(env.dir, "garbage"), RestoreOptions{})
	require.ErrorIs(err, ErrCorruptArchive)
}

func TestDumpLoadRoundTrip(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	src, err := store.Open(store.Config{Mode: store.ReadWrite})
	require.NoError(err)
	defer src.Close()
	batch := src.NewBatch()
	for i := 0; i < 3000; i++ {
		require.NoError(batch.Put([]byte{byte(i >> 8), byte(i)}, []byte{byte(i)}))
	}
	require.NoError(batch.Write())

	f, err := os.CreateTemp(t.TempDir(), "dump")
	require.NoError(err)
	defer f.Close()
	snap, err := src.Snapshot()
	require.NoError(err)
	defer snap.Release()
	entries, digest, err := dump(ctx, snap.DB(), f)
	require.NoError(err)
	require.Equal(uint64(3000), entries)

	_, err = f.Seek(0, 0)
	require.NoError(err)
	dst, err := store.Open(store.Config{Mode: store.ReadWrite})
	require.NoError(err)
	defer dst.Close()
	dstSnap, err := dst.Snapshot()
	require.NoError(err)
	defer dstSnap.Release()
	loaded, loadedDigest, err := load(ctx, f, dstSnap.DB())
	require.NoError(err)
	require.Equal(entries, loaded)
	require.Equal(digest, loadedDigest)

	fresh, err := dst.Snapshot()
	require.NoError(err)
	defer fresh.Release()
	value, err := fresh.DB().Get([]byte{0x0b, 0xb7})
	require.NoError(err)
	require.Equal([]byte{0xb7}, value)
	_, err = fresh.DB().Get([]byte{0xff, 0xff})
	require.ErrorIs(err, database.ErrNotFound)
}
