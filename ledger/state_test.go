// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"testing"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/database/versiondb"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/ava-labs/sandboxvm/chain"
	"github.com/ava-labs/sandboxvm/store"
)

func newTestBlock(t *testing.T, height uint64, parent ids.ID) *chain.Block {
	tx := &chain.Transaction{
		Nonce:     uint32(height),
		Signers:   []ids.ShortID{{1}},
		Script:    []byte{byte(height)},
		Witnesses: []chain.Witness{{}},
	}
	require.NoError(t, tx.Initialize())
	blk := &chain.Block{
		Header: chain.Header{
			PrevHash:   parent,
			MerkleRoot: chain.MerkleRoot([]ids.ID{tx.ID()}),
			Timestamp:  1000 + height,
			Height:     height,
		},
		Transactions: []*chain.Transaction{tx},
	}
	require.NoError(t, blk.Initialize())
	return blk
}

func TestPutAndGetBlock(t *testing.T) {
	require := require.New(t)
	s, err := store.Open(store.Config{Mode: store.ReadWrite})
	require.NoError(err)
	defer s.Close()
	blocks, err := NewBlockCache(prometheus.NewRegistry())
	require.NoError(err)

	snap, err := s.Snapshot()
	require.NoError(err)
	vdb := versiondb.New(snap.DB())
	st := FromDB(vdb, blocks)

	initialized, err := st.IsInitialized()
	require.NoError(err)
	require.False(initialized)
	_, err = st.LastAccepted()
	require.ErrorIs(err, database.ErrNotFound)

	genesis := newTestBlock(t, 0, ids.Empty)
	child := newTestBlock(t, 1, genesis.ID())
	require.NoError(st.PutBlock(genesis))
	require.NoError(st.PutBlock(child))
	require.NoError(st.PutTransaction(child.Transactions[0].ID(), TxLocation{Height: 1}))
	require.NoError(st.SetNextValidators([][]byte{{1}, {2}}))
	require.NoError(st.SetInitialized())
	require.NoError(vdb.Commit())
	snap.Release()

	snap, err = s.Snapshot()
	require.NoError(err)
	defer snap.Release()
	st = FromDB(snap.DB(), blocks)

	initialized, err = st.IsInitialized()
	require.NoError(err)
	require.True(initialized)

	last, err := st.LastAcceptedBlock()
	require.NoError(err)
	require.Equal(child.ID(), last.ID())

	byHeight, err := st.GetBlockByHeight(0)
	require.NoError(err)
	require.Equal(genesis.ID(), byHeight.ID())
	require.Equal(genesis.Bytes(), byHeight.Bytes())

	// second read is served from the cache
	cached, ok := blocks.Get(genesis.ID())
	require.True(ok)
	require.Equal(genesis.ID(), cached.ID())

	has, err := st.HasTransaction(child.Transactions[0].ID())
	require.NoError(err)
	require.True(has)
	loc, err := st.GetTransactionLocation(child.Transactions[0].ID())
	require.NoError(err)
	require.Equal(TxLocation{Height: 1}, loc)

	validators, err := st.NextValidators()
	require.NoError(err)
	require.Equal([][]byte{{1}, {2}}, validators)

	_, err = st.GetBlockByHeight(2)
	require.ErrorIs(err, database.ErrNotFound)
}

func TestReceiptsAndEvents(t *testing.T) {
	require := require.New(t)
	s, err := store.Open(store.Config{Mode: store.ReadWrite})
	require.NoError(err)
	defer s.Close()

	snap, err := s.Snapshot()
	require.NoError(err)
	defer snap.Release()
	vdb := versiondb.New(snap.DB())
	st := FromDB(vdb, nil)

	contract := ids.ShortID{7}
	first := &chain.Receipt{
		TxID:   ids.ID{1},
		Height: 3,
		State:  chain.Halt,
		Events: []chain.Event{
			{Contract: contract, Name: "Transfer", Data: []byte{1}},
			{Contract: contract, Name: "Transferred", Data: []byte{2}},
		},
	}
	second := &chain.Receipt{
		TxID:      ids.ID{2},
		Height:    4,
		State:     chain.Fault,
		Exception: "boom",
		Events:    []chain.Event{{Contract: contract, Name: "Transfer"}},
	}
	require.NoError(st.PutReceipt(0, first))
	require.NoError(st.PutReceipt(1, second))

	receipt, err := st.GetReceipt(ids.ID{2})
	require.NoError(err)
	require.Equal(chain.Fault, receipt.State)
	require.Equal("boom", receipt.Exception)

	records, err := st.Events(contract, "Transfer")
	require.NoError(err)
	require.Len(records, 2)
	require.Equal(ids.ID{1}, records[0].TxID)
	require.Equal(uint64(3), records[0].Height)
	require.Equal(ids.ID{2}, records[1].TxID)
	require.Equal(uint32(1), records[1].TxIndex)
}

func countKeys(t *testing.T, db database.Iteratee) int {
	it := db.NewIterator()
	defer it.Release()
	n := 0
	for it.Next() {
		n++
	}
	require.NoError(t, it.Error())
	return n
}

func TestIndexesStayInStatePartition(t *testing.T) {
	require := require.New(t)
	s, err := store.Open(store.Config{Mode: store.ReadWrite})
	require.NoError(err)
	defer s.Close()

	snap, err := s.Snapshot()
	require.NoError(err)
	vdb := versiondb.New(snap.DB())
	st := FromDB(vdb, nil)
	genesis := newTestBlock(t, 0, ids.Empty)
	require.NoError(st.PutBlock(genesis))
	require.NoError(st.PutTransaction(genesis.Transactions[0].ID(), TxLocation{}))
	require.NoError(st.SetNextValidators([][]byte{{1}}))
	require.NoError(st.SetInitialized())
	require.NoError(vdb.Commit())
	snap.Release()

	snap, err = s.Snapshot()
	require.NoError(err)
	defer snap.Release()
	total := countKeys(t, snap.DB())
	require.Positive(total)
	require.Equal(total, countKeys(t, store.NewPartitions(snap.DB()).State))
}
