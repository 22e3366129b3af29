// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"github.com/ava-labs/avalanchego/cache"
	"github.com/ava-labs/avalanchego/cache/metercacher"
	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/database/prefixdb"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ava-labs/sandboxvm/chain"
	"github.com/ava-labs/sandboxvm/store"
)

const blockCacheSize = 2048

var (
	// These are prefixes for db keys.
	// It's important to set different prefixes for each separate database objects.
	heightPrefix    = []byte("height")
	blockPrefix     = []byte("block")
	txPrefix        = []byte("tx")
	acceptedPrefix  = []byte("accepted")
	singletonPrefix = []byte("singleton")

	_ State = (*state)(nil)
)

// BlockCache caches committed blocks by ID. Committed blocks never change so
// one cache serves every snapshot.
type BlockCache = cache.Cacher[ids.ID, *chain.Block]

// NewBlockCache returns an LRU block cache reporting to [registerer].
func NewBlockCache(registerer prometheus.Registerer) (BlockCache, error) {
	return metercacher.New[ids.ID, *chain.Block](
		"block_cache",
		registerer,
		&cache.LRU[ids.ID, *chain.Block]{Size: blockCacheSize},
	)
}

// State is the ledger index kept in the chain-state partition plus the
// receipt and event partitions.
type State interface {
	SingletonState
	BlockState
	TxState
	ReceiptState
}

type state struct {
	SingletonState
	BlockState
	TxState
	ReceiptState
}

// New opens the ledger over [parts]. [blocks] may be nil.
func New(parts store.Partitions, blocks BlockCache) State {
	return &state{
		SingletonState: NewSingletonState(prefixdb.NewNested(singletonPrefix, parts.State)),
		BlockState: NewBlockState(
			prefixdb.NewNested(blockPrefix, parts.State),
			prefixdb.NewNested(heightPrefix, parts.State),
			prefixdb.NewNested(acceptedPrefix, parts.State),
			blocks,
		),
		TxState:      NewTxState(prefixdb.NewNested(txPrefix, parts.State)),
		ReceiptState: NewReceiptState(parts.Receipts, parts.Events),
	}
}

// FromDB opens the ledger over the partitions of [db].
func FromDB(db database.Database, blocks BlockCache) State {
	return New(store.NewPartitions(db), blocks)
}
