// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package builder

import (
	"fmt"

	"github.com/ava-labs/avalanchego/database/versiondb"

	"github.com/ava-labs/sandboxvm/chain"
	"github.com/ava-labs/sandboxvm/engine"
	"github.com/ava-labs/sandboxvm/ledger"
	"github.com/ava-labs/sandboxvm/store"
)

// GenesisTimestamp is the time of every genesis block, in unix milliseconds.
const GenesisTimestamp uint64 = 1_468_595_301_000

// InitGenesis writes the genesis block and state for [validators] unless
// [s] already holds a chain. It returns the genesis block and whether it
// was written now.
func InitGenesis(s *store.Store, e engine.Engine, validators [][]byte) (*chain.Block, bool, error) {
	snap, err := s.Snapshot()
	if err != nil {
		return nil, false, err
	}
	defer snap.Release()

	vdb := versiondb.New(snap.DB())
	defer vdb.Abort()
	parts := store.NewPartitions(vdb)
	state := ledger.New(parts, nil)

	initialized, err := state.IsInitialized()
	if err != nil {
		return nil, false, err
	}
	if initialized {
		genesis, err := state.GetBlockByHeight(0)
		if err != nil {
			return nil, false, fmt.Errorf("failed to get genesis block: %w", err)
		}
		return genesis, false, nil
	}

	ms, err := chain.NewBFTMultisig(validators)
	if err != nil {
		return nil, false, fmt.Errorf("invalid validators: %w", err)
	}
	if err := e.Initialize(parts.State, engine.Genesis{Validators: ms.PublicKeys}); err != nil {
		return nil, false, fmt.Errorf("failed to initialize engine state: %w", err)
	}

	genesis := &chain.Block{
		Header: chain.Header{
			MerkleRoot:    chain.MerkleRoot(nil),
			Timestamp:     GenesisTimestamp,
			NextConsensus: ms.ScriptHash(),
		},
	}
	if err := genesis.Initialize(); err != nil {
		return nil, false, err
	}
	if err := state.PutBlock(genesis); err != nil {
		return nil, false, fmt.Errorf("failed to accept genesis block: %w", err)
	}
	if err := state.SetNextValidators(ms.PublicKeys); err != nil {
		return nil, false, err
	}
	if err := state.SetInitialized(); err != nil {
		return nil, false, fmt.Errorf("error while setting db to initialized: %w", err)
	}
	if err := vdb.Commit(); err != nil {
		return nil, false, err
	}
	return genesis, true, nil
}
