// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"encoding/binary"
	"fmt"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/wrappers"

	"github.com/ava-labs/sandboxvm/chain"
)

var (
	// Database markers
	acceptedKey = []byte("acceptedBlock")

	_ BlockState = (*blockState)(nil)
)

type BlockState interface {
	GetBlock(blkID ids.ID) (*chain.Block, error)
	GetBlockIDAtHeight(height uint64) (ids.ID, error)
	GetBlockByHeight(height uint64) (*chain.Block, error)
	LastAccepted() (ids.ID, error)
	LastAcceptedBlock() (*chain.Block, error)

	// PutBlock indexes [blk] by ID and height and marks it last accepted.
	PutBlock(blk *chain.Block) error
}

type blockState struct {
	blkCache      BlockCache
	blockIndex    database.Database
	heightIndex   database.Database
	acceptedIndex database.Database
}

func NewBlockState(blockDB, heightDB, acceptedDB database.Database, blocks BlockCache) BlockState {
	return &blockState{
		blkCache:      blocks,
		blockIndex:    blockDB,
		heightIndex:   heightDB,
		acceptedIndex: acceptedDB,
	}
}

func heightKey(height uint64) []byte {
	heightBytes := make([]byte, wrappers.LongLen)
	binary.BigEndian.PutUint64(heightBytes, height)
	return heightBytes
}

func (s *blockState) GetBlock(blkID ids.ID) (*chain.Block, error) {
	if s.blkCache != nil {
		if blk, ok := s.blkCache.Get(blkID); ok {
			return blk, nil
		}
	}

	blkBytes, err := s.blockIndex.Get(blkID[:])
	if err != nil {
		return nil, fmt.Errorf("failed to get block %s: %w", blkID, err)
	}

	blk, err := chain.ParseBlock(blkBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse block from disk %s: %w", blkID, err)
	}

	if s.blkCache != nil {
		s.blkCache.Put(blkID, blk)
	}
	return blk, nil
}

func (s *blockState) GetBlockIDAtHeight(height uint64) (ids.ID, error) {
	blkIDBytes, err := s.heightIndex.Get(heightKey(height))
	if err != nil {
		return ids.ID{}, fmt.Errorf("failed to get height index at %d: %w", height, err)
	}

	blkID, err := ids.ToID(blkIDBytes)
	if err != nil {
		return ids.ID{}, fmt.Errorf("failed to parse blkIDBytes at height %d: %w", height, err)
	}

	return blkID, nil
}

func (s *blockState) GetBlockByHeight(height uint64) (*chain.Block, error) {
	blkID, err := s.GetBlockIDAtHeight(height)
	if err != nil {
		return nil, err
	}
	return s.GetBlock(blkID)
}

func (s *blockState) LastAccepted() (ids.ID, error) {
	blkIDBytes, err := s.acceptedIndex.Get(acceptedKey)
	if err != nil {
		return ids.ID{}, fmt.Errorf("failed to get last accepted blockID: %w", err)
	}

	blkID, err := ids.ToID(blkIDBytes)
	if err != nil {
		return ids.ID{}, fmt.Errorf("failed to parse last accepted blockID from disk: %w", err)
	}

	return blkID, nil
}

func (s *blockState) LastAcceptedBlock() (*chain.Block, error) {
	blkID, err := s.LastAccepted()
	if err != nil {
		return nil, err
	}
	return s.GetBlock(blkID)
}

func (s *blockState) PutBlock(blk *chain.Block) error {
	blkID := blk.ID()
	if err := s.heightIndex.Put(heightKey(blk.Height()), blkID[:]); err != nil {
		return fmt.Errorf("failed to put block %s into height index: %w", blkID, err)
	}

	if err := s.blockIndex.Put(blkID[:], blk.Bytes()); err != nil {
		return fmt.Errorf("failed to put block %s into block index: %w", blkID, err)
	}

	if err := s.acceptedIndex.Put(acceptedKey, blkID[:]); err != nil {
		return fmt.Errorf("failed to update last accepted block to %s: %w", blkID, err)
	}

	return nil
}
