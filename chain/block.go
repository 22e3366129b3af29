// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package chain

import (
	"errors"
	"fmt"
	"time"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/hashing"
)

var ErrMerkleRootMismatch = errors.New("merkle root mismatch")

// Header is the signed part of a block. The witness is excluded from the
// block ID.
type Header struct {
	Version       uint32      `serialize:"true" json:"version"`
	PrevHash      ids.ID      `serialize:"true" json:"previousBlockHash"`
	MerkleRoot    ids.ID      `serialize:"true" json:"merkleRoot"`
	Timestamp     uint64      `serialize:"true" json:"timestamp"` // unix milliseconds
	Nonce         uint64      `serialize:"true" json:"nonce"`
	Height        uint64      `serialize:"true" json:"height"`
	NextConsensus ids.ShortID `serialize:"true" json:"nextConsensus"`
	Witness       Witness     `serialize:"true" json:"witness"`
}

// Hash returns the hash of the unsigned header.
func (h *Header) Hash() (ids.ID, error) {
	unsigned := *h
	unsigned.Witness = Witness{}
	b, err := Codec.Marshal(CodecVersion, &unsigned)
	if err != nil {
		return ids.Empty, fmt.Errorf("failed to marshal header: %w", err)
	}
	return hashing.ComputeHash256Array(b), nil
}

// Time returns the header timestamp.
func (h *Header) Time() time.Time { return time.UnixMilli(int64(h.Timestamp)) }

// Block is a header plus the ordered transactions it commits to.
type Block struct {
	Header       Header         `serialize:"true" json:"header"`
	Transactions []*Transaction `serialize:"true" json:"transactions"`

	id    ids.ID
	bytes []byte
}

// Initialize computes the id and encoding of [b] and of every transaction
// in it.
func (b *Block) Initialize() error {
	for _, tx := range b.Transactions {
		if err := tx.Initialize(); err != nil {
			return err
		}
	}
	id, err := b.Header.Hash()
	if err != nil {
		return err
	}
	bytes, err := Codec.Marshal(CodecVersion, b)
	if err != nil {
		return fmt.Errorf("failed to marshal block %s: %w", id, err)
	}
	b.id = id
	b.bytes = bytes
	return nil
}

// ParseBlock parses [bytes] into an initialized block.
func ParseBlock(bytes []byte) (*Block, error) {
	block := &Block{}
	if _, err := Codec.Unmarshal(bytes, block); err != nil {
		return nil, fmt.Errorf("failed to parse block: %w", err)
	}
	if err := block.Initialize(); err != nil {
		return nil, err
	}
	return block, nil
}

// ID returns the ID of this block
func (b *Block) ID() ids.ID { return b.id }

// Parent returns [b]'s parent's ID
func (b *Block) Parent() ids.ID { return b.Header.PrevHash }

// Height returns this block's height. The genesis block has height 0.
func (b *Block) Height() uint64 { return b.Header.Height }

// Timestamp returns this block's time in unix milliseconds.
func (b *Block) Timestamp() uint64 { return b.Header.Timestamp }

// Bytes returns the byte repr. of this block
func (b *Block) Bytes() []byte { return b.bytes }

// SignData returns the message the header witness signs on network [magic].
func (b *Block) SignData(magic uint32) []byte {
	return signData(magic, b.id)
}

// TxIDs returns the transaction hashes in block order.
func (b *Block) TxIDs() []ids.ID {
	txIDs := make([]ids.ID, len(b.Transactions))
	for i, tx := range b.Transactions {
		txIDs[i] = tx.ID()
	}
	return txIDs
}

// VerifyMerkleRoot checks the header commits to the transaction list.
func (b *Block) VerifyMerkleRoot() error {
	if root := MerkleRoot(b.TxIDs()); root != b.Header.MerkleRoot {
		return fmt.Errorf("%w: expected %s but found %s", ErrMerkleRootMismatch, root, b.Header.MerkleRoot)
	}
	return nil
}
