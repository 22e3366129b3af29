// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/wrappers"
)

var (
	errBadTxIndex = errors.New("malformed transaction index entry")

	_ TxState = (*txState)(nil)
)

// TxLocation is where a committed transaction lives.
type TxLocation struct {
	Height uint64
	Index  uint32
}

// TxState indexes committed transactions so duplicates are rejected.
type TxState interface {
	HasTransaction(txID ids.ID) (bool, error)
	GetTransactionLocation(txID ids.ID) (TxLocation, error)
	PutTransaction(txID ids.ID, loc TxLocation) error
}

type txState struct {
	txIndex database.Database
}

func NewTxState(db database.Database) TxState {
	return &txState{txIndex: db}
}

func (s *txState) HasTransaction(txID ids.ID) (bool, error) {
	return s.txIndex.Has(txID[:])
}

func (s *txState) GetTransactionLocation(txID ids.ID) (TxLocation, error) {
	b, err := s.txIndex.Get(txID[:])
	if err != nil {
		return TxLocation{}, fmt.Errorf("failed to get transaction %s: %w", txID, err)
	}
	if len(b) != wrappers.LongLen+wrappers.IntLen {
		return TxLocation{}, fmt.Errorf("%w: %s", errBadTxIndex, txID)
	}
	return TxLocation{
		Height: binary.BigEndian.Uint64(b),
		Index:  binary.BigEndian.Uint32(b[wrappers.LongLen:]),
	}, nil
}

func (s *txState) PutTransaction(txID ids.ID, loc TxLocation) error {
	b := make([]byte, wrappers.LongLen+wrappers.IntLen)
	binary.BigEndian.PutUint64(b, loc.Height)
	binary.BigEndian.PutUint32(b[wrappers.LongLen:], loc.Index)
	if err := s.txIndex.Put(txID[:], b); err != nil {
		return fmt.Errorf("failed to put transaction %s into tx index: %w", txID, err)
	}
	return nil
}
