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

var _ ReceiptState = (*receiptState)(nil)

// EventRecord locates one emitted event.
type EventRecord struct {
	Height  uint64 `json:"height"`
	TxIndex uint32 `json:"txIndex"`
	Index   uint32 `json:"index"`
	TxID    ids.ID `json:"txID"`
}

// ReceiptState stores application logs and the event index. Both are
// secondary to the chain state and may be absent after a restore.
type ReceiptState interface {
	GetReceipt(txID ids.ID) (*chain.Receipt, error)
	// PutReceipt stores [r] and indexes its events.
	PutReceipt(txIndex uint32, r *chain.Receipt) error
	// Events returns every [name] event emitted by [contract] in commit
	// order.
	Events(contract ids.ShortID, name string) ([]EventRecord, error)
}

type receiptState struct {
	receiptDB database.Database
	eventDB   database.Database
}

func NewReceiptState(receiptDB, eventDB database.Database) ReceiptState {
	return &receiptState{
		receiptDB: receiptDB,
		eventDB:   eventDB,
	}
}

func (s *receiptState) GetReceipt(txID ids.ID) (*chain.Receipt, error) {
	b, err := s.receiptDB.Get(txID[:])
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt %s: %w", txID, err)
	}
	return chain.ParseReceipt(b)
}

// eventPrefix is contract | name | 0x00
func eventPrefix(contract ids.ShortID, name string) []byte {
	prefix := make([]byte, 0, len(contract)+len(name)+1)
	prefix = append(prefix, contract[:]...)
	prefix = append(prefix, name...)
	return append(prefix, 0)
}

func (s *receiptState) PutReceipt(txIndex uint32, r *chain.Receipt) error {
	b, err := r.Bytes()
	if err != nil {
		return err
	}
	if err := s.receiptDB.Put(r.TxID[:], b); err != nil {
		return fmt.Errorf("failed to put receipt %s: %w", r.TxID, err)
	}
	for i, event := range r.Events {
		key := eventPrefix(event.Contract, event.Name)
		suffix := make([]byte, wrappers.LongLen+2*wrappers.IntLen)
		binary.BigEndian.PutUint64(suffix, r.Height)
		binary.BigEndian.PutUint32(suffix[wrappers.LongLen:], txIndex)
		binary.BigEndian.PutUint32(suffix[wrappers.LongLen+wrappers.IntLen:], uint32(i))
		key = append(key, suffix...)
		if err := s.eventDB.Put(key, r.TxID[:]); err != nil {
			return fmt.Errorf("failed to index event %s of %s: %w", event.Name, r.TxID, err)
		}
	}
	return nil
}

func (s *receiptState) Events(contract ids.ShortID, name string) ([]EventRecord, error) {
	prefix := eventPrefix(contract, name)
	it := s.eventDB.NewIteratorWithPrefix(prefix)
	defer it.Release()

	var records []EventRecord
	for it.Next() {
		suffix := it.Key()[len(prefix):]
		if len(suffix) != wrappers.LongLen+2*wrappers.IntLen {
			continue
		}
		txID, err := ids.ToID(it.Value())
		if err != nil {
			return nil, err
		}
		records = append(records, EventRecord{
			Height:  binary.BigEndian.Uint64(suffix),
			TxIndex: binary.BigEndian.Uint32(suffix[wrappers.LongLen:]),
			Index:   binary.BigEndian.Uint32(suffix[wrappers.LongLen+wrappers.IntLen:]),
			TxID:    txID,
		})
	}
	return records, it.Error()
}
