// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package chain

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/hashing"
	"github.com/ava-labs/avalanchego/utils/wrappers"
)

var errNoSigners = errors.New("transaction has no signers")

// Witness authorizes one signer of a transaction, or a block header.
// [Verification] is the script whose hash identifies the account and
// [Invocation] the signatures fed to it.
type Witness struct {
	Invocation   [][]byte `serialize:"true" json:"invocation"`
	Verification []byte   `serialize:"true" json:"verification"`
}

// Size returns the encoded length of the witness.
func (w *Witness) Size() int {
	size := wrappers.IntLen + wrappers.IntLen + len(w.Verification)
	for _, sig := range w.Invocation {
		size += wrappers.IntLen + len(sig)
	}
	return size
}

// Transaction is a signed script. The first signer is the sender and pays
// the fees.
type Transaction struct {
	Version         uint8         `serialize:"true" json:"version"`
	Nonce           uint32        `serialize:"true" json:"nonce"`
	SystemFee       uint64        `serialize:"true" json:"systemFee"`
	NetworkFee      uint64        `serialize:"true" json:"networkFee"`
	ValidUntilBlock uint64        `serialize:"true" json:"validUntilBlock"`
	Signers         []ids.ShortID `serialize:"true" json:"signers"`
	Attributes      []Attribute   `serialize:"true" json:"attributes"`
	Script          []byte        `serialize:"true" json:"script"`
	Witnesses       []Witness     `serialize:"true" json:"witnesses"`

	id    ids.ID
	bytes []byte
}

// Initialize computes the id and encoding of [tx]. It must be called again
// after any field changes.
func (tx *Transaction) Initialize() error {
	unsigned := *tx
	unsigned.Witnesses = nil
	unsignedBytes, err := Codec.Marshal(CodecVersion, &unsigned)
	if err != nil {
		return fmt.Errorf("failed to marshal unsigned transaction: %w", err)
	}
	bytes, err := Codec.Marshal(CodecVersion, tx)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction: %w", err)
	}
	tx.id = hashing.ComputeHash256Array(unsignedBytes)
	tx.bytes = bytes
	return nil
}

// ParseTransaction parses [b] into an initialized transaction.
func ParseTransaction(b []byte) (*Transaction, error) {
	tx := &Transaction{}
	if _, err := Codec.Unmarshal(b, tx); err != nil {
		return nil, fmt.Errorf("failed to parse transaction: %w", err)
	}
	if err := tx.Initialize(); err != nil {
		return nil, err
	}
	return tx, nil
}

// ID returns the hash of the unsigned transaction.
func (tx *Transaction) ID() ids.ID { return tx.id }

// Bytes returns the byte repr. of this transaction
func (tx *Transaction) Bytes() []byte { return tx.bytes }

// Size returns the encoded length of the transaction.
func (tx *Transaction) Size() int { return len(tx.bytes) }

// Sender returns the account paying the fees.
func (tx *Transaction) Sender() (ids.ShortID, error) {
	if len(tx.Signers) == 0 {
		return ids.ShortEmpty, errNoSigners
	}
	return tx.Signers[0], nil
}

// TotalFee returns SystemFee + NetworkFee.
func (tx *Transaction) TotalFee() (uint64, error) {
	total := tx.SystemFee + tx.NetworkFee
	if total < tx.SystemFee {
		return 0, fmt.Errorf("fee overflow in transaction %s", tx.id)
	}
	return total, nil
}

// HasSigner reports whether [account] signs [tx].
func (tx *Transaction) HasSigner(account ids.ShortID) bool {
	for _, signer := range tx.Signers {
		if signer == account {
			return true
		}
	}
	return false
}

// OracleResponse returns the oracle response attribute, if any.
func (tx *Transaction) OracleResponse() (*OracleResponse, bool) {
	for _, attr := range tx.Attributes {
		if resp, ok := attr.(*OracleResponse); ok {
			return resp, true
		}
	}
	return nil, false
}

// SignData returns the message every witness of [tx] signs on network
// [magic].
func (tx *Transaction) SignData(magic uint32) []byte {
	return signData(magic, tx.id)
}

func signData(magic uint32, id ids.ID) []byte {
	b := make([]byte, wrappers.IntLen+len(id))
	binary.BigEndian.PutUint32(b, magic)
	copy(b[wrappers.IntLen:], id[:])
	return b
}
