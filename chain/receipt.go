// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package chain

import (
	"fmt"

	"github.com/ava-labs/avalanchego/ids"
)

// VMState is the final state of a script execution.
type VMState byte

const (
	Halt VMState = iota
	Fault
)

func (s VMState) String() string {
	switch s {
	case Halt:
		return "HALT"
	case Fault:
		return "FAULT"
	default:
		return fmt.Sprintf("VMState(%d)", byte(s))
	}
}

// Event is a notification emitted by a contract during execution.
type Event struct {
	Contract ids.ShortID `serialize:"true" json:"contract"`
	Name     string      `serialize:"true" json:"eventName"`
	Data     []byte      `serialize:"true" json:"data"`
}

// Receipt is the application log of one transaction.
type Receipt struct {
	TxID        ids.ID  `serialize:"true" json:"txID"`
	BlockID     ids.ID  `serialize:"true" json:"blockID"`
	Height      uint64  `serialize:"true" json:"height"`
	State       VMState `serialize:"true" json:"vmState"`
	GasConsumed uint64  `serialize:"true" json:"gasConsumed"`
	Exception   string  `serialize:"true" json:"exception"`
	Events      []Event `serialize:"true" json:"events"`
}

// ParseReceipt parses an encoded receipt.
func ParseReceipt(b []byte) (*Receipt, error) {
	r := &Receipt{}
	if _, err := Codec.Unmarshal(b, r); err != nil {
		return nil, fmt.Errorf("failed to parse receipt: %w", err)
	}
	return r, nil
}

// Bytes returns the encoded receipt.
func (r *Receipt) Bytes() ([]byte, error) {
	return Codec.Marshal(CodecVersion, r)
}
