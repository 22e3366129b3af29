// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package builder

// State is the stage of the block being assembled.
type State uint8

const (
	// Empty holds no snapshot.
	Empty State = iota
	// Assembling accepts transactions on top of a fresh snapshot.
	Assembling
	// HeaderPending has a sealed transaction list and header.
	HeaderPending
	// Witnessed carries a complete header witness.
	Witnessed
	// Committed has been written to the store.
	Committed
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Assembling:
		return "assembling"
	case HeaderPending:
		return "header pending"
	case Witnessed:
		return "witnessed"
	case Committed:
		return "committed"
	default:
		return "unknown"
	}
}
