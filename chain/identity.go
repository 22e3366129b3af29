// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package chain

import (
	"errors"
	"fmt"

	"github.com/ava-labs/avalanchego/ids"
)

var (
	ErrMagicMismatch          = errors.New("network magic mismatch")
	ErrAddressVersionMismatch = errors.New("address version mismatch")
	ErrScriptHashMismatch     = errors.New("validator script hash mismatch")
)

// Identity is fixed at genesis and never changes for the life of a chain.
type Identity struct {
	Magic          uint32   `json:"magic"`
	AddressVersion byte     `json:"addressVersion"`
	Validators     [][]byte `json:"validators"`
}

// Multisig returns the genesis validator multisig.
func (i Identity) Multisig() (*Multisig, error) {
	return NewBFTMultisig(i.Validators)
}

// ScriptHash returns the script hash of the genesis validator multisig.
func (i Identity) ScriptHash() (ids.ShortID, error) {
	ms, err := i.Multisig()
	if err != nil {
		return ids.ShortEmpty, err
	}
	return ms.ScriptHash(), nil
}

// Matches returns nil iff [magic], [version] and [scriptHash] describe this
// identity. The error names the first field that differs.
func (i Identity) Matches(magic uint32, version byte, scriptHash ids.ShortID) error {
	if i.Magic != magic {
		return fmt.Errorf("%w: expected %d but found %d", ErrMagicMismatch, i.Magic, magic)
	}
	if i.AddressVersion != version {
		return fmt.Errorf("%w: expected %d but found %d", ErrAddressVersionMismatch, i.AddressVersion, version)
	}
	expected, err := i.ScriptHash()
	if err != nil {
		return err
	}
	if expected != scriptHash {
		return fmt.Errorf("%w: expected %s but found %s", ErrScriptHashMismatch, expected, scriptHash)
	}
	return nil
}
