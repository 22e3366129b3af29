// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package chain

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/crypto/secp256k1"
	"github.com/ava-labs/avalanchego/utils/hashing"
)

var (
	ErrInvalidThreshold = errors.New("invalid multisig threshold")
	ErrDuplicateKey     = errors.New("duplicate public key")
	ErrNoPublicKeys     = errors.New("no public keys")

	keyFactory = secp256k1.Factory{}
)

// Multisig is an m-of-n verification script. Public keys are kept sorted so
// the same key set always yields the same script hash.
type Multisig struct {
	Threshold  uint16   `serialize:"true" json:"threshold"`
	PublicKeys [][]byte `serialize:"true" json:"publicKeys"`
}

// BFTThreshold returns the number of signatures required from [n]
// validators tolerating (n-1)/3 faulty ones.
func BFTThreshold(n int) int {
	return n - (n-1)/3
}

// NewMultisig returns an [m]-of-len([keys]) multisig over a sorted copy of
// [keys].
func NewMultisig(m int, keys [][]byte) (*Multisig, error) {
	if len(keys) == 0 {
		return nil, ErrNoPublicKeys
	}
	if m < 1 || m > len(keys) {
		return nil, fmt.Errorf("%w: %d of %d", ErrInvalidThreshold, m, len(keys))
	}
	sorted := make([][]byte, len(keys))
	for i, key := range keys {
		if _, err := keyFactory.ToPublicKey(key); err != nil {
			return nil, fmt.Errorf("failed to parse public key %d: %w", i, err)
		}
		sorted[i] = append([]byte(nil), key...)
	}
	SortKeys(sorted)
	for i := 1; i < len(sorted); i++ {
		if bytes.Equal(sorted[i-1], sorted[i]) {
			return nil, ErrDuplicateKey
		}
	}
	return &Multisig{
		Threshold:  uint16(m),
		PublicKeys: sorted,
	}, nil
}

// NewBFTMultisig returns the multisig a validator set of [keys] signs with.
func NewBFTMultisig(keys [][]byte) (*Multisig, error) {
	return NewMultisig(BFTThreshold(len(keys)), keys)
}

// ParseMultisig parses a verification script.
func ParseMultisig(b []byte) (*Multisig, error) {
	ms := &Multisig{}
	if _, err := Codec.Unmarshal(b, ms); err != nil {
		return nil, err
	}
	// Re-derive to enforce ordering and bounds of untrusted scripts.
	checked, err := NewMultisig(int(ms.Threshold), ms.PublicKeys)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(checked.Bytes(), b) {
		return nil, fmt.Errorf("%w: keys not sorted", ErrInvalidThreshold)
	}
	return checked, nil
}

// SortKeys sorts public keys ascending.
func SortKeys(keys [][]byte) {
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i], keys[j]) < 0
	})
}

// Bytes returns the verification script.
func (ms *Multisig) Bytes() []byte {
	b, err := Codec.Marshal(CodecVersion, ms)
	if err != nil {
		// A multisig built by NewMultisig always marshals.
		panic(err)
	}
	return b
}

// ScriptHash returns the account hash of the verification script.
func (ms *Multisig) ScriptHash() ids.ShortID {
	return ScriptHash(ms.Bytes())
}

// Address returns the textual address of this multisig account.
func (ms *Multisig) Address(version byte) string {
	return FormatAddress(version, ms.ScriptHash())
}

// Index returns the position of [pub] in the key list, or -1.
func (ms *Multisig) Index(pub []byte) int {
	for i, key := range ms.PublicKeys {
		if bytes.Equal(key, pub) {
			return i
		}
	}
	return -1
}

// Verify reports whether [sigs] are [Threshold] signatures over [msg] by
// keys of this multisig, given in key order.
func (ms *Multisig) Verify(msg []byte, sigs [][]byte) bool {
	if len(sigs) != int(ms.Threshold) {
		return false
	}
	k := 0
	for _, sig := range sigs {
		matched := false
		for ; k < len(ms.PublicKeys); k++ {
			pub, err := keyFactory.ToPublicKey(ms.PublicKeys[k])
			if err != nil {
				return false
			}
			if pub.Verify(msg, sig) {
				k++
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// ScriptHash returns the 160 bit hash identifying the account of a
// verification script.
func ScriptHash(script []byte) ids.ShortID {
	return hashing.ComputeHash160Array(hashing.ComputeHash256(script))
}
