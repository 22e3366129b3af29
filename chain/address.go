// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package chain

import (
	"errors"
	"fmt"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/cb58"
)

var ErrAddressVersion = errors.New("wrong address version")

// FormatAddress encodes [hash] prefixed by the address [version].
func FormatAddress(version byte, hash ids.ShortID) string {
	b := make([]byte, 0, 1+ids.ShortIDLen)
	b = append(b, version)
	b = append(b, hash[:]...)
	s, err := cb58.Encode(b)
	if err != nil {
		// cb58 only fails on oversized input
		panic(err)
	}
	return s
}

// ParseAddress decodes an address produced by FormatAddress.
func ParseAddress(version byte, s string) (ids.ShortID, error) {
	b, err := cb58.Decode(s)
	if err != nil {
		return ids.ShortEmpty, fmt.Errorf("failed to decode address %q: %w", s, err)
	}
	if len(b) != 1+ids.ShortIDLen {
		return ids.ShortEmpty, fmt.Errorf("address %q has length %d", s, len(b))
	}
	if b[0] != version {
		return ids.ShortEmpty, fmt.Errorf("%w: expected %d but found %d", ErrAddressVersion, version, b[0])
	}
	return ids.ToShortID(b[1:])
}
