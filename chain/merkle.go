// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package chain

import (
	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/hashing"
)

// MerkleRoot hashes [hashes] pairwise level by level, duplicating the last
// node of odd levels. The root of zero hashes is ids.Empty.
func MerkleRoot(hashes []ids.ID) ids.ID {
	switch len(hashes) {
	case 0:
		return ids.Empty
	case 1:
		return hashes[0]
	}

	level := make([]ids.ID, len(hashes))
	copy(level, hashes)
	buf := make([]byte, 2*len(ids.Empty))
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := level[:0]
		for i := 0; i < len(level); i += 2 {
			copy(buf, level[i][:])
			copy(buf[len(ids.Empty):], level[i+1][:])
			next = append(next, hashing.ComputeHash256Array(buf))
		}
		level = next
	}
	return level[0]
}
