// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package builder

// Plan returns the timestamps, in unix milliseconds, of [count] empty
// blocks minted after a block stamped [prev]. The first block is stamped
// max([now], [prev]+1), every following one 1ms later, and the last one
// additionally [delta] later.
func Plan(now, prev uint64, count int, delta uint64) []uint64 {
	if count <= 0 {
		return nil
	}
	timestamps := make([]uint64, count)
	next := prev + 1
	if now > next {
		next = now
	}
	for i := range timestamps {
		timestamps[i] = next
		next++
	}
	timestamps[count-1] += delta
	return timestamps
}
