// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/database/prefixdb"
)

var (
	// These are prefixes for db keys.
	// It's important to set different prefixes for each separate partition.
	StatePrefix    = []byte("state")
	ReceiptsPrefix = []byte("receipts")
	EventsPrefix   = []byte("events")
)

// Partitions are the three logical views of one store. Writing all three
// through the same versiondb and committing once keeps them in step.
type Partitions struct {
	// State holds chain state: blocks, indexes and engine state. It is the
	// only partition a checkpoint carries.
	State database.Database
	// Receipts holds execution receipts by transaction ID.
	Receipts database.Database
	// Events indexes notifications by contract and name.
	Events database.Database
}

// NewPartitions splits [db] into partitions.
func NewPartitions(db database.Database) Partitions {
	return Partitions{
		State:    prefixdb.New(StatePrefix, db),
		Receipts: prefixdb.New(ReceiptsPrefix, db),
		Events:   prefixdb.New(EventsPrefix, db),
	}
}
