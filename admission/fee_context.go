// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package admission

import (
	"sync"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/set"

	"github.com/ava-labs/sandboxvm/chain"
)

// FeeContext tracks the fees and oracle responses of transactions admitted
// but not yet committed. A nil FeeContext is empty.
type FeeContext struct {
	lock      sync.Mutex
	fees      map[ids.ShortID]uint64
	responses set.Set[uint64]
}

func NewFeeContext() *FeeContext {
	return &FeeContext{
		fees:      make(map[ids.ShortID]uint64),
		responses: set.NewSet[uint64](0),
	}
}

// Pending returns the fees [account] owes for pending transactions.
func (c *FeeContext) Pending(account ids.ShortID) uint64 {
	if c == nil {
		return 0
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.fees[account]
}

// HasResponse reports whether a pending transaction answers request [id].
func (c *FeeContext) HasResponse(id uint64) bool {
	if c == nil {
		return false
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.responses.Contains(id)
}

// Clone returns a copy of [c] that can be extended without changing [c].
func (c *FeeContext) Clone() *FeeContext {
	clone := NewFeeContext()
	if c == nil {
		return clone
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	for account, fee := range c.fees {
		clone.fees[account] = fee
	}
	clone.responses.Union(c.responses)
	return clone
}

// Add records [tx] as pending. It must have passed admission.
func (c *FeeContext) Add(tx *chain.Transaction) {
	sender, err := tx.Sender()
	if err != nil {
		return
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	c.fees[sender] += tx.SystemFee + tx.NetworkFee
	if resp, ok := tx.OracleResponse(); ok {
		c.responses.Add(resp.ID)
	}
}

// Remove forgets [tx], once it is committed or dropped.
func (c *FeeContext) Remove(tx *chain.Transaction) {
	sender, err := tx.Sender()
	if err != nil {
		return
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	fee := tx.SystemFee + tx.NetworkFee
	if c.fees[sender] <= fee {
		delete(c.fees, sender)
	} else {
		c.fees[sender] -= fee
	}
	if resp, ok := tx.OracleResponse(); ok {
		c.responses.Remove(resp.ID)
	}
}
