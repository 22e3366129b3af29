// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sandboxvm

import (
	"errors"
	"fmt"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/set"

	"github.com/ava-labs/sandboxvm/admission"
	"github.com/ava-labs/sandboxvm/chain"
)

var errMempoolFull = errors.New("mempool is full")

// mempool holds admitted transactions until the next block. Only the
// writer touches it.
type mempool struct {
	txs     chan *chain.Transaction
	pending set.Set[ids.ID]
	fees    *admission.FeeContext
}

func newMempool(size int) *mempool {
	return &mempool{
		txs:     make(chan *chain.Transaction, size),
		pending: set.NewSet[ids.ID](size),
		fees:    admission.NewFeeContext(),
	}
}

func (m *mempool) Add(tx *chain.Transaction) error {
	select {
	case m.txs <- tx:
		m.pending.Add(tx.ID())
		m.fees.Add(tx)
		return nil
	default:
		return fmt.Errorf("%w: failed to add Tx(%s) to mempool due to full at size (%d)", errMempoolFull, tx.ID(), cap(m.txs))
	}
}

// Drain removes up to [max] transactions in arrival order.
func (m *mempool) Drain(max int) []*chain.Transaction {
	var txs []*chain.Transaction
	for len(txs) < max {
		select {
		case tx := <-m.txs:
			m.pending.Remove(tx.ID())
			m.fees.Remove(tx)
			txs = append(txs, tx)
		default:
			return txs
		}
	}
	return txs
}

func (m *mempool) Fees() *admission.FeeContext { return m.fees }

// Has reports whether [txID] is queued.
func (m *mempool) Has(txID ids.ID) bool { return m.pending.Contains(txID) }

func (m *mempool) Len() int {
	return len(m.txs)
}

// Free is the number of transactions that can still be queued.
func (m *mempool) Free() int {
	return cap(m.txs) - len(m.txs)
}
