// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sandboxvm

import (
	"sync"

	"github.com/ava-labs/avalanchego/ids"

	log "github.com/inconshreveable/log15"

	"github.com/ava-labs/sandboxvm/builder"
	"github.com/ava-labs/sandboxvm/chain"
)

var (
	_ Sink = (*logSink)(nil)
	_ Sink = (*metrics)(nil)
	_ Sink = (*waiters)(nil)
)

// Commit is what the writer reports after each committed block.
type Commit struct {
	*builder.Result
	// Rejected were refused by admission while the block was assembled.
	Rejected []builder.Dropped
}

// Sink is told about every committed block, on the writer.
type Sink interface {
	Committed(c *Commit)
}

type logSink struct {
	log log.Logger
}

func (s *logSink) Committed(c *Commit) {
	s.log.Info("committed block",
		"height", c.Block.Height(),
		"blkID", c.Block.ID(),
		"txs", len(c.Block.Transactions),
		"timestamp", c.Block.Header.Time(),
	)
	for _, d := range c.Rejected {
		s.log.Debug("rejected transaction", "txID", d.Tx.ID(), "reason", d.Err)
	}
}

// outcome is where a submitted transaction ended up.
type outcome struct {
	height uint64
	err    error
}

// waiters wakes up submitters once their transaction is committed or
// dropped.
type waiters struct {
	lock    sync.Mutex
	pending map[ids.ID]chan outcome
}

func newWaiters() *waiters {
	return &waiters{pending: make(map[ids.ID]chan outcome)}
}

func (w *waiters) register(txID ids.ID) <-chan outcome {
	w.lock.Lock()
	defer w.lock.Unlock()

	ch, ok := w.pending[txID]
	if !ok {
		ch = make(chan outcome, 1)
		w.pending[txID] = ch
	}
	return ch
}

func (w *waiters) notify(txID ids.ID, o outcome) {
	w.lock.Lock()
	defer w.lock.Unlock()

	ch, ok := w.pending[txID]
	if !ok {
		return
	}
	delete(w.pending, txID)
	ch <- o
}

// fail reports [err] for every transaction of [txs].
func (w *waiters) fail(txs []*chain.Transaction, err error) {
	for _, tx := range txs {
		w.notify(tx.ID(), outcome{err: err})
	}
}

func (w *waiters) Committed(c *Commit) {
	for _, tx := range c.Block.Transactions {
		w.notify(tx.ID(), outcome{height: c.Block.Height()})
	}
	for _, d := range c.Dropped {
		w.notify(d.Tx.ID(), outcome{err: d.Err})
	}
	for _, d := range c.Rejected {
		w.notify(d.Tx.ID(), outcome{err: d.Err})
	}
}
