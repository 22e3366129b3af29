// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package builder assembles, witnesses and commits blocks.
package builder

import (
	"context"
	"errors"
	"fmt"

	"github.com/ava-labs/avalanchego/database/versiondb"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/set"
	"github.com/ava-labs/avalanchego/utils/timer/mockable"

	log "github.com/inconshreveable/log15"

	"github.com/ava-labs/sandboxvm/admission"
	"github.com/ava-labs/sandboxvm/chain"
	"github.com/ava-labs/sandboxvm/engine"
	"github.com/ava-labs/sandboxvm/ledger"
	"github.com/ava-labs/sandboxvm/signer"
	"github.com/ava-labs/sandboxvm/store"
)

var (
	ErrInsufficientSignatures = signer.ErrInsufficientSignatures
	ErrCommitFailed           = errors.New("failed to commit block")
	ErrValidatorMismatch      = errors.New("validator set does not match the parent commitment")
	ErrBlockFull              = errors.New("block is full")
	errWrongState             = errors.New("operation not allowed in this state")
)

type Config struct {
	Magic uint32
	// ValidatorRefreshInterval is the height interval at which the next
	// validator set is read from the engine. Zero keeps the genesis set.
	ValidatorRefreshInterval uint64
	// MaxTransactions bounds the transactions of one block. Zero means no
	// bound.
	MaxTransactions int
}

// Dropped is a transaction removed from a block by the final
// re-verification.
type Dropped struct {
	Tx  *chain.Transaction
	Err error
}

// Result is what a committed assembly produced.
type Result struct {
	Block    *chain.Block
	Receipts []*chain.Receipt
	Dropped  []Dropped
}

// Assembler drives one block at a time through
// Empty -> Assembling -> HeaderPending -> Witnessed -> Committed.
// It is not safe for concurrent use; the writer owns it.
type Assembler struct {
	config   Config
	store    *store.Store
	engine   engine.Engine
	verifier *admission.Verifier
	keyring  *signer.Keyring
	clock    *mockable.Clock
	blocks   ledger.BlockCache
	log      log.Logger

	state State

	snap      *store.Snapshot
	vdb       *versiondb.Database
	ledger    ledger.State
	parent    *chain.Block
	current   *chain.Multisig
	next      [][]byte
	txs       []*chain.Transaction
	fees      *admission.FeeContext
	forced    uint64
	hasForced bool
	block     *chain.Block
	result    *Result
}

func New(
	config Config,
	s *store.Store,
	e engine.Engine,
	verifier *admission.Verifier,
	keyring *signer.Keyring,
	clock *mockable.Clock,
	blocks ledger.BlockCache,
) *Assembler {
	return &Assembler{
		config:   config,
		store:    s,
		engine:   e,
		verifier: verifier,
		keyring:  keyring,
		clock:    clock,
		blocks:   blocks,
		log:      log.New("module", "builder"),
	}
}

func (a *Assembler) State() State { return a.state }

// Height returns the height of the block being assembled.
func (a *Assembler) Height() uint64 {
	if a.parent == nil {
		return 0
	}
	return a.parent.Height() + 1
}

// ForceTimestamp stamps the next sealed header with [timestamp], unix
// milliseconds, raised to the parent timestamp + 1 if needed. It applies to
// one header only.
func (a *Assembler) ForceTimestamp(timestamp uint64) {
	a.forced = timestamp
	a.hasForced = true
}

// Add admits [tx] into the block under assembly.
func (a *Assembler) Add(tx *chain.Transaction) error {
	if a.state != Assembling {
		return fmt.Errorf("%w: cannot add transactions while %s", errWrongState, a.state)
	}
	if a.config.MaxTransactions > 0 && len(a.txs) >= a.config.MaxTransactions {
		return fmt.Errorf("%w: %d transactions", ErrBlockFull, len(a.txs))
	}
	for _, included := range a.txs {
		if included.ID() == tx.ID() {
			return fmt.Errorf("%w: %s", admission.ErrAlreadyCommitted, tx.ID())
		}
	}
	if err := a.verifier.Verify(a.vdb, a.parent.Height(), tx, a.fees); err != nil {
		return err
	}
	a.fees.Add(tx)
	a.txs = append(a.txs, tx)
	return nil
}

// BuildBlock drives a fresh assembly of [txs] through to Committed.
// Transactions refused by admission are returned as rejected; they never
// reach the block.
func (a *Assembler) BuildBlock(ctx context.Context, txs []*chain.Transaction) (*Result, []Dropped, error) {
	if a.state == Committed {
		a.reset()
	}
	if a.state != Empty {
		return nil, nil, fmt.Errorf("%w: cannot build while %s", errWrongState, a.state)
	}
	if err := a.Advance(ctx); err != nil {
		return nil, nil, err
	}
	var rejected []Dropped
	for _, tx := range txs {
		if err := a.Add(tx); err != nil {
			if !isTransactionError(err) && !errors.Is(err, ErrBlockFull) {
				a.reset()
				return nil, nil, err
			}
			rejected = append(rejected, Dropped{Tx: tx, Err: err})
		}
	}
	for a.state != Committed {
		// the block is past cancellation once assembling
		if err := a.Advance(context.Background()); err != nil {
			return nil, rejected, err
		}
	}
	return a.result, rejected, nil
}

// Result returns the outcome of the last commit, or nil before one.
func (a *Assembler) Result() *Result { return a.result }

// Advance moves the assembly one stage forward. A failure before the commit
// releases the snapshot and returns to Empty. Advancing from Committed
// returns to Empty.
func (a *Assembler) Advance(ctx context.Context) error {
	var err error
	switch a.state {
	case Empty:
		// cancellation is only observed between blocks
		if err := ctx.Err(); err != nil {
			return err
		}
		err = a.open()
	case Assembling:
		err = a.seal()
	case HeaderPending:
		err = a.witness()
	case Witnessed:
		err = a.commit()
	case Committed:
		a.reset()
		return nil
	default:
		return fmt.Errorf("%w: %d", errWrongState, a.state)
	}
	if err != nil {
		a.log.Debug("assembly aborted", "state", a.state, "err", err)
		a.reset()
		return err
	}
	a.state++
	return nil
}

// Close releases any snapshot held and returns to Empty.
func (a *Assembler) Close() {
	a.reset()
	a.hasForced = false
	a.result = nil
}

func (a *Assembler) reset() {
	if a.vdb != nil {
		a.vdb.Abort()
	}
	if a.snap != nil {
		a.snap.Release()
	}
	a.snap = nil
	a.vdb = nil
	a.ledger = nil
	a.parent = nil
	a.current = nil
	a.next = nil
	a.txs = nil
	a.fees = nil
	a.block = nil
	a.state = Empty
}

func (a *Assembler) open() error {
	snap, err := a.store.Snapshot()
	if err != nil {
		return err
	}
	a.snap = snap
	a.vdb = versiondb.New(snap.DB())
	a.ledger = ledger.New(store.NewPartitions(a.vdb), a.blocks)
	a.fees = admission.NewFeeContext()
	a.result = nil

	parent, err := a.ledger.LastAcceptedBlock()
	if err != nil {
		return err
	}
	a.parent = parent

	keys, err := a.ledger.NextValidators()
	if err != nil {
		return err
	}
	current, err := chain.NewBFTMultisig(keys)
	if err != nil {
		return err
	}
	if current.ScriptHash() != parent.Header.NextConsensus {
		return fmt.Errorf("%w: %s != %s", ErrValidatorMismatch, current.ScriptHash(), parent.Header.NextConsensus)
	}
	a.current = current

	a.next = keys
	height := parent.Height() + 1
	if interval := a.config.ValidatorRefreshInterval; interval > 0 && height%interval == 0 {
		next, err := a.engine.NextValidators(store.NewPartitions(a.vdb).State)
		if err != nil {
			return err
		}
		a.next = next
	}
	return nil
}

func (a *Assembler) timestamp() uint64 {
	earliest := a.parent.Timestamp() + 1
	ts := uint64(a.clock.Time().UnixMilli())
	if a.hasForced {
		ts = a.forced
		a.hasForced = false
	}
	if ts < earliest {
		return earliest
	}
	return ts
}

func (a *Assembler) seal() error {
	next, err := chain.NewBFTMultisig(a.next)
	if err != nil {
		return fmt.Errorf("invalid next validators: %w", err)
	}
	a.block = &chain.Block{
		Header: chain.Header{
			PrevHash:      a.parent.ID(),
			Timestamp:     a.timestamp(),
			Height:        a.parent.Height() + 1,
			NextConsensus: next.ScriptHash(),
		},
		Transactions: a.txs,
	}
	return a.rebuild()
}

// rebuild recomputes the merkle root and the id of the block.
func (a *Assembler) rebuild() error {
	if err := a.block.Initialize(); err != nil {
		return err
	}
	a.block.Header.MerkleRoot = chain.MerkleRoot(a.block.TxIDs())
	a.block.Header.Witness = chain.Witness{}
	return a.block.Initialize()
}

func (a *Assembler) witness() error {
	w, err := a.keyring.Sign(a.block.SignData(a.config.Magic), a.current)
	if err != nil {
		return err
	}
	a.block.Header.Witness = *w
	return a.block.Initialize()
}

func (a *Assembler) commit() error {
	parts := store.NewPartitions(a.vdb)
	height := a.block.Height()
	included := make([]*chain.Transaction, 0, len(a.block.Transactions))
	receipts := make([]*chain.Receipt, 0, len(a.block.Transactions))
	seen := set.NewSet[ids.ID](len(a.block.Transactions))
	var dropped []Dropped

	for _, tx := range a.block.Transactions {
		receipt, err := a.apply(parts, tx, seen, len(included))
		if err != nil {
			if !isTransactionError(err) {
				return fmt.Errorf("%w: %v", ErrCommitFailed, err)
			}
			a.log.Info("dropping transaction", "txID", tx.ID(), "height", height, "reason", err)
			dropped = append(dropped, Dropped{Tx: tx, Err: err})
			continue
		}
		seen.Add(tx.ID())
		included = append(included, tx)
		receipts = append(receipts, receipt)
	}

	if len(dropped) > 0 {
		a.block.Transactions = included
		if err := a.rebuild(); err != nil {
			return err
		}
		if err := a.witness(); err != nil {
			return err
		}
	}

	blk := a.block
	for i, tx := range included {
		if err := a.ledger.PutTransaction(tx.ID(), ledger.TxLocation{Height: height, Index: uint32(i)}); err != nil {
			return fmt.Errorf("%w: %v", ErrCommitFailed, err)
		}
		receipts[i].BlockID = blk.ID()
		if err := a.ledger.PutReceipt(uint32(i), receipts[i]); err != nil {
			return fmt.Errorf("%w: %v", ErrCommitFailed, err)
		}
	}
	if err := a.ledger.PutBlock(blk); err != nil {
		return fmt.Errorf("%w: %v", ErrCommitFailed, err)
	}
	if err := a.ledger.SetNextValidators(a.next); err != nil {
		return fmt.Errorf("%w: %v", ErrCommitFailed, err)
	}
	if err := a.vdb.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrCommitFailed, err)
	}

	a.result = &Result{
		Block:    blk,
		Receipts: receipts,
		Dropped:  dropped,
	}
	a.snap.Release()
	a.snap = nil
	a.vdb = nil
	return nil
}

// apply re-verifies [tx] against everything applied before it, charges its
// fees and executes it.
func (a *Assembler) apply(parts store.Partitions, tx *chain.Transaction, seen set.Set[ids.ID], index int) (*chain.Receipt, error) {
	if seen.Contains(tx.ID()) {
		return nil, fmt.Errorf("%w: %s twice in block", admission.ErrAlreadyCommitted, tx.ID())
	}
	if err := a.verifier.VerifyStateDependent(a.vdb, a.parent.Height(), tx, nil); err != nil {
		return nil, err
	}
	sender, err := tx.Sender()
	if err != nil {
		return nil, err
	}
	total, err := tx.TotalFee()
	if err != nil {
		return nil, err
	}
	if err := a.engine.ChargeFee(parts.State, sender, total); err != nil {
		return nil, err
	}
	return a.engine.Execute(parts.State, engine.Env{
		Magic:     a.config.Magic,
		Height:    a.block.Height(),
		Timestamp: a.block.Timestamp(),
		TxIndex:   uint32(index),
	}, tx)
}

func isTransactionError(err error) bool {
	for _, target := range []error{
		admission.ErrInsufficientFunds,
		admission.ErrWitnessVerificationFailed,
		admission.ErrExpired,
		admission.ErrMalformedAttributes,
		admission.ErrMalformedTransaction,
		admission.ErrAlreadyCommitted,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// FastForward commits [count] empty blocks stamped per Plan. Cancellation of
// [ctx] is only observed before the first block.
func (a *Assembler) FastForward(ctx context.Context, count int, delta uint64) ([]*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := uint64(a.clock.Time().UnixMilli())
	var plan []uint64
	results := make([]*Result, 0, count)
	for i := 0; i < count; i++ {
		if a.state == Committed {
			a.reset()
		}
		if a.state != Empty {
			return results, fmt.Errorf("%w: cannot fast forward while %s", errWrongState, a.state)
		}
		if err := a.Advance(context.Background()); err != nil {
			return results, err
		}
		if plan == nil {
			plan = Plan(now, a.parent.Timestamp(), count, delta)
		}
		a.ForceTimestamp(plan[i])
		for a.state != Committed {
			if err := a.Advance(context.Background()); err != nil {
				return results, err
			}
		}
		results = append(results, a.result)
	}
	return results, nil
}
