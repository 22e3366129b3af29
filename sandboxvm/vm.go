// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package sandboxvm runs a single node chain: one writer assembles, signs
// and commits every block while readers query snapshots.
package sandboxvm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ava-labs/avalanchego/utils/timer/mockable"
	"github.com/ava-labs/avalanchego/version"
	"github.com/prometheus/client_golang/prometheus"

	log "github.com/inconshreveable/log15"

	"github.com/ava-labs/sandboxvm/admission"
	"github.com/ava-labs/sandboxvm/builder"
	"github.com/ava-labs/sandboxvm/chain"
	"github.com/ava-labs/sandboxvm/checkpoint"
	"github.com/ava-labs/sandboxvm/engine"
	"github.com/ava-labs/sandboxvm/ledger"
	"github.com/ava-labs/sandboxvm/oracle"
	"github.com/ava-labs/sandboxvm/store"
)

const Name = "sandboxvm"

var (
	Version = &version.Semantic{
		Major: 1,
		Minor: 0,
		Patch: 0,
	}

	errAlreadyRunning = errors.New("writer is already running")

	_ checkpoint.Writer = (*VM)(nil)
)

// request is a closure run on the writer between blocks.
type request struct {
	fn   func() error
	done chan error
}

// VM is a running sandbox instance.
type VM struct {
	config   *Config
	identity chain.Identity
	lockID   string
	engine   engine.Engine
	store    *store.Store
	blocks   ledger.BlockCache
	clock    mockable.Clock
	log      log.Logger

	accounts    map[string]*account
	verifier    *admission.Verifier
	assembler   *builder.Assembler
	oracle      *oracle.Builder
	checkpoints *checkpoint.Manager

	mempool *mempool
	metrics *metrics
	waiters *waiters
	sinks   []Sink

	// nonce distinguishes transactions built by this instance. Writer only.
	nonce uint32

	requests  chan *request
	started   atomic.Bool
	closed    chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

// New opens the store of [config], writing the genesis block if the store
// is empty. [registry] may be nil to skip the instance lock.
func New(
	config *Config,
	e engine.Engine,
	registry store.Registry,
	registerer prometheus.Registerer,
) (*VM, error) {
	if err := config.Verify(); err != nil {
		return nil, err
	}
	logger := log.New("module", Name)
	logger.Info("Initializing Sandbox VM", "Version", Version)

	identity, err := config.Identity()
	if err != nil {
		return nil, err
	}
	lockID, err := config.LockID()
	if err != nil {
		return nil, err
	}
	accounts, err := config.accounts()
	if err != nil {
		return nil, err
	}

	mode := store.ReadWrite
	if config.Discard {
		mode = store.ReadOnlyOverlay
	}
	s, err := store.Open(store.Config{
		Path:     config.DataDir,
		Mode:     mode,
		Registry: registry,
		Identity: lockID,
	})
	if err != nil {
		return nil, err
	}

	vm := &VM{
		config:   config,
		identity: identity,
		lockID:   lockID,
		engine:   e,
		store:    s,
		log:      logger,
		accounts: accounts,
		mempool:  newMempool(config.MaxTransactionsPerBlock),
		waiters:  newWaiters(),
		requests: make(chan *request),
		closed:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	if err := vm.initialize(registry, registerer); err != nil {
		_ = s.Close()
		return nil, err
	}
	return vm, nil
}

func (vm *VM) initialize(registry store.Registry, registerer prometheus.Registerer) error {
	var err error
	vm.blocks, err = ledger.NewBlockCache(registerer)
	if err != nil {
		return err
	}
	vm.metrics, err = newMetrics(registerer)
	if err != nil {
		return err
	}
	if err := vm.initGenesis(); err != nil {
		return err
	}

	validators := vm.accounts[GenesisWallet].keyring
	vm.verifier = admission.New(admission.Config{
		Magic:                       vm.config.NetworkMagic,
		MaxValidUntilBlockIncrement: vm.config.MaxValidUntilBlockIncrement,
		MaxTransactionSize:          vm.config.MaxTransactionSize,
		MaxScriptSize:               vm.config.MaxScriptSize,
	}, vm.engine)
	vm.assembler = builder.New(builder.Config{
		Magic:                    vm.config.NetworkMagic,
		ValidatorRefreshInterval: vm.config.ValidatorRefreshInterval,
		MaxTransactions:          vm.config.MaxTransactionsPerBlock,
	}, vm.store, vm.engine, vm.verifier, validators, &vm.clock, vm.blocks)
	vm.oracle = oracle.New(oracle.Config{
		Magic:                       vm.config.NetworkMagic,
		MaxValidUntilBlockIncrement: vm.config.MaxValidUntilBlockIncrement,
		MaxResultSize:               vm.config.MaxOracleResultSize,
	}, vm.engine, validators)
	vm.checkpoints = checkpoint.NewManager(checkpoint.Config{
		Identity: vm.identity,
		LockID:   vm.lockID,
		DataDir:  vm.config.DataDir,
		Registry: registry,
	})
	vm.checkpoints.SetWriter(vm)

	vm.nonce = uint32(vm.clock.Time().UnixNano())
	vm.sinks = []Sink{&logSink{log: vm.log}, vm.metrics, vm.waiters}
	return nil
}

// initGenesis writes the genesis block once and checks that an existing
// chain belongs to this identity.
func (vm *VM) initGenesis() error {
	genesis, created, err := builder.InitGenesis(vm.store, vm.engine, vm.identity.Validators)
	if err != nil {
		return fmt.Errorf("failed to initialize genesis: %w", err)
	}
	scriptHash, err := vm.identity.ScriptHash()
	if err != nil {
		return err
	}
	if genesis.Header.NextConsensus != scriptHash {
		return fmt.Errorf("%w: store was created for validators %s", checkpoint.ErrIdentityMismatch, genesis.Header.NextConsensus)
	}
	if created {
		vm.log.Info("created genesis block", "blkID", genesis.ID())
	}
	return nil
}

// Clock is the clock block timestamps are read from.
func (vm *VM) Clock() *mockable.Clock { return &vm.clock }

// Config returns the configuration the instance runs with.
func (vm *VM) Config() *Config { return vm.config }

// Run is the writer loop. It returns nil once [ctx] is done or the VM is
// shut down, and the error otherwise.
func (vm *VM) Run(ctx context.Context) error {
	if !vm.started.CompareAndSwap(false, true) {
		return errAlreadyRunning
	}
	defer close(vm.done)

	var tick <-chan time.Time
	if vm.config.SecondsPerBlock > 0 {
		ticker := time.NewTicker(time.Duration(vm.config.SecondsPerBlock) * time.Second)
		defer ticker.Stop()
		tick = ticker.C
	}
	vm.log.Info("writer started", "secondsPerBlock", vm.config.SecondsPerBlock)

	for {
		select {
		case <-ctx.Done():
			vm.log.Info("writer stopped", "reason", ctx.Err())
			return nil
		case <-vm.closed:
			vm.log.Info("writer stopped", "reason", "shutdown")
			return nil
		case r := <-vm.requests:
			err := r.fn()
			r.done <- err
			if isFatal(err) {
				vm.log.Error("writer failed", "err", err)
				return err
			}
		case <-tick:
			if err := vm.buildBlock(ctx); err != nil {
				if isFatal(err) {
					vm.log.Error("writer failed", "err", err)
					return err
				}
				vm.log.Warn("failed to build block", "err", err)
			}
		}
	}
}

// do runs [fn] on the writer and returns its error. It blocks until the
// writer picks the request up.
func (vm *VM) do(ctx context.Context, fn func() error) error {
	r := &request{fn: fn, done: make(chan error, 1)}
	select {
	case vm.requests <- r:
	case <-vm.closed:
		return ErrWriterStopped
	case <-vm.done:
		return ErrWriterStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-r.done
}

// Snapshot hands out a snapshot taken on the writer between blocks.
func (vm *VM) Snapshot(ctx context.Context) (*store.Snapshot, error) {
	var snap *store.Snapshot
	err := vm.do(ctx, func() error {
		var err error
		snap, err = vm.store.Snapshot()
		return err
	})
	return snap, err
}

// buildBlock commits one block of pending transactions.
func (vm *VM) buildBlock(ctx context.Context) error {
	txs := vm.mempool.Drain(vm.config.MaxTransactionsPerBlock)
	result, rejected, err := vm.assembler.BuildBlock(ctx, txs)
	if err != nil {
		vm.waiters.fail(txs, err)
		return err
	}
	vm.publish(&Commit{Result: result, Rejected: rejected})
	return nil
}

// buildPending commits blocks until the mempool is empty.
func (vm *VM) buildPending(ctx context.Context) error {
	for {
		if err := vm.buildBlock(ctx); err != nil {
			return err
		}
		if vm.mempool.Len() == 0 {
			return nil
		}
	}
}

func (vm *VM) publish(c *Commit) {
	for _, sink := range vm.sinks {
		sink.Committed(c)
	}
}

// Shutdown stops the writer and closes the store.
func (vm *VM) Shutdown() error {
	vm.closeOnce.Do(func() { close(vm.closed) })
	if vm.started.Load() {
		<-vm.done
	}
	vm.assembler.Close()
	return vm.store.Close()
}

// NewCheckpointManager returns a checkpoint manager for the store of
// [config] with no live writer, for use while no instance runs.
func NewCheckpointManager(config *Config, registry store.Registry) (*checkpoint.Manager, error) {
	identity, err := config.Identity()
	if err != nil {
		return nil, err
	}
	lockID, err := config.LockID()
	if err != nil {
		return nil, err
	}
	return checkpoint.NewManager(checkpoint.Config{
		Identity: identity,
		LockID:   lockID,
		DataDir:  config.DataDir,
		Registry: registry,
	}), nil
}
