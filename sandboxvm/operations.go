// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sandboxvm

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/crypto/secp256k1"
	"github.com/ava-labs/avalanchego/utils/set"

	safemath "github.com/ava-labs/avalanchego/utils/math"

	"github.com/ava-labs/sandboxvm/admission"
	"github.com/ava-labs/sandboxvm/chain"
	"github.com/ava-labs/sandboxvm/checkpoint"
	"github.com/ava-labs/sandboxvm/engine"
	"github.com/ava-labs/sandboxvm/ledger"
	"github.com/ava-labs/sandboxvm/oracle"
	"github.com/ava-labs/sandboxvm/store"
)

// AllAmount transfers the whole balance of the sender.
const AllAmount = "all"

// view is a read snapshot of the latest committed state.
type view struct {
	snap   *store.Snapshot
	parts  store.Partitions
	ledger ledger.State
}

func (vm *VM) view() (*view, error) {
	snap, err := vm.store.Snapshot()
	if err != nil {
		return nil, err
	}
	parts := store.NewPartitions(snap.DB())
	return &view{
		snap:   snap,
		parts:  parts,
		ledger: ledger.New(parts, vm.blocks),
	}, nil
}

func (v *view) Release() { v.snap.Release() }

func (v *view) height() (uint64, error) {
	last, err := v.ledger.LastAcceptedBlock()
	if err != nil {
		return 0, err
	}
	return last.Height(), nil
}

// read runs [fn] against a fresh view. It does not involve the writer.
func (vm *VM) read(fn func(v *view) error) error {
	v, err := vm.view()
	if err != nil {
		return err
	}
	defer v.Release()
	return fn(v)
}

// admit verifies [txs] against the latest state and the pending mempool
// fees, then queues them. Either every transaction is queued or none is.
// Writer only.
func (vm *VM) admit(txs []*chain.Transaction) error {
	if free := vm.mempool.Free(); len(txs) > free {
		return fmt.Errorf("%w: %d transactions with room for %d", errMempoolFull, len(txs), free)
	}
	v, err := vm.view()
	if err != nil {
		return err
	}
	defer v.Release()

	height, err := v.height()
	if err != nil {
		return err
	}
	fees := vm.mempool.Fees().Clone()
	batch := set.NewSet[ids.ID](len(txs))
	for _, tx := range txs {
		txID := tx.ID()
		if vm.mempool.Has(txID) || batch.Contains(txID) {
			return fmt.Errorf("%w: %s is already pending", admission.ErrAlreadyCommitted, txID)
		}
		if err := vm.verifier.Verify(v.snap.DB(), height, tx, fees); err != nil {
			return err
		}
		fees.Add(tx)
		batch.Add(txID)
	}
	for _, tx := range txs {
		if err := vm.mempool.Add(tx); err != nil {
			return err
		}
	}
	return nil
}

// submit admits the transactions [build] makes from the latest state and
// waits until they are committed. It returns the height of the block
// holding the last of them, or the latest height if [build] makes none.
// Nothing is queued when any of them fails
// admission.
func (vm *VM) submit(ctx context.Context, build func(v *view) ([]*chain.Transaction, error)) ([]*chain.Transaction, uint64, error) {
	var (
		txs    []*chain.Transaction
		waits  []<-chan outcome
		height uint64
	)
	err := vm.do(ctx, func() error {
		v, err := vm.view()
		if err != nil {
			return err
		}
		height, err = v.height()
		if err == nil {
			txs, err = build(v)
		}
		v.Release()
		if err != nil {
			return err
		}

		if err := vm.admit(txs); err != nil {
			return err
		}
		for _, tx := range txs {
			waits = append(waits, vm.waiters.register(tx.ID()))
		}
		if vm.config.SecondsPerBlock == 0 && vm.mempool.Len() > 0 {
			// failures reach the submitters through their waiters
			if err := vm.buildPending(ctx); isFatal(err) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return txs, 0, err
	}

	for _, ch := range waits {
		select {
		case o := <-ch:
			if o.err != nil {
				return txs, 0, o.err
			}
			height = o.height
		case <-vm.done:
			return txs, 0, ErrWriterStopped
		case <-ctx.Done():
			return txs, 0, ctx.Err()
		}
	}
	return txs, height, nil
}

// newTransaction builds a transaction running [actions], sent and signed
// by [from]. Writer only.
func (vm *VM) newTransaction(v *view, from *account, actions ...engine.Action) (*chain.Transaction, error) {
	script, err := engine.EncodeScript(actions...)
	if err != nil {
		return nil, err
	}
	systemFee, err := engine.ScriptGas(script)
	if err != nil {
		return nil, err
	}
	height, err := v.height()
	if err != nil {
		return nil, err
	}
	placeholder := make([][]byte, from.ms.Threshold)
	for i := range placeholder {
		placeholder[i] = make([]byte, secp256k1.SignatureLen)
	}
	vm.nonce++
	tx := &chain.Transaction{
		Nonce:           vm.nonce,
		SystemFee:       systemFee,
		ValidUntilBlock: height + vm.config.MaxValidUntilBlockIncrement,
		Signers:         []ids.ShortID{from.hash()},
		Script:          script,
		Witnesses:       []chain.Witness{{Invocation: placeholder, Verification: from.ms.Bytes()}},
	}
	if err := tx.Initialize(); err != nil {
		return nil, err
	}
	tx.NetworkFee, err = admission.NetworkFee(v.parts.State, vm.engine, tx)
	if err != nil {
		return nil, err
	}
	if err := tx.Initialize(); err != nil {
		return nil, err
	}

	w, err := from.keyring.Sign(tx.SignData(vm.config.NetworkMagic), from.ms)
	if err != nil {
		return nil, err
	}
	tx.Witnesses[0] = *w
	return tx, tx.Initialize()
}

func (vm *VM) account(name string) (*account, error) {
	a, ok := vm.accounts[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownWallet, name)
	}
	return a, nil
}

// resolve returns the account hash of a wallet name or an address.
func (vm *VM) resolve(nameOrAddress string) (ids.ShortID, error) {
	if a, ok := vm.accounts[strings.ToLower(nameOrAddress)]; ok {
		return a.hash(), nil
	}
	hash, err := chain.ParseAddress(vm.config.AddressVersion, nameOrAddress)
	if err != nil {
		return ids.ShortEmpty, fmt.Errorf("%w: %q is neither a wallet nor an address: %v", ErrUnknownWallet, nameOrAddress, err)
	}
	return hash, nil
}

// Address returns the address of wallet [name].
func (vm *VM) Address(name string) (string, error) {
	a, err := vm.account(name)
	if err != nil {
		return "", err
	}
	return a.ms.Address(vm.config.AddressVersion), nil
}

// SubmitTransaction admits [tx] and returns the height it was committed at.
func (vm *VM) SubmitTransaction(ctx context.Context, tx *chain.Transaction) (uint64, error) {
	_, height, err := vm.submit(ctx, func(*view) ([]*chain.Transaction, error) {
		return []*chain.Transaction{tx}, nil
	})
	return height, err
}

// Invoke sends a transaction running [actions] from wallet [from].
func (vm *VM) Invoke(ctx context.Context, from string, actions ...engine.Action) (*chain.Transaction, uint64, error) {
	sender, err := vm.account(from)
	if err != nil {
		return nil, 0, err
	}
	txs, height, err := vm.submit(ctx, func(v *view) ([]*chain.Transaction, error) {
		tx, err := vm.newTransaction(v, sender, actions...)
		if err != nil {
			return nil, err
		}
		return []*chain.Transaction{tx}, nil
	})
	if len(txs) == 0 {
		return nil, height, err
	}
	return txs[0], height, err
}

// Transfer moves [amount] of [assetName] from wallet [from] to the wallet
// or address [to]. [amount] is in display units, or AllAmount for the
// whole balance; for the fee asset the fees of the transfer are deducted
// from the amount so the sender ends at zero.
func (vm *VM) Transfer(ctx context.Context, assetName string, amount string, from string, to string) (*chain.Transaction, uint64, error) {
	asset, err := engine.ParseAsset(assetName)
	if err != nil {
		return nil, 0, err
	}
	sender, err := vm.account(from)
	if err != nil {
		return nil, 0, err
	}
	receiver, err := vm.resolve(to)
	if err != nil {
		return nil, 0, err
	}
	all := strings.EqualFold(amount, AllAmount)
	var value uint64
	if !all {
		value, err = ParseAmount(amount, asset.Decimals())
		if err != nil {
			return nil, 0, err
		}
	}

	txs, height, err := vm.submit(ctx, func(v *view) ([]*chain.Transaction, error) {
		transfer := &engine.Transfer{
			Asset:  asset,
			From:   sender.hash(),
			To:     receiver,
			Amount: value,
		}
		if all {
			balance, err := vm.engine.Balance(v.parts.State, asset, sender.hash())
			if err != nil {
				return nil, err
			}
			transfer.Amount = balance
		}
		tx, err := vm.newTransaction(v, sender, transfer)
		if err != nil {
			return nil, err
		}
		if !all || asset != engine.Fee {
			return []*chain.Transaction{tx}, nil
		}

		fees, err := tx.TotalFee()
		if err != nil {
			return nil, err
		}
		if fees > transfer.Amount {
			return nil, fmt.Errorf("%w: balance %d does not cover fees %d", admission.ErrInsufficientFunds, transfer.Amount, fees)
		}
		// amounts are fixed width so the fees stay the same
		transfer.Amount -= fees
		tx, err = vm.newTransaction(v, sender, transfer)
		if err != nil {
			return nil, err
		}
		return []*chain.Transaction{tx}, nil
	})
	if len(txs) == 0 {
		return nil, height, err
	}
	return txs[0], height, err
}

// DeployContract deploys [code] as contract [name] of wallet [from] and
// returns the contract hash.
func (vm *VM) DeployContract(ctx context.Context, from string, name string, code []byte) (ids.ShortID, uint64, error) {
	sender, err := vm.account(from)
	if err != nil {
		return ids.ShortEmpty, 0, err
	}
	_, height, err := vm.Invoke(ctx, from, &engine.Deploy{Name: name, Code: code})
	if err != nil {
		return ids.ShortEmpty, 0, err
	}
	return engine.ContractHash(sender.hash(), name), height, nil
}

// DesignateOracles assigns [keys] to the oracle role, signed by the
// validator committee. No keys designates the validators themselves.
func (vm *VM) DesignateOracles(ctx context.Context, keys [][]byte) (uint64, error) {
	if len(keys) == 0 {
		keys = vm.identity.Validators
	}
	_, height, err := vm.Invoke(ctx, GenesisWallet, &engine.Designate{
		Role: engine.RoleOracle,
		Keys: keys,
	})
	return height, err
}

// RequestOracle sends an oracle request from wallet [from] and returns the
// request as stored.
func (vm *VM) RequestOracle(ctx context.Context, from string, req *engine.Request) (*engine.OracleRequest, error) {
	tx, _, err := vm.Invoke(ctx, from, req)
	if err != nil {
		return nil, err
	}
	var found *engine.OracleRequest
	err = vm.read(func(v *view) error {
		requests, err := vm.engine.OracleRequests(v.parts.State)
		if err != nil {
			return err
		}
		for _, r := range requests {
			if r.TxID == tx.ID() {
				found = r
				return nil
			}
		}
		receipt, err := v.ledger.GetReceipt(tx.ID())
		if err == nil && receipt.State == chain.Fault {
			return fmt.Errorf("%w: request faulted: %s", engine.ErrRequestNotFound, receipt.Exception)
		}
		return fmt.Errorf("%w: no request from %s", engine.ErrRequestNotFound, tx.ID())
	})
	return found, err
}

// OracleResponse answers the request [ID], or every pending request for
// [URL] when it is set.
type OracleResponse struct {
	ID     uint64
	URL    string
	Code   chain.ResponseCode
	Result []byte
}

// SubmitOracleResponse builds, signs and commits the response
// transactions and returns their ids. A URL no pending request asks for
// yields no transactions.
func (vm *VM) SubmitOracleResponse(ctx context.Context, resp OracleResponse) ([]ids.ID, uint64, error) {
	txs, height, err := vm.submit(ctx, func(v *view) ([]*chain.Transaction, error) {
		height, err := v.height()
		if err != nil {
			return nil, err
		}
		var requestIDs []uint64
		if resp.URL != "" {
			requests, err := vm.engine.OracleRequests(v.parts.State)
			if err != nil {
				return nil, err
			}
			for _, r := range requests {
				if r.URL == resp.URL {
					requestIDs = append(requestIDs, r.ID)
				}
			}
		} else {
			requestIDs = []uint64{resp.ID}
		}

		txs := make([]*chain.Transaction, 0, len(requestIDs))
		for _, id := range requestIDs {
			tx, err := vm.oracle.Build(v.parts.State, height, oracle.Response{
				ID:     id,
				Code:   resp.Code,
				Result: resp.Result,
			})
			if err != nil {
				return nil, err
			}
			txs = append(txs, tx)
		}
		return txs, nil
	})
	if err != nil {
		return nil, 0, err
	}
	txIDs := make([]ids.ID, len(txs))
	for i, tx := range txs {
		txIDs[i] = tx.ID()
	}
	return txIDs, height, nil
}

// FastForward commits [count] empty blocks, the last one [delta]
// milliseconds later than it would otherwise be. It returns the new height.
func (vm *VM) FastForward(ctx context.Context, count int, delta uint64) (uint64, error) {
	if count <= 0 {
		return 0, fmt.Errorf("%w: block count %d", ErrInvalidArgument, count)
	}
	var height uint64
	err := vm.do(ctx, func() error {
		results, err := vm.assembler.FastForward(ctx, count, delta)
		for _, result := range results {
			vm.publish(&Commit{Result: result})
			height = result.Block.Height()
		}
		return err
	})
	return height, err
}

// CreateCheckpoint archives the chain state at [path] through the writer.
func (vm *VM) CreateCheckpoint(ctx context.Context, path string, force bool) (string, checkpoint.Mode, error) {
	path, mode, err := vm.checkpoints.Create(ctx, path, force)
	if err != nil {
		return "", "", err
	}
	vm.metrics.checkpointsCreated.Inc()
	return path, mode, nil
}

func (vm *VM) GetBlock(blkID ids.ID) (*chain.Block, error) {
	var blk *chain.Block
	err := vm.read(func(v *view) error {
		var err error
		blk, err = v.ledger.GetBlock(blkID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: block %s: %v", ErrNotFound, blkID, err)
	}
	return blk, nil
}

func (vm *VM) GetBlockByHeight(height uint64) (*chain.Block, error) {
	var blk *chain.Block
	err := vm.read(func(v *view) error {
		var err error
		blk, err = v.ledger.GetBlockByHeight(height)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: block at height %d: %v", ErrNotFound, height, err)
	}
	return blk, nil
}

func (vm *VM) GetLatestBlock() (*chain.Block, error) {
	var blk *chain.Block
	err := vm.read(func(v *view) error {
		var err error
		blk, err = v.ledger.LastAcceptedBlock()
		return err
	})
	return blk, err
}

// GetApplicationLog returns the receipt of transaction [txID]. Receipts
// are not part of checkpoints.
func (vm *VM) GetApplicationLog(txID ids.ID) (*chain.Receipt, error) {
	var receipt *chain.Receipt
	err := vm.read(func(v *view) error {
		var err error
		receipt, err = v.ledger.GetReceipt(txID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: application log of %s: %v", ErrNotFound, txID, err)
	}
	return receipt, nil
}

// Events returns where every [name] event of [contract] was emitted.
func (vm *VM) Events(contract ids.ShortID, name string) ([]ledger.EventRecord, error) {
	var events []ledger.EventRecord
	err := vm.read(func(v *view) error {
		var err error
		events, err = v.ledger.Events(contract, name)
		return err
	})
	return events, err
}

// Balance returns the balance of [assetName] held by a wallet or address.
func (vm *VM) Balance(assetName string, nameOrAddress string) (uint64, error) {
	asset, err := engine.ParseAsset(assetName)
	if err != nil {
		return 0, err
	}
	hash, err := vm.resolve(nameOrAddress)
	if err != nil {
		return 0, err
	}
	var balance uint64
	err = vm.read(func(v *view) error {
		var err error
		balance, err = vm.engine.Balance(v.parts.State, asset, hash)
		return err
	})
	return balance, err
}

func (vm *VM) Contracts() ([]*engine.Contract, error) {
	var contracts []*engine.Contract
	err := vm.read(func(v *view) error {
		var err error
		contracts, err = vm.engine.Contracts(v.parts.State)
		return err
	})
	return contracts, err
}

func (vm *VM) OracleRequests() ([]*engine.OracleRequest, error) {
	var requests []*engine.OracleRequest
	err := vm.read(func(v *view) error {
		var err error
		requests, err = vm.engine.OracleRequests(v.parts.State)
		return err
	})
	return requests, err
}

// ParseAmount converts a decimal string in display units into base units
// of an asset with [decimals] decimals.
func ParseAmount(s string, decimals int) (uint64, error) {
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" || len(frac) > decimals {
		return 0, fmt.Errorf("%w: amount %q", ErrInvalidArgument, s)
	}
	w, err := strconv.ParseUint(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q: %v", ErrInvalidArgument, s, err)
	}
	frac += strings.Repeat("0", decimals-len(frac))
	var f uint64
	if frac != "" {
		f, err = strconv.ParseUint(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: amount %q: %v", ErrInvalidArgument, s, err)
		}
	}
	scale := uint64(1)
	for i := 0; i < decimals; i++ {
		scale *= 10
	}
	value, err := safemath.Mul64(w, scale)
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q: %v", ErrInvalidArgument, s, err)
	}
	return safemath.Add64(value, f)
}
