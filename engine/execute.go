// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package engine

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/database/versiondb"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/wrappers"

	safemath "github.com/ava-labs/avalanchego/utils/math"

	"github.com/ava-labs/sandboxvm/chain"
)

var (
	errOutOfGas          = errors.New("out of gas")
	errMissingWitness    = errors.New("account did not sign the transaction")
	errContractExists    = errors.New("contract already exists")
	errUnknownMethod     = errors.New("unknown method")
	errNotOracleResponse = errors.New("transaction carries no oracle response")
	errResponseGas       = errors.New("gas for response below minimum")
	errNoKeys            = errors.New("no keys designated")
)

// storeError marks failures of the backing database, as opposed to script
// failures.
type storeError struct{ err error }

func (e *storeError) Error() string { return e.err.Error() }
func (e *storeError) Unwrap() error { return e.err }

// execution is the context actions run in.
type execution struct {
	db     database.Database // native partition of the nested versiondb
	env    Env
	tx     *chain.Transaction
	sender ids.ShortID

	gasLimit    uint64
	gasConsumed uint64
	events      []chain.Event
}

func (e *execution) consume(gas uint64) error {
	total, err := safemath.Add64(e.gasConsumed, gas)
	if err != nil || total > e.gasLimit {
		return fmt.Errorf("%w: needs %d of %d", errOutOfGas, e.gasConsumed+gas, e.gasLimit)
	}
	e.gasConsumed = total
	return nil
}

func (e *execution) emit(contract ids.ShortID, name string, data []byte) {
	e.events = append(e.events, chain.Event{Contract: contract, Name: name, Data: data})
}

func (*Native) Execute(db database.Database, env Env, tx *chain.Transaction) (*chain.Receipt, error) {
	receipt := &chain.Receipt{
		TxID:   tx.ID(),
		Height: env.Height,
		State:  chain.Halt,
	}
	sender, err := tx.Sender()
	if err != nil {
		return nil, err
	}

	nested := versiondb.New(db)
	defer nested.Abort()

	e := &execution{
		db:       nativeDB(nested),
		env:      env,
		tx:       tx,
		sender:   sender,
		gasLimit: tx.SystemFee,
	}
	if err := e.run(); err != nil {
		var dbErr *storeError
		if errors.As(err, &dbErr) {
			return nil, dbErr.err
		}
		receipt.State = chain.Fault
		receipt.Exception = err.Error()
		receipt.GasConsumed = e.gasConsumed
		return receipt, nil
	}

	if err := nested.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit execution of %s: %w", tx.ID(), err)
	}
	receipt.GasConsumed = e.gasConsumed
	receipt.Events = e.events
	return receipt, nil
}

func (e *execution) run() error {
	actions, err := DecodeScript(e.tx.Script)
	if err != nil {
		return err
	}
	for i, action := range actions {
		if err := e.consume(action.Gas()); err != nil {
			return err
		}
		if err := action.execute(e); err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
	}
	return nil
}

// wrap tags database failures so Execute can tell them from faults.
func wrap(err error) error {
	if err == nil || errors.Is(err, ErrInsufficientFunds) || errors.Is(err, safemath.ErrOverflow) {
		return err
	}
	return &storeError{err: err}
}

func (t *Transfer) execute(e *execution) error {
	if !t.Asset.valid() {
		return fmt.Errorf("%w: %d", ErrUnknownAsset, t.Asset)
	}
	if !e.tx.HasSigner(t.From) {
		return fmt.Errorf("%w: %s", errMissingWitness, t.From)
	}
	if err := wrap(debit(e.db, t.Asset, t.From, t.Amount)); err != nil {
		return err
	}
	if err := wrap(credit(e.db, t.Asset, t.To, t.Amount)); err != nil {
		return err
	}
	data := make([]byte, 0, 2*len(t.From)+wrappers.LongLen)
	data = append(data, t.From[:]...)
	data = append(data, t.To[:]...)
	data = append(data, uint64Bytes(t.Amount)...)
	e.emit(t.Asset.Hash(), "Transfer", data)
	return nil
}

func (d *Deploy) execute(e *execution) error {
	hash := ContractHash(e.sender, d.Name)
	key := join(contractPrefix, hash[:])
	exists, err := e.db.Has(key)
	if err != nil {
		return wrap(err)
	}
	if exists {
		return fmt.Errorf("%w: %s", errContractExists, hash)
	}
	b, err := Codec.Marshal(codecVersion, &Contract{
		Hash:     hash,
		Name:     d.Name,
		Code:     d.Code,
		Deployer: e.sender,
		Height:   e.env.Height,
	})
	if err != nil {
		return err
	}
	if err := e.db.Put(key, b); err != nil {
		return wrap(err)
	}
	e.emit(ContractManagement, "Deploy", hash[:])
	return nil
}

func (i *Invoke) execute(e *execution) error {
	if _, err := getContract(e.db, i.Contract); err != nil {
		if errors.Is(err, ErrContractNotFound) {
			return err
		}
		return wrap(err)
	}
	key := join(storagePrefix, i.Contract[:], i.Key)
	switch i.Method {
	case "put":
		if err := e.db.Put(key, i.Value); err != nil {
			return wrap(err)
		}
	case "delete":
		if err := e.db.Delete(key); err != nil {
			return wrap(err)
		}
	default:
		return fmt.Errorf("%w: %q", errUnknownMethod, i.Method)
	}
	e.emit(i.Contract, i.Method, i.Key)
	return nil
}

func (r *Request) execute(e *execution) error {
	if r.GasForResponse < MinResponseGas {
		return fmt.Errorf("%w: %d < %d", errResponseGas, r.GasForResponse, MinResponseGas)
	}
	id, err := getUint64(e.db, nextRequestKey)
	if err != nil {
		return wrap(err)
	}
	if err := wrap(debit(e.db, Fee, e.sender, r.GasForResponse)); err != nil {
		return err
	}
	if err := wrap(credit(e.db, Fee, OracleContract, r.GasForResponse)); err != nil {
		return err
	}
	b, err := Codec.Marshal(codecVersion, &OracleRequest{
		ID:             id,
		TxID:           e.tx.ID(),
		Height:         e.env.Height,
		Requester:      e.sender,
		URL:            r.URL,
		Filter:         r.Filter,
		Callback:       r.Callback,
		UserData:       r.UserData,
		GasForResponse: r.GasForResponse,
	})
	if err != nil {
		return err
	}
	if err := e.db.Put(requestKey(id), b); err != nil {
		return wrap(err)
	}
	if err := e.db.Put(nextRequestKey, uint64Bytes(id+1)); err != nil {
		return wrap(err)
	}
	e.emit(OracleContract, "OracleRequest", uint64Bytes(id))
	return nil
}

func (*Finish) execute(e *execution) error {
	resp, ok := e.tx.OracleResponse()
	if !ok {
		return errNotOracleResponse
	}
	key := requestKey(resp.ID)
	exists, err := e.db.Has(key)
	if err != nil {
		return wrap(err)
	}
	if !exists {
		return fmt.Errorf("%w: %d", ErrRequestNotFound, resp.ID)
	}
	if err := e.db.Delete(key); err != nil {
		return wrap(err)
	}
	data := make([]byte, 0, wrappers.LongLen+1+len(resp.Result))
	data = append(data, uint64Bytes(resp.ID)...)
	data = append(data, byte(resp.Code))
	data = append(data, resp.Result...)
	e.emit(OracleContract, "OracleResponse", data)
	return nil
}

func (d *Designate) execute(e *execution) error {
	if !d.Role.valid() {
		return fmt.Errorf("%w: %d", ErrUnknownRole, d.Role)
	}
	if len(d.Keys) == 0 {
		return errNoKeys
	}
	committee, err := e.db.Get(committeeKey)
	if err != nil {
		return wrap(err)
	}
	committeeHash, err := ids.ToShortID(committee)
	if err != nil {
		return err
	}
	if !e.tx.HasSigner(committeeHash) {
		return fmt.Errorf("%w: committee %s", errMissingWitness, committeeHash)
	}
	keys := make([][]byte, len(d.Keys))
	for i, key := range d.Keys {
		if _, err := keyFactory.ToPublicKey(key); err != nil {
			return fmt.Errorf("invalid key %d: %w", i, err)
		}
		keys[i] = key
	}
	chain.SortKeys(keys)
	for i := 1; i < len(keys); i++ {
		if bytes.Equal(keys[i-1], keys[i]) {
			return chain.ErrDuplicateKey
		}
	}
	if err := putKeys(e.db, roleKey(d.Role, e.env.Height+1), keys); err != nil {
		return wrap(err)
	}
	e.emit(RoleManagement, "Designation", []byte{byte(d.Role)})
	return nil
}
