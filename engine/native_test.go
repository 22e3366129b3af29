// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package engine

import (
	"bytes"
	"testing"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/database/memdb"
	"github.com/ava-labs/avalanchego/database/prefixdb"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/crypto/secp256k1"
	"github.com/ava-labs/avalanchego/utils/hashing"
	"github.com/stretchr/testify/require"

	"github.com/ava-labs/sandboxvm/chain"
)

type testChain struct {
	db        database.Database
	engine    *Native
	keys      []*secp256k1.PrivateKey
	committee *chain.Multisig
}

func newTestChain(t *testing.T) *testChain {
	require := require.New(t)
	key, err := keyFactory.NewPrivateKey()
	require.NoError(err)
	pubs := [][]byte{key.PublicKey().Bytes()}
	committee, err := chain.NewBFTMultisig(pubs)
	require.NoError(err)

	db := memdb.New()
	engine := NewNative()
	require.NoError(engine.Initialize(db, Genesis{Validators: pubs}))
	return &testChain{
		db:        db,
		engine:    engine,
		keys:      []*secp256k1.PrivateKey{key},
		committee: committee,
	}
}

func (c *testChain) newTx(t *testing.T, sysFee uint64, actions ...Action) *chain.Transaction {
	script, err := EncodeScript(actions...)
	require.NoError(t, err)
	tx := &chain.Transaction{
		SystemFee:       sysFee,
		ValidUntilBlock: 100,
		Signers:         []ids.ShortID{c.committee.ScriptHash()},
		Script:          script,
		Witnesses:       []chain.Witness{{Verification: c.committee.Bytes()}},
	}
	require.NoError(t, tx.Initialize())
	return tx
}

func TestGenesisAllocation(t *testing.T) {
	require := require.New(t)
	c := newTestChain(t)

	gov, err := c.engine.Balance(c.db, Governance, c.committee.ScriptHash())
	require.NoError(err)
	require.Equal(GovernanceSupply, gov)
	fee, err := c.engine.Balance(c.db, Fee, c.committee.ScriptHash())
	require.NoError(err)
	require.Equal(FeeSupply, fee)

	committee, err := c.engine.Committee(c.db)
	require.NoError(err)
	require.Equal(c.committee.ScriptHash(), committee)

	validators, err := c.engine.NextValidators(c.db)
	require.NoError(err)
	require.Equal(c.committee.PublicKeys, validators)

	feePerByte, err := c.engine.FeePerByte(c.db)
	require.NoError(err)
	require.Equal(DefaultFeeByte, feePerByte)
}

func TestTransfer(t *testing.T) {
	require := require.New(t)
	c := newTestChain(t)
	to := ids.ShortID{9}

	tx := c.newTx(t, TransferGas, &Transfer{Asset: Governance, From: c.committee.ScriptHash(), To: to, Amount: 10})
	receipt, err := c.engine.Execute(c.db, Env{Height: 1}, tx)
	require.NoError(err)
	require.Equal(chain.Halt, receipt.State, receipt.Exception)
	require.Equal(TransferGas, receipt.GasConsumed)
	require.Len(receipt.Events, 1)
	require.Equal(Governance.Hash(), receipt.Events[0].Contract)

	balance, err := c.engine.Balance(c.db, Governance, to)
	require.NoError(err)
	require.Equal(uint64(10), balance)
}

// Engine state read directly and written through the execution overlay
// must share one key space when the engine runs inside a partition.
func TestTransferInsidePartition(t *testing.T) {
	require := require.New(t)
	c := newTestChain(t)
	base := memdb.New()
	c.db = prefixdb.New([]byte("state"), base)
	require.NoError(c.engine.Initialize(c.db, Genesis{Validators: c.committee.PublicKeys}))
	to := ids.ShortID{9}

	tx := c.newTx(t, TransferGas, &Transfer{Asset: Governance, From: c.committee.ScriptHash(), To: to, Amount: 10})
	receipt, err := c.engine.Execute(c.db, Env{Height: 1}, tx)
	require.NoError(err)
	require.Equal(chain.Halt, receipt.State, receipt.Exception)

	balance, err := c.engine.Balance(c.db, Governance, to)
	require.NoError(err)
	require.Equal(uint64(10), balance)
	balance, err = c.engine.Balance(c.db, Governance, c.committee.ScriptHash())
	require.NoError(err)
	require.Equal(GovernanceSupply-10, balance)

	// every engine key lives under the partition
	prefix := hashing.ComputeHash256([]byte("state"))
	it := base.NewIterator()
	defer it.Release()
	keys := 0
	for it.Next() {
		require.True(bytes.HasPrefix(it.Key(), prefix))
		keys++
	}
	require.NoError(it.Error())
	require.Positive(keys)
}

func TestFaultRevertsEffects(t *testing.T) {
	require := require.New(t)
	c := newTestChain(t)
	to := ids.ShortID{9}

	tests := []struct {
		name   string
		sysFee uint64
		action []Action
	}{
		{
			name:   "insufficient balance",
			sysFee: 2 * TransferGas,
			action: []Action{
				&Transfer{Asset: Governance, From: c.committee.ScriptHash(), To: to, Amount: 10},
				&Transfer{Asset: Governance, From: c.committee.ScriptHash(), To: to, Amount: GovernanceSupply},
			},
		},
		{
			name:   "out of gas",
			sysFee: TransferGas,
			action: []Action{
				&Transfer{Asset: Governance, From: c.committee.ScriptHash(), To: to, Amount: 10},
				&Transfer{Asset: Governance, From: c.committee.ScriptHash(), To: to, Amount: 10},
			},
		},
		{
			name:   "unsigned sender",
			sysFee: TransferGas,
			action: []Action{
				&Transfer{Asset: Governance, From: ids.ShortID{1}, To: to, Amount: 10},
			},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			receipt, err := c.engine.Execute(c.db, Env{Height: 1}, c.newTx(t, test.sysFee, test.action...))
			require.NoError(err)
			require.Equal(chain.Fault, receipt.State)
			require.NotEmpty(receipt.Exception)
			require.Empty(receipt.Events)

			balance, err := c.engine.Balance(c.db, Governance, to)
			require.NoError(err)
			require.Zero(balance)
		})
	}
}

func TestDeployAndInvoke(t *testing.T) {
	require := require.New(t)
	c := newTestChain(t)
	deploy := &Deploy{Name: "registry", Code: []byte{1, 2, 3}}

	receipt, err := c.engine.Execute(c.db, Env{Height: 2}, c.newTx(t, deploy.Gas(), deploy))
	require.NoError(err)
	require.Equal(chain.Halt, receipt.State, receipt.Exception)

	hash := ContractHash(c.committee.ScriptHash(), "registry")
	contract, err := c.engine.Contract(c.db, hash)
	require.NoError(err)
	require.Equal("registry", contract.Name)
	require.Equal(uint64(2), contract.Height)

	// deploying twice faults
	receipt, err = c.engine.Execute(c.db, Env{Height: 3}, c.newTx(t, deploy.Gas(), deploy))
	require.NoError(err)
	require.Equal(chain.Fault, receipt.State)

	put := &Invoke{Contract: hash, Method: "put", Key: []byte("k"), Value: []byte("v")}
	receipt, err = c.engine.Execute(c.db, Env{Height: 4}, c.newTx(t, put.Gas(), put))
	require.NoError(err)
	require.Equal(chain.Halt, receipt.State, receipt.Exception)
	value, err := c.engine.Storage(c.db, hash, []byte("k"))
	require.NoError(err)
	require.Equal([]byte("v"), value)

	del := &Invoke{Contract: hash, Method: "delete", Key: []byte("k")}
	receipt, err = c.engine.Execute(c.db, Env{Height: 5}, c.newTx(t, del.Gas(), del))
	require.NoError(err)
	require.Equal(chain.Halt, receipt.State, receipt.Exception)
	_, err = c.engine.Storage(c.db, hash, []byte("k"))
	require.ErrorIs(err, database.ErrNotFound)

	contracts, err := c.engine.Contracts(c.db)
	require.NoError(err)
	require.Len(contracts, 1)
}

func TestOracleRequestLifecycle(t *testing.T) {
	require := require.New(t)
	c := newTestChain(t)

	request := &Request{URL: "https://example.com/price", GasForResponse: MinResponseGas}
	requestTx := c.newTx(t, RequestGas, request)
	receipt, err := c.engine.Execute(c.db, Env{Height: 7}, requestTx)
	require.NoError(err)
	require.Equal(chain.Halt, receipt.State, receipt.Exception)

	req, err := c.engine.OracleRequest(c.db, 0)
	require.NoError(err)
	require.Equal(requestTx.ID(), req.TxID)
	require.Equal(uint64(7), req.Height)
	require.Equal(MinResponseGas, req.GasForResponse)
	budget, err := c.engine.Balance(c.db, Fee, OracleContract)
	require.NoError(err)
	require.Equal(MinResponseGas, budget)

	response := &chain.Transaction{
		SystemFee:       FinishGas,
		ValidUntilBlock: 100,
		Signers:         []ids.ShortID{OracleContract},
		Attributes:      []chain.Attribute{&chain.OracleResponse{ID: 0, Code: chain.Success, Result: []byte("42")}},
		Script:          c.engine.OracleResponseScript(),
		Witnesses:       []chain.Witness{{}},
	}
	require.NoError(response.Initialize())

	fee, err := c.engine.VerifyWitness(c.db, response, response.SignData(1), 0)
	require.NoError(err)
	require.Equal(OracleVerifyFee, fee)

	receipt, err = c.engine.Execute(c.db, Env{Height: 8}, response)
	require.NoError(err)
	require.Equal(chain.Halt, receipt.State, receipt.Exception)
	_, err = c.engine.OracleRequest(c.db, 0)
	require.ErrorIs(err, ErrRequestNotFound)

	// a second response to the same request faults
	receipt, err = c.engine.Execute(c.db, Env{Height: 9}, response)
	require.NoError(err)
	require.Equal(chain.Fault, receipt.State)
}

func TestRequestBelowMinimumFaults(t *testing.T) {
	require := require.New(t)
	c := newTestChain(t)

	receipt, err := c.engine.Execute(c.db, Env{Height: 1}, c.newTx(t, RequestGas, &Request{URL: "u", GasForResponse: 1}))
	require.NoError(err)
	require.Equal(chain.Fault, receipt.State)
	requests, err := c.engine.OracleRequests(c.db)
	require.NoError(err)
	require.Empty(requests)
}

func TestDesignate(t *testing.T) {
	require := require.New(t)
	c := newTestChain(t)
	oracleKey, err := keyFactory.NewPrivateKey()
	require.NoError(err)
	keys := [][]byte{oracleKey.PublicKey().Bytes()}

	receipt, err := c.engine.Execute(c.db, Env{Height: 10}, c.newTx(t, DesignateGas, &Designate{Role: RoleOracle, Keys: keys}))
	require.NoError(err)
	require.Equal(chain.Halt, receipt.State, receipt.Exception)

	designated, err := c.engine.DesignatedKeys(c.db, RoleOracle, 10)
	require.NoError(err)
	require.Empty(designated)
	designated, err = c.engine.DesignatedKeys(c.db, RoleOracle, 11)
	require.NoError(err)
	require.Equal(keys, designated)
	designated, err = c.engine.DesignatedKeys(c.db, RoleStateValidator, 11)
	require.NoError(err)
	require.Empty(designated)

	// only the committee may designate
	tx := c.newTx(t, DesignateGas, &Designate{Role: RoleOracle, Keys: keys})
	tx.Signers = []ids.ShortID{{1}}
	require.NoError(tx.Initialize())
	receipt, err = c.engine.Execute(c.db, Env{Height: 11}, tx)
	require.NoError(err)
	require.Equal(chain.Fault, receipt.State)
}

func TestVerifyWitness(t *testing.T) {
	require := require.New(t)
	c := newTestChain(t)

	tx := c.newTx(t, TransferGas, &Transfer{Asset: Fee, From: c.committee.ScriptHash(), To: ids.ShortID{1}, Amount: 1})
	signData := tx.SignData(5)
	_, err := c.engine.VerifyWitness(c.db, tx, signData, 0)
	require.ErrorIs(err, ErrWitnessVerificationFailed)

	sig, err := c.keys[0].Sign(signData)
	require.NoError(err)
	tx.Witnesses[0].Invocation = [][]byte{sig}
	require.NoError(tx.Initialize())

	fee, err := c.engine.VerifyWitness(c.db, tx, signData, 0)
	require.NoError(err)
	require.Equal(VerifyKeyFee, fee)

	// signed for another network
	_, err = c.engine.VerifyWitness(c.db, tx, tx.SignData(6), 0)
	require.ErrorIs(err, ErrWitnessVerificationFailed)

	// verification script of another account
	other, err := keyFactory.NewPrivateKey()
	require.NoError(err)
	otherMS, err := chain.NewBFTMultisig([][]byte{other.PublicKey().Bytes()})
	require.NoError(err)
	_, err = c.engine.WitnessFee(c.db, c.committee.ScriptHash(), otherMS.Bytes())
	require.ErrorIs(err, ErrWitnessVerificationFailed)
}

func TestChargeFee(t *testing.T) {
	require := require.New(t)
	c := newTestChain(t)

	require.NoError(c.engine.ChargeFee(c.db, c.committee.ScriptHash(), 100))
	balance, err := c.engine.Balance(c.db, Fee, c.committee.ScriptHash())
	require.NoError(err)
	require.Equal(FeeSupply-100, balance)

	require.ErrorIs(c.engine.ChargeFee(c.db, ids.ShortID{1}, 1), ErrInsufficientFunds)
}
