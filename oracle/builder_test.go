// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package oracle

import (
	"testing"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/database/memdb"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/crypto/secp256k1"
	"github.com/stretchr/testify/require"

	"github.com/ava-labs/sandboxvm/admission"
	"github.com/ava-labs/sandboxvm/chain"
	"github.com/ava-labs/sandboxvm/engine"
	"github.com/ava-labs/sandboxvm/signer"
	"github.com/ava-labs/sandboxvm/store"
)

const (
	testMagic     = 5195086
	testIncrement = 100
)

type testEnv struct {
	root        database.Database
	db          database.Database
	engine      engine.Engine
	committee   *chain.Multisig
	oracleKeys  []*secp256k1.PrivateKey
	requestTxID ids.ID
}

func execute(t *testing.T, env *testEnv, height uint64, action engine.Action) *chain.Transaction {
	require := require.New(t)
	script, err := engine.EncodeScript(action)
	require.NoError(err)
	tx := &chain.Transaction{
		SystemFee:       action.Gas(),
		ValidUntilBlock: height + 1,
		Signers:         []ids.ShortID{env.committee.ScriptHash()},
		Script:          script,
		Witnesses:       []chain.Witness{{Verification: env.committee.Bytes()}},
	}
	require.NoError(tx.Initialize())
	receipt, err := env.engine.Execute(env.db, engine.Env{Magic: testMagic, Height: height}, tx)
	require.NoError(err)
	require.Equal(chain.Halt, receipt.State, receipt.Exception)
	return tx
}

// newTestEnv designates four oracle keys at height 1 and files request 0
// at height 2.
func newTestEnv(t *testing.T) *testEnv {
	require := require.New(t)
	factory := secp256k1.Factory{}
	validator, err := factory.NewPrivateKey()
	require.NoError(err)
	committee, err := chain.NewBFTMultisig([][]byte{validator.PublicKey().Bytes()})
	require.NoError(err)

	root := memdb.New()
	env := &testEnv{
		root:      root,
		db:        store.NewPartitions(root).State,
		engine:    engine.NewNative(),
		committee: committee,
	}
	require.NoError(env.engine.Initialize(env.db, engine.Genesis{Validators: committee.PublicKeys}))

	oracleKeys := make([][]byte, 4)
	for i := range oracleKeys {
		key, err := factory.NewPrivateKey()
		require.NoError(err)
		env.oracleKeys = append(env.oracleKeys, key)
		oracleKeys[i] = key.PublicKey().Bytes()
	}
	execute(t, env, 1, &engine.Designate{Role: engine.RoleOracle, Keys: oracleKeys})
	env.requestTxID = execute(t, env, 2, &engine.Request{
		URL:            "https://example.com/price",
		GasForResponse: engine.MinResponseGas,
	}).ID()
	return env
}

func (env *testEnv) builder(held int, maxResult int) *Builder {
	return New(Config{
		Magic:                       testMagic,
		MaxValidUntilBlockIncrement: testIncrement,
		MaxResultSize:               maxResult,
	}, env.engine, signer.NewKeyring(env.oracleKeys[:held]...))
}

func (env *testEnv) verifier() *admission.Verifier {
	return admission.New(admission.Config{
		Magic:                       testMagic,
		MaxValidUntilBlockIncrement: testIncrement,
	}, env.engine)
}

func TestBuildSuccess(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)

	tx, err := env.builder(3, 0).Build(env.db, 2, Response{ID: 0, Code: chain.Success, Result: []byte("42")})
	require.NoError(err)

	resp, ok := tx.OracleResponse()
	require.True(ok)
	require.Equal(chain.Success, resp.Code)
	require.Equal([]byte("42"), resp.Result)
	require.Equal(uint64(2+testIncrement), tx.ValidUntilBlock)
	require.Equal(engine.MinResponseGas, tx.SystemFee+tx.NetworkFee)

	fee, err := admission.NetworkFee(env.db, env.engine, tx)
	require.NoError(err)
	require.Equal(fee, tx.NetworkFee)
	require.NoError(env.verifier().Verify(env.root, 2, tx, nil))

	receipt, err := env.engine.Execute(env.db, engine.Env{Magic: testMagic, Height: 3}, tx)
	require.NoError(err)
	require.Equal(chain.Halt, receipt.State, receipt.Exception)
	_, err = env.engine.OracleRequest(env.db, 0)
	require.ErrorIs(err, engine.ErrRequestNotFound)
}

func TestResponseNeedsOracleNodes(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)

	tx, err := env.builder(3, 0).Build(env.db, 2, Response{ID: 0, Code: chain.Success, Result: []byte("42")})
	require.NoError(err)

	// a key outside the designated oracle set answers in their place
	key, err := (&secp256k1.Factory{}).NewPrivateKey()
	require.NoError(err)
	ms, err := chain.NewBFTMultisig([][]byte{key.PublicKey().Bytes()})
	require.NoError(err)
	resp, ok := tx.OracleResponse()
	require.True(ok)
	resp.Result = []byte("forged")
	tx.Signers[1] = ms.ScriptHash()
	tx.Witnesses[1] = chain.Witness{Verification: ms.Bytes()}
	require.NoError(tx.Initialize())
	w, err := signer.NewKeyring(key).Sign(tx.SignData(testMagic), ms)
	require.NoError(err)
	tx.Witnesses[1] = *w
	require.NoError(tx.Initialize())

	err = env.verifier().Verify(env.root, 2, tx, nil)
	require.ErrorIs(err, admission.ErrMalformedAttributes)
}

func TestDowngradeWhenBudgetExceeded(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)

	// priced by size, this result alone costs more than the budget
	result := make([]byte, 20_000)
	tx, err := env.builder(4, 0).Build(env.db, 2, Response{ID: 0, Code: chain.Success, Result: result})
	require.NoError(err)

	resp, ok := tx.OracleResponse()
	require.True(ok)
	require.Equal(chain.InsufficientFunds, resp.Code)
	require.Empty(resp.Result)
	require.Equal(engine.MinResponseGas, tx.SystemFee+tx.NetworkFee)
	require.NoError(env.verifier().Verify(env.root, 2, tx, nil))
}

func TestResponseTooLarge(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)

	tx, err := env.builder(4, 8).Build(env.db, 2, Response{ID: 0, Code: chain.Success, Result: []byte("0123456789")})
	require.NoError(err)
	resp, ok := tx.OracleResponse()
	require.True(ok)
	require.Equal(chain.ResponseTooLarge, resp.Code)
	require.Empty(resp.Result)
}

func TestErrorCodeDropsResult(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)

	tx, err := env.builder(4, 0).Build(env.db, 2, Response{ID: 0, Code: chain.NotFound, Result: []byte("ignored")})
	require.NoError(err)
	resp, ok := tx.OracleResponse()
	require.True(ok)
	require.Equal(chain.NotFound, resp.Code)
	require.Empty(resp.Result)
	require.NoError(env.verifier().Verify(env.root, 2, tx, nil))
}

func TestBuildFailures(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name    string
		builder *Builder
		height  uint64
		resp    Response
		err     error
	}{
		{
			name:    "success without result",
			builder: env.builder(4, 0),
			height:  2,
			resp:    Response{ID: 0, Code: chain.Success},
			err:     ErrInvalidPayload,
		},
		{
			name:    "unknown code",
			builder: env.builder(4, 0),
			height:  2,
			resp:    Response{ID: 0, Code: chain.ResponseCode(0x99)},
			err:     ErrInvalidPayload,
		},
		{
			name:    "unknown request",
			builder: env.builder(4, 0),
			height:  2,
			resp:    Response{ID: 9, Code: chain.Timeout},
			err:     engine.ErrRequestNotFound,
		},
		{
			name:    "no designated nodes yet",
			builder: env.builder(4, 0),
			height:  0,
			resp:    Response{ID: 0, Code: chain.Timeout},
			err:     ErrNoOracleNodes,
		},
		{
			name:    "below threshold",
			builder: env.builder(2, 0),
			height:  2,
			resp:    Response{ID: 0, Code: chain.Timeout},
			err:     signer.ErrInsufficientSignatures,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := test.builder.Build(env.db, test.height, test.resp)
			require.ErrorIs(t, err, test.err)
		})
	}
}
