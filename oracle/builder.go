// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package oracle turns external responses into signed response
// transactions.
package oracle

import (
	"errors"
	"fmt"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/crypto/secp256k1"

	"github.com/ava-labs/sandboxvm/admission"
	"github.com/ava-labs/sandboxvm/chain"
	"github.com/ava-labs/sandboxvm/engine"
	"github.com/ava-labs/sandboxvm/signer"
)

// DefaultMaxResultSize is the largest result a response carries.
const DefaultMaxResultSize = 0xffff

var (
	ErrInvalidPayload = errors.New("invalid payload")
	ErrNoOracleNodes  = errors.New("no oracle nodes designated")
)

type Config struct {
	Magic                       uint32
	MaxValidUntilBlockIncrement uint64
	MaxResultSize               int
}

// Response is an external answer to request [ID].
type Response struct {
	ID     uint64
	Code   chain.ResponseCode
	Result []byte
}

type Builder struct {
	config  Config
	engine  engine.Engine
	keyring *signer.Keyring
}

func New(config Config, e engine.Engine, keyring *signer.Keyring) *Builder {
	if config.MaxResultSize <= 0 {
		config.MaxResultSize = DefaultMaxResultSize
	}
	return &Builder{
		config:  config,
		engine:  e,
		keyring: keyring,
	}
}

// Build returns the signed transaction delivering [resp]. [db] is the
// chain-state partition at [height], the height of the last block. A
// response the request cannot pay for is downgraded to InsufficientFunds
// with an empty result.
func (b *Builder) Build(db database.Database, height uint64, resp Response) (*chain.Transaction, error) {
	if !resp.Code.Valid() {
		return nil, fmt.Errorf("%w: unknown response code %d", ErrInvalidPayload, resp.Code)
	}
	if resp.Code == chain.Success && len(resp.Result) == 0 {
		return nil, fmt.Errorf("%w: success without a result", ErrInvalidPayload)
	}
	req, err := b.engine.OracleRequest(db, resp.ID)
	if err != nil {
		return nil, err
	}
	keys, err := b.engine.DesignatedKeys(db, engine.RoleOracle, height+1)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w at height %d", ErrNoOracleNodes, height+1)
	}
	ms, err := chain.NewBFTMultisig(keys)
	if err != nil {
		return nil, err
	}

	code, result := resp.Code, resp.Result
	if code != chain.Success {
		result = nil
	}
	if len(result) > b.config.MaxResultSize {
		code, result = chain.ResponseTooLarge, nil
	}

	tx, err := b.assemble(db, req, ms, code, result)
	if err != nil {
		return nil, err
	}
	if tx.NetworkFee > req.GasForResponse {
		tx, err = b.assemble(db, req, ms, chain.InsufficientFunds, nil)
		if err != nil {
			return nil, err
		}
	}

	w, err := b.keyring.Sign(tx.SignData(b.config.Magic), ms)
	if err != nil {
		return nil, err
	}
	tx.Witnesses[1] = *w
	if err := tx.Initialize(); err != nil {
		return nil, err
	}
	return tx, nil
}

// assemble builds the unsigned response with a placeholder witness of the
// final size, so the network fee it carries is exact.
func (b *Builder) assemble(
	db database.Database,
	req *engine.OracleRequest,
	ms *chain.Multisig,
	code chain.ResponseCode,
	result []byte,
) (*chain.Transaction, error) {
	placeholder := make([][]byte, ms.Threshold)
	for i := range placeholder {
		placeholder[i] = make([]byte, secp256k1.SignatureLen)
	}
	tx := &chain.Transaction{
		Nonce:           uint32(req.ID),
		ValidUntilBlock: req.Height + b.config.MaxValidUntilBlockIncrement,
		Signers:         []ids.ShortID{engine.OracleContract, ms.ScriptHash()},
		Attributes: []chain.Attribute{&chain.OracleResponse{
			ID:     req.ID,
			Code:   code,
			Result: result,
		}},
		Script: b.engine.OracleResponseScript(),
		Witnesses: []chain.Witness{
			{},
			{Invocation: placeholder, Verification: ms.Bytes()},
		},
	}
	if err := tx.Initialize(); err != nil {
		return nil, err
	}
	fee, err := admission.NetworkFee(db, b.engine, tx)
	if err != nil {
		return nil, err
	}
	tx.NetworkFee = fee
	if fee < req.GasForResponse {
		tx.SystemFee = req.GasForResponse - fee
	}
	if err := tx.Initialize(); err != nil {
		return nil, err
	}
	return tx, nil
}
