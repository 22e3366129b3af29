// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package admission decides whether a transaction may enter a block.
package admission

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/database/versiondb"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/set"

	safemath "github.com/ava-labs/avalanchego/utils/math"

	"github.com/ava-labs/sandboxvm/chain"
	"github.com/ava-labs/sandboxvm/engine"
	"github.com/ava-labs/sandboxvm/ledger"
	"github.com/ava-labs/sandboxvm/store"
)

var (
	ErrInsufficientFunds         = engine.ErrInsufficientFunds
	ErrWitnessVerificationFailed = engine.ErrWitnessVerificationFailed
	ErrExpired                   = errors.New("transaction expired")
	ErrMalformedAttributes       = errors.New("malformed attributes")
	ErrMalformedTransaction      = errors.New("malformed transaction")
	ErrAlreadyCommitted          = errors.New("transaction already committed")
)

type Config struct {
	Magic uint32
	// MaxValidUntilBlockIncrement bounds how far ahead of the current height
	// a transaction may expire.
	MaxValidUntilBlockIncrement uint64
	MaxTransactionSize          int
	MaxScriptSize               int
}

// Verifier runs admission checks. It never writes to the database it is
// given.
type Verifier struct {
	config Config
	engine engine.Engine
}

func New(config Config, e engine.Engine) *Verifier {
	return &Verifier{config: config, engine: e}
}

func (v *Verifier) Config() Config { return v.config }

// Verify runs both the state independent and the state dependent checks.
func (v *Verifier) Verify(db database.Database, height uint64, tx *chain.Transaction, fc *FeeContext) error {
	if err := v.VerifyStateIndependent(tx); err != nil {
		return err
	}
	return v.VerifyStateDependent(db, height, tx, fc)
}

// VerifyStateIndependent checks the shape of [tx].
func (v *Verifier) VerifyStateIndependent(tx *chain.Transaction) error {
	if len(tx.Signers) == 0 {
		return fmt.Errorf("%w: no signers", ErrMalformedTransaction)
	}
	signers := set.NewSet[ids.ShortID](len(tx.Signers))
	for _, signer := range tx.Signers {
		if signers.Contains(signer) {
			return fmt.Errorf("%w: duplicate signer %s", ErrMalformedTransaction, signer)
		}
		signers.Add(signer)
	}
	if len(tx.Witnesses) != len(tx.Signers) {
		return fmt.Errorf("%w: %d witnesses for %d signers", ErrMalformedTransaction, len(tx.Witnesses), len(tx.Signers))
	}
	if len(tx.Script) == 0 {
		return fmt.Errorf("%w: empty script", ErrMalformedTransaction)
	}
	if v.config.MaxScriptSize > 0 && len(tx.Script) > v.config.MaxScriptSize {
		return fmt.Errorf("%w: script size %d exceeds %d", ErrMalformedTransaction, len(tx.Script), v.config.MaxScriptSize)
	}
	if v.config.MaxTransactionSize > 0 && tx.Size() > v.config.MaxTransactionSize {
		return fmt.Errorf("%w: size %d exceeds %d", ErrMalformedTransaction, tx.Size(), v.config.MaxTransactionSize)
	}
	return verifyAttributes(tx)
}

func verifyAttributes(tx *chain.Transaction) error {
	highPriority := 0
	responses := set.NewSet[uint64](1)
	for _, attr := range tx.Attributes {
		switch a := attr.(type) {
		case *chain.HighPriority:
			highPriority++
		case *chain.OracleResponse:
			if !a.Code.Valid() {
				return fmt.Errorf("%w: unknown response code %d", ErrMalformedAttributes, a.Code)
			}
			if a.Code != chain.Success && len(a.Result) != 0 {
				return fmt.Errorf("%w: %s response carries a result", ErrMalformedAttributes, a.Code)
			}
			if responses.Contains(a.ID) {
				return fmt.Errorf("%w: duplicate response to request %d", ErrMalformedAttributes, a.ID)
			}
			responses.Add(a.ID)
		default:
			return fmt.Errorf("%w: unknown attribute %T", ErrMalformedAttributes, attr)
		}
	}
	if highPriority > 1 {
		return fmt.Errorf("%w: %d high priority attributes", ErrMalformedAttributes, highPriority)
	}
	if responses.Len() > 1 {
		return fmt.Errorf("%w: %d oracle responses", ErrMalformedAttributes, responses.Len())
	}
	return nil
}

// VerifyStateDependent checks [tx] against [db], the store as of [height].
// Fees pending in [fc] count against the sender's balance. [fc] may be nil.
func (v *Verifier) VerifyStateDependent(db database.Database, height uint64, tx *chain.Transaction, fc *FeeContext) error {
	vdb := versiondb.New(db)
	defer vdb.Abort()

	parts := store.NewPartitions(vdb)
	committed, err := ledger.New(parts, nil).HasTransaction(tx.ID())
	if err != nil {
		return err
	}
	if committed {
		return fmt.Errorf("%w: %s", ErrAlreadyCommitted, tx.ID())
	}

	maxHeight, err := safemath.Add64(height, v.config.MaxValidUntilBlockIncrement)
	if err != nil {
		return err
	}
	if tx.ValidUntilBlock <= height || tx.ValidUntilBlock > maxHeight {
		return fmt.Errorf("%w: valid until %d at height %d", ErrExpired, tx.ValidUntilBlock, height)
	}

	if err := v.verifyAttributesState(parts.State, height, tx, fc); err != nil {
		return err
	}

	signData := tx.SignData(v.config.Magic)
	var witnessFee uint64
	for i := range tx.Signers {
		fee, err := v.engine.VerifyWitness(parts.State, tx, signData, i)
		if err != nil {
			return err
		}
		witnessFee, err = safemath.Add64(witnessFee, fee)
		if err != nil {
			return err
		}
	}
	required, err := v.sizeFee(parts.State, tx.Size(), witnessFee)
	if err != nil {
		return err
	}
	if tx.NetworkFee < required {
		return fmt.Errorf("%w: network fee %d below %d", ErrInsufficientFunds, tx.NetworkFee, required)
	}

	sender, err := tx.Sender()
	if err != nil {
		return err
	}
	total, err := tx.TotalFee()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	}
	total, err = safemath.Add64(total, fc.Pending(sender))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	}
	balance, err := v.engine.Balance(parts.State, engine.Fee, sender)
	if err != nil {
		return err
	}
	if balance < total {
		return fmt.Errorf("%w: %s holds %d but owes %d", ErrInsufficientFunds, sender, balance, total)
	}
	return nil
}

func (v *Verifier) verifyAttributesState(db database.Database, height uint64, tx *chain.Transaction, fc *FeeContext) error {
	for _, attr := range tx.Attributes {
		switch a := attr.(type) {
		case *chain.HighPriority:
			committee, err := v.engine.Committee(db)
			if err != nil {
				return err
			}
			if !tx.HasSigner(committee) {
				return fmt.Errorf("%w: high priority without committee signature", ErrMalformedAttributes)
			}
		case *chain.OracleResponse:
			if _, err := v.engine.OracleRequest(db, a.ID); err != nil {
				if errors.Is(err, engine.ErrRequestNotFound) {
					return fmt.Errorf("%w: %v", ErrMalformedAttributes, err)
				}
				return err
			}
			if !bytes.Equal(tx.Script, v.engine.OracleResponseScript()) {
				return fmt.Errorf("%w: oracle response runs a custom script", ErrMalformedAttributes)
			}
			// responses are co-signed by the oracle nodes of the block they
			// land in
			keys, err := v.engine.DesignatedKeys(db, engine.RoleOracle, height+1)
			if err != nil {
				return err
			}
			if len(keys) == 0 {
				return fmt.Errorf("%w: no oracle nodes at height %d", ErrMalformedAttributes, height+1)
			}
			nodes, err := chain.NewBFTMultisig(keys)
			if err != nil {
				return err
			}
			if !tx.HasSigner(nodes.ScriptHash()) {
				return fmt.Errorf("%w: response to %d not signed by the oracle nodes", ErrMalformedAttributes, a.ID)
			}
			if fc.HasResponse(a.ID) {
				return fmt.Errorf("%w: request %d already has a pending response", ErrMalformedAttributes, a.ID)
			}
		}
	}
	return nil
}

func (v *Verifier) sizeFee(db database.Database, size int, witnessFee uint64) (uint64, error) {
	feePerByte, err := v.engine.FeePerByte(db)
	if err != nil {
		return 0, err
	}
	sizeFee, err := safemath.Mul64(feePerByte, uint64(size))
	if err != nil {
		return 0, err
	}
	return safemath.Add64(witnessFee, sizeFee)
}

// NetworkFee returns the network fee [tx] needs: the verification fee of
// every witness plus its serialized size priced by the engine. Signatures
// are not checked, so placeholder invocations of the final length give the
// fee of the signed transaction.
func NetworkFee(db database.Database, e engine.Engine, tx *chain.Transaction) (uint64, error) {
	var witnessFee uint64
	for i, signer := range tx.Signers {
		if i >= len(tx.Witnesses) {
			return 0, fmt.Errorf("%w: no witness for %s", ErrMalformedTransaction, signer)
		}
		fee, err := e.WitnessFee(db, signer, tx.Witnesses[i].Verification)
		if err != nil {
			return 0, err
		}
		witnessFee, err = safemath.Add64(witnessFee, fee)
		if err != nil {
			return 0, err
		}
	}
	v := Verifier{engine: e}
	return v.sizeFee(db, tx.Size(), witnessFee)
}
