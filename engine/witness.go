// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package engine

import (
	"bytes"
	"fmt"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/crypto/secp256k1"

	safemath "github.com/ava-labs/avalanchego/utils/math"

	"github.com/ava-labs/sandboxvm/chain"
)

var keyFactory = secp256k1.Factory{}

func (*Native) WitnessFee(_ database.Database, signer ids.ShortID, verification []byte) (uint64, error) {
	if signer == OracleContract {
		return OracleVerifyFee, nil
	}
	ms, err := chain.ParseMultisig(verification)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrWitnessVerificationFailed, err)
	}
	if ms.ScriptHash() != signer {
		return 0, fmt.Errorf("%w: script hash %s does not match signer %s", ErrWitnessVerificationFailed, ms.ScriptHash(), signer)
	}
	return safemath.Mul64(VerifyKeyFee, uint64(len(ms.PublicKeys)))
}

func (n *Native) VerifyWitness(db database.Database, tx *chain.Transaction, signData []byte, index int) (uint64, error) {
	if index < 0 || index >= len(tx.Signers) || index >= len(tx.Witnesses) {
		return 0, fmt.Errorf("%w: no witness %d", ErrWitnessVerificationFailed, index)
	}
	signer := tx.Signers[index]
	witness := tx.Witnesses[index]

	fee, err := n.WitnessFee(db, signer, witness.Verification)
	if err != nil {
		return 0, err
	}

	if signer == OracleContract {
		// The oracle contract authorizes exactly the response script.
		if len(witness.Invocation) != 0 || len(witness.Verification) != 0 {
			return 0, fmt.Errorf("%w: oracle contract witness must be empty", ErrWitnessVerificationFailed)
		}
		if _, ok := tx.OracleResponse(); !ok {
			return 0, fmt.Errorf("%w: %v", ErrWitnessVerificationFailed, errNotOracleResponse)
		}
		if !bytes.Equal(tx.Script, oracleResponseScript) {
			return 0, fmt.Errorf("%w: unexpected oracle response script", ErrWitnessVerificationFailed)
		}
		return fee, nil
	}

	ms, err := chain.ParseMultisig(witness.Verification)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrWitnessVerificationFailed, err)
	}
	if !ms.Verify(signData, witness.Invocation) {
		return 0, fmt.Errorf("%w: signatures of %s", ErrWitnessVerificationFailed, signer)
	}
	return fee, nil
}
