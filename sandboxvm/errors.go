// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sandboxvm

import (
	"errors"

	"github.com/ava-labs/avalanchego/database"

	"github.com/ava-labs/sandboxvm/admission"
	"github.com/ava-labs/sandboxvm/builder"
	"github.com/ava-labs/sandboxvm/chain"
	"github.com/ava-labs/sandboxvm/checkpoint"
	"github.com/ava-labs/sandboxvm/engine"
	"github.com/ava-labs/sandboxvm/oracle"
	"github.com/ava-labs/sandboxvm/store"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrWriterStopped   = errors.New("writer is not running")
	ErrInvalidArgument = errors.New("invalid argument")
)

// ErrorKind classifies errors by how callers should react to them.
type ErrorKind string

const (
	// KindConfiguration errors are never worth retrying.
	KindConfiguration ErrorKind = "configuration"
	// KindContention errors mean another instance holds the resource.
	KindContention ErrorKind = "contention"
	// KindTransaction errors reject a single transaction.
	KindTransaction ErrorKind = "transaction"
	// KindIntegrity errors mean persisted data cannot be trusted.
	KindIntegrity ErrorKind = "integrity"
	// KindFatal errors stop the writer.
	KindFatal    ErrorKind = "fatal"
	KindNotFound ErrorKind = "not found"
	KindUnknown  ErrorKind = "unknown"
)

var errorKinds = []struct {
	kind ErrorKind
	errs []error
}{
	{
		kind: KindFatal,
		errs: []error{builder.ErrCommitFailed, store.ErrStaleSnapshot, store.ErrClosed},
	},
	{
		kind: KindConfiguration,
		errs: []error{
			ErrInvalidConfig,
			ErrMissingKeyShares,
			ErrReservedName,
			ErrUnknownWallet,
			ErrInvalidArgument,
			builder.ErrInsufficientSignatures,
			oracle.ErrNoOracleNodes,
			engine.ErrUnknownAsset,
			engine.ErrUnknownRole,
		},
	},
	{
		kind: KindContention,
		errs: []error{
			store.ErrStoreUnavailable,
			checkpoint.ErrWriterActive,
			checkpoint.ErrAlreadyExists,
			checkpoint.ErrDestinationExists,
			ErrWriterStopped,
			errMempoolFull,
		},
	},
	{
		kind: KindIntegrity,
		errs: []error{
			checkpoint.ErrIdentityMismatch,
			checkpoint.ErrCorruptArchive,
			chain.ErrMerkleRootMismatch,
			builder.ErrValidatorMismatch,
		},
	},
	{
		kind: KindTransaction,
		errs: []error{
			admission.ErrExpired,
			admission.ErrInsufficientFunds,
			admission.ErrWitnessVerificationFailed,
			admission.ErrMalformedAttributes,
			admission.ErrMalformedTransaction,
			admission.ErrAlreadyCommitted,
			builder.ErrBlockFull,
			oracle.ErrInvalidPayload,
			engine.ErrRequestNotFound,
		},
	},
	{
		kind: KindNotFound,
		errs: []error{ErrNotFound, database.ErrNotFound, engine.ErrContractNotFound},
	},
}

// KindOf returns the kind of [err]. Kinds are checked in order, so a commit
// failure wrapping a transaction error is still fatal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for _, k := range errorKinds {
		for _, target := range k.errs {
			if errors.Is(err, target) {
				return k.kind
			}
		}
	}
	return KindUnknown
}

func isFatal(err error) bool { return KindOf(err) == KindFatal }
