// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package engine defines the ledger execution engine the block producer
// drives, and a native implementation of it.
//
// The engine is deterministic: given the same state and transaction it
// produces the same receipt and the same writes. It never commits; callers
// pass a database (usually a versiondb) and decide what to keep.
package engine

import (
	"errors"
	"fmt"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/hashing"

	"github.com/ava-labs/sandboxvm/chain"
)

var (
	ErrInsufficientFunds         = errors.New("insufficient funds")
	ErrWitnessVerificationFailed = errors.New("witness verification failed")
	ErrRequestNotFound           = errors.New("oracle request not found")
	ErrContractNotFound          = errors.New("contract not found")
	ErrUnknownAsset              = errors.New("unknown asset")
	ErrUnknownRole               = errors.New("unknown role")
)

// Native contract hashes. They are not backed by a verification script so
// nobody holds their keys.
var (
	ContractManagement = nativeHash("ContractManagement")
	RoleManagement     = nativeHash("RoleManagement")
	OracleContract     = nativeHash("OracleContract")
)

func nativeHash(name string) ids.ShortID {
	return hashing.ComputeHash160Array([]byte("native:" + name))
}

// Asset is a native token.
type Asset byte

const (
	// Governance is indivisible and only moves by transfer.
	Governance Asset = iota
	// Fee pays for system and network fees.
	Fee
)

// ParseAsset parses an asset by name.
func ParseAsset(s string) (Asset, error) {
	switch s {
	case "governance", "gov":
		return Governance, nil
	case "fee", "gas":
		return Fee, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownAsset, s)
	}
}

func (a Asset) String() string {
	switch a {
	case Governance:
		return "governance"
	case Fee:
		return "fee"
	default:
		return fmt.Sprintf("Asset(%d)", byte(a))
	}
}

// Decimals returns the number of decimals of the asset's display unit.
func (a Asset) Decimals() int {
	if a == Fee {
		return 8
	}
	return 0
}

// Hash returns the contract hash events of [a] are emitted under.
func (a Asset) Hash() ids.ShortID { return nativeHash("Asset:" + a.String()) }

func (a Asset) valid() bool { return a == Governance || a == Fee }

// Role is a set of keys designated by the committee for a duty other than
// block production.
type Role byte

const (
	RoleStateValidator Role = 4
	RoleOracle         Role = 8
)

func (r Role) valid() bool { return r == RoleStateValidator || r == RoleOracle }

func (r Role) String() string {
	switch r {
	case RoleStateValidator:
		return "StateValidator"
	case RoleOracle:
		return "Oracle"
	default:
		return fmt.Sprintf("Role(%d)", byte(r))
	}
}

// Genesis seeds the engine state.
type Genesis struct {
	// Validators are the public keys of the initial validator set.
	Validators [][]byte
}

// Env describes the block a transaction executes in.
type Env struct {
	Magic     uint32
	Height    uint64
	Timestamp uint64
	TxIndex   uint32
}

// OracleRequest is a pending request for external data.
type OracleRequest struct {
	ID             uint64      `serialize:"true" json:"id"`
	TxID           ids.ID      `serialize:"true" json:"txID"`
	Height         uint64      `serialize:"true" json:"height"`
	Requester      ids.ShortID `serialize:"true" json:"requester"`
	URL            string      `serialize:"true" json:"url"`
	Filter         string      `serialize:"true" json:"filter"`
	Callback       string      `serialize:"true" json:"callback"`
	UserData       []byte      `serialize:"true" json:"userData"`
	GasForResponse uint64      `serialize:"true" json:"gasForResponse"`
}

// Contract is a deployed contract.
type Contract struct {
	Hash     ids.ShortID `serialize:"true" json:"hash"`
	Name     string      `serialize:"true" json:"name"`
	Code     []byte      `serialize:"true" json:"code"`
	Deployer ids.ShortID `serialize:"true" json:"deployer"`
	Height   uint64      `serialize:"true" json:"height"`
}

// Engine executes transactions against ledger state. Every [db] argument is
// the chain-state partition, or an overlay of it.
type Engine interface {
	// Initialize writes the genesis state.
	Initialize(db database.Database, genesis Genesis) error

	// Execute runs the script of [tx]. A script failure yields a FAULT
	// receipt with its writes reverted; the returned error is reserved for
	// failures of [db] itself. Fees are not charged here.
	Execute(db database.Database, env Env, tx *chain.Transaction) (*chain.Receipt, error)

	// VerifyWitness checks witness [index] of [tx] against [signData] and
	// returns the fee its verification costs.
	VerifyWitness(db database.Database, tx *chain.Transaction, signData []byte, index int) (uint64, error)
	// WitnessFee returns what VerifyWitness charges for [signer] with
	// [verification], without checking any signature.
	WitnessFee(db database.Database, signer ids.ShortID, verification []byte) (uint64, error)

	Balance(db database.Database, asset Asset, account ids.ShortID) (uint64, error)
	// ChargeFee burns [amount] of the fee asset from [account].
	ChargeFee(db database.Database, account ids.ShortID, amount uint64) error
	FeePerByte(db database.Database) (uint64, error)

	// Committee returns the account allowed to administer the chain.
	Committee(db database.Database) (ids.ShortID, error)
	// NextValidators returns the validator set the chain elects now.
	NextValidators(db database.Database) ([][]byte, error)
	// DesignatedKeys returns the keys assigned to [role] as of [height].
	DesignatedKeys(db database.Database, role Role, height uint64) ([][]byte, error)

	OracleRequest(db database.Database, id uint64) (*OracleRequest, error)
	OracleRequests(db database.Database) ([]*OracleRequest, error)
	// OracleResponseScript is the only script an oracle response may run.
	OracleResponseScript() []byte

	Contract(db database.Database, hash ids.ShortID) (*Contract, error)
	Contracts(db database.Database) ([]*Contract, error)
	Storage(db database.Database, contract ids.ShortID, key []byte) ([]byte, error)
}
