// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"fmt"

	"github.com/ava-labs/avalanchego/database"

	"github.com/ava-labs/sandboxvm/chain"
)

const (
	IsInitializedKey byte = iota
	NextValidatorsKey
)

var (
	isInitializedKey  = []byte{IsInitializedKey}
	nextValidatorsKey = []byte{NextValidatorsKey}

	_ SingletonState = (*singletonState)(nil)
)

type validatorList struct {
	Keys [][]byte `serialize:"true"`
}

// SingletonState holds the initialization status and the validator set
// committed to by the last accepted block.
type SingletonState interface {
	IsInitialized() (bool, error)
	SetInitialized() error

	// NextValidators returns the keys whose multisig must sign the next
	// block.
	NextValidators() ([][]byte, error)
	SetNextValidators(keys [][]byte) error
}

type singletonState struct {
	singletonDB database.Database
}

func NewSingletonState(db database.Database) SingletonState {
	return &singletonState{
		singletonDB: db,
	}
}

func (s *singletonState) IsInitialized() (bool, error) {
	return s.singletonDB.Has(isInitializedKey)
}

func (s *singletonState) SetInitialized() error {
	return s.singletonDB.Put(isInitializedKey, nil)
}

func (s *singletonState) NextValidators() ([][]byte, error) {
	b, err := s.singletonDB.Get(nextValidatorsKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get next validators: %w", err)
	}
	list := validatorList{}
	if _, err := chain.Codec.Unmarshal(b, &list); err != nil {
		return nil, fmt.Errorf("failed to parse next validators: %w", err)
	}
	return list.Keys, nil
}

func (s *singletonState) SetNextValidators(keys [][]byte) error {
	b, err := chain.Codec.Marshal(chain.CodecVersion, &validatorList{Keys: keys})
	if err != nil {
		return err
	}
	return s.singletonDB.Put(nextValidatorsKey, b)
}
