// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package engine

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/database/prefixdb"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/wrappers"

	safemath "github.com/ava-labs/avalanchego/utils/math"

	"github.com/ava-labs/sandboxvm/chain"
)

const (
	// GovernanceSupply is minted to the committee at genesis.
	GovernanceSupply uint64 = 100_000_000
	// FeeSupply is minted to the committee at genesis.
	FeeSupply uint64 = 52_000_000 * 100_000_000
)

var (
	nativePrefix = []byte("native")

	balancePrefix  = []byte{'b'}
	contractPrefix = []byte{'c'}
	storagePrefix  = []byte{'s'}
	requestPrefix  = []byte{'o'}
	rolePrefix     = []byte{'r'}

	nextRequestKey    = []byte{'i'}
	nextValidatorsKey = []byte{'v'}
	committeeKey      = []byte{'m'}
	feePerByteKey     = []byte{'f'}

	_ Engine = (*Native)(nil)
)

type keyList struct {
	Keys [][]byte `serialize:"true"`
}

// Native is the built-in engine: two native assets, contracts with
// key-value storage, oracle requests and role designation.
type Native struct{}

// NewNative returns the native engine.
func NewNative() *Native { return &Native{} }

func nativeDB(db database.Database) database.Database {
	return prefixdb.NewNested(nativePrefix, db)
}

func join(parts ...[]byte) []byte {
	size := 0
	for _, p := range parts {
		size += len(p)
	}
	key := make([]byte, 0, size)
	for _, p := range parts {
		key = append(key, p...)
	}
	return key
}

func uint64Bytes(v uint64) []byte {
	b := make([]byte, wrappers.LongLen)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func getUint64(db database.Database, key []byte) (uint64, error) {
	b, err := db.Get(key)
	if errors.Is(err, database.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(b) != wrappers.LongLen {
		return 0, fmt.Errorf("malformed value of length %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

func balanceKey(asset Asset, account ids.ShortID) []byte {
	return join(balancePrefix, []byte{byte(asset)}, account[:])
}

func getBalance(db database.Database, asset Asset, account ids.ShortID) (uint64, error) {
	return getUint64(db, balanceKey(asset, account))
}

func setBalance(db database.Database, asset Asset, account ids.ShortID, amount uint64) error {
	key := balanceKey(asset, account)
	if amount == 0 {
		return db.Delete(key)
	}
	return db.Put(key, uint64Bytes(amount))
}

func credit(db database.Database, asset Asset, account ids.ShortID, amount uint64) error {
	balance, err := getBalance(db, asset, account)
	if err != nil {
		return err
	}
	balance, err = safemath.Add64(balance, amount)
	if err != nil {
		return err
	}
	return setBalance(db, asset, account, balance)
}

func debit(db database.Database, asset Asset, account ids.ShortID, amount uint64) error {
	balance, err := getBalance(db, asset, account)
	if err != nil {
		return err
	}
	if balance < amount {
		return fmt.Errorf("%w: %s holds %d %s but needs %d", ErrInsufficientFunds, account, balance, asset, amount)
	}
	return setBalance(db, asset, account, balance-amount)
}

func putKeys(db database.Database, key []byte, keys [][]byte) error {
	b, err := Codec.Marshal(codecVersion, &keyList{Keys: keys})
	if err != nil {
		return err
	}
	return db.Put(key, b)
}

func getKeys(db database.Database, key []byte) ([][]byte, error) {
	b, err := db.Get(key)
	if err != nil {
		return nil, err
	}
	list := keyList{}
	if _, err := Codec.Unmarshal(b, &list); err != nil {
		return nil, err
	}
	return list.Keys, nil
}

func (*Native) Initialize(db database.Database, genesis Genesis) error {
	committee, err := chain.NewBFTMultisig(genesis.Validators)
	if err != nil {
		return fmt.Errorf("invalid genesis validators: %w", err)
	}
	ndb := nativeDB(db)
	committeeHash := committee.ScriptHash()

	errs := wrappers.Errs{}
	errs.Add(
		ndb.Put(committeeKey, committeeHash[:]),
		putKeys(ndb, nextValidatorsKey, committee.PublicKeys),
		ndb.Put(feePerByteKey, uint64Bytes(DefaultFeeByte)),
		ndb.Put(nextRequestKey, uint64Bytes(0)),
		setBalance(ndb, Governance, committeeHash, GovernanceSupply),
		setBalance(ndb, Fee, committeeHash, FeeSupply),
	)
	return errs.Err
}

func (*Native) Balance(db database.Database, asset Asset, account ids.ShortID) (uint64, error) {
	if !asset.valid() {
		return 0, ErrUnknownAsset
	}
	return getBalance(nativeDB(db), asset, account)
}

func (*Native) ChargeFee(db database.Database, account ids.ShortID, amount uint64) error {
	return debit(nativeDB(db), Fee, account, amount)
}

func (*Native) FeePerByte(db database.Database) (uint64, error) {
	return getUint64(nativeDB(db), feePerByteKey)
}

func (*Native) Committee(db database.Database) (ids.ShortID, error) {
	b, err := nativeDB(db).Get(committeeKey)
	if err != nil {
		return ids.ShortEmpty, fmt.Errorf("failed to get committee: %w", err)
	}
	return ids.ToShortID(b)
}

func (*Native) NextValidators(db database.Database) ([][]byte, error) {
	keys, err := getKeys(nativeDB(db), nextValidatorsKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get next validators: %w", err)
	}
	return keys, nil
}

func roleKey(role Role, height uint64) []byte {
	return join(rolePrefix, []byte{byte(role)}, uint64Bytes(height))
}

func (*Native) DesignatedKeys(db database.Database, role Role, height uint64) ([][]byte, error) {
	if !role.valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRole, role)
	}
	ndb := nativeDB(db)
	prefix := join(rolePrefix, []byte{byte(role)})
	it := ndb.NewIteratorWithPrefix(prefix)
	defer it.Release()

	var keys [][]byte
	for it.Next() {
		designated := binary.BigEndian.Uint64(it.Key()[len(prefix):])
		if designated > height {
			break
		}
		list := keyList{}
		if _, err := Codec.Unmarshal(it.Value(), &list); err != nil {
			return nil, err
		}
		keys = list.Keys
	}
	return keys, it.Error()
}

func requestKey(id uint64) []byte {
	return join(requestPrefix, uint64Bytes(id))
}

func (*Native) OracleRequest(db database.Database, id uint64) (*OracleRequest, error) {
	b, err := nativeDB(db).Get(requestKey(id))
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrRequestNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	req := &OracleRequest{}
	if _, err := Codec.Unmarshal(b, req); err != nil {
		return nil, err
	}
	return req, nil
}

func (*Native) OracleRequests(db database.Database) ([]*OracleRequest, error) {
	it := nativeDB(db).NewIteratorWithPrefix(requestPrefix)
	defer it.Release()

	var requests []*OracleRequest
	for it.Next() {
		req := &OracleRequest{}
		if _, err := Codec.Unmarshal(it.Value(), req); err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return requests, it.Error()
}

func (*Native) OracleResponseScript() []byte {
	return append([]byte(nil), oracleResponseScript...)
}

func (*Native) Contract(db database.Database, hash ids.ShortID) (*Contract, error) {
	return getContract(nativeDB(db), hash)
}

func getContract(ndb database.Database, hash ids.ShortID) (*Contract, error) {
	b, err := ndb.Get(join(contractPrefix, hash[:]))
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrContractNotFound, hash)
	}
	if err != nil {
		return nil, err
	}
	c := &Contract{}
	if _, err := Codec.Unmarshal(b, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (*Native) Contracts(db database.Database) ([]*Contract, error) {
	it := nativeDB(db).NewIteratorWithPrefix(contractPrefix)
	defer it.Release()

	var contracts []*Contract
	for it.Next() {
		c := &Contract{}
		if _, err := Codec.Unmarshal(it.Value(), c); err != nil {
			return nil, err
		}
		contracts = append(contracts, c)
	}
	return contracts, it.Error()
}

func (*Native) Storage(db database.Database, contract ids.ShortID, key []byte) ([]byte, error) {
	return nativeDB(db).Get(join(storagePrefix, contract[:], key))
}
