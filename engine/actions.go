// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package engine

import (
	"errors"
	"fmt"

	"github.com/ava-labs/avalanchego/codec"
	"github.com/ava-labs/avalanchego/codec/linearcodec"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/units"
	"github.com/ava-labs/avalanchego/utils/wrappers"
)

const (
	codecVersion   = 0
	maxMessageSize = 4 * units.MiB
)

// Gas prices in fee asset base units.
const (
	TransferGas     uint64 = 1_000_000
	DeployGas       uint64 = 100_000_000
	InvokeGas       uint64 = 100_000
	StorageByteGas  uint64 = 1_000
	RequestGas      uint64 = 50_000_000
	FinishGas       uint64 = 1_000_000
	DesignateGas    uint64 = 1_000_000
	MinResponseGas  uint64 = 10_000_000
	VerifyKeyFee    uint64 = 1_000_000
	OracleVerifyFee uint64 = 1_000_000
	DefaultFeeByte  uint64 = 1_000
)

var (
	errEmptyScript = errors.New("empty script")

	// Codec serializes scripts and engine state.
	Codec codec.Manager

	oracleResponseScript []byte
)

func init() {
	c := linearcodec.NewDefault()
	Codec = codec.NewManager(maxMessageSize)

	errs := wrappers.Errs{}
	errs.Add(
		c.RegisterType(&Transfer{}),
		c.RegisterType(&Deploy{}),
		c.RegisterType(&Invoke{}),
		c.RegisterType(&Request{}),
		c.RegisterType(&Finish{}),
		c.RegisterType(&Designate{}),
	)
	errs.Add(
		Codec.RegisterCodec(codecVersion, c),
	)
	if errs.Errored() {
		panic(errs.Err)
	}

	script, err := EncodeScript(&Finish{})
	if err != nil {
		panic(err)
	}
	oracleResponseScript = script
}

// Action is one step of a script.
type Action interface {
	// Gas returns the system fee the action consumes.
	Gas() uint64

	execute(e *execution) error
}

type script struct {
	Actions []Action `serialize:"true"`
}

// EncodeScript encodes [actions] as a transaction script.
func EncodeScript(actions ...Action) ([]byte, error) {
	return Codec.Marshal(codecVersion, &script{Actions: actions})
}

// DecodeScript parses a transaction script.
func DecodeScript(b []byte) ([]Action, error) {
	s := script{}
	if _, err := Codec.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}
	if len(s.Actions) == 0 {
		return nil, errEmptyScript
	}
	return s.Actions, nil
}

// ScriptGas returns the system fee [b] needs to halt.
func ScriptGas(b []byte) (uint64, error) {
	actions, err := DecodeScript(b)
	if err != nil {
		return 0, err
	}
	var total uint64
	for _, a := range actions {
		total += a.Gas()
	}
	return total, nil
}

// Transfer moves [Amount] of [Asset]. [From] must sign the transaction.
type Transfer struct {
	Asset  Asset       `serialize:"true" json:"asset"`
	From   ids.ShortID `serialize:"true" json:"from"`
	To     ids.ShortID `serialize:"true" json:"to"`
	Amount uint64      `serialize:"true" json:"amount"`
}

func (*Transfer) Gas() uint64 { return TransferGas }

// Deploy creates a contract owned by the sender.
type Deploy struct {
	Name string `serialize:"true" json:"name"`
	Code []byte `serialize:"true" json:"code"`
}

func (d *Deploy) Gas() uint64 { return DeployGas + StorageByteGas*uint64(len(d.Code)) }

// ContractHash returns the hash [deployer] deploying a contract called
// [name] gets.
func ContractHash(deployer ids.ShortID, name string) ids.ShortID {
	return nativeHash("Contract:" + deployer.String() + ":" + name)
}

// Invoke calls a storage method of a deployed contract. Method is "put" or
// "delete".
type Invoke struct {
	Contract ids.ShortID `serialize:"true" json:"contract"`
	Method   string      `serialize:"true" json:"method"`
	Key      []byte      `serialize:"true" json:"key"`
	Value    []byte      `serialize:"true" json:"value"`
}

func (i *Invoke) Gas() uint64 {
	return InvokeGas + StorageByteGas*uint64(len(i.Key)+len(i.Value))
}

// Request asks the oracle for the content of [URL]. [GasForResponse] moves
// from the sender to the oracle contract and pays for the response.
type Request struct {
	URL            string `serialize:"true" json:"url"`
	Filter         string `serialize:"true" json:"filter"`
	Callback       string `serialize:"true" json:"callback"`
	UserData       []byte `serialize:"true" json:"userData"`
	GasForResponse uint64 `serialize:"true" json:"gasForResponse"`
}

func (*Request) Gas() uint64 { return RequestGas }

// Finish settles the request answered by the transaction's oracle response
// attribute.
type Finish struct{}

func (*Finish) Gas() uint64 { return FinishGas }

// Designate assigns [Keys] to [Role] from the next block on. The committee
// must sign the transaction.
type Designate struct {
	Role Role     `serialize:"true" json:"role"`
	Keys [][]byte `serialize:"true" json:"keys"`
}

func (*Designate) Gas() uint64 { return DesignateGas }
