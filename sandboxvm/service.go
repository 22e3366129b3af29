// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sandboxvm

import (
	"net/http"

	"github.com/ava-labs/avalanchego/api"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/formatting"
	"github.com/ava-labs/avalanchego/utils/json"

	"github.com/ava-labs/sandboxvm/chain"
	"github.com/ava-labs/sandboxvm/checkpoint"
	"github.com/ava-labs/sandboxvm/engine"
	"github.com/ava-labs/sandboxvm/ledger"
)

// ServiceName is the name the service is registered under.
const ServiceName = "sandbox"

// Service is the API service for this VM
type Service struct{ vm *VM }

// BlockReply carries a block and its hex encoding.
type BlockReply struct {
	ID        ids.ID      `json:"id"`
	ParentID  ids.ID      `json:"parentID"`
	Height    json.Uint64 `json:"height"`
	Timestamp json.Uint64 `json:"timestamp"`
	TxIDs     []ids.ID    `json:"txIDs"`
	Block     string      `json:"block"`
}

func newBlockReply(blk *chain.Block, reply *BlockReply) error {
	encoded, err := formatting.Encode(formatting.Hex, blk.Bytes())
	if err != nil {
		return err
	}
	*reply = BlockReply{
		ID:        blk.ID(),
		ParentID:  blk.Parent(),
		Height:    json.Uint64(blk.Height()),
		Timestamp: json.Uint64(blk.Timestamp()),
		TxIDs:     blk.TxIDs(),
		Block:     encoded,
	}
	return nil
}

// GetBlockArgs selects a block by ID. The empty ID selects the latest block.
type GetBlockArgs struct {
	ID ids.ID `json:"id"`
}

// GetBlock gets the block whose ID is [args.ID]
// If [args.ID] is empty, get the latest block
func (s *Service) GetBlock(_ *http.Request, args *GetBlockArgs, reply *BlockReply) error {
	var (
		blk *chain.Block
		err error
	)
	if args.ID == ids.Empty {
		blk, err = s.vm.GetLatestBlock()
	} else {
		blk, err = s.vm.GetBlock(args.ID)
	}
	if err != nil {
		return err
	}
	return newBlockReply(blk, reply)
}

type GetBlockByHeightArgs struct {
	Height json.Uint64 `json:"height"`
}

func (s *Service) GetBlockByHeight(_ *http.Request, args *GetBlockByHeightArgs, reply *BlockReply) error {
	blk, err := s.vm.GetBlockByHeight(uint64(args.Height))
	if err != nil {
		return err
	}
	return newBlockReply(blk, reply)
}

// SubmitTransactionArgs holds a hex encoded signed transaction.
type SubmitTransactionArgs struct {
	Tx string `json:"tx"`
}

// SubmitReply tells where a transaction was committed.
type SubmitReply struct {
	TxID   ids.ID      `json:"txID"`
	Height json.Uint64 `json:"height"`
}

// SubmitTransaction returns once the transaction is committed.
func (s *Service) SubmitTransaction(r *http.Request, args *SubmitTransactionArgs, reply *SubmitReply) error {
	b, err := formatting.Decode(formatting.Hex, args.Tx)
	if err != nil {
		return err
	}
	tx, err := chain.ParseTransaction(b)
	if err != nil {
		return err
	}
	height, err := s.vm.SubmitTransaction(r.Context(), tx)
	if err != nil {
		return err
	}
	reply.TxID = tx.ID()
	reply.Height = json.Uint64(height)
	return nil
}

type TransferArgs struct {
	Asset string `json:"asset"`
	// Amount is in display units, or "all".
	Amount string `json:"amount"`
	From   string `json:"from"`
	To     string `json:"to"`
}

func (s *Service) Transfer(r *http.Request, args *TransferArgs, reply *SubmitReply) error {
	tx, height, err := s.vm.Transfer(r.Context(), args.Asset, args.Amount, args.From, args.To)
	if err != nil {
		return err
	}
	reply.TxID = tx.ID()
	reply.Height = json.Uint64(height)
	return nil
}

type DeployContractArgs struct {
	From string `json:"from"`
	Name string `json:"name"`
	// Code is hex encoded.
	Code string `json:"code"`
}

type DeployContractReply struct {
	Hash   ids.ShortID `json:"hash"`
	Height json.Uint64 `json:"height"`
}

func (s *Service) DeployContract(r *http.Request, args *DeployContractArgs, reply *DeployContractReply) error {
	code, err := formatting.Decode(formatting.Hex, args.Code)
	if err != nil {
		return err
	}
	hash, height, err := s.vm.DeployContract(r.Context(), args.From, args.Name, code)
	if err != nil {
		return err
	}
	reply.Hash = hash
	reply.Height = json.Uint64(height)
	return nil
}

type DesignateOraclesArgs struct {
	// Keys are hex encoded public keys. None designates the validators.
	Keys []string `json:"keys"`
}

type HeightReply struct {
	Height json.Uint64 `json:"height"`
}

func (s *Service) DesignateOracles(r *http.Request, args *DesignateOraclesArgs, reply *HeightReply) error {
	keys := make([][]byte, len(args.Keys))
	for i, key := range args.Keys {
		b, err := formatting.Decode(formatting.Hex, key)
		if err != nil {
			return err
		}
		keys[i] = b
	}
	height, err := s.vm.DesignateOracles(r.Context(), keys)
	reply.Height = json.Uint64(height)
	return err
}

type RequestOracleArgs struct {
	From           string      `json:"from"`
	URL            string      `json:"url"`
	Filter         string      `json:"filter"`
	Callback       string      `json:"callback"`
	UserData       string      `json:"userData"`
	GasForResponse json.Uint64 `json:"gasForResponse"`
}

type OracleRequestReply struct {
	Request *engine.OracleRequest `json:"request"`
}

func (s *Service) RequestOracle(r *http.Request, args *RequestOracleArgs, reply *OracleRequestReply) error {
	var userData []byte
	if args.UserData != "" {
		var err error
		userData, err = formatting.Decode(formatting.Hex, args.UserData)
		if err != nil {
			return err
		}
	}
	req, err := s.vm.RequestOracle(r.Context(), args.From, &engine.Request{
		URL:            args.URL,
		Filter:         args.Filter,
		Callback:       args.Callback,
		UserData:       userData,
		GasForResponse: uint64(args.GasForResponse),
	})
	reply.Request = req
	return err
}

type OracleRequestsReply struct {
	Requests []*engine.OracleRequest `json:"requests"`
}

func (s *Service) ListOracleRequests(_ *http.Request, _ *struct{}, reply *OracleRequestsReply) error {
	requests, err := s.vm.OracleRequests()
	reply.Requests = requests
	return err
}

// SubmitOracleResponseArgs answer request [ID], or every pending request
// for [URL] when it is set.
type SubmitOracleResponseArgs struct {
	ID   json.Uint64 `json:"id"`
	URL  string      `json:"url"`
	Code byte        `json:"code"`
	// Result is hex encoded.
	Result string `json:"result"`
}

type SubmitOracleResponseReply struct {
	TxIDs  []ids.ID    `json:"txIDs"`
	Height json.Uint64 `json:"height"`
}

func (s *Service) SubmitOracleResponse(r *http.Request, args *SubmitOracleResponseArgs, reply *SubmitOracleResponseReply) error {
	var result []byte
	if args.Result != "" {
		var err error
		result, err = formatting.Decode(formatting.Hex, args.Result)
		if err != nil {
			return err
		}
	}
	txIDs, height, err := s.vm.SubmitOracleResponse(r.Context(), OracleResponse{
		ID:     uint64(args.ID),
		URL:    args.URL,
		Code:   chain.ResponseCode(args.Code),
		Result: result,
	})
	if err != nil {
		return err
	}
	reply.TxIDs = txIDs
	reply.Height = json.Uint64(height)
	return nil
}

type FastForwardArgs struct {
	Count json.Uint32 `json:"count"`
	// Delta is added to the timestamp of the last block, in milliseconds.
	Delta json.Uint64 `json:"delta"`
}

func (s *Service) FastForward(r *http.Request, args *FastForwardArgs, reply *HeightReply) error {
	height, err := s.vm.FastForward(r.Context(), int(args.Count), uint64(args.Delta))
	reply.Height = json.Uint64(height)
	return err
}

type CreateCheckpointArgs struct {
	Path  string `json:"path"`
	Force bool   `json:"force"`
}

type CreateCheckpointReply struct {
	Path string          `json:"path"`
	Mode checkpoint.Mode `json:"mode"`
}

func (s *Service) CreateCheckpoint(r *http.Request, args *CreateCheckpointArgs, reply *CreateCheckpointReply) error {
	path, mode, err := s.vm.CreateCheckpoint(r.Context(), args.Path, args.Force)
	if err != nil {
		return err
	}
	reply.Path = path
	reply.Mode = mode
	return nil
}

type TxIDArgs struct {
	TxID ids.ID `json:"txID"`
}

func (s *Service) GetApplicationLog(_ *http.Request, args *TxIDArgs, reply *chain.Receipt) error {
	receipt, err := s.vm.GetApplicationLog(args.TxID)
	if err != nil {
		return err
	}
	*reply = *receipt
	return nil
}

type GetEventsArgs struct {
	Contract ids.ShortID `json:"contract"`
	Name     string      `json:"name"`
}

type GetEventsReply struct {
	Events []ledger.EventRecord `json:"events"`
}

func (s *Service) GetEvents(_ *http.Request, args *GetEventsArgs, reply *GetEventsReply) error {
	events, err := s.vm.Events(args.Contract, args.Name)
	reply.Events = events
	return err
}

type GetBalanceArgs struct {
	Asset   string `json:"asset"`
	Account string `json:"account"`
}

type GetBalanceReply struct {
	Balance json.Uint64 `json:"balance"`
}

func (s *Service) GetBalance(_ *http.Request, args *GetBalanceArgs, reply *GetBalanceReply) error {
	balance, err := s.vm.Balance(args.Asset, args.Account)
	reply.Balance = json.Uint64(balance)
	return err
}

type ListContractsReply struct {
	Contracts []*engine.Contract `json:"contracts"`
}

func (s *Service) ListContracts(_ *http.Request, _ *struct{}, reply *ListContractsReply) error {
	contracts, err := s.vm.Contracts()
	reply.Contracts = contracts
	return err
}

type VersionReply struct {
	Version string `json:"version"`
}

func (*Service) Version(_ *http.Request, _ *struct{}, reply *VersionReply) error {
	reply.Version = Version.String()
	return nil
}

// Ping is a liveness check.
func (*Service) Ping(_ *http.Request, _ *struct{}, _ *api.EmptyReply) error {
	return nil
}
