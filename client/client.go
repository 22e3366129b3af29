// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package client calls the sandbox service over JSON-RPC.
package client

import (
	"context"
	"fmt"

	"github.com/ava-labs/avalanchego/api"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/formatting"
	"github.com/ava-labs/avalanchego/utils/json"
	"github.com/ava-labs/avalanchego/utils/rpc"

	"github.com/ava-labs/sandboxvm/chain"
	"github.com/ava-labs/sandboxvm/checkpoint"
	"github.com/ava-labs/sandboxvm/engine"
	"github.com/ava-labs/sandboxvm/ledger"
	"github.com/ava-labs/sandboxvm/sandboxvm"
)

// Client defines sandbox client operations.
type Client interface {
	Ping(ctx context.Context) error
	Version(ctx context.Context) (string, error)

	// GetBlock fetches the block corresponding to [blockID].
	// Fetches the last accepted block if [blockID] is the empty ID
	GetBlock(ctx context.Context, blockID ids.ID) (*chain.Block, error)
	GetBlockByHeight(ctx context.Context, height uint64) (*chain.Block, error)

	// SubmitTransaction returns the height [tx] was committed at.
	SubmitTransaction(ctx context.Context, tx *chain.Transaction) (uint64, error)
	Transfer(ctx context.Context, asset string, amount string, from string, to string) (ids.ID, uint64, error)
	DeployContract(ctx context.Context, from string, name string, code []byte) (ids.ShortID, uint64, error)
	DesignateOracles(ctx context.Context, keys [][]byte) (uint64, error)
	RequestOracle(ctx context.Context, from string, req *engine.Request) (*engine.OracleRequest, error)
	ListOracleRequests(ctx context.Context) ([]*engine.OracleRequest, error)
	SubmitOracleResponse(ctx context.Context, resp sandboxvm.OracleResponse) ([]ids.ID, uint64, error)
	FastForward(ctx context.Context, count uint32, delta uint64) (uint64, error)
	CreateCheckpoint(ctx context.Context, path string, force bool) (string, checkpoint.Mode, error)

	GetApplicationLog(ctx context.Context, txID ids.ID) (*chain.Receipt, error)
	GetEvents(ctx context.Context, contract ids.ShortID, name string) ([]ledger.EventRecord, error)
	GetBalance(ctx context.Context, asset string, account string) (uint64, error)
	ListContracts(ctx context.Context) ([]*engine.Contract, error)
}

// New creates a new client object.
func New(uri string) Client {
	req := rpc.NewEndpointRequester(uri)
	return &client{req: req}
}

type client struct {
	req rpc.EndpointRequester
}

func method(name string) string { return sandboxvm.ServiceName + "." + name }

func (cli *client) Ping(ctx context.Context) error {
	return cli.req.SendRequest(ctx, method("ping"), &struct{}{}, &api.EmptyReply{})
}

func (cli *client) Version(ctx context.Context) (string, error) {
	resp := new(sandboxvm.VersionReply)
	err := cli.req.SendRequest(ctx, method("version"), &struct{}{}, resp)
	return resp.Version, err
}

func parseBlockReply(resp *sandboxvm.BlockReply) (*chain.Block, error) {
	b, err := formatting.Decode(formatting.Hex, resp.Block)
	if err != nil {
		return nil, err
	}
	blk, err := chain.ParseBlock(b)
	if err != nil {
		return nil, err
	}
	if blk.ID() != resp.ID {
		return nil, fmt.Errorf("block %s was returned for %s", blk.ID(), resp.ID)
	}
	return blk, nil
}

func (cli *client) GetBlock(ctx context.Context, blockID ids.ID) (*chain.Block, error) {
	resp := new(sandboxvm.BlockReply)
	err := cli.req.SendRequest(ctx,
		method("getBlock"),
		&sandboxvm.GetBlockArgs{ID: blockID},
		resp,
	)
	if err != nil {
		return nil, err
	}
	return parseBlockReply(resp)
}

func (cli *client) GetBlockByHeight(ctx context.Context, height uint64) (*chain.Block, error) {
	resp := new(sandboxvm.BlockReply)
	err := cli.req.SendRequest(ctx,
		method("getBlockByHeight"),
		&sandboxvm.GetBlockByHeightArgs{Height: json.Uint64(height)},
		resp,
	)
	if err != nil {
		return nil, err
	}
	return parseBlockReply(resp)
}

func (cli *client) SubmitTransaction(ctx context.Context, tx *chain.Transaction) (uint64, error) {
	encoded, err := formatting.Encode(formatting.Hex, tx.Bytes())
	if err != nil {
		return 0, err
	}
	resp := new(sandboxvm.SubmitReply)
	err = cli.req.SendRequest(ctx,
		method("submitTransaction"),
		&sandboxvm.SubmitTransactionArgs{Tx: encoded},
		resp,
	)
	return uint64(resp.Height), err
}

func (cli *client) Transfer(ctx context.Context, asset string, amount string, from string, to string) (ids.ID, uint64, error) {
	resp := new(sandboxvm.SubmitReply)
	err := cli.req.SendRequest(ctx,
		method("transfer"),
		&sandboxvm.TransferArgs{
			Asset:  asset,
			Amount: amount,
			From:   from,
			To:     to,
		},
		resp,
	)
	return resp.TxID, uint64(resp.Height), err
}

func (cli *client) DeployContract(ctx context.Context, from string, name string, code []byte) (ids.ShortID, uint64, error) {
	encoded, err := formatting.Encode(formatting.Hex, code)
	if err != nil {
		return ids.ShortEmpty, 0, err
	}
	resp := new(sandboxvm.DeployContractReply)
	err = cli.req.SendRequest(ctx,
		method("deployContract"),
		&sandboxvm.DeployContractArgs{From: from, Name: name, Code: encoded},
		resp,
	)
	return resp.Hash, uint64(resp.Height), err
}

func (cli *client) DesignateOracles(ctx context.Context, keys [][]byte) (uint64, error) {
	args := &sandboxvm.DesignateOraclesArgs{Keys: make([]string, len(keys))}
	for i, key := range keys {
		encoded, err := formatting.Encode(formatting.Hex, key)
		if err != nil {
			return 0, err
		}
		args.Keys[i] = encoded
	}
	resp := new(sandboxvm.HeightReply)
	err := cli.req.SendRequest(ctx, method("designateOracles"), args, resp)
	return uint64(resp.Height), err
}

func (cli *client) RequestOracle(ctx context.Context, from string, req *engine.Request) (*engine.OracleRequest, error) {
	args := &sandboxvm.RequestOracleArgs{
		From:           from,
		URL:            req.URL,
		Filter:         req.Filter,
		Callback:       req.Callback,
		GasForResponse: json.Uint64(req.GasForResponse),
	}
	if len(req.UserData) > 0 {
		encoded, err := formatting.Encode(formatting.Hex, req.UserData)
		if err != nil {
			return nil, err
		}
		args.UserData = encoded
	}
	resp := new(sandboxvm.OracleRequestReply)
	err := cli.req.SendRequest(ctx, method("requestOracle"), args, resp)
	return resp.Request, err
}

func (cli *client) ListOracleRequests(ctx context.Context) ([]*engine.OracleRequest, error) {
	resp := new(sandboxvm.OracleRequestsReply)
	err := cli.req.SendRequest(ctx, method("listOracleRequests"), &struct{}{}, resp)
	return resp.Requests, err
}

func (cli *client) SubmitOracleResponse(ctx context.Context, r sandboxvm.OracleResponse) ([]ids.ID, uint64, error) {
	args := &sandboxvm.SubmitOracleResponseArgs{
		ID:   json.Uint64(r.ID),
		URL:  r.URL,
		Code: byte(r.Code),
	}
	if len(r.Result) > 0 {
		encoded, err := formatting.Encode(formatting.Hex, r.Result)
		if err != nil {
			return nil, 0, err
		}
		args.Result = encoded
	}
	resp := new(sandboxvm.SubmitOracleResponseReply)
	err := cli.req.SendRequest(ctx, method("submitOracleResponse"), args, resp)
	return resp.TxIDs, uint64(resp.Height), err
}

func (cli *client) FastForward(ctx context.Context, count uint32, delta uint64) (uint64, error) {
	resp := new(sandboxvm.HeightReply)
	err := cli.req.SendRequest(ctx,
		method("fastForward"),
		&sandboxvm.FastForwardArgs{Count: json.Uint32(count), Delta: json.Uint64(delta)},
		resp,
	)
	return uint64(resp.Height), err
}

func (cli *client) CreateCheckpoint(ctx context.Context, path string, force bool) (string, checkpoint.Mode, error) {
	resp := new(sandboxvm.CreateCheckpointReply)
	err := cli.req.SendRequest(ctx,
		method("createCheckpoint"),
		&sandboxvm.CreateCheckpointArgs{Path: path, Force: force},
		resp,
	)
	return resp.Path, resp.Mode, err
}

func (cli *client) GetApplicationLog(ctx context.Context, txID ids.ID) (*chain.Receipt, error) {
	resp := new(chain.Receipt)
	err := cli.req.SendRequest(ctx,
		method("getApplicationLog"),
		&sandboxvm.TxIDArgs{TxID: txID},
		resp,
	)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (cli *client) GetEvents(ctx context.Context, contract ids.ShortID, name string) ([]ledger.EventRecord, error) {
	resp := new(sandboxvm.GetEventsReply)
	err := cli.req.SendRequest(ctx,
		method("getEvents"),
		&sandboxvm.GetEventsArgs{Contract: contract, Name: name},
		resp,
	)
	return resp.Events, err
}

func (cli *client) GetBalance(ctx context.Context, asset string, account string) (uint64, error) {
	resp := new(sandboxvm.GetBalanceReply)
	err := cli.req.SendRequest(ctx,
		method("getBalance"),
		&sandboxvm.GetBalanceArgs{Asset: asset, Account: account},
		resp,
	)
	return uint64(resp.Balance), err
}

func (cli *client) ListContracts(ctx context.Context) ([]*engine.Contract, error) {
	resp := new(sandboxvm.ListContractsReply)
	err := cli.req.SendRequest(ctx, method("listContracts"), &struct{}{}, resp)
	return resp.Contracts, err
}
