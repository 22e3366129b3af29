// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package client

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/ava-labs/sandboxvm/chain"
	"github.com/ava-labs/sandboxvm/checkpoint"
	"github.com/ava-labs/sandboxvm/engine"
	"github.com/ava-labs/sandboxvm/sandboxvm"
)

func newTestClient(t *testing.T) Client {
	require := require.New(t)
	cfg, err := sandboxvm.NewConfig(1, 77)
	require.NoError(err)
	_, err = cfg.AddWallet("alice")
	require.NoError(err)

	vm, err := sandboxvm.New(cfg, engine.NewNative(), nil, prometheus.NewRegistry())
	require.NoError(err)
	handlers, err := vm.CreateHandlers()
	require.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() { errs <- vm.Run(ctx) }()

	server := httptest.NewServer(handlers[""])
	t.Cleanup(func() {
		server.Close()
		cancel()
		require.NoError(<-errs)
		require.NoError(vm.Shutdown())
	})
	return New(server.URL)
}

func TestClientRoundTrip(t *testing.T) {
	require := require.New(t)
	cli := newTestClient(t)
	ctx := context.Background()

	require.NoError(cli.Ping(ctx))
	version, err := cli.Version(ctx)
	require.NoError(err)
	require.Equal(sandboxvm.Version.String(), version)

	genesis, err := cli.GetBlock(ctx, ids.Empty)
	require.NoError(err)
	require.Zero(genesis.Height())

	txID, height, err := cli.Transfer(ctx, "fee", "100", sandboxvm.GenesisWallet, "alice")
	require.NoError(err)
	require.Equal(uint64(1), height)

	blk, err := cli.GetBlockByHeight(ctx, height)
	require.NoError(err)
	require.Equal([]ids.ID{txID}, blk.TxIDs())
	require.Equal(genesis.ID(), blk.Parent())

	receipt, err := cli.GetApplicationLog(ctx, txID)
	require.NoError(err)
	require.Equal(chain.Halt, receipt.State)

	balance, err := cli.GetBalance(ctx, "fee", "alice")
	require.NoError(err)
	require.Equal(uint64(100_0000_0000), balance)

	hash, _, err := cli.DeployContract(ctx, "alice", "store", []byte{0xca, 0xfe})
	require.NoError(err)
	contracts, err := cli.ListContracts(ctx)
	require.NoError(err)
	require.Len(contracts, 1)
	require.Equal(hash, contracts[0].Hash)

	height, err = cli.FastForward(ctx, 2, 0)
	require.NoError(err)
	require.Equal(uint64(4), height)

	path, mode, err := cli.CreateCheckpoint(ctx, filepath.Join(t.TempDir(), "sandbox.checkpoint"), false)
	require.NoError(err)
	require.Equal(checkpoint.Online, mode)
	meta, err := checkpoint.ReadMetadata(path)
	require.NoError(err)
	require.Equal(height, meta.Height)
}

func TestClientOracleFlow(t *testing.T) {
	require := require.New(t)
	cli := newTestClient(t)
	ctx := context.Background()

	_, err := cli.DesignateOracles(ctx, nil)
	require.NoError(err)
	_, _, err = cli.Transfer(ctx, "fee", "100", sandboxvm.GenesisWallet, "alice")
	require.NoError(err)

	req, err := cli.RequestOracle(ctx, "alice", &engine.Request{
		URL:            "https://example.com/weather",
		GasForResponse: engine.MinResponseGas,
	})
	require.NoError(err)
	pending, err := cli.ListOracleRequests(ctx)
	require.NoError(err)
	require.Len(pending, 1)

	txIDs, _, err := cli.SubmitOracleResponse(ctx, sandboxvm.OracleResponse{
		ID:     req.ID,
		Code:   chain.Success,
		Result: []byte(`{"temp":21}`),
	})
	require.NoError(err)
	require.Len(txIDs, 1)

	events, err := cli.GetEvents(ctx, engine.OracleContract, "OracleResponse")
	require.NoError(err)
	require.Len(events, 1)
	require.Equal(txIDs[0], events[0].TxID)

	_, _, err = cli.SubmitOracleResponse(ctx, sandboxvm.OracleResponse{
		ID:     req.ID,
		Code:   chain.Success,
		Result: []byte(`{"temp":22}`),
	})
	require.ErrorContains(err, "not found")
}

func TestClientSubmitTransaction(t *testing.T) {
	require := require.New(t)
	cli := newTestClient(t)
	ctx := context.Background()

	txID, _, err := cli.Transfer(ctx, "fee", "1", sandboxvm.GenesisWallet, "alice")
	require.NoError(err)
	blk, err := cli.GetBlock(ctx, ids.Empty)
	require.NoError(err)
	require.Len(blk.Transactions, 1)
	require.Equal(txID, blk.Transactions[0].ID())

	// resubmitting the same bytes is refused
	_, err = cli.SubmitTransaction(ctx, blk.Transactions[0])
	require.ErrorContains(err, "already committed")
}
