// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sandboxvm

import (
	"net/http"

	"github.com/gorilla/rpc/v2"

	"github.com/ava-labs/avalanchego/utils/json"
)

// CreateHandlers returns a map where:
// Keys: The path extension for this VM's API
// Values: The handler for the API
func (vm *VM) CreateHandlers() (map[string]http.Handler, error) {
	server := rpc.NewServer()
	codec := json.NewCodec()
	server.RegisterCodec(codec, "application/json")
	server.RegisterCodec(codec, "application/json;charset=UTF-8")
	return map[string]http.Handler{
		"": server,
	}, server.RegisterService(&Service{vm: vm}, ServiceName)
}
