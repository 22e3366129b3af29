// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sandboxvm

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ava-labs/sandboxvm/engine"
	"github.com/ava-labs/sandboxvm/store"
)

// Factory creates instances backed by the native engine and the file lock
// registry under the configured lock directory.
type Factory struct {
	// Registerer receives the instance metrics. Nil uses a private registry.
	Registerer prometheus.Registerer
}

// Registry returns the instance registry [config] is locked in.
func (*Factory) Registry(config *Config) (*store.FileRegistry, error) {
	return store.NewFileRegistry(config.LockDir)
}

// New ...
func (f *Factory) New(config *Config) (*VM, error) {
	registry, err := f.Registry(config)
	if err != nil {
		return nil, err
	}
	registerer := f.Registerer
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	return New(config, engine.NewNative(), registry, registerer)
}
