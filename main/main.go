// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/inconshreveable/log15"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/ava-labs/sandboxvm/checkpoint"
	"github.com/ava-labs/sandboxvm/sandboxvm"
)

const shutdownTimeout = 5 * time.Second

func main() {
	v, err := getViper()
	if err != nil {
		fmt.Printf("couldn't get config: %s\n", err)
		os.Exit(1)
	}
	// Print version and exit
	if v.GetBool(versionKey) {
		fmt.Printf("%s@%s\n", sandboxvm.Name, sandboxvm.Version)
		os.Exit(0)
	}
	if v.GetBool(createKey) {
		if err := create(v); err != nil {
			fmt.Printf("couldn't create config: %s\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	config, err := loadConfig(v)
	if err != nil {
		fmt.Printf("couldn't load config: %s\n", err)
		os.Exit(1)
	}
	lvl, err := log.LvlFromString(config.LogLevel)
	if err != nil {
		fmt.Printf("invalid log level %q: %s\n", config.LogLevel, err)
		os.Exit(1)
	}
	log.Root().SetHandler(log.LvlFilterHandler(lvl, log.StreamHandler(os.Stderr, log.TerminalFormat())))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case v.GetString(checkpointCreateKey) != "":
		err = createCheckpoint(ctx, config, v.GetString(checkpointCreateKey), v.GetBool(forceKey))
	case v.GetString(checkpointRestoreKey) != "":
		err = restoreCheckpoint(ctx, config, v.GetString(checkpointRestoreKey), v.GetBool(forceKey))
	default:
		err = serve(ctx, config)
	}
	if err != nil {
		log.Error("sandbox exited with an error", "kind", sandboxvm.KindOf(err), "err", err)
		os.Exit(1)
	}
}

func create(v *viper.Viper) error {
	config, err := sandboxvm.NewConfig(v.GetInt(nodesKey), uint32(v.GetUint(magicKey)))
	if err != nil {
		return err
	}
	if v.IsSet(dataDirKey) {
		config.DataDir = v.GetString(dataDirKey)
	}
	path := v.GetString(configFileKey)
	if _, err := os.Stat(path); err == nil && !v.GetBool(forceKey) {
		return fmt.Errorf("%s already exists", path)
	}
	if err := config.Save(path); err != nil {
		return err
	}
	fmt.Printf("wrote %d-node configuration to %s\n", len(config.Validators), path)
	return nil
}

func checkpointManager(config *sandboxvm.Config) (*checkpoint.Manager, error) {
	registry, err := (&sandboxvm.Factory{}).Registry(config)
	if err != nil {
		return nil, err
	}
	return sandboxvm.NewCheckpointManager(config, registry)
}

func createCheckpoint(ctx context.Context, config *sandboxvm.Config, path string, force bool) error {
	manager, err := checkpointManager(config)
	if err != nil {
		return err
	}
	path, mode, err := manager.Create(ctx, path, force)
	if err != nil {
		return err
	}
	log.Info("created checkpoint", "path", path, "mode", mode)
	return nil
}

func restoreCheckpoint(ctx context.Context, config *sandboxvm.Config, path string, force bool) error {
	manager, err := checkpointManager(config)
	if err != nil {
		return err
	}
	meta, err := manager.Restore(ctx, path, config.DataDir, checkpoint.RestoreOptions{Force: force})
	if err != nil {
		return err
	}
	log.Info("restored checkpoint", "path", path, "height", meta.Height, "dataDir", config.DataDir)
	return nil
}

func serve(ctx context.Context, config *sandboxvm.Config) error {
	registry := prometheus.NewRegistry()
	vm, err := (&sandboxvm.Factory{Registerer: registry}).New(config)
	if err != nil {
		return err
	}
	handlers, err := vm.CreateHandlers()
	if err != nil {
		return errors.Join(err, vm.Shutdown())
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	for endpoint, handler := range handlers {
		mux.Handle("/ext/"+sandboxvm.Name+endpoint, handler)
	}
	server := &http.Server{
		Addr:              config.HTTPAddress,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return vm.Run(gctx)
	})
	g.Go(func() error {
		log.Info("serving sandbox", "address", config.HTTPAddress, "endpoint", "/ext/"+sandboxvm.Name)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	return errors.Join(err, vm.Shutdown())
}
