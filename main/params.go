// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"flag"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ava-labs/sandboxvm/sandboxvm"
)

const (
	versionKey           = "version"
	configFileKey        = "config-file"
	createKey            = "create"
	nodesKey             = "nodes"
	magicKey             = "magic"
	dataDirKey           = "data-dir"
	discardKey           = "discard"
	httpAddressKey       = "http-address"
	logLevelKey          = "log-level"
	secondsPerBlockKey   = "seconds-per-block"
	checkpointCreateKey  = "checkpoint-create"
	checkpointRestoreKey = "checkpoint-restore"
	forceKey             = "force"

	envPrefix = "SANDBOXVM"
)

func buildFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet(sandboxvm.Name, flag.ContinueOnError)

	fs.Bool(versionKey, false, "If true, prints the version and quits")
	fs.String(configFileKey, "sandboxvm.yaml", "Instance configuration file")
	fs.Bool(createKey, false, "If true, writes a fresh configuration to --config-file and quits")
	fs.Int(nodesKey, 1, "Number of validators of a created configuration (1, 4 or 7)")
	fs.Uint(magicKey, 0, "Network magic of a created configuration")
	fs.String(dataDirKey, "", "Overrides the store directory of the configuration")
	fs.Bool(discardKey, false, "If true, writes go to an overlay dropped at shutdown")
	fs.String(httpAddressKey, "", "Overrides the listen address of the configuration")
	fs.String(logLevelKey, "", "Overrides the log level of the configuration")
	fs.Uint(secondsPerBlockKey, 0, "Overrides the block interval of the configuration; 0 builds on demand")
	fs.String(checkpointCreateKey, "", "Writes a checkpoint of the stopped instance to this path and quits")
	fs.String(checkpointRestoreKey, "", "Restores the checkpoint at this path into the store directory and quits")
	fs.Bool(forceKey, false, "If true, checkpoint commands overwrite existing files and directories")

	return fs
}

// getViper returns the viper environment for the sandbox binary
func getViper() (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	fs := buildFlagSet()
	pflag.CommandLine.AddGoFlagSet(fs)
	pflag.Parse()
	if err := v.BindPFlags(pflag.CommandLine); err != nil {
		return nil, err
	}

	return v, nil
}

// loadConfig reads --config-file and applies the command line overrides.
func loadConfig(v *viper.Viper) (*sandboxvm.Config, error) {
	config, err := sandboxvm.LoadConfig(v.GetString(configFileKey))
	if err != nil {
		return nil, err
	}
	if v.IsSet(dataDirKey) {
		config.DataDir = v.GetString(dataDirKey)
	}
	if v.IsSet(discardKey) {
		config.Discard = v.GetBool(discardKey)
	}
	if v.IsSet(httpAddressKey) {
		config.HTTPAddress = v.GetString(httpAddressKey)
	}
	if v.IsSet(logLevelKey) {
		config.LogLevel = v.GetString(logLevelKey)
	}
	if v.IsSet(secondsPerBlockKey) {
		config.SecondsPerBlock = v.GetUint32(secondsPerBlockKey)
	}
	return config, config.Verify()
}
