// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package utils runs sandbox binaries for the process level test suites.
package utils

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-cmd/cmd"
	log "github.com/inconshreveable/log15"
	"github.com/onsi/gomega"

	"github.com/ava-labs/sandboxvm/client"
	"github.com/ava-labs/sandboxvm/sandboxvm"
)

// DefaultHTTPAddress is where suites serve the sandbox under test.
const DefaultHTTPAddress = "127.0.0.1:9660"

// URI returns the endpoint the sandbox serves at [address].
func URI(address string) string {
	return fmt.Sprintf("http://%s/ext/%s", address, sandboxvm.Name)
}

// RunCommand starts [bin] with [args] and returns without waiting for it.
func RunCommand(bin string, args ...string) (*cmd.Cmd, error) {
	log.Info("Executing", "cmd", bin, "args", args)
	c := cmd.NewCmd(bin, args...)
	statusChan := c.Start()

	// Wait briefly to catch commands that fail on startup.
	select {
	case status := <-statusChan:
		if status.Error != nil {
			return nil, status.Error
		}
		if status.Exit != 0 {
			return nil, fmt.Errorf("%s exited with %d: %v", bin, status.Exit, status.Stderr)
		}
	case <-time.After(time.Second):
	}
	return c, nil
}

// CreateConfig writes a [nodes] validator configuration to [dir] with the
// sandbox binary and returns its path.
func CreateConfig(bin string, dir string, nodes int) (string, error) {
	path := filepath.Join(dir, "sandboxvm.yaml")
	status := <-cmd.NewCmd(bin,
		"--create",
		fmt.Sprintf("--nodes=%d", nodes),
		"--config-file="+path,
		"--data-dir="+filepath.Join(dir, "chain"),
		"--force",
	).Start()
	if status.Error != nil {
		return "", status.Error
	}
	if status.Exit != 0 {
		return "", fmt.Errorf("config creation exited with %d: %v", status.Exit, status.Stderr)
	}
	return path, nil
}

// AwaitReady pings [cli] every [freq] until it answers or [ctx] is done.
func AwaitReady(ctx context.Context, cli client.Client, freq time.Duration) (bool, error) {
	ticker := time.NewTicker(freq)
	defer ticker.Stop()

	for {
		if err := cli.Ping(ctx); err == nil {
			return true, nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

// GinkgoSetup returns a BeforeSuite and AfterSuite function to start and
// stop the sandbox at [bin] with a [nodes] validator configuration under
// [dir]. The returned client is valid once BeforeSuite has run.
func GinkgoSetup(bin func() string, dir func() string, nodes int) (beforeSuite func(), afterSuite func(), cli func() client.Client) {
	var (
		startCmd *cmd.Cmd
		c        client.Client
	)

	beforeSuite = func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		configPath, err := CreateConfig(bin(), dir(), nodes)
		gomega.Expect(err).Should(gomega.BeNil())

		startCmd, err = RunCommand(bin(),
			"--config-file="+configPath,
			"--http-address="+DefaultHTTPAddress,
			"--log-level=warn",
		)
		gomega.Expect(err).Should(gomega.BeNil())

		c = client.New(URI(DefaultHTTPAddress))
		ready, err := AwaitReady(ctx, c, 250*time.Millisecond)
		gomega.Expect(err).Should(gomega.BeNil())
		gomega.Expect(ready).Should(gomega.BeTrue())
		log.Info("sandbox is ready", "uri", URI(DefaultHTTPAddress))
	}

	afterSuite = func() {
		gomega.Expect(startCmd).ShouldNot(gomega.BeNil())
		gomega.Expect(startCmd.Stop()).Should(gomega.BeNil())
	}

	return beforeSuite, afterSuite, func() client.Client { return c }
}
