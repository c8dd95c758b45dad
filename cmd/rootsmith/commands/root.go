// Copyright 2026 The Rootsmith Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands defines the rootsmith command tree. Each leaf wires
// the library packages together; the workflows themselves live under
// lib/.
package commands

import (
	"log/slog"

	"github.com/rootsmith-project/rootsmith/cmd/rootsmith/cli"
	"github.com/rootsmith-project/rootsmith/lib/apiclient"
	"github.com/rootsmith-project/rootsmith/lib/config"
)

// Root returns the top-level rootsmith command.
func Root() *cli.Command {
	return &cli.Command{
		Name:        "rootsmith",
		Summary:     "administer a threshold-signed software update repository",
		Description: "Rootsmith runs root metadata update ceremonies and imports\nexisting target files into a hash-bin delegated repository.",
		Subcommands: []*cli.Command{
			rootCommand(),
			targetsCommand(),
			delegationsCommand(),
			keysCommand(),
			configCommand(),
		},
	}
}

// loadClient builds a management API client from the operator's
// configuration file.
func loadClient(configPath string, logger *slog.Logger) (*apiclient.Client, error) {
	cfg, err := config.Load(config.ResolvePath(configPath))
	if err != nil {
		return nil, err
	}
	return apiclient.New(apiclient.Config{
		ServerURL:   cfg.ServerURL,
		AccessToken: cfg.AccessToken,
		Logger:      logger,
	})
}

// metadataClient builds a client for public metadata fetches only; no
// configuration file is needed for those.
func metadataClient(logger *slog.Logger) (*apiclient.Client, error) {
	return apiclient.New(apiclient.Config{Logger: logger})
}
