// Copyright 2026 The Rootsmith Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/rootsmith-project/rootsmith/cmd/rootsmith/cli"
	"github.com/rootsmith-project/rootsmith/lib/config"
)

func configCommand() *cli.Command {
	return &cli.Command{
		Name:    "config",
		Summary: "client configuration",
		Subcommands: []*cli.Command{
			configInitCommand(),
		},
	}
}

func configInitCommand() *cli.Command {
	var (
		serverURL   string
		accessToken string
		configPath  string
	)

	flags := func() *pflag.FlagSet {
		set := pflag.NewFlagSet("init", pflag.ContinueOnError)
		set.StringVar(&serverURL, "server-url", "", "management API base URL")
		set.StringVar(&accessToken, "access-token", "", "management API bearer token")
		set.StringVar(&configPath, "config", "", "file to write the configuration to")
		return set
	}

	return &cli.Command{
		Name:    "init",
		Summary: "write the client configuration file",
		Description: "Writes the configuration file the submitting commands read:\n" +
			"the management API base URL and, optionally, a bearer token.\n" +
			"Without --config the file lands at the default location, or at\n" +
			"the path named by the " + config.EnvConfigPath + " environment variable.",
		Examples: []cli.Example{
			{Description: "point the client at the repository service", Command: "rootsmith config init --server-url https://rstuf.example.org"},
		},
		Flags: flags,
		Run: func(args []string) error {
			if len(args) > 0 {
				return cli.Usagef("config init takes no positional arguments")
			}
			if serverURL == "" {
				return cli.Usagef("--server-url is required")
			}

			path := config.ResolvePath(configPath)
			if path == "" {
				return errors.New("no configuration path available; pass --config")
			}

			cfg := &config.Config{ServerURL: serverURL, AccessToken: accessToken}
			if err := cfg.Save(path); err != nil {
				return err
			}
			fmt.Printf("Configuration written to %s.\n", path)
			return nil
		},
	}
}
