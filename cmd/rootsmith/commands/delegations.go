// Copyright 2026 The Rootsmith Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/rootsmith-project/rootsmith/cmd/rootsmith/cli"
	"github.com/rootsmith-project/rootsmith/lib/apiclient"
	"github.com/rootsmith-project/rootsmith/lib/delegation"
)

func delegationsCommand() *cli.Command {
	return &cli.Command{
		Name:    "delegations",
		Summary: "succinct hash-bin delegations",
		Subcommands: []*cli.Command{
			delegationsNewCommand(),
		},
	}
}

func delegationsNewCommand() *cli.Command {
	var (
		namePrefix string
		bitLength  int
		outPath    string
		configPath string
		dryRun     bool
		verbose    bool
	)

	flags := func() *pflag.FlagSet {
		set := pflag.NewFlagSet("new", pflag.ContinueOnError)
		set.StringVar(&namePrefix, "name-prefix", "bins", "delegation name prefix")
		set.IntVar(&bitLength, "bit-length", 8, "number of bin index bits (2^n bins)")
		set.StringVar(&outPath, "out", "delegations.json", "file to write the delegations document to")
		set.StringVar(&configPath, "config", "", "client configuration file")
		set.BoolVar(&dryRun, "dry-run", false, "never submit the document to the management API")
		set.BoolVar(&verbose, "verbose", false, "log progress to stderr")
		return set
	}

	return &cli.Command{
		Name:    "new",
		Summary: "create a succinct hash-bin delegations document",
		Description: "Creates the delegations document describing a succinct hash-bin\n" +
			"layout: the name prefix, the bit length, and every bin rolename.\n" +
			"The document is written locally and submitted to the management\n" +
			"API to seed the repository's targets delegation, unless --dry-run\n" +
			"is given.",
		Examples: []cli.Example{
			{Description: "256 bins named bins-00 through bins-ff", Command: "rootsmith delegations new --name-prefix bins --bit-length 8"},
			{Description: "write the document without submitting it", Command: "rootsmith delegations new --bit-length 4 --dry-run"},
		},
		Flags: flags,
		Run: func(args []string) error {
			if len(args) > 0 {
				return cli.Usagef("delegations new takes no positional arguments")
			}

			ctx := context.Background()
			logger := cli.NewCommandLogger(verbose).With("command", "delegations/new")

			var client *apiclient.Client
			if !dryRun {
				loaded, err := loadClient(configPath, logger)
				if err != nil {
					return cli.Usagef("a client configuration or --dry-run is required: %v", err)
				}
				client = loaded
			}

			bins, err := delegation.New(namePrefix, bitLength)
			if err != nil {
				return err
			}
			document, err := bins.Encode()
			if err != nil {
				return err
			}
			if err := os.WriteFile(outPath, document, 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", outPath, err)
			}
			fmt.Printf("Delegations document with %d bins written to %s.\n", bins.NumBins(), outPath)

			if dryRun {
				return nil
			}
			taskID, err := client.SendPayload(ctx, apiclient.PathDelegations, json.RawMessage(document))
			if err != nil {
				return err
			}
			if err := client.WaitForTask(ctx, taskID); err != nil {
				return err
			}
			fmt.Printf("Delegations submitted (task %s).\n", taskID)
			return nil
		},
	}
}
