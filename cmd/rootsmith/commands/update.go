// Copyright 2026 The Rootsmith Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/rootsmith-project/rootsmith/cmd/rootsmith/cli"
	"github.com/rootsmith-project/rootsmith/lib/ceremony"
	"github.com/rootsmith-project/rootsmith/lib/rootmeta"
	"github.com/rootsmith-project/rootsmith/lib/sink"
)

func rootCommand() *cli.Command {
	return &cli.Command{
		Name:    "root",
		Summary: "root metadata ceremonies",
		Subcommands: []*cli.Command{
			rootUpdateCommand(),
		},
	}
}

func rootUpdateCommand() *cli.Command {
	var (
		inPath      string
		metadataURL string
		resumePath  string
		outPath     string
		configPath  string
		dryRun      bool
		verbose     bool
	)

	flags := func() *pflag.FlagSet {
		set := pflag.NewFlagSet("update", pflag.ContinueOnError)
		set.StringVar(&inPath, "in", "", "file holding the current trusted root metadata")
		set.StringVar(&metadataURL, "metadata-url", "", "public metadata URL to fetch the current root from")
		set.StringVar(&resumePath, "resume", "", "file holding a partially signed pending version to continue")
		set.StringVar(&outPath, "out", "root_metadata.json", "file to write the ceremony result to")
		set.StringVar(&configPath, "config", "", "client configuration file")
		set.BoolVar(&dryRun, "dry-run", false, "never submit the result to the management API")
		set.BoolVar(&verbose, "verbose", false, "log progress to stderr")
		return set
	}

	return &cli.Command{
		Name:    "update",
		Summary: "run an interactive root metadata update ceremony",
		Description: "Runs the interactive ceremony that produces the next root\n" +
			"metadata version: edit the root keys and threshold, optionally\n" +
			"rotate the online key, and collect signatures until both the\n" +
			"outgoing and the incoming thresholds are met. A partially signed\n" +
			"result is saved for the next key holder.",
		Examples: []cli.Example{
			{Description: "update against the live repository", Command: "rootsmith root update --metadata-url https://repo.example.org/metadata"},
			{Description: "offline ceremony from a local file", Command: "rootsmith root update --in 1.root.json --dry-run"},
			{Description: "add the second signature to a pending version", Command: "rootsmith root update --in 1.root.json --resume root_metadata.json --dry-run"},
		},
		Flags: flags,
		Run: func(args []string) error {
			if len(args) > 0 {
				return cli.Usagef("root update takes no positional arguments")
			}
			if (inPath == "") == (metadataURL == "") {
				return cli.Usagef("exactly one of --in or --metadata-url is required")
			}

			ctx := context.Background()
			logger := cli.NewCommandLogger(verbose).With("command", "root/update")

			// Submission needs a readable client configuration; resolve it
			// before the ceremony so a misconfigured operator finds out
			// before any key holder signs anything.
			var submitter sink.Submitter
			if !dryRun {
				client, err := loadClient(configPath, logger)
				if err != nil {
					return cli.Usagef("a client configuration or --dry-run is required: %v", err)
				}
				submitter = client
			}

			trusted, err := loadTrustedRoot(ctx, inPath, metadataURL, logger)
			if err != nil {
				return err
			}

			runner, err := ceremony.New(ceremony.Config{
				Prompter: cli.NewTerminalPrompter(),
				Logger:   logger,
			})
			if err != nil {
				return err
			}

			var result *ceremony.Result
			if resumePath != "" {
				pending, err := readMetadataFile(resumePath)
				if err != nil {
					return err
				}
				result, err = runner.Resume(pending, trusted)
				if err != nil {
					return err
				}
			} else {
				result, err = runner.Run(trusted)
				if err != nil {
					return err
				}
			}

			destination := sink.Sink{LocalPath: outPath, Submitter: submitter, Logger: logger}
			receipt, err := destination.Deposit(ctx, result.Metadata, result.Pending)
			if err != nil {
				return err
			}

			switch {
			case result.Pending:
				fmt.Printf("Pending version %d written to %s (%d more old-role and %d more new-role signatures needed).\n",
					result.Metadata.Signed.Version, receipt.LocalPath, result.MissingOld, result.MissingNew)
			case receipt.Submitted:
				fmt.Printf("Version %d written to %s and submitted (task %s).\n",
					result.Metadata.Signed.Version, receipt.LocalPath, receipt.TaskID)
			default:
				fmt.Printf("Version %d written to %s.\n", result.Metadata.Signed.Version, receipt.LocalPath)
			}
			return nil
		},
	}
}

func loadTrustedRoot(ctx context.Context, inPath, metadataURL string, logger *slog.Logger) (*rootmeta.Metadata, error) {
	if inPath != "" {
		return readMetadataFile(inPath)
	}
	client, err := metadataClient(logger)
	if err != nil {
		return nil, err
	}
	return client.FetchRoot(ctx, metadataURL)
}

func readMetadataFile(path string) (*rootmeta.Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	metadata, err := rootmeta.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return metadata, nil
}
