// Copyright 2026 The Rootsmith Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/rootsmith-project/rootsmith/cmd/rootsmith/cli"
	"github.com/rootsmith-project/rootsmith/lib/apiclient"
	"github.com/rootsmith-project/rootsmith/lib/delegation"
	"github.com/rootsmith-project/rootsmith/lib/importer"
	"github.com/rootsmith-project/rootsmith/lib/targetstore"
)

func targetsCommand() *cli.Command {
	return &cli.Command{
		Name:    "targets",
		Summary: "target file management",
		Subcommands: []*cli.Command{
			targetsImportCommand(),
		},
	}
}

func targetsImportCommand() *cli.Command {
	var (
		dbPath      string
		sources     []string
		metadataURL string
		namePrefix  string
		bitLength   int
		skipPublish bool
		configPath  string
		verbose     bool
	)

	flags := func() *pflag.FlagSet {
		set := pflag.NewFlagSet("import", pflag.ContinueOnError)
		set.StringVar(&dbPath, "db-uri", "", "SQLite database file holding the target table")
		set.StringArrayVar(&sources, "source", nil, "target description file (path;length;algorithm;digest per line, .gz accepted); repeatable")
		set.StringVar(&metadataURL, "metadata-url", "", "public metadata URL to read the bin layout from")
		set.StringVar(&namePrefix, "name-prefix", "", "bin delegation name prefix (alternative to --metadata-url)")
		set.IntVar(&bitLength, "bit-length", 0, "bin delegation bit length (alternative to --metadata-url)")
		set.BoolVar(&skipPublish, "skip-publish-targets", false, "do not trigger the publish-targets action after the import")
		set.StringVar(&configPath, "config", "", "client configuration file")
		set.BoolVar(&verbose, "verbose", false, "log progress to stderr")
		return set
	}

	return &cli.Command{
		Name:    "import",
		Summary: "import described target files into the repository",
		Description: "Parses one or more target description files, assigns every\n" +
			"target to its hash bin, and commits all records in a single\n" +
			"all-or-nothing batch. A successful import triggers the\n" +
			"publish-targets action unless --skip-publish-targets is given.",
		Examples: []cli.Example{
			{Description: "import and publish", Command: "rootsmith targets import --db-uri targets.db --metadata-url https://repo.example.org/metadata --source targets.csv"},
			{Description: "offline import with an explicit bin layout", Command: "rootsmith targets import --db-uri targets.db --name-prefix bins --bit-length 8 --source targets.csv.gz --skip-publish-targets"},
		},
		Flags: flags,
		Run: func(args []string) error {
			if len(args) > 0 {
				return cli.Usagef("targets import takes no positional arguments")
			}
			if dbPath == "" {
				return cli.Usagef("--db-uri is required")
			}
			if len(sources) == 0 {
				return cli.Usagef("at least one --source is required")
			}
			explicitLayout := namePrefix != "" || bitLength != 0
			if (metadataURL == "") == !explicitLayout {
				return cli.Usagef("exactly one of --metadata-url or --name-prefix/--bit-length is required")
			}

			ctx := context.Background()
			logger := cli.NewCommandLogger(verbose).With("command", "targets/import")

			var (
				bins *delegation.SuccinctBins
				err  error
			)
			if metadataURL != "" {
				client, err := metadataClient(logger)
				if err != nil {
					return err
				}
				document, err := client.FetchTargets(ctx, metadataURL)
				if err != nil {
					return err
				}
				bins, err = delegation.ParseTargetsMetadata(document)
				if err != nil {
					return err
				}
			} else {
				bins, err = delegation.New(namePrefix, bitLength)
				if err != nil {
					return err
				}
			}

			store, err := targetstore.Open(targetstore.Config{Path: dbPath, Logger: logger})
			if err != nil {
				return err
			}
			defer store.Close()

			var publisher importer.Publisher
			if !skipPublish {
				client, err := loadClient(configPath, logger)
				if err != nil {
					return err
				}
				publisher = client
			}

			run, err := importer.New(importer.Config{
				Store:     store,
				Bins:      bins,
				Publisher: publisher,
				Logger:    logger,
			})
			if err != nil {
				return err
			}

			report, err := run.Run(ctx, sources, !skipPublish)
			if err != nil {
				return err
			}

			for _, source := range report.Sources {
				fmt.Printf("%s: %d targets\n", source.Source, source.Records)
			}
			if report.TaskID != "" {
				fmt.Printf("Imported %d targets and published (task %s).\n", report.Records, report.TaskID)
			} else {
				fmt.Printf("Imported %d targets; publishing skipped.\n", report.Records)
			}
			return nil
		},
	}
}

var _ importer.Publisher = (*apiclient.Client)(nil)
