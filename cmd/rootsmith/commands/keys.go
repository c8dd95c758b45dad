// Copyright 2026 The Rootsmith Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/rootsmith-project/rootsmith/cmd/rootsmith/cli"
	"github.com/rootsmith-project/rootsmith/lib/keymat"
)

func keysCommand() *cli.Command {
	return &cli.Command{
		Name:    "keys",
		Summary: "signing key management",
		Subcommands: []*cli.Command{
			keysGenerateCommand(),
		},
	}
}

func keysGenerateCommand() *cli.Command {
	var (
		name   string
		outDir string
	)

	flags := func() *pflag.FlagSet {
		set := pflag.NewFlagSet("generate", pflag.ContinueOnError)
		set.StringVar(&name, "name", "", "operator-facing name for the key")
		set.StringVar(&outDir, "out-dir", ".", "directory to write the key files to")
		return set
	}

	return &cli.Command{
		Name:    "generate",
		Summary: "generate a passphrase-protected ed25519 keypair",
		Description: "Generates an ed25519 keypair for use in root ceremonies. The\n" +
			"private key is encrypted under a passphrase; the public key is\n" +
			"written as PEM for distribution to the ceremony operator.",
		Examples: []cli.Example{
			{Command: "rootsmith keys generate --name \"alice 2026\""},
		},
		Flags: flags,
		Run: func(args []string) error {
			if len(args) > 0 {
				return cli.Usagef("keys generate takes no positional arguments")
			}
			if name == "" {
				return cli.Usagef("--name is required")
			}

			prompter := cli.NewTerminalPrompter()
			passphrase, err := prompter.Password("Passphrase for the new key")
			if err != nil {
				return err
			}
			defer passphrase.Close()
			again, err := prompter.Password("Repeat the passphrase")
			if err != nil {
				return err
			}
			defer again.Close()
			if passphrase.String() != again.String() {
				return fmt.Errorf("passphrases do not match")
			}

			key, err := keymat.Generate(name)
			if err != nil {
				return err
			}

			base := filepath.Join(outDir, sanitizeFileName(name))
			privatePath := base + ".key.age"
			publicPath := base + ".pub.pem"
			if err := keymat.SavePrivateKey(privatePath, key, passphrase); err != nil {
				return err
			}
			if err := keymat.SavePublicKey(publicPath, key); err != nil {
				return err
			}

			fmt.Printf("Key id:      %s\n", key.ID)
			fmt.Printf("Public key:  %s\n", publicPath)
			fmt.Printf("Private key: %s\n", privatePath)
			return nil
		},
	}
}

// sanitizeFileName turns an operator-facing key name into a safe file
// name stem.
func sanitizeFileName(name string) string {
	stem := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			stem = append(stem, r)
		case r == ' ':
			stem = append(stem, '-')
		}
	}
	if len(stem) == 0 {
		return "key"
	}
	return string(stem)
}
