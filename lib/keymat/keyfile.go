// Copyright 2026 The Rootsmith Authors
// SPDX-License-Identifier: Apache-2.0

package keymat

import (
	"bytes"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"os"

	"filippo.io/age"

	"github.com/rootsmith-project/rootsmith/lib/secret"
)

// Private key files are PKCS#8 PEM wrapped in an age scrypt
// (passphrase) envelope. The passphrase never touches the filesystem;
// it arrives in a secret.Buffer and is converted to a string only at
// the age API boundary.

// SavePrivateKey encrypts the key's private material under the given
// passphrase and writes it to path with owner-only permissions.
func SavePrivateKey(path string, key *Key, passphrase *secret.Buffer) error {
	if key.signer == nil {
		return fmt.Errorf("keymat: key %s has no private material to save", key.ID)
	}

	der, err := x509.MarshalPKCS8PrivateKey(key.signer)
	if err != nil {
		return fmt.Errorf("keymat: encoding private key: %w", err)
	}
	plaintext := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	defer secret.Zero(plaintext)

	recipient, err := age.NewScryptRecipient(passphrase.String())
	if err != nil {
		return fmt.Errorf("keymat: building scrypt recipient: %w", err)
	}

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, recipient)
	if err != nil {
		return fmt.Errorf("keymat: creating age encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return fmt.Errorf("keymat: encrypting private key: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("keymat: finalizing age encryption: %w", err)
	}

	if err := os.WriteFile(path, ciphertext.Bytes(), 0600); err != nil {
		return fmt.Errorf("keymat: writing %s: %w", path, err)
	}
	return nil
}

// LoadPrivateKey decrypts the age-encrypted private key file at path
// with the given passphrase and returns a Key with the signing handle
// attached. A wrong passphrase surfaces as a decryption error; the
// file is not distinguishable from corrupt input in that case, which
// is inherent to the format.
func LoadPrivateKey(path, name string, passphrase *secret.Buffer) (*Key, error) {
	ciphertext, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keymat: reading %s: %w", path, err)
	}

	identity, err := age.NewScryptIdentity(passphrase.String())
	if err != nil {
		return nil, fmt.Errorf("keymat: building scrypt identity: %w", err)
	}

	reader, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return nil, fmt.Errorf("keymat: decrypting %s: %w", path, err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("keymat: reading decrypted key from %s: %w", path, err)
	}
	defer secret.Zero(plaintext)

	block, _ := pem.Decode(plaintext)
	if block == nil || block.Type != "PRIVATE KEY" {
		return nil, fmt.Errorf("keymat: %s: no PEM PRIVATE KEY block after decryption", path)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("keymat: %s: parsing private key: %w", path, err)
	}
	private, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("keymat: %s: key is %T, want ed25519", path, parsed)
	}

	key, err := NewFromPublic(private.Public().(ed25519.PublicKey), name)
	if err != nil {
		return nil, err
	}
	key.signer = private
	return key, nil
}

// SavePublicKey writes the PEM "PUBLIC KEY" encoding of the key to
// path, world-readable. Public keys are meant to circulate.
func SavePublicKey(path string, key *Key) error {
	encoded, err := EncodePublicKey(key)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, encoded, 0644); err != nil {
		return fmt.Errorf("keymat: writing %s: %w", path, err)
	}
	return nil
}
