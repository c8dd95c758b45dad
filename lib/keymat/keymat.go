// Copyright 2026 The Rootsmith Authors
// SPDX-License-Identifier: Apache-2.0

// Package keymat represents the cryptographic key material handled
// during a root update ceremony: ed25519 public keys loaded from PEM
// files, their content-derived key ids, and optional private signing
// handles decrypted from age passphrase-encrypted key files.
//
// A Key is immutable once constructed. Identity and equality are by
// key id, which is the SHA-256 digest of the canonical JSON encoding
// of the public portion, so two files containing the same public key
// always produce the same id, regardless of who loads them.
package keymat

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
)

// SchemeEd25519 is the only signature scheme Rootsmith handles. The
// hash-bin and metadata formats are fixed by the repository they
// administer, and that repository signs with ed25519.
const SchemeEd25519 = "ed25519"

// Key is a reference to an ed25519 key: its content-derived id, the
// public key bytes, and an optional private signing handle. The name
// is operator-facing only and never participates in identity.
type Key struct {
	// ID is the hex SHA-256 of the canonical public key encoding.
	ID string

	// Name is the human-readable label given by the operator at load
	// time (e.g. "alice's 2026 key"). Display only.
	Name string

	// Scheme is the signature scheme. Always SchemeEd25519.
	Scheme string

	// Public is the ed25519 public key.
	Public ed25519.PublicKey

	signer ed25519.PrivateKey
}

// NewFromPublic constructs a Key from raw public key bytes.
func NewFromPublic(public ed25519.PublicKey, name string) (*Key, error) {
	if len(public) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("keymat: public key has %d bytes, want %d", len(public), ed25519.PublicKeySize)
	}
	return &Key{
		ID:     ComputeKeyID(public),
		Name:   name,
		Scheme: SchemeEd25519,
		Public: public,
	}, nil
}

// Generate creates a fresh ed25519 keypair with a signing handle
// attached.
func Generate(name string) (*Key, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("keymat: generating keypair: %w", err)
	}
	key, err := NewFromPublic(public, name)
	if err != nil {
		return nil, err
	}
	key.signer = private
	return key, nil
}

// ComputeKeyID derives the key id from public key bytes. The id is
// the hex SHA-256 of the canonical JSON form of the public portion
// (fields in lexicographic order, no insignificant whitespace), so it
// is stable across implementations.
func ComputeKeyID(public ed25519.PublicKey) string {
	canonical := fmt.Sprintf(
		`{"keytype":"ed25519","keyval":{"public":"%s"},"scheme":"ed25519"}`,
		hex.EncodeToString(public),
	)
	digest := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(digest[:])
}

// PublicHex returns the hex encoding of the public key bytes, the form
// used inside root metadata key registries.
func (k *Key) PublicHex() string {
	return hex.EncodeToString(k.Public)
}

// HasSigner reports whether private key material is attached.
func (k *Key) HasSigner() bool {
	return k.signer != nil
}

// Sign produces an ed25519 signature over payload. Fails if the key
// was loaded without private material.
func (k *Key) Sign(payload []byte) ([]byte, error) {
	if k.signer == nil {
		return nil, fmt.Errorf("keymat: key %s (%s) has no private material", k.Name, k.ID)
	}
	return ed25519.Sign(k.signer, payload), nil
}

// Verify reports whether signature is a valid ed25519 signature over
// payload under this key.
func (k *Key) Verify(payload, signature []byte) bool {
	return ed25519.Verify(k.Public, payload, signature)
}

// WithSigner returns a copy of the key carrying the given private
// material. The private key must correspond to the public key.
func (k *Key) WithSigner(private ed25519.PrivateKey) (*Key, error) {
	derived, ok := private.Public().(ed25519.PublicKey)
	if !ok || !derived.Equal(k.Public) {
		return nil, fmt.Errorf("keymat: private key does not match public key %s", k.ID)
	}
	signed := *k
	signed.signer = private
	return &signed, nil
}

// LoadPublicKey reads an ed25519 public key from a PEM "PUBLIC KEY"
// (PKIX) file and labels it with the given operator name.
func LoadPublicKey(path, name string) (*Key, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keymat: reading %s: %w", path, err)
	}

	block, _ := pem.Decode(data)
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, fmt.Errorf("keymat: %s: no PEM PUBLIC KEY block found", path)
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("keymat: %s: parsing public key: %w", path, err)
	}
	public, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("keymat: %s: key is %T, want ed25519", path, parsed)
	}

	return NewFromPublic(public, name)
}

// EncodePublicKey returns the PEM "PUBLIC KEY" encoding of the key.
func EncodePublicKey(key *Key) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(key.Public)
	if err != nil {
		return nil, fmt.Errorf("keymat: encoding public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}
