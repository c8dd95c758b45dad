// Copyright 2026 The Rootsmith Authors
// SPDX-License-Identifier: Apache-2.0

package keymat

import (
	"crypto/ed25519"
	"os"
	"path/filepath"
	"testing"

	"github.com/rootsmith-project/rootsmith/lib/secret"
)

// testKey returns a deterministic key derived from a fixed seed, so
// key ids in assertions are stable across runs.
func testKey(t *testing.T, seedByte byte, name string) *Key {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = seedByte
	}
	private := ed25519.NewKeyFromSeed(seed)
	key, err := NewFromPublic(private.Public().(ed25519.PublicKey), name)
	if err != nil {
		t.Fatalf("NewFromPublic: %v", err)
	}
	key.signer = private
	return key
}

func TestKeyIDDeterministic(t *testing.T) {
	a := testKey(t, 1, "first load")
	b := testKey(t, 1, "second load, different name")
	if a.ID != b.ID {
		t.Errorf("same public key produced different ids: %s vs %s", a.ID, b.ID)
	}
	if len(a.ID) != 64 {
		t.Errorf("key id %q is not a hex sha256", a.ID)
	}

	c := testKey(t, 2, "other key")
	if a.ID == c.ID {
		t.Error("distinct public keys produced the same id")
	}
}

func TestSignVerify(t *testing.T) {
	key := testKey(t, 3, "signer")
	payload := []byte("payload under test")

	signature, err := key.Sign(payload)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !key.Verify(payload, signature) {
		t.Error("signature did not verify")
	}
	if key.Verify([]byte("tampered"), signature) {
		t.Error("signature verified over tampered payload")
	}
}

func TestSignWithoutSigner(t *testing.T) {
	key := testKey(t, 4, "public only")
	key.signer = nil
	if _, err := key.Sign([]byte("x")); err == nil {
		t.Fatal("Sign without private material should fail")
	}
}

func TestPublicKeyFileRoundTrip(t *testing.T) {
	key := testKey(t, 5, "round trip")
	path := filepath.Join(t.TempDir(), "rt.pub")

	if err := SavePublicKey(path, key); err != nil {
		t.Fatalf("SavePublicKey: %v", err)
	}
	loaded, err := LoadPublicKey(path, "reloaded")
	if err != nil {
		t.Fatalf("LoadPublicKey: %v", err)
	}

	if loaded.ID != key.ID {
		t.Errorf("reloaded id = %s, want %s", loaded.ID, key.ID)
	}
	if loaded.Name != "reloaded" {
		t.Errorf("reloaded name = %q, want %q", loaded.Name, "reloaded")
	}
	if loaded.HasSigner() {
		t.Error("public key file should not carry a signer")
	}
}

func TestLoadPublicKeyRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.pub")
	if err := os.WriteFile(path, []byte("not pem at all"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPublicKey(path, "x"); err == nil {
		t.Fatal("LoadPublicKey should reject non-PEM input")
	}
}

func TestPrivateKeyFileRoundTrip(t *testing.T) {
	key := testKey(t, 6, "ceremony key")
	path := filepath.Join(t.TempDir(), "ceremony.key")

	passphrase, err := secret.FromBytes([]byte("correct horse"))
	if err != nil {
		t.Fatalf("secret.FromBytes: %v", err)
	}
	defer passphrase.Close()

	if err := SavePrivateKey(path, key, passphrase); err != nil {
		t.Fatalf("SavePrivateKey: %v", err)
	}

	loaded, err := LoadPrivateKey(path, "reloaded", passphrase)
	if err != nil {
		t.Fatalf("LoadPrivateKey: %v", err)
	}
	if loaded.ID != key.ID {
		t.Errorf("reloaded id = %s, want %s", loaded.ID, key.ID)
	}
	if !loaded.HasSigner() {
		t.Fatal("reloaded key has no signer")
	}

	payload := []byte("sign me")
	signature, err := loaded.Sign(payload)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !key.Verify(payload, signature) {
		t.Error("signature from reloaded key did not verify against original")
	}
}

func TestLoadPrivateKeyWrongPassphrase(t *testing.T) {
	key := testKey(t, 7, "k")
	path := filepath.Join(t.TempDir(), "k.key")

	good, err := secret.FromBytes([]byte("right"))
	if err != nil {
		t.Fatal(err)
	}
	defer good.Close()
	if err := SavePrivateKey(path, key, good); err != nil {
		t.Fatalf("SavePrivateKey: %v", err)
	}

	bad, err := secret.FromBytes([]byte("wrong"))
	if err != nil {
		t.Fatal(err)
	}
	defer bad.Close()
	if _, err := LoadPrivateKey(path, "k", bad); err == nil {
		t.Fatal("LoadPrivateKey with wrong passphrase should fail")
	}
}

func TestWithSigner(t *testing.T) {
	key := testKey(t, 8, "k")
	private := key.signer
	key.signer = nil

	signed, err := key.WithSigner(private)
	if err != nil {
		t.Fatalf("WithSigner: %v", err)
	}
	if !signed.HasSigner() {
		t.Error("WithSigner did not attach signer")
	}

	other := testKey(t, 9, "other")
	if _, err := key.WithSigner(other.signer); err == nil {
		t.Fatal("WithSigner should reject a mismatched private key")
	}
}
