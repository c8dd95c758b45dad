// Copyright 2026 The Rootsmith Authors
// SPDX-License-Identifier: Apache-2.0

package sink

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rootsmith-project/rootsmith/lib/apiclient"
	"github.com/rootsmith-project/rootsmith/lib/keymat"
	"github.com/rootsmith-project/rootsmith/lib/roleset"
	"github.com/rootsmith-project/rootsmith/lib/rootmeta"
)

func testMetadata(t *testing.T) *rootmeta.Metadata {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	seed[0] = 1
	private := ed25519.NewKeyFromSeed(seed)
	alice, err := keymat.NewFromPublic(private.Public().(ed25519.PublicKey), "alice")
	if err != nil {
		t.Fatal(err)
	}
	alice, err = alice.WithSigner(private)
	if err != nil {
		t.Fatal(err)
	}

	onlineSeed := make([]byte, ed25519.SeedSize)
	onlineSeed[0] = 10
	onlinePrivate := ed25519.NewKeyFromSeed(onlineSeed)
	online, err := keymat.NewFromPublic(onlinePrivate.Public().(ed25519.PublicKey), "online")
	if err != nil {
		t.Fatal(err)
	}

	role, err := roleset.New(rootmeta.RoleRoot, []*keymat.Key{alice}, 1)
	if err != nil {
		t.Fatal(err)
	}
	expires := time.Date(2027, 3, 1, 12, 0, 0, 0, time.UTC)
	metadata := &rootmeta.Metadata{Signed: *rootmeta.NewRoot(2, expires, role, online)}
	if err := metadata.Sign(alice); err != nil {
		t.Fatal(err)
	}
	return metadata
}

type fakeSubmitter struct {
	sentPath string
	payload  any
	waited   string
}

func (f *fakeSubmitter) SendPayload(ctx context.Context, actionPath string, payload any) (string, error) {
	f.sentPath = actionPath
	f.payload = payload
	return "task-7", nil
}

func (f *fakeSubmitter) WaitForTask(ctx context.Context, taskID string) error {
	f.waited = taskID
	return nil
}

func TestDepositWritesLocalAndSubmits(t *testing.T) {
	metadata := testMetadata(t)
	localPath := filepath.Join(t.TempDir(), "out", "root_metadata.json")
	submitter := &fakeSubmitter{}

	s := &Sink{LocalPath: localPath, Submitter: submitter}
	receipt, err := s.Deposit(context.Background(), metadata, false)
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if receipt.LocalPath != localPath || !receipt.Submitted || receipt.TaskID != "task-7" {
		t.Errorf("receipt = %+v", receipt)
	}
	if submitter.sentPath != apiclient.PathMetadata {
		t.Errorf("sentPath = %q", submitter.sentPath)
	}
	if submitter.waited != "task-7" {
		t.Errorf("waited = %q", submitter.waited)
	}

	written, err := os.ReadFile(localPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var envelope rootmeta.Envelope
	if err := json.Unmarshal(written, &envelope); err != nil {
		t.Fatalf("written file is not a valid envelope: %v", err)
	}
	if envelope.Metadata[rootmeta.RoleRoot].Signed.Version != 2 {
		t.Errorf("written version = %d", envelope.Metadata[rootmeta.RoleRoot].Signed.Version)
	}
}

func TestDepositPendingSkipsSubmission(t *testing.T) {
	metadata := testMetadata(t)
	localPath := filepath.Join(t.TempDir(), "pending.json")
	submitter := &fakeSubmitter{}

	s := &Sink{LocalPath: localPath, Submitter: submitter}
	receipt, err := s.Deposit(context.Background(), metadata, true)
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if receipt.Submitted {
		t.Error("pending result was submitted")
	}
	if submitter.sentPath != "" {
		t.Errorf("submitter was called with %q", submitter.sentPath)
	}
	if _, err := os.Stat(localPath); err != nil {
		t.Errorf("pending result not written locally: %v", err)
	}
}

func TestDepositLocalOnly(t *testing.T) {
	metadata := testMetadata(t)
	localPath := filepath.Join(t.TempDir(), "dry.json")

	s := &Sink{LocalPath: localPath}
	receipt, err := s.Deposit(context.Background(), metadata, false)
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if receipt.Submitted || receipt.TaskID != "" {
		t.Errorf("receipt = %+v, want local only", receipt)
	}
}

func TestDepositNeedsSomeDestination(t *testing.T) {
	s := &Sink{}
	if _, err := s.Deposit(context.Background(), testMetadata(t), false); err == nil {
		t.Fatal("Deposit with no destination succeeded")
	}
}
