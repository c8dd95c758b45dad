// Copyright 2026 The Rootsmith Authors
// SPDX-License-Identifier: Apache-2.0

package apiclient

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rootsmith-project/rootsmith/lib/clock"
	"github.com/rootsmith-project/rootsmith/lib/keymat"
	"github.com/rootsmith-project/rootsmith/lib/roleset"
	"github.com/rootsmith-project/rootsmith/lib/rootmeta"
)

func testKey(t *testing.T, name string, seed byte) *keymat.Key {
	t.Helper()
	seedBytes := make([]byte, ed25519.SeedSize)
	seedBytes[0] = seed
	private := ed25519.NewKeyFromSeed(seedBytes)
	key, err := keymat.NewFromPublic(private.Public().(ed25519.PublicKey), name)
	if err != nil {
		t.Fatalf("NewFromPublic: %v", err)
	}
	key, err = key.WithSigner(private)
	if err != nil {
		t.Fatalf("WithSigner: %v", err)
	}
	return key
}

func testRootDocument(t *testing.T, version int) []byte {
	t.Helper()
	alice := testKey(t, "alice", 1)
	online := testKey(t, "online", 10)
	role, err := roleset.New(rootmeta.RoleRoot, []*keymat.Key{alice}, 1)
	if err != nil {
		t.Fatalf("roleset.New: %v", err)
	}
	expires := time.Date(2027, 3, 1, 12, 0, 0, 0, time.UTC)
	metadata := &rootmeta.Metadata{Signed: *rootmeta.NewRoot(version, expires, role, online)}
	if err := metadata.Sign(alice); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return encoded
}

func newTestClient(t *testing.T, serverURL string, clk clock.Clock) *Client {
	t.Helper()
	client, err := New(Config{
		ServerURL:    serverURL,
		AccessToken:  "test-token",
		Clock:        clk,
		PollInterval: 2 * time.Second,
		PollDeadline: 10 * time.Second,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client
}

func TestFetchRootWalksVersionChain(t *testing.T) {
	documents := map[string][]byte{
		"/1.root.json": testRootDocument(t, 1),
		"/2.root.json": testRootDocument(t, 2),
		"/3.root.json": testRootDocument(t, 3),
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		document, ok := documents[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(document)
	}))
	defer server.Close()

	client := newTestClient(t, "", nil)
	metadata, err := client.FetchRoot(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("FetchRoot: %v", err)
	}
	if metadata.Signed.Version != 3 {
		t.Errorf("fetched version %d, want 3", metadata.Signed.Version)
	}
}

func TestFetchRootInitialMissing(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	client := newTestClient(t, "", nil)
	_, err := client.FetchRoot(context.Background(), server.URL)
	if err == nil {
		t.Fatal("FetchRoot succeeded against empty server")
	}
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("error is %T, want *FetchError", err)
	}
	if fetchErr.Status != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", fetchErr.Status)
	}
	if !strings.Contains(err.Error(), "cannot fetch initial root") {
		t.Errorf("error = %q, want initial root wording", err)
	}
}

func TestFetchRootWalkSurfacesServerErrors(t *testing.T) {
	// A 500 on a later version must not pass for the end of the chain;
	// only a 404 means there is no higher version.
	documents := map[string][]byte{
		"/1.root.json": testRootDocument(t, 1),
		"/2.root.json": testRootDocument(t, 2),
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		document, ok := documents[r.URL.Path]
		if !ok {
			http.Error(w, "backend unavailable", http.StatusInternalServerError)
			return
		}
		w.Write(document)
	}))
	defer server.Close()

	client := newTestClient(t, "", nil)
	_, err := client.FetchRoot(context.Background(), server.URL)
	if err == nil {
		t.Fatal("FetchRoot returned a stale version despite the server error")
	}
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("error is %T, want *FetchError", err)
	}
	if fetchErr.Status != http.StatusInternalServerError {
		t.Errorf("Status = %d, want 500", fetchErr.Status)
	}
	if strings.Contains(err.Error(), "initial root") {
		t.Errorf("error = %q, wrongly claims the initial root failed", err)
	}
}

func TestFetchRootTransportFailure(t *testing.T) {
	// Dropping the connection mid-request produces a transport error
	// on every attempt, exercising the bounded retry.
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		conn, _, err := w.(http.Hijacker).Hijack()
		if err != nil {
			t.Fatalf("hijack: %v", err)
		}
		conn.Close()
	}))
	defer server.Close()

	client := newTestClient(t, "", nil)
	_, err := client.FetchRoot(context.Background(), server.URL)
	if err == nil {
		t.Fatal("FetchRoot succeeded against connection-dropping server")
	}
	if !strings.Contains(err.Error(), "problem fetching latest") {
		t.Errorf("error = %q, want transport wording", err)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("server saw %d attempts, want 3", got)
	}
}

func TestFetchTargetsNotFound(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	client := newTestClient(t, "", nil)
	_, err := client.FetchTargets(context.Background(), server.URL)
	if err == nil || !strings.Contains(err.Error(), "metadata targets not found") {
		t.Errorf("FetchTargets = %v, want not-found wording", err)
	}
}

func TestSendPayloadAccepted(t *testing.T) {
	var gotAuth, gotContentType string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != PathMetadata {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprint(w, `{"data": {"task_id": "task-123"}, "message": "accepted"}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	taskID, err := client.SendPayload(context.Background(), PathMetadata, map[string]string{"hello": "world"})
	if err != nil {
		t.Fatalf("SendPayload: %v", err)
	}
	if taskID != "task-123" {
		t.Errorf("taskID = %q, want task-123", taskID)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q", gotContentType)
	}
	if gotBody["hello"] != "world" {
		t.Errorf("payload = %v", gotBody)
	}
}

func TestSendPayloadRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"message": "token expired"}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	_, err := client.SendPayload(context.Background(), PathMetadata, map[string]string{})
	if err == nil {
		t.Fatal("SendPayload succeeded on 403")
	}
	if !strings.Contains(err.Error(), "403") || !strings.Contains(err.Error(), "token expired") {
		t.Errorf("error = %q, want status and body", err)
	}
}

func TestSendPayloadRequiresServerURL(t *testing.T) {
	client := newTestClient(t, "", nil)
	if _, err := client.SendPayload(context.Background(), PathMetadata, nil); err == nil {
		t.Fatal("SendPayload without server URL succeeded")
	}
}

func TestWaitForTaskPollsToSuccess(t *testing.T) {
	states := []string{"RECEIVED", "STARTED", TaskStateSuccess}
	poll := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("task_id") != "task-9" {
			t.Errorf("task_id = %q", r.URL.Query().Get("task_id"))
		}
		state := states[poll]
		if poll < len(states)-1 {
			poll++
		}
		fmt.Fprintf(w, `{"data": {"task_id": "task-9", "state": %q}}`, state)
	}))
	defer server.Close()

	fake := &clock.Fake{Current: time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)}
	client := newTestClient(t, server.URL, fake)
	if err := client.WaitForTask(context.Background(), "task-9"); err != nil {
		t.Fatalf("WaitForTask: %v", err)
	}
	if len(fake.Slept) != 2 {
		t.Errorf("slept %d times, want 2", len(fake.Slept))
	}
}

func TestWaitForTaskFailureState(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data": {"task_id": "task-1", "state": "FAILURE", "details": {"error": "bad payload"}}}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, &clock.Fake{})
	err := client.WaitForTask(context.Background(), "task-1")
	if err == nil {
		t.Fatal("WaitForTask succeeded on FAILURE")
	}
	if !strings.Contains(err.Error(), "FAILURE") || !strings.Contains(err.Error(), "bad payload") {
		t.Errorf("error = %q, want state and details", err)
	}
}

func TestWaitForTaskDeadline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data": {"task_id": "task-2", "state": "STARTED"}}`)
	}))
	defer server.Close()

	fake := &clock.Fake{Current: time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)}
	client := newTestClient(t, server.URL, fake)
	err := client.WaitForTask(context.Background(), "task-2")
	if err == nil {
		t.Fatal("WaitForTask never timed out")
	}
	if !strings.Contains(err.Error(), "terminal state") {
		t.Errorf("error = %q, want deadline wording", err)
	}
	// 10s deadline at 2s intervals bounds the loop to a handful of
	// polls even though the fake clock never blocks.
	if len(fake.Slept) == 0 || len(fake.Slept) > 5 {
		t.Errorf("slept %d times", len(fake.Slept))
	}
}
