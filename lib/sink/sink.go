// Copyright 2026 The Rootsmith Authors
// SPDX-License-Identifier: Apache-2.0

// Package sink delivers a ceremony's result. A result always lands in
// a local file first so no collected signature is ever lost, and is
// then optionally submitted to the management API. A partially signed
// result is deposited locally for the next signer but never submitted;
// the API only accepts fully signed metadata.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rootsmith-project/rootsmith/lib/apiclient"
	"github.com/rootsmith-project/rootsmith/lib/rootmeta"
)

// Submitter sends a metadata payload to the management API and waits
// for the resulting task.
type Submitter interface {
	SendPayload(ctx context.Context, actionPath string, payload any) (string, error)
	WaitForTask(ctx context.Context, taskID string) error
}

// Receipt records what Deposit actually did.
type Receipt struct {
	// LocalPath is the file the envelope was written to, empty when no
	// local path was configured.
	LocalPath string

	// TaskID is the management API task id, empty when submission was
	// skipped.
	TaskID string

	// Submitted reports whether the result reached the management API.
	Submitted bool
}

// Sink delivers ceremony results.
type Sink struct {
	// LocalPath is where the envelope is written. Empty skips the
	// local copy.
	LocalPath string

	// Submitter posts the envelope to the management API. Nil skips
	// submission, which is how dry runs are expressed.
	Submitter Submitter

	// Logger receives delivery messages. If nil, a no-op logger.
	Logger *slog.Logger
}

// Deposit writes the metadata envelope locally and, for a fully signed
// result with a configured submitter, posts it to the management API
// and waits for the task. Pending results are only written locally.
func (s *Sink) Deposit(ctx context.Context, metadata *rootmeta.Metadata, pending bool) (*Receipt, error) {
	if s.LocalPath == "" && s.Submitter == nil {
		return nil, errors.New("sink: neither local path nor submitter configured")
	}

	logger := s.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	envelope, err := rootmeta.EncodeEnvelope(metadata)
	if err != nil {
		return nil, err
	}

	receipt := &Receipt{}
	if s.LocalPath != "" {
		if err := os.MkdirAll(filepath.Dir(s.LocalPath), 0o755); err != nil {
			return nil, fmt.Errorf("sink: creating %s: %w", filepath.Dir(s.LocalPath), err)
		}
		if err := os.WriteFile(s.LocalPath, envelope, 0o644); err != nil {
			return nil, fmt.Errorf("sink: writing %s: %w", s.LocalPath, err)
		}
		receipt.LocalPath = s.LocalPath
		logger.Info("metadata written", "path", s.LocalPath, "version", metadata.Signed.Version, "pending", pending)
	}

	if pending || s.Submitter == nil {
		return receipt, nil
	}

	payload := rootmeta.Envelope{Metadata: map[string]*rootmeta.Metadata{rootmeta.RoleRoot: metadata}}
	taskID, err := s.Submitter.SendPayload(ctx, apiclient.PathMetadata, payload)
	if err != nil {
		return receipt, fmt.Errorf("sink: submitting metadata: %w", err)
	}
	if err := s.Submitter.WaitForTask(ctx, taskID); err != nil {
		return receipt, fmt.Errorf("sink: metadata task: %w", err)
	}
	receipt.TaskID = taskID
	receipt.Submitted = true
	logger.Info("metadata submitted", "task_id", taskID, "version", metadata.Signed.Version)
	return receipt, nil
}
