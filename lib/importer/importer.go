// Copyright 2026 The Rootsmith Authors
// SPDX-License-Identifier: Apache-2.0

// Package importer ingests target description files into the target
// store. Each source is a semicolon-separated text file, optionally
// gzip-compressed, with one target per line:
//
//	path;length;hash-algorithm;hex-digest
//
// All sources of a run are parsed and staged before anything touches
// the database, and the staged records are committed in one
// transaction. A malformed line or a duplicate path anywhere in the
// run aborts the whole run with nothing committed, so a failed import
// can be corrected and retried without cleanup.
package importer

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/rootsmith-project/rootsmith/lib/apiclient"
	"github.com/rootsmith-project/rootsmith/lib/clock"
	"github.com/rootsmith-project/rootsmith/lib/delegation"
	"github.com/rootsmith-project/rootsmith/lib/targetstore"
)

// MalformedRecordError reports a source line that could not be parsed.
// The run aborts on the first malformed line.
type MalformedRecordError struct {
	// Source is the file the line came from.
	Source string
	// Line is the 1-based line number.
	Line int
	// Reason describes what was wrong with the line.
	Reason string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("%s line %d: %s", e.Source, e.Line, e.Reason)
}

// DuplicateTargetError reports a target path staged twice within one
// run, before the database is ever touched.
type DuplicateTargetError struct {
	Path        string
	FirstSource string
	Source      string
}

func (e *DuplicateTargetError) Error() string {
	return fmt.Sprintf("target %s in %s already staged from %s", e.Path, e.Source, e.FirstSource)
}

// Publisher submits the publish-targets action after a successful
// import and waits for the resulting task.
type Publisher interface {
	SendPayload(ctx context.Context, actionPath string, payload any) (string, error)
	WaitForTask(ctx context.Context, taskID string) error
}

// SourceReport summarizes one parsed source file.
type SourceReport struct {
	Source  string
	Records int
}

// Report summarizes a completed import run.
type Report struct {
	Sources []SourceReport

	// Records is the total number of committed records.
	Records int

	// TaskID is the publish task id, empty when publishing was skipped.
	TaskID string
}

// Config holds the importer's collaborators.
type Config struct {
	// Store receives the committed records.
	Store *targetstore.Store

	// Bins assigns each target path to its delegated bin role.
	Bins *delegation.SuccinctBins

	// Publisher submits the publish-targets action. Optional; required
	// only when Run is asked to publish.
	Publisher Publisher

	// Logger receives progress messages. If nil, a no-op logger.
	Logger *slog.Logger

	// Clock stamps records. If nil, the real clock.
	Clock clock.Clock
}

// Importer runs target import batches.
type Importer struct {
	store     *targetstore.Store
	bins      *delegation.SuccinctBins
	publisher Publisher
	logger    *slog.Logger
	clock     clock.Clock
}

// New validates the configuration and creates an importer.
func New(cfg Config) (*Importer, error) {
	if cfg.Store == nil {
		return nil, errors.New("importer: Store is required")
	}
	if cfg.Bins == nil {
		return nil, errors.New("importer: Bins is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Importer{
		store:     cfg.Store,
		bins:      cfg.Bins,
		publisher: cfg.Publisher,
		logger:    logger,
		clock:     clk,
	}, nil
}

// Run parses every source, stages the records, and commits them in a
// single batch. When publish is true, a successful commit is followed
// by the publish-targets action, and Run waits for its task to finish.
func (imp *Importer) Run(ctx context.Context, sources []string, publish bool) (*Report, error) {
	if len(sources) == 0 {
		return nil, errors.New("importer: no sources given")
	}
	if publish && imp.publisher == nil {
		return nil, errors.New("importer: publishing requested but no publisher configured")
	}

	var missing []string
	for _, source := range sources {
		if _, err := os.Stat(source); err != nil {
			missing = append(missing, source)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("importer: missing source files: %s", strings.Join(missing, ", "))
	}

	report := &Report{}
	var staged []targetstore.Record
	firstSource := make(map[string]string)

	for _, source := range sources {
		records, err := imp.parseSource(source)
		if err != nil {
			return nil, err
		}
		for _, record := range records {
			if earlier, seen := firstSource[record.Path]; seen {
				return nil, &DuplicateTargetError{
					Path:        record.Path,
					FirstSource: earlier,
					Source:      source,
				}
			}
			// A path already committed by an earlier run is caught here,
			// with its source named, instead of by the batch constraint.
			committed, err := imp.store.Contains(ctx, record.Path)
			if err != nil {
				return nil, fmt.Errorf("importer: checking %s: %w", record.Path, err)
			}
			if committed {
				return nil, fmt.Errorf("importer: target %s in %s: %w",
					record.Path, source, targetstore.ErrDuplicateTarget)
			}
			firstSource[record.Path] = source
		}
		staged = append(staged, records...)
		report.Sources = append(report.Sources, SourceReport{Source: source, Records: len(records)})
		imp.logger.Info("source staged", "source", source, "records", len(records))
	}

	if err := imp.store.InsertBatch(ctx, staged); err != nil {
		return nil, fmt.Errorf("importer: committing batch: %w", err)
	}
	report.Records = len(staged)
	imp.logger.Info("import committed", "sources", len(sources), "records", len(staged))

	if publish {
		taskID, err := imp.publisher.SendPayload(ctx, apiclient.PathPublishTargets, struct{}{})
		if err != nil {
			return nil, fmt.Errorf("importer: publishing targets: %w", err)
		}
		if err := imp.publisher.WaitForTask(ctx, taskID); err != nil {
			return nil, fmt.Errorf("importer: publish task: %w", err)
		}
		report.TaskID = taskID
		imp.logger.Info("targets published", "task_id", taskID)
	}

	return report, nil
}

// parseSource reads one source file into records. Sources ending in
// .gz are decompressed transparently.
func (imp *Importer) parseSource(source string) ([]targetstore.Record, error) {
	file, err := os.Open(source)
	if err != nil {
		return nil, fmt.Errorf("importer: opening %s: %w", source, err)
	}
	defer file.Close()

	var reader io.Reader = file
	if strings.HasSuffix(source, ".gz") {
		decompressor, err := gzip.NewReader(file)
		if err != nil {
			return nil, fmt.Errorf("importer: decompressing %s: %w", source, err)
		}
		defer decompressor.Close()
		reader = decompressor
	}

	now := imp.clock.Now()
	var records []targetstore.Record
	scanner := bufio.NewScanner(reader)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		record, reason := imp.parseLine(text, now)
		if reason != "" {
			return nil, &MalformedRecordError{Source: source, Line: line, Reason: reason}
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("importer: reading %s: %w", source, err)
	}
	return records, nil
}

// parseLine splits one source line into a record. An empty reason
// means success.
func (imp *Importer) parseLine(text string, now time.Time) (targetstore.Record, string) {
	fields := strings.Split(text, ";")
	if len(fields) != 4 {
		return targetstore.Record{}, fmt.Sprintf("expected 4 fields separated by ';', got %d", len(fields))
	}

	path := strings.TrimSpace(fields[0])
	if path == "" {
		return targetstore.Record{}, "target path is empty"
	}

	length, err := strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64)
	if err != nil {
		return targetstore.Record{}, fmt.Sprintf("length %q is not a number", strings.TrimSpace(fields[1]))
	}
	if length < 0 {
		return targetstore.Record{}, fmt.Sprintf("length %d is negative", length)
	}

	algorithm := strings.TrimSpace(fields[2])
	if algorithm == "" {
		return targetstore.Record{}, "hash algorithm is empty"
	}

	digest := strings.TrimSpace(fields[3])
	if digest == "" {
		return targetstore.Record{}, "hash digest is empty"
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return targetstore.Record{}, fmt.Sprintf("hash digest %q is not hex", digest)
	}

	return targetstore.Record{
		Path:       path,
		Length:     length,
		Hashes:     map[string]string{algorithm: digest},
		BinRole:    imp.bins.RoleForTarget(path),
		Action:     targetstore.ActionAdd,
		LastUpdate: now,
	}, ""
}
