// Copyright 2026 The Rootsmith Authors
// SPDX-License-Identifier: Apache-2.0

package importer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/rootsmith-project/rootsmith/lib/apiclient"
	"github.com/rootsmith-project/rootsmith/lib/clock"
	"github.com/rootsmith-project/rootsmith/lib/delegation"
	"github.com/rootsmith-project/rootsmith/lib/targetstore"
)

const sha256Hex = "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"

func testImporter(t *testing.T) (*Importer, *targetstore.Store) {
	t.Helper()
	store, err := targetstore.Open(targetstore.Config{Path: filepath.Join(t.TempDir(), "targets.db")})
	if err != nil {
		t.Fatalf("targetstore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	bins, err := delegation.New("bins", 8)
	if err != nil {
		t.Fatalf("delegation.New: %v", err)
	}

	imp, err := New(Config{
		Store: store,
		Bins:  bins,
		Clock: &clock.Fake{Current: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return imp, store
}

func writeSource(t *testing.T, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	content := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func writeGzipSource(t *testing.T, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	compressor := gzip.NewWriter(file)
	if _, err := compressor.Write([]byte(strings.Join(lines, "\n") + "\n")); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := compressor.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	if err := file.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return path
}

func TestRunCommitsAllSources(t *testing.T) {
	imp, store := testImporter(t)
	ctx := context.Background()

	first := writeSource(t, "first.csv",
		"file1.txt;100;sha256;"+sha256Hex,
		"file2.txt;200;sha256;"+sha256Hex,
	)
	second := writeSource(t, "second.csv",
		"path/to/a.tar.gz;300;sha256;"+sha256Hex,
	)

	report, err := imp.Run(ctx, []string{first, second}, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Records != 3 {
		t.Errorf("Records = %d, want 3", report.Records)
	}
	if len(report.Sources) != 2 || report.Sources[0].Records != 2 || report.Sources[1].Records != 1 {
		t.Errorf("Sources = %+v", report.Sources)
	}
	if report.TaskID != "" {
		t.Errorf("TaskID = %q without publish", report.TaskID)
	}

	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 3 {
		t.Errorf("store count = %d, want 3", count)
	}

	// file1.txt at 8 bits lands in bins-55.
	found, err := store.Contains(ctx, "file1.txt")
	if err != nil || !found {
		t.Errorf("Contains(file1.txt) = %v, %v", found, err)
	}
}

func TestRunGzipSource(t *testing.T) {
	imp, store := testImporter(t)
	ctx := context.Background()

	source := writeGzipSource(t, "targets.csv.gz",
		"compressed.whl;500;sha256;"+sha256Hex,
	)
	report, err := imp.Run(ctx, []string{source}, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Records != 1 {
		t.Errorf("Records = %d, want 1", report.Records)
	}
	found, err := store.Contains(ctx, "compressed.whl")
	if err != nil || !found {
		t.Errorf("Contains(compressed.whl) = %v, %v", found, err)
	}
}

func TestRunMalformedLines(t *testing.T) {
	cases := []struct {
		name   string
		line   string
		reason string
	}{
		{"three fields", "a.txt;100;sha256", "4 fields"},
		{"five fields", "a.txt;100;sha256;" + sha256Hex + ";extra", "4 fields"},
		{"empty path", ";100;sha256;" + sha256Hex, "path is empty"},
		{"bad length", "a.txt;ten;sha256;" + sha256Hex, "not a number"},
		{"negative length", "a.txt;-5;sha256;" + sha256Hex, "negative"},
		{"empty algorithm", "a.txt;100;;" + sha256Hex, "algorithm is empty"},
		{"empty digest", "a.txt;100;sha256;", "digest is empty"},
		{"non-hex digest", "a.txt;100;sha256;zzzz", "not hex"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			imp, store := testImporter(t)
			ctx := context.Background()

			source := writeSource(t, "bad.csv",
				"good.txt;1;sha256;"+sha256Hex,
				tc.line,
			)
			_, err := imp.Run(ctx, []string{source}, false)
			var malformed *MalformedRecordError
			if !errors.As(err, &malformed) {
				t.Fatalf("Run = %v, want MalformedRecordError", err)
			}
			if malformed.Line != 2 {
				t.Errorf("Line = %d, want 2", malformed.Line)
			}
			if !strings.Contains(malformed.Reason, tc.reason) {
				t.Errorf("Reason = %q, want substring %q", malformed.Reason, tc.reason)
			}

			count, err := store.Count(ctx)
			if err != nil {
				t.Fatalf("Count: %v", err)
			}
			if count != 0 {
				t.Errorf("count = %d after aborted run, want 0", count)
			}
		})
	}
}

func TestRunDuplicateAcrossSources(t *testing.T) {
	imp, store := testImporter(t)
	ctx := context.Background()

	first := writeSource(t, "first.csv", "shared.txt;1;sha256;"+sha256Hex)
	second := writeSource(t, "second.csv", "shared.txt;2;sha256;"+sha256Hex)

	_, err := imp.Run(ctx, []string{first, second}, false)
	var duplicate *DuplicateTargetError
	if !errors.As(err, &duplicate) {
		t.Fatalf("Run = %v, want DuplicateTargetError", err)
	}
	if duplicate.Path != "shared.txt" {
		t.Errorf("Path = %q", duplicate.Path)
	}
	if duplicate.FirstSource != first || duplicate.Source != second {
		t.Errorf("sources = %q, %q", duplicate.FirstSource, duplicate.Source)
	}

	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d after aborted run, want 0", count)
	}
}

func TestRunDuplicateAgainstStore(t *testing.T) {
	imp, store := testImporter(t)
	ctx := context.Background()

	seed := writeSource(t, "seed.csv", "existing.txt;1;sha256;"+sha256Hex)
	if _, err := imp.Run(ctx, []string{seed}, false); err != nil {
		t.Fatalf("seed Run: %v", err)
	}

	retry := writeSource(t, "retry.csv",
		"fresh.txt;1;sha256;"+sha256Hex,
		"existing.txt;1;sha256;"+sha256Hex,
	)
	_, err := imp.Run(ctx, []string{retry}, false)
	if !errors.Is(err, targetstore.ErrDuplicateTarget) {
		t.Fatalf("Run = %v, want ErrDuplicateTarget", err)
	}
	if !strings.Contains(err.Error(), "existing.txt") || !strings.Contains(err.Error(), retry) {
		t.Errorf("error = %q, want the path and the offending source named", err)
	}

	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want only the seeded record", count)
	}
}

func TestRunMissingSourcesNamedUpFront(t *testing.T) {
	imp, _ := testImporter(t)
	present := writeSource(t, "present.csv", "a.txt;1;sha256;"+sha256Hex)

	_, err := imp.Run(context.Background(), []string{present, "/absent/one.csv", "/absent/two.csv"}, false)
	if err == nil {
		t.Fatal("Run with missing sources succeeded")
	}
	if !strings.Contains(err.Error(), "/absent/one.csv") || !strings.Contains(err.Error(), "/absent/two.csv") {
		t.Errorf("error does not name every missing source: %v", err)
	}
}

type fakePublisher struct {
	sentPath string
	waited   string
	taskErr  error
}

func (f *fakePublisher) SendPayload(ctx context.Context, actionPath string, payload any) (string, error) {
	f.sentPath = actionPath
	return "task-42", nil
}

func (f *fakePublisher) WaitForTask(ctx context.Context, taskID string) error {
	f.waited = taskID
	return f.taskErr
}

func TestRunPublishes(t *testing.T) {
	imp, _ := testImporter(t)
	publisher := &fakePublisher{}
	imp.publisher = publisher

	source := writeSource(t, "targets.csv", "a.txt;1;sha256;"+sha256Hex)
	report, err := imp.Run(context.Background(), []string{source}, true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.TaskID != "task-42" {
		t.Errorf("TaskID = %q", report.TaskID)
	}
	if publisher.sentPath != apiclient.PathPublishTargets {
		t.Errorf("sentPath = %q", publisher.sentPath)
	}
	if publisher.waited != "task-42" {
		t.Errorf("waited = %q", publisher.waited)
	}
}

func TestRunPublishTaskFailure(t *testing.T) {
	imp, store := testImporter(t)
	imp.publisher = &fakePublisher{taskErr: errors.New("task exploded")}

	source := writeSource(t, "targets.csv", "a.txt;1;sha256;"+sha256Hex)
	_, err := imp.Run(context.Background(), []string{source}, true)
	if err == nil || !strings.Contains(err.Error(), "task exploded") {
		t.Fatalf("Run = %v, want publish task error", err)
	}

	// The import itself committed before publishing was attempted.
	count, err := store.Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestRunPublishWithoutPublisher(t *testing.T) {
	imp, _ := testImporter(t)
	source := writeSource(t, "targets.csv", "a.txt;1;sha256;"+sha256Hex)
	if _, err := imp.Run(context.Background(), []string{source}, true); err == nil {
		t.Fatal("Run with publish but no publisher succeeded")
	}
}
