// Copyright 2026 The Rootsmith Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bytes"
	"testing"
)

func TestFromBytesZerosSource(t *testing.T) {
	source := []byte("hunter2")
	buffer, err := FromBytes(source)
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	defer buffer.Close()

	if !bytes.Equal(source, make([]byte, len(source))) {
		t.Error("source was not zeroed after FromBytes")
	}
	if buffer.String() != "hunter2" {
		t.Errorf("buffer = %q, want %q", buffer.String(), "hunter2")
	}
	if buffer.Len() != 7 {
		t.Errorf("Len = %d, want 7", buffer.Len())
	}
}

func TestFromBytesEmpty(t *testing.T) {
	if _, err := FromBytes(nil); err == nil {
		t.Fatal("FromBytes(nil) should fail")
	}
}

func TestCloseIdempotent(t *testing.T) {
	buffer, err := FromBytes([]byte("secret"))
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if err := buffer.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := buffer.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestReadAfterClosePanics(t *testing.T) {
	buffer, err := FromBytes([]byte("secret"))
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	buffer.Close()

	defer func() {
		if recover() == nil {
			t.Error("Bytes after Close should panic")
		}
	}()
	buffer.Bytes()
}

func TestZero(t *testing.T) {
	data := []byte{1, 2, 3}
	Zero(data)
	if !bytes.Equal(data, []byte{0, 0, 0}) {
		t.Errorf("Zero left %v", data)
	}
}
