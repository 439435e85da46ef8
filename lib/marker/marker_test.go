// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package marker

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWriteReadClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corruption.marker")

	exists, err := Exists(path)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Fatal("marker exists before Write")
	}

	report := Report{
		Time:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Reason: "reading record 42: page fault",
		Stack:  []byte("goroutine 7 [running]:\nmain.main()"),
	}
	if err := Write(path, report); err != nil {
		t.Fatalf("Write: %v", err)
	}

	exists, err = Exists(path)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !exists {
		t.Fatal("marker missing after Write")
	}
	text, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	for _, want := range []string{"2026-03-01T12:00:00Z", "reading record 42", "goroutine 7"} {
		if !strings.Contains(text, want) {
			t.Errorf("marker text %q does not contain %q", text, want)
		}
	}
	if _, err := os.Stat(path + ".tmp"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("temporary file left behind: %v", err)
	}

	if err := Clear(path); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if err := Clear(path); err != nil {
		t.Errorf("second Clear: %v", err)
	}
	if _, err := Read(path); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Read after Clear: error = %v, want fs.ErrNotExist", err)
	}
}

func TestEmptyFileCounts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corruption.marker")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	exists, err := Exists(path)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !exists {
		t.Error("empty marker file not detected")
	}
}

func TestFormatWithoutStack(t *testing.T) {
	text := string(Report{Time: time.Unix(0, 0), Reason: "invalidated"}.Format())
	if !strings.HasSuffix(text, "reason: invalidated\n") {
		t.Errorf("Format = %q", text)
	}
}
