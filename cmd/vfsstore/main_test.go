// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/bureau-foundation/vfsstore/lib/config"
	"github.com/bureau-foundation/vfsstore/lib/fsrecords"
	"github.com/bureau-foundation/vfsstore/lib/records"
)

// seededStore creates a store holding a file:/// root with a home
// directory and one file, returning the directory and the file id.
func seededStore(t *testing.T) (string, int32) {
	t.Helper()
	directory := t.TempDir()
	store, err := fsrecords.Open(directory, fsrecords.Options{Storage: config.DefaultStorage()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	root, err := store.FindRootRecord("file:///")
	if err != nil {
		t.Fatalf("FindRootRecord: %v", err)
	}
	home, err := store.CreateRecord()
	if err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	if err := store.WriteAttributesToRecord(home, root, fsrecords.FileAttributes{Directory: true}, "home"); err != nil {
		t.Fatalf("WriteAttributesToRecord: %v", err)
	}
	file, err := store.CreateRecord()
	if err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	if err := store.WriteAttributesToRecord(file, home, fsrecords.FileAttributes{Length: 5}, "a.txt"); err != nil {
		t.Fatalf("WriteAttributesToRecord: %v", err)
	}
	if err := store.UpdateChildren(root, []int32{home}); err != nil {
		t.Fatalf("UpdateChildren: %v", err)
	}
	if err := store.UpdateChildren(home, []int32{file}); err != nil {
		t.Fatalf("UpdateChildren: %v", err)
	}
	if err := store.StoreContent(file, []byte("hello"), false); err != nil {
		t.Fatalf("StoreContent: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return directory, file
}

// runCommand runs vfsstore with args and returns stdout.
func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("VFSSTORE_CONFIG", "")
	t.Setenv("HOME", t.TempDir())
	var stdout, stderr bytes.Buffer
	err := run(t.Context(), args, &stdout, &stderr)
	return stdout.String(), err
}

func TestVersion(t *testing.T) {
	output, err := runCommand(t, "--version")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.HasPrefix(output, "vfsstore ") || !strings.Contains(output, "Store format:") {
		t.Errorf("--version output = %q", output)
	}
}

func TestHelpListsCommands(t *testing.T) {
	output, err := runCommand(t, "--help")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, c := range allCommands() {
		if !strings.Contains(output, c.Name) {
			t.Errorf("help does not mention %q", c.Name)
		}
	}
}

func TestCommandHelp(t *testing.T) {
	output, err := runCommand(t, "--store", t.TempDir(), "invalidate", "--help")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(output, "--reason") {
		t.Errorf("invalidate help = %q, want the --reason flag", output)
	}
}

func TestUsageErrors(t *testing.T) {
	directory := t.TempDir()
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no command", nil, "command required"},
		{"unknown command", []string{"--store", directory, "frobnicate"}, `unknown command "frobnicate"`},
		{"bad id", []string{"--store", directory, "cat", "seven"}, "record id"},
		{"missing id", []string{"--store", directory, "cat"}, "usage: vfsstore cat ID"},
		{"extra args", []string{"--store", directory, "stat", "x"}, "usage: vfsstore stat"},
		{"unknown flag", []string{"--store", directory, "ls", "--long"}, "unknown flag"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := runCommand(t, test.args...)
			if err == nil {
				t.Fatal("run succeeded, want error")
			}
			if !strings.Contains(err.Error(), test.want) {
				t.Errorf("error = %q, want it to contain %q", err, test.want)
			}
		})
	}
}

func TestStat(t *testing.T) {
	directory, _ := seededStore(t)
	output, err := runCommand(t, "--store", directory, "stat")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// Header excluded: super-root, file:/// root, home, a.txt.
	if !strings.Contains(output, "records") || !strings.Contains(output, " 4\n") {
		t.Errorf("stat output = %q, want 4 records", output)
	}
	if !strings.Contains(output, directory) {
		t.Errorf("stat output = %q, want directory %s", output, directory)
	}
}

func TestListAndRoots(t *testing.T) {
	directory, file := seededStore(t)

	output, err := runCommand(t, "--store", directory, "roots")
	if err != nil {
		t.Fatalf("roots: %v", err)
	}
	if !strings.Contains(output, "file:///") {
		t.Errorf("roots output = %q, want file:///", output)
	}

	output, err = runCommand(t, "--store", directory, "ls", "3")
	if err != nil {
		t.Fatalf("ls: %v", err)
	}
	fields := strings.Fields(output)
	if len(fields) != 4 || fields[0] != "4" || fields[2] != "5" || fields[3] != "a.txt" {
		t.Errorf("ls 3 = %q, want id %d of length 5 named a.txt", output, file)
	}

	output, err = runCommand(t, "--store", directory, "ls")
	if err != nil {
		t.Fatalf("ls: %v", err)
	}
	if output != "" {
		t.Errorf("ls of the super-root = %q, want nothing", output)
	}
}

func TestCat(t *testing.T) {
	directory, _ := seededStore(t)

	output, err := runCommand(t, "--store", directory, "cat", "4")
	if err != nil {
		t.Fatalf("cat: %v", err)
	}
	if output != "hello" {
		t.Errorf("cat 4 = %q, want %q", output, "hello")
	}

	_, err = runCommand(t, "--store", directory, "cat", "3")
	if err == nil || !strings.Contains(err.Error(), "no stored content") {
		t.Errorf("cat of a directory: error = %v, want no stored content", err)
	}
}

func TestCheck(t *testing.T) {
	directory, _ := seededStore(t)
	output, err := runCommand(t, "--store", directory, "check")
	if err != nil {
		t.Fatalf("check: %v (output %q)", err, output)
	}
	if !strings.Contains(output, "0 problems") {
		t.Errorf("check output = %q, want 0 problems", output)
	}
}

func TestInvalidateRebuildsOnNextOpen(t *testing.T) {
	directory, _ := seededStore(t)
	if _, err := runCommand(t, "--store", directory, "invalidate", "--reason", "test"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	store, err := fsrecords.Open(directory, fsrecords.Options{Storage: config.DefaultStorage()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()
	maxID, err := store.MaxID()
	if err != nil {
		t.Fatalf("MaxID: %v", err)
	}
	if maxID != records.RootID {
		t.Errorf("MaxID() after rebuild = %d, want %d", maxID, records.RootID)
	}
}

func TestExitErrorCode(t *testing.T) {
	var err error = &exitError{Code: 3}
	var coder interface{ ExitCode() int }
	if !errors.As(err, &coder) || coder.ExitCode() != 3 {
		t.Errorf("exitError does not carry its code")
	}
}
