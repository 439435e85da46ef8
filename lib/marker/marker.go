// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package marker manages the corruption marker of a record store: a
// plain-text file whose mere presence forces the next open to discard
// and rebuild the store. Its content is a human-readable report (time,
// reason, goroutine stack) for diagnostics only; nothing parses it.
//
// The marker is written atomically (temporary file, fsync, rename,
// directory fsync) so that a crash while recording corruption never
// leaves a half-written file that a later open could mistake for
// something else. Any file at the path counts, including an empty one.
package marker

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Report is the content of a corruption marker.
type Report struct {
	// Time is when the corruption was detected.
	Time time.Time

	// Reason is the error that poisoned the store.
	Reason string

	// Stack is the stack of the goroutine that detected the error.
	Stack []byte
}

// Format renders the report as the marker file text.
func (r Report) Format() []byte {
	var builder strings.Builder
	fmt.Fprintf(&builder, "record store marked corrupted at %s\n", r.Time.UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(&builder, "reason: %s\n", r.Reason)
	if len(r.Stack) > 0 {
		builder.WriteString("\n")
		builder.Write(r.Stack)
		if r.Stack[len(r.Stack)-1] != '\n' {
			builder.WriteString("\n")
		}
	}
	return []byte(builder.String())
}

// Write atomically writes the marker. The parent directory must exist.
func Write(path string, report Report) error {
	temporaryPath := path + ".tmp"

	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating temporary corruption marker: %w", err)
	}
	if _, err := file.Write(report.Format()); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary corruption marker: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary corruption marker: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary corruption marker: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming corruption marker into place: %w", err)
	}

	parentDirectory, err := os.Open(filepath.Dir(path))
	if err == nil {
		parentDirectory.Sync()
		parentDirectory.Close()
	}
	return nil
}

// Exists reports whether a marker is present. Errors other than
// absence are returned so that an unreadable directory is not mistaken
// for a clean store.
func Exists(path string) (bool, error) {
	_, err := os.Lstat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Read returns the marker text. A missing marker wraps fs.ErrNotExist.
func Read(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Clear removes the marker. Idempotent.
func Clear(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing corruption marker: %w", err)
	}
	return nil
}
