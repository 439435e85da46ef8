// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fsrecords

import (
	"encoding/binary"
	"strings"
	"testing"
)

func TestSymlinkTarget(t *testing.T) {
	store, directory := newTestStore(t)
	id := mustCreate(t, store)

	if _, found, err := store.SymlinkTarget(id); err != nil || found {
		t.Fatalf("SymlinkTarget before set: found %t, error %v", found, err)
	}
	targets := []string{"../lib/libc.so.6", "", strings.Repeat("deep/", 40) + "target", "日本語/ファイル"}
	for _, target := range targets {
		if err := store.SetSymlinkTarget(id, target); err != nil {
			t.Fatalf("SetSymlinkTarget(%q): %v", target, err)
		}
		got, found, err := store.SymlinkTarget(id)
		if err != nil {
			t.Fatalf("SymlinkTarget: %v", err)
		}
		if !found || got != target {
			t.Errorf("SymlinkTarget() = %q, %t, want %q", got, found, target)
		}
	}
	closeStore(t, store)

	store = openTestStore(t, directory, testStorage())
	got, found, err := store.SymlinkTarget(id)
	if err != nil || !found || got != targets[len(targets)-1] {
		t.Errorf("SymlinkTarget after reopen = %q, %t, %v", got, found, err)
	}
	if err := store.SetSymlinkTarget(id, "\xff\xfe"); err == nil {
		t.Error("SetSymlinkTarget accepted invalid UTF-8")
	}
}

func TestLegacySymlinkTarget(t *testing.T) {
	store, _ := newTestStore(t)
	id := mustCreate(t, store)

	target := "/usr/share/zoneinfo/UTC"
	legacy := binary.BigEndian.AppendUint16(nil, uint16(len(target)))
	legacy = append(legacy, target...)
	store.lock.Lock()
	err := store.conn.writeAttribute(id, legacySymlinkAttribute, legacy)
	store.lock.Unlock()
	if err != nil {
		t.Fatalf("writeAttribute: %v", err)
	}

	got, found, err := store.SymlinkTarget(id)
	if err != nil {
		t.Fatalf("SymlinkTarget: %v", err)
	}
	if !found || got != target {
		t.Errorf("SymlinkTarget() = %q, %t, want %q", got, found, target)
	}

	if err := store.SetSymlinkTarget(id, "/etc/localtime"); err != nil {
		t.Fatalf("SetSymlinkTarget: %v", err)
	}
	if got, _, _ := store.SymlinkTarget(id); got != "/etc/localtime" {
		t.Errorf("SymlinkTarget() after upgrade = %q, want %q", got, "/etc/localtime")
	}
}

func TestSymlinkCodec(t *testing.T) {
	if _, err := decodeSymlink(2, []byte{0x05, 'a'}); err == nil {
		t.Error("decodeSymlink accepted a short payload")
	}
	if _, err := decodeLegacySymlink(2, []byte{0x00}); err == nil {
		t.Error("decodeLegacySymlink accepted a truncated length")
	}
	got, err := decodeSymlink(2, encodeSymlink("a/b"))
	if err != nil || got != "a/b" {
		t.Errorf("decodeSymlink(encodeSymlink(%q)) = %q, %v", "a/b", got, err)
	}
}
