// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for vfsstore.
//
// Configuration is loaded from a single file specified by either the
// VFSSTORE_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks and no automatic file
// search. YAML is the native format; files ending in .json or .jsonc
// are accepted with comments and trailing commas stripped.
//
// The configuration file supports environment-specific sections
// (development, staging, production) that override base values when
// [Config].Environment matches. Storage toggles in an override section
// are pointers, so an override can turn a toggle off.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${VFSSTORE_ROOT}, and ${VAR:-default} patterns are expanded.
//
// Store toggles are read once, when the store is opened. Every toggle
// that changes the on-disk format is folded into
// [StorageConfig.FormatVersion]: opening a store written under other
// toggles is a version mismatch and rebuilds it.
//
// This package depends on no other vfsstore packages.
package config
