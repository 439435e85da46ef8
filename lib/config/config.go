// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// BaseFormatVersion is the on-disk format version before toggles are
// folded in. Bump it whenever the layout of any store file changes.
const BaseFormatVersion = 23

// Format bits folded into the version by [StorageConfig.FormatVersion].
const (
	formatShareContents        = 1 << 0
	formatInlineAttributes     = 1 << 1
	formatSmallAttributeTable  = 1 << 2
	formatBulkAttributeHeaders = 1 << 3
	formatCompressionLZ4       = 1 << 4
	formatCompressionZstd      = 1 << 5
	formatStoreRootsSeparately = 1 << 6
)

// Config is the master configuration for vfsstore.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Storage configures the record store.
	Storage StorageConfig `yaml:"storage"`

	// NameCache configures the caches in front of the name table.
	NameCache NameCacheConfig `yaml:"name_cache"`

	// Logging configures the command-line logger.
	Logging LoggingConfig `yaml:"logging"`

	// Mount configures the read-only FUSE view.
	Mount MountConfig `yaml:"mount"`

	// EnvironmentOverrides contains per-environment overrides.
	// These are applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Paths   *PathsConfig      `yaml:"paths,omitempty"`
	Storage *StorageOverrides `yaml:"storage,omitempty"`
	Logging *LoggingConfig    `yaml:"logging,omitempty"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Root is the base directory for vfsstore data.
	Root string `yaml:"root"`

	// Store is the directory holding the record store files.
	// Default: <root>/caches
	Store string `yaml:"store"`
}

// StorageConfig holds the store toggles. Every toggle that changes the
// on-disk format is folded into [StorageConfig.FormatVersion], so a
// store written under other settings is rebuilt rather than misread.
type StorageConfig struct {
	// ShareContents deduplicates file content by hash.
	ShareContents bool `yaml:"share_contents"`

	// BackgroundFlush periodically persists dirty storages.
	BackgroundFlush bool `yaml:"background_flush"`

	// FlushInterval is the background flush period.
	// Default: 5s
	FlushInterval string `yaml:"flush_interval"`

	// InlineAttributes stores small attribute payloads inside the
	// record's attribute directory.
	InlineAttributes bool `yaml:"inline_attributes"`

	// SmallAttributeTable uses the compact blob table (no reference
	// counts, no checksums) for attributes.
	SmallAttributeTable bool `yaml:"small_attribute_table"`

	// BulkAttributeHeaders prefixes attribute blobs with their
	// attribute and record ids.
	BulkAttributeHeaders bool `yaml:"bulk_attribute_headers"`

	// LightweightCompression compresses stored content.
	LightweightCompression bool `yaml:"lightweight_compression"`

	// Compression selects the algorithm: "lz4" or "zstd".
	// Default: lz4
	Compression string `yaml:"compression"`

	// StoreRootsSeparately keeps the root table in a text file
	// instead of an attribute of the super-root.
	StoreRootsSeparately bool `yaml:"store_roots_separately"`

	// LazyDataCleaning defers releasing a deleted record's content and
	// attributes until its slot is reused.
	LazyDataCleaning bool `yaml:"lazy_data_cleaning"`

	// MaxInitializationAttempts bounds open-and-rebuild cycles.
	// Default: 3
	MaxInitializationAttempts int `yaml:"max_initialization_attempts"`
}

// StorageOverrides overrides individual storage toggles. Nil fields
// keep the base value.
type StorageOverrides struct {
	ShareContents          *bool   `yaml:"share_contents,omitempty"`
	BackgroundFlush        *bool   `yaml:"background_flush,omitempty"`
	FlushInterval          *string `yaml:"flush_interval,omitempty"`
	InlineAttributes       *bool   `yaml:"inline_attributes,omitempty"`
	SmallAttributeTable    *bool   `yaml:"small_attribute_table,omitempty"`
	BulkAttributeHeaders   *bool   `yaml:"bulk_attribute_headers,omitempty"`
	LightweightCompression *bool   `yaml:"lightweight_compression,omitempty"`
	Compression            *string `yaml:"compression,omitempty"`
	StoreRootsSeparately   *bool   `yaml:"store_roots_separately,omitempty"`
	LazyDataCleaning       *bool   `yaml:"lazy_data_cleaning,omitempty"`
}

// NameCacheConfig configures the name table caches. Zero values use
// the name table's defaults.
type NameCacheConfig struct {
	DirectSlots       int    `yaml:"direct_slots"`
	Shards            int    `yaml:"shards"`
	ShardCapacity     int    `yaml:"shard_capacity"`
	ProtectedCapacity int    `yaml:"protected_capacity"`
	TTL               string `yaml:"ttl"`
}

// LoggingConfig configures the command-line logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	// Default: info
	Level string `yaml:"level"`
}

// MountConfig configures the read-only FUSE view.
type MountConfig struct {
	// AllowOther lets other users read the mount.
	AllowOther bool `yaml:"allow_other"`

	// MetricsAddress serves Prometheus metrics while mounted when set.
	MetricsAddress string `yaml:"metrics_address"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".cache", "vfsstore")

	cfg := &Config{
		Environment: Development,
		Paths:       PathsConfig{Root: defaultRoot},
		Storage:     DefaultStorage(),
		Logging:     LoggingConfig{Level: "info"},
	}
	cfg.expandVariables()
	return cfg
}

// DefaultStorage returns the default store toggles.
func DefaultStorage() StorageConfig {
	return StorageConfig{
		ShareContents:             true,
		BackgroundFlush:           true,
		FlushInterval:             "5s",
		InlineAttributes:          true,
		BulkAttributeHeaders:      true,
		Compression:               "lz4",
		LazyDataCleaning:          true,
		MaxInitializationAttempts: 3,
	}
}

// Load loads configuration from the VFSSTORE_CONFIG environment
// variable. There is no fallback search: if the variable is unset,
// Load fails.
func Load() (*Config, error) {
	configPath := os.Getenv("VFSSTORE_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("VFSSTORE_CONFIG environment variable not set; " +
			"set it to the path of your vfsstore.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path. Files ending
// in .json or .jsonc may carry comments and trailing commas.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	// Store follows Root unless the file sets it.
	cfg.Paths.Store = ""

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	// Apply environment-specific overrides (development/staging/production sections in the file).
	cfg.applyEnvironmentOverrides()

	// Expand ${HOME} and similar variables in paths for portability.
	cfg.expandVariables()

	return cfg, nil
}

// loadFile loads a single configuration file, merging into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		// JSON is a subset of YAML, so the yaml tags decode it too.
		data = jsonc.ToJSON(data)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Production defaults: quieter logs.
		if overrides == nil {
			overrides = &ConfigOverrides{
				Logging: &LoggingConfig{Level: "warn"},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Paths != nil {
		if overrides.Paths.Root != "" {
			c.Paths.Root = overrides.Paths.Root
		}
		if overrides.Paths.Store != "" {
			c.Paths.Store = overrides.Paths.Store
		}
	}

	if overrides.Logging != nil && overrides.Logging.Level != "" {
		c.Logging.Level = overrides.Logging.Level
	}

	if storage := overrides.Storage; storage != nil {
		setBool(&c.Storage.ShareContents, storage.ShareContents)
		setBool(&c.Storage.BackgroundFlush, storage.BackgroundFlush)
		setString(&c.Storage.FlushInterval, storage.FlushInterval)
		setBool(&c.Storage.InlineAttributes, storage.InlineAttributes)
		setBool(&c.Storage.SmallAttributeTable, storage.SmallAttributeTable)
		setBool(&c.Storage.BulkAttributeHeaders, storage.BulkAttributeHeaders)
		setBool(&c.Storage.LightweightCompression, storage.LightweightCompression)
		setString(&c.Storage.Compression, storage.Compression)
		setBool(&c.Storage.StoreRootsSeparately, storage.StoreRootsSeparately)
		setBool(&c.Storage.LazyDataCleaning, storage.LazyDataCleaning)
	}
}

func setBool(target *bool, override *bool) {
	if override != nil {
		*target = *override
	}
}

func setString(target *string, override *string) {
	if override != nil && *override != "" {
		*target = *override
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"VFSSTORE_ROOT": c.Paths.Root,
		"HOME":          os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["VFSSTORE_ROOT"] = c.Paths.Root // Update for dependent paths.

	c.Paths.Store = expandVars(c.Paths.Store, vars)
	if c.Paths.Store == "" && c.Paths.Root != "" {
		c.Paths.Store = filepath.Join(c.Paths.Root, "caches")
	}
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Paths.Store == "" {
		errs = append(errs, fmt.Errorf("paths.store is required"))
	}

	if err := c.Storage.Validate(); err != nil {
		errs = append(errs, err)
	}

	if c.NameCache.TTL != "" {
		if _, err := time.ParseDuration(c.NameCache.TTL); err != nil {
			errs = append(errs, fmt.Errorf("name_cache.ttl: %w", err))
		}
	}
	for name, value := range map[string]int{
		"name_cache.direct_slots":       c.NameCache.DirectSlots,
		"name_cache.shards":             c.NameCache.Shards,
		"name_cache.shard_capacity":     c.NameCache.ShardCapacity,
		"name_cache.protected_capacity": c.NameCache.ProtectedCapacity,
	} {
		if value < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}

	levels := []string{"debug", "info", "warn", "error"}
	if !contains(levels, c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level must be one of: %v", levels))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the storage toggles.
func (s StorageConfig) Validate() error {
	var errs []error
	if _, err := s.FlushPeriod(); err != nil {
		errs = append(errs, err)
	}
	compressions := []string{"lz4", "zstd"}
	if s.LightweightCompression && !contains(compressions, s.Compression) {
		errs = append(errs, fmt.Errorf("storage.compression must be one of: %v", compressions))
	}
	if s.MaxInitializationAttempts < 1 {
		errs = append(errs, fmt.Errorf("storage.max_initialization_attempts must be at least 1"))
	}
	return errors.Join(errs...)
}

// FlushPeriod parses FlushInterval.
func (s StorageConfig) FlushPeriod() (time.Duration, error) {
	period, err := time.ParseDuration(s.FlushInterval)
	if err != nil {
		return 0, fmt.Errorf("storage.flush_interval: %w", err)
	}
	if period <= 0 {
		return 0, fmt.Errorf("storage.flush_interval must be positive, got %s", s.FlushInterval)
	}
	return period, nil
}

// FormatVersion returns the on-disk format version implied by the
// toggles. Toggles that only change runtime behavior (background
// flush, lazy cleaning) do not participate.
func (s StorageConfig) FormatVersion() int32 {
	bits := int32(0)
	if s.ShareContents {
		bits |= formatShareContents
	}
	if s.InlineAttributes {
		bits |= formatInlineAttributes
	}
	if s.SmallAttributeTable {
		bits |= formatSmallAttributeTable
	}
	if s.BulkAttributeHeaders {
		bits |= formatBulkAttributeHeaders
	}
	if s.LightweightCompression {
		if s.Compression == "zstd" {
			bits |= formatCompressionZstd
		} else {
			bits |= formatCompressionLZ4
		}
	}
	if s.StoreRootsSeparately {
		bits |= formatStoreRootsSeparately
	}
	return BaseFormatVersion<<8 | bits
}

// EnsurePaths creates the configured directories if they don't exist.
func (c *Config) EnsurePaths() error {
	for _, path := range []string{c.Paths.Root, c.Paths.Store} {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
