// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/vfsstore/lib/config"
	"github.com/bureau-foundation/vfsstore/lib/fsrecords"
	"github.com/bureau-foundation/vfsstore/lib/names"
	"github.com/bureau-foundation/vfsstore/lib/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// environment is what every command runs against.
type environment struct {
	ctx    context.Context
	config *config.Config
	logger *slog.Logger
	stdout io.Writer
	stderr io.Writer
}

// openStore opens the configured store. The caller closes it.
func (env *environment) openStore() (*fsrecords.Store, error) {
	nameCache, err := nameCacheOptions(env.config.NameCache)
	if err != nil {
		return nil, err
	}
	if err := env.config.EnsurePaths(); err != nil {
		return nil, err
	}
	return fsrecords.Open(env.config.Paths.Store, fsrecords.Options{
		Storage:   env.config.Storage,
		NameCache: nameCache,
		Logger:    env.logger,
	})
}

// withStore runs fn against the open store and closes it, reporting a
// close failure only when fn succeeded.
func (env *environment) withStore(fn func(store *fsrecords.Store) error) (err error) {
	store, err := env.openStore()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("closing store: %w", closeErr)
		}
	}()
	return fn(store)
}

func nameCacheOptions(cache config.NameCacheConfig) (names.Options, error) {
	options := names.Options{
		DirectSlots:       cache.DirectSlots,
		Shards:            cache.Shards,
		ShardCapacity:     cache.ShardCapacity,
		ProtectedCapacity: cache.ProtectedCapacity,
	}
	if cache.TTL != "" {
		ttl, err := time.ParseDuration(cache.TTL)
		if err != nil {
			return names.Options{}, fmt.Errorf("name_cache.ttl: %w", err)
		}
		options.TTL = ttl
	}
	return options, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var (
		configPath  string
		storePath   string
		showVersion bool
		showHelp    bool
	)
	flags := pflag.NewFlagSet("vfsstore", pflag.ContinueOnError)
	flags.SetOutput(io.Discard)
	flags.SetInterspersed(false)
	flags.StringVar(&configPath, "config", "", "configuration file (default: $VFSSTORE_CONFIG)")
	flags.StringVar(&storePath, "store", "", "store directory, overriding paths.store")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	flags.BoolVarP(&showHelp, "help", "h", false, "show help")
	if err := flags.Parse(args); err != nil {
		return fmt.Errorf("%w\n\nRun 'vfsstore --help' for usage.", err)
	}

	if showVersion {
		fmt.Fprintf(stdout, "vfsstore %s\n", version.Full(config.DefaultStorage().FormatVersion()))
		return nil
	}
	commands := allCommands()
	if showHelp || flags.NArg() == 0 {
		printUsage(stdout, flags, commands)
		if showHelp {
			return nil
		}
		return errors.New("command required")
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if storePath != "" {
		cfg.Paths.Store = storePath
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger, err := newLogger(stderr, cfg.Logging.Level)
	if err != nil {
		return err
	}

	name := flags.Arg(0)
	selected := findCommand(commands, name)
	if selected == nil {
		return fmt.Errorf("unknown command %q\n\nRun 'vfsstore --help' for usage.", name)
	}
	env := &environment{
		ctx:    ctx,
		config: cfg,
		logger: logger.With("command", name, "version", version.Short()),
		stdout: stdout,
		stderr: stderr,
	}
	return selected.execute(env, flags.Args()[1:])
}

// loadConfig reads the file named by --config, then VFSSTORE_CONFIG,
// falling back to the defaults when neither is set.
func loadConfig(path string) (*config.Config, error) {
	switch {
	case path != "":
		return config.LoadFile(path)
	case os.Getenv("VFSSTORE_CONFIG") != "":
		return config.Load()
	default:
		return config.Default(), nil
	}
}

func printUsage(w io.Writer, flags *pflag.FlagSet, commands []*command) {
	fmt.Fprintf(w, "vfsstore inspects and serves a persistent VFS record store.\n\n")
	fmt.Fprintf(w, "Usage:\n  vfsstore [flags] <command> [args]\n\nCommands:\n")
	printCommands(w, commands)
	fmt.Fprintf(w, "\nFlags:\n")
	flags.SetOutput(w)
	flags.PrintDefaults()
	flags.SetOutput(io.Discard)
}
