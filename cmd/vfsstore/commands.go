// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/vfsstore/lib/fsrecords"
	"github.com/bureau-foundation/vfsstore/lib/records"
	"github.com/bureau-foundation/vfsstore/lib/vfsfuse"
	"github.com/bureau-foundation/vfsstore/lib/vfsmetrics"
)

func allCommands() []*command {
	return []*command{
		{
			Name:    "check",
			Summary: "Walk every record and report inconsistencies",
			Usage:   "vfsstore check",
			Run:     runCheck,
		},
		{
			Name:    "stat",
			Summary: "Print store counters",
			Usage:   "vfsstore stat",
			Run:     runStat,
		},
		{
			Name:    "ls",
			Summary: "List the children of a record",
			Usage:   "vfsstore ls [ID]",
			Run:     runList,
		},
		{
			Name:    "cat",
			Summary: "Write the stored content of a record to stdout",
			Usage:   "vfsstore cat ID",
			Run:     runCat,
		},
		{
			Name:    "roots",
			Summary: "List the file system roots",
			Usage:   "vfsstore roots",
			Run:     runRoots,
		},
		{
			Name:    "invalidate",
			Summary: "Mark the store to be rebuilt on next open",
			Usage:   "vfsstore invalidate [--reason TEXT]",
			Flags: func() *pflag.FlagSet {
				flags := pflag.NewFlagSet("invalidate", pflag.ContinueOnError)
				flags.String("reason", "invalidated from the command line", "reason recorded in the corruption marker")
				return flags
			},
			Run: runInvalidate,
		},
		{
			Name:    "mount",
			Summary: "Serve the store read-only over FUSE until interrupted",
			Usage:   "vfsstore mount MOUNTPOINT [--root ID] [--metrics-addr ADDR] [--allow-other]",
			Flags: func() *pflag.FlagSet {
				flags := pflag.NewFlagSet("mount", pflag.ContinueOnError)
				flags.Int32("root", 0, "record shown at the mountpoint (default: super-root)")
				flags.String("metrics-addr", "", "serve Prometheus metrics at this address while mounted")
				flags.Bool("allow-other", false, "let other users read the mount")
				return flags
			},
			Run: runMount,
		},
	}
}

func parseID(arg string) (int32, error) {
	id, err := strconv.ParseInt(arg, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("record id %q: %w", arg, err)
	}
	return int32(id), nil
}

func requireArgs(args []string, minimum, maximum int, usage string) error {
	if len(args) < minimum || len(args) > maximum {
		return fmt.Errorf("usage: %s", usage)
	}
	return nil
}

func runCheck(env *environment, _ *pflag.FlagSet, args []string) error {
	if err := requireArgs(args, 0, 0, "vfsstore check"); err != nil {
		return err
	}
	return env.withStore(func(store *fsrecords.Store) error {
		report, err := store.CheckSanity()
		if err != nil {
			return err
		}
		for _, problem := range report.Problems {
			fmt.Fprintln(env.stdout, problem)
		}
		fmt.Fprintf(env.stdout, "%d records, %d live, %d problems\n",
			report.Records, report.LiveRecords, len(report.Problems))
		if len(report.Problems) > 0 {
			return &exitError{Code: 1}
		}
		return nil
	})
}

func runStat(env *environment, _ *pflag.FlagSet, args []string) error {
	if err := requireArgs(args, 0, 0, "vfsstore stat"); err != nil {
		return err
	}
	return env.withStore(func(store *fsrecords.Store) error {
		stats, err := store.Stats()
		if err != nil {
			return err
		}
		created, err := store.CreationTimestamp()
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(env.stdout, 2, 0, 2, ' ', 0)
		fmt.Fprintf(tw, "directory\t%s\n", store.Directory())
		fmt.Fprintf(tw, "format version\t%d\n", store.FormatVersion())
		fmt.Fprintf(tw, "created\t%s\n", time.UnixMilli(created).UTC().Format(time.RFC3339))
		fmt.Fprintf(tw, "records\t%d\n", stats.Records)
		fmt.Fprintf(tw, "free records\t%d\n", stats.FreeRecords)
		fmt.Fprintf(tw, "global mod count\t%d\n", stats.GlobalModCount)
		fmt.Fprintf(tw, "names\t%d\n", stats.Names)
		fmt.Fprintf(tw, "attribute keys\t%d\n", stats.AttributeKeys)
		fmt.Fprintf(tw, "attribute blobs\t%d\n", stats.AttributeBlobs)
		fmt.Fprintf(tw, "content blobs\t%d\n", stats.ContentBlobs)
		return tw.Flush()
	})
}

func runList(env *environment, _ *pflag.FlagSet, args []string) error {
	if err := requireArgs(args, 0, 1, "vfsstore ls [ID]"); err != nil {
		return err
	}
	parent := records.RootID
	if len(args) == 1 {
		var err error
		if parent, err = parseID(args[0]); err != nil {
			return err
		}
	}
	return env.withStore(func(store *fsrecords.Store) error {
		children, err := store.ListAll(parent)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(env.stdout, 2, 0, 2, ' ', 0)
		for _, child := range children {
			record, err := store.Record(child.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", child.ID, record.Flags, record.Length, child.Name)
		}
		return tw.Flush()
	})
}

func runCat(env *environment, _ *pflag.FlagSet, args []string) error {
	if err := requireArgs(args, 1, 1, "vfsstore cat ID"); err != nil {
		return err
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	return env.withStore(func(store *fsrecords.Store) error {
		data, err := store.ReadContentBytes(id)
		if errors.Is(err, fsrecords.ErrNoContent) {
			return fmt.Errorf("record %d has no stored content", id)
		}
		if err != nil {
			return err
		}
		_, err = env.stdout.Write(data)
		return err
	})
}

func runRoots(env *environment, _ *pflag.FlagSet, args []string) error {
	if err := requireArgs(args, 0, 0, "vfsstore roots"); err != nil {
		return err
	}
	return env.withStore(func(store *fsrecords.Store) error {
		roots, err := store.ListRoots()
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(env.stdout, 2, 0, 2, ' ', 0)
		for _, root := range roots {
			fmt.Fprintf(tw, "%d\t%s\n", root.ID, root.URL)
		}
		return tw.Flush()
	})
}

func runInvalidate(env *environment, flags *pflag.FlagSet, args []string) error {
	if err := requireArgs(args, 0, 0, "vfsstore invalidate [--reason TEXT]"); err != nil {
		return err
	}
	reason, _ := flags.GetString("reason")
	return env.withStore(func(store *fsrecords.Store) error {
		if err := store.InvalidateCaches(reason); err != nil {
			return err
		}
		fmt.Fprintf(env.stdout, "%s will be rebuilt on next open\n", store.Directory())
		return nil
	})
}

func runMount(env *environment, flags *pflag.FlagSet, args []string) error {
	if err := requireArgs(args, 1, 1, "vfsstore mount MOUNTPOINT"); err != nil {
		return err
	}
	root, _ := flags.GetInt32("root")
	metricsAddress, _ := flags.GetString("metrics-addr")
	if metricsAddress == "" {
		metricsAddress = env.config.Mount.MetricsAddress
	}
	allowOther, _ := flags.GetBool("allow-other")
	allowOther = allowOther || env.config.Mount.AllowOther

	return env.withStore(func(store *fsrecords.Store) error {
		if metricsAddress != "" {
			shutdown, err := serveMetrics(env, store, metricsAddress)
			if err != nil {
				return err
			}
			defer shutdown()
		}

		server, err := vfsfuse.Mount(vfsfuse.Options{
			Mountpoint: args[0],
			Store:      store,
			Root:       root,
			AllowOther: allowOther,
			Logger:     env.logger,
		})
		if err != nil {
			return err
		}
		env.logger.Info("serving until interrupted", "mountpoint", args[0])
		<-env.ctx.Done()
		if err := server.Unmount(); err != nil {
			return fmt.Errorf("unmounting %s: %w", args[0], err)
		}
		return nil
	})
}

// serveMetrics exposes the store collector at /metrics and returns the
// function that stops the server.
func serveMetrics(env *environment, store *fsrecords.Store, address string) (func(), error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(vfsmetrics.NewCollector(store))
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listening for metrics on %s: %w", address, err)
	}
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			env.logger.Error("metrics server failed", "error", err)
		}
	}()
	env.logger.Info("serving metrics", "address", listener.Addr().String())
	return func() { server.Close() }, nil
}
