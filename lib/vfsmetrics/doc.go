// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package vfsmetrics exports record store statistics to Prometheus.
//
// [NewCollector] reads [fsrecords.Store.Stats] on every scrape, so
// there is nothing to update from the store's hot paths:
//
//	registry := prometheus.NewRegistry()
//	registry.MustRegister(vfsmetrics.NewCollector(store))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
package vfsmetrics
