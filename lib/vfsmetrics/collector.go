// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package vfsmetrics

import (
	"github.com/bureau-foundation/vfsstore/lib/fsrecords"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "vfsstore"

// StatsSource is the part of the store a Collector reads.
type StatsSource interface {
	Stats() (fsrecords.Stats, error)
}

// Collector is a prometheus.Collector over a record store.
type Collector struct {
	source StatsSource

	records        *prometheus.Desc
	freeRecords    *prometheus.Desc
	pendingRecords *prometheus.Desc
	globalModCount *prometheus.Desc
	localModCount  *prometheus.Desc
	names          *prometheus.Desc
	nameLookups    *prometheus.Desc
	attributeKeys  *prometheus.Desc
	attributeBlobs *prometheus.Desc
	contentBlobs   *prometheus.Desc
	contentWrites  *prometheus.Desc
	flushes        *prometheus.Desc
	state          *prometheus.Desc
	up             *prometheus.Desc
}

// NewCollector returns a collector reading source on every scrape.
func NewCollector(source StatsSource) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &Collector{
		source:         source,
		records:        desc("records", "Allocated record slots, free or not."),
		freeRecords:    desc("free_records", "Record slots available for reuse."),
		pendingRecords: desc("pending_free_records", "Record slots freed since the store was opened."),
		globalModCount: desc("global_modifications", "Persistent modification counter."),
		localModCount:  desc("local_mutations_total", "Successful mutations since the store was opened."),
		names:          desc("names", "Interned file names."),
		nameLookups:    desc("name_lookups_total", "Name lookups by the layer that answered them.", "layer"),
		attributeKeys:  desc("attribute_keys", "Registered attribute keys."),
		attributeBlobs: desc("attribute_blobs", "Allocated attribute blob handles."),
		contentBlobs:   desc("content_blobs", "Allocated content blob handles."),
		contentWrites:  desc("content_writes_total", "Content writes by outcome.", "outcome"),
		flushes:        desc("flushes_total", "Forces of the store to disk."),
		state:          desc("state", "Connection state; 1 for the current state.", "state"),
		up:             desc("up", "Whether the last statistics read succeeded."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.records, c.freeRecords, c.pendingRecords, c.globalModCount, c.localModCount,
		c.names, c.nameLookups, c.attributeKeys, c.attributeBlobs, c.contentBlobs,
		c.contentWrites, c.flushes, c.state, c.up,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector. A closed or failing store
// reports only up = 0.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats, err := c.source.Stats()
	if err != nil {
		ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 0)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 1)

	gauge := func(d *prometheus.Desc, value float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, value, labels...)
	}
	counter := func(d *prometheus.Desc, value float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, value, labels...)
	}

	gauge(c.records, float64(stats.Records))
	gauge(c.freeRecords, float64(stats.FreeRecords))
	gauge(c.pendingRecords, float64(stats.PendingFreeRecords))
	gauge(c.globalModCount, float64(stats.GlobalModCount))
	counter(c.localModCount, float64(stats.LocalModCount))
	gauge(c.names, float64(stats.Names))
	counter(c.nameLookups, float64(stats.NameCache.DirectHits), "direct")
	counter(c.nameLookups, float64(stats.NameCache.CacheHits), "lru")
	counter(c.nameLookups, float64(stats.NameCache.DiskLoads), "disk")
	gauge(c.attributeKeys, float64(stats.AttributeKeys))
	gauge(c.attributeBlobs, float64(stats.AttributeBlobs))
	gauge(c.contentBlobs, float64(stats.ContentBlobs))
	counter(c.contentWrites, float64(stats.Content.Stored), "stored")
	counter(c.contentWrites, float64(stats.Content.Reused), "reused")
	counter(c.flushes, float64(stats.Flushes))
	for _, state := range []fsrecords.State{
		fsrecords.StateOpening, fsrecords.StateConnected, fsrecords.StateClosing, fsrecords.StateCorrupted,
	} {
		value := 0.0
		if stats.State == state {
			value = 1
		}
		gauge(c.state, value, state.String())
	}
}
