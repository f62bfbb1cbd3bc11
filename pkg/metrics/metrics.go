// Package metrics exports an endpoint's §8 testable counters as Prometheus
// metrics via a custom Collector, the way the example pack's TCP-info
// exporter walks a live connection table on every scrape instead of
// maintaining its own pre-registered metric vectors.
package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/booksim-go/endpoint/pkg/endpoint"
)

// Source is anything that can produce a current endpoint.Stats;
// *endpoint.Endpoint satisfies it via its Stats method.
type Source interface {
	Stats() endpoint.Stats
}

var _ Source = (*endpoint.Endpoint)(nil)

// Collector implements prometheus.Collector by scraping every registered
// endpoint's current Stats on each Collect call, matching the pack's
// TCPInfoCollector pattern of reading live state rather than mirroring it
// into Prometheus vectors on every update.
type Collector struct {
	mu      sync.Mutex
	sources map[int]Source

	descs map[string]*prometheus.Desc
}

// NewCollector builds an empty Collector; endpoints register themselves via
// Register as they're constructed.
func NewCollector(namespace string) *Collector {
	label := []string{"node"}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(namespace+"_"+name, help, label, nil)
	}
	return &Collector{
		sources: make(map[int]Source),
		descs: map[string]*prometheus.Desc{
			"packets_sent":               desc("packets_sent_total", "Packets handed to the fabric by this endpoint."),
			"packets_retired":            desc("packets_retired_total", "Packets fully retired from the outstanding packet buffer."),
			"bytes_delivered":            desc("bytes_delivered_total", "Payload bytes admitted to the put queue."),
			"nacks_sent":                 desc("nacks_sent_total", "NACKs emitted by this endpoint's receive side."),
			"sacks_sent":                 desc("sacks_sent_total", "SACKs emitted by this endpoint's receive side."),
			"duplicate_packets_received": desc("duplicate_packets_received_total", "Duplicate packet tails observed."),
			"good_packets_received":      desc("good_packets_received_total", "In-order packet tails admitted."),
			"bad_packets_received":       desc("bad_packets_received_total", "Out-of-order or dropped packet tails observed."),
			"retry_timeouts":             desc("retry_timeouts_total", "Retry-timer expirations that triggered a retransmission."),
			"opb_occupancy":              desc("opb_occupancy", "Current outstanding packet buffer head-flit occupancy."),
			"put_queue_depth":            desc("put_queue_depth", "Current combined put-wait and load-balance queue depth."),
			"put_dropped":                desc("put_dropped_total", "Arrivals dropped for lack of put-queue space, full-simulation count."),
			"put_dropped_window":         desc("put_dropped_window", "Arrivals dropped for lack of put-queue space in the current measurement window."),
		},
	}
}

// Register adds node's Source to the collector's scrape set.
func (c *Collector) Register(node int, src Source) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources[node] = src
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for node, src := range c.sources {
		s := src.Stats()
		label := []string{strconv.Itoa(node)}

		ch <- prometheus.MustNewConstMetric(c.descs["packets_sent"], prometheus.CounterValue, float64(s.PacketsSent), label...)
		ch <- prometheus.MustNewConstMetric(c.descs["packets_retired"], prometheus.CounterValue, float64(s.PacketsRetired), label...)
		ch <- prometheus.MustNewConstMetric(c.descs["bytes_delivered"], prometheus.CounterValue, float64(s.BytesDelivered), label...)
		ch <- prometheus.MustNewConstMetric(c.descs["nacks_sent"], prometheus.CounterValue, float64(s.NacksSent), label...)
		ch <- prometheus.MustNewConstMetric(c.descs["sacks_sent"], prometheus.CounterValue, float64(s.SacksSent), label...)
		ch <- prometheus.MustNewConstMetric(c.descs["duplicate_packets_received"], prometheus.CounterValue, float64(s.DuplicatePacketsReceived), label...)
		ch <- prometheus.MustNewConstMetric(c.descs["good_packets_received"], prometheus.CounterValue, float64(s.GoodPacketsReceived), label...)
		ch <- prometheus.MustNewConstMetric(c.descs["bad_packets_received"], prometheus.CounterValue, float64(s.BadPacketsReceived), label...)
		ch <- prometheus.MustNewConstMetric(c.descs["retry_timeouts"], prometheus.CounterValue, float64(s.RetryTimeouts), label...)
		ch <- prometheus.MustNewConstMetric(c.descs["opb_occupancy"], prometheus.GaugeValue, float64(s.OpbOccupancy), label...)
		ch <- prometheus.MustNewConstMetric(c.descs["put_queue_depth"], prometheus.GaugeValue, float64(s.PutQueueDepth), label...)
		ch <- prometheus.MustNewConstMetric(c.descs["put_dropped"], prometheus.CounterValue, float64(s.PutDropped), label...)
		ch <- prometheus.MustNewConstMetric(c.descs["put_dropped_window"], prometheus.GaugeValue, float64(s.PutDroppedFull), label...)
	}
}
