// Package metrics holds the prometheus collectors shared by the store
// engine, the event handler, the storage cache and the trie.
//
// A Metrics value is constructed once at startup against a caller-owned
// registerer and injected into each component; nothing registers on the
// global prometheus registry.
package metrics

import (
	"fmt"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "hubstore"

// Metrics bundles every collector hubstore updates.
type Metrics struct {
	MessagesMerged   *prometheus.CounterVec
	MessagesPruned   *prometheus.CounterVec
	MessagesRevoked  *prometheus.CounterVec
	EventsCommitted  prometheus.Counter
	CacheScans       *prometheus.CounterVec
	TrieItems        prometheus.Gauge
	TrieBatchFlushes prometheus.Counter
	TrieApplyErrors  prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesMerged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_merged_total",
			Help:      "Merge attempts by store and outcome.",
		}, []string{"store", "outcome"}),
		MessagesPruned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_pruned_total",
			Help:      "Messages removed by pruning.",
		}, []string{"store"}),
		MessagesRevoked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_revoked_total",
			Help:      "Messages removed by revocation.",
		}, []string{"store"}),
		EventsCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_committed_total",
			Help:      "Hub events written to the event log.",
		}),
		CacheScans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_cache_scans_total",
			Help:      "Database scans performed on storage cache misses.",
		}, []string{"kind"}),
		TrieItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "trie_items",
			Help:      "Keys held by the merkle trie.",
		}),
		TrieBatchFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trie_batch_flushes_total",
			Help:      "Commits of the pending trie node batch.",
		}),
		TrieApplyErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trie_apply_errors_total",
			Help:      "Events whose keys could not be mirrored into the trie.",
		}),
	}
	reg.MustRegister(
		m.MessagesMerged,
		m.MessagesPruned,
		m.MessagesRevoked,
		m.EventsCommitted,
		m.CacheScans,
		m.TrieItems,
		m.TrieBatchFlushes,
		m.TrieApplyErrors,
	)
	return m
}

// NewUnregistered returns collectors backed by a private registry. Used by
// components constructed without explicit metrics, and by tests.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}

// Sample is one gathered series.
type Sample struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Gather flattens counters and gauges from g into sorted samples named
// metric{label="value",...}.
func Gather(g prometheus.Gatherer) ([]Sample, error) {
	families, err := g.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}

	var out []Sample
	for _, fam := range families {
		for _, m := range fam.GetMetric() {
			var v float64
			switch fam.GetType() {
			case dto.MetricType_COUNTER:
				v = m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				v = m.GetGauge().GetValue()
			default:
				continue
			}
			out = append(out, Sample{Name: seriesName(fam.GetName(), m.GetLabel()), Value: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func seriesName(name string, labels []*dto.LabelPair) string {
	if len(labels) == 0 {
		return name
	}
	parts := make([]string, 0, len(labels))
	for _, l := range labels {
		parts = append(parts, fmt.Sprintf("%s=%q", l.GetName(), l.GetValue()))
	}
	return name + "{" + strings.Join(parts, ",") + "}"
}
