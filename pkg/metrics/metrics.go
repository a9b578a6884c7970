// Package metrics exposes the connector's prometheus instrumentation.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reasons recorded on the dropped-records counter.
const (
	ReasonMalformed         = "malformed_record"
	ReasonMissingConstraint = "missing_constraint"
	ReasonUnmappedTopic     = "unmapped_topic"
)

// Connector bundles every metric the pipeline reports.
type Connector struct {
	registry *prometheus.Registry

	// RecordsProcessed counts records successfully translated and committed.
	RecordsProcessed *prometheus.CounterVec
	// RecordsDropped counts records removed from the pipeline, by reason.
	// CDC-Schema events silently dropped for missing constraints land here
	// with reason "missing_constraint"; the drop is the strategy's
	// contract, so this counter is the only visibility it gets.
	RecordsDropped *prometheus.CounterVec
	// DeadLettered counts records published to the dead-letter topic.
	DeadLettered *prometheus.CounterVec
	// BatchRetries counts transient-failure retries of whole batches.
	BatchRetries prometheus.Counter
	// BatchCommitSeconds observes end-to-end batch commit latency.
	BatchCommitSeconds prometheus.Histogram
	// SourceRecordsPublished counts records emitted by the source poller.
	SourceRecordsPublished prometheus.Counter
}

// New builds a Connector backed by its own registry.
func New() *Connector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	registry.MustRegister(collectors.NewGoCollector())

	return &Connector{
		registry: registry,
		RecordsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "neo4j_connector_records_processed_total",
			Help: "Records translated and committed to the graph.",
		}, []string{"topic"}),
		RecordsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "neo4j_connector_records_dropped_total",
			Help: "Records dropped from the pipeline, by reason.",
		}, []string{"topic", "reason"}),
		DeadLettered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "neo4j_connector_dead_letter_total",
			Help: "Records published to the dead-letter topic.",
		}, []string{"topic"}),
		BatchRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "neo4j_connector_batch_retries_total",
			Help: "Whole-batch retries after transient driver failures.",
		}),
		BatchCommitSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "neo4j_connector_batch_commit_seconds",
			Help:    "Latency of batch transaction commits.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		SourceRecordsPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "neo4j_connector_source_records_published_total",
			Help: "Records published by the source connector.",
		}),
	}
}

// Serve exposes /metrics on addr until ctx is cancelled. A blank addr
// disables the listener.
func (c *Connector) Serve(ctx context.Context, addr string) error {
	if addr == "" {
		<-ctx.Done()
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
