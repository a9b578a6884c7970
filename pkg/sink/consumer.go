package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/dhrudevalia/neo4j-kafka-connector/pkg/config"
	"github.com/dhrudevalia/neo4j-kafka-connector/pkg/convert"
	"github.com/dhrudevalia/neo4j-kafka-connector/pkg/metrics"
)

// Consumer owns the poll loop: it fetches records for every registered
// topic, runs each partition's slice through the pipeline on its own
// goroutine, and commits offsets only after the engine reports the batch
// transaction committed.
//
// Ordering is strict within a (topic, partition) and unordered across
// partitions, matching the broker's delivery contract.
type Consumer struct {
	client          *kgo.Client
	registry        *Registry
	engine          *Engine
	dlq             *DeadLetterQueue
	tolerance       config.Tolerance
	shutdownTimeout time.Duration
	log             hclog.Logger
	mx              *metrics.Connector
}

// NewConsumer builds the group consumer for every registered topic.
// Offsets are committed manually; auto-commit would acknowledge records
// the graph never saw.
func NewConsumer(cfg *config.Config, registry *Registry, engine *Engine, log hclog.Logger, mx *metrics.Connector) (*Consumer, error) {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Kafka.BootstrapServers...),
		kgo.ConsumerGroup(cfg.Kafka.GroupID),
		kgo.ConsumeTopics(registry.Topics()...),
		kgo.DisableAutoCommit(),
		kgo.FetchMaxWait(500*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("creating kafka client: %w", err)
	}

	consumer := &Consumer{
		client:          client,
		registry:        registry,
		engine:          engine,
		tolerance:       cfg.Errors.Tolerance,
		shutdownTimeout: cfg.ShutdownTimeout,
		log:             log.Named("sink"),
		mx:              mx,
	}
	if cfg.Errors.DLQTopic != "" {
		consumer.dlq = NewDeadLetterQueue(client, cfg.Errors.DLQTopic, log, mx)
	}
	return consumer, nil
}

// Run polls until ctx is cancelled. An in-flight batch gets the shutdown
// grace timeout to commit or fail through its normal state machine before
// its transaction is abandoned.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.client.Close()

	// Batches run against workCtx, which outlives ctx by the grace
	// timeout so a stop signal does not roll back work that is about to
	// commit.
	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()
	go func() {
		<-ctx.Done()
		timer := time.NewTimer(c.shutdownTimeout)
		defer timer.Stop()
		<-timer.C
		cancelWork()
	}()

	c.log.Info("starting sink consumer", "topics", c.registry.Topics())
	for {
		if ctx.Err() != nil {
			c.log.Info("sink consumer stopped")
			return nil
		}

		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		for _, fetchErr := range fetches.Errors() {
			if ctx.Err() != nil {
				continue
			}
			c.log.Error("fetch error",
				"topic", fetchErr.Topic, "partition", fetchErr.Partition, "error", fetchErr.Err)
		}

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			firstErr error
		)
		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			if len(p.Records) == 0 {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := c.processPartition(workCtx, p); err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
				}
			}()
		})
		wg.Wait()
		if firstErr != nil {
			return firstErr
		}
	}
}

// processPartition runs one partition's records through translate, group,
// apply, and offset commit.
func (c *Consumer) processPartition(ctx context.Context, p kgo.FetchTopicPartition) error {
	records := make([]*Record, len(p.Records))
	for i, r := range p.Records {
		records[i] = fromKafka(r)
	}

	handler, err := c.registry.Handler(p.Topic)
	if err != nil {
		return c.rejectAll(ctx, p, records, err)
	}

	events, recordErrs := handler.Handle(records)
	for _, recordErr := range recordErrs {
		if policyErr := c.tolerate(ctx, recordErr); policyErr != nil {
			return policyErr
		}
	}

	if err := c.engine.Apply(ctx, Group(events)); err != nil {
		return c.handleBatchFailure(ctx, p, records, err)
	}
	return c.commit(ctx, p)
}

// tolerate routes one translation failure through the error policy.
func (c *Consumer) tolerate(ctx context.Context, recordErr *RecordError) error {
	if c.tolerance == config.ToleranceNone {
		return recordErr
	}
	c.logDrop(recordErr)
	if c.dlq != nil {
		return c.dlq.Publish(ctx, recordErr.Record, recordErr.Err)
	}
	return nil
}

// handleBatchFailure applies the error policy to a failed batch. The
// whole batch routes as a unit: the driver reports transaction-level
// failure without attributing the offending parameter map, and bisecting
// record by record would break the single-transaction guarantee.
func (c *Consumer) handleBatchFailure(ctx context.Context, p kgo.FetchTopicPartition, records []*Record, err error) error {
	if !isPermanent(err) || c.tolerance == config.ToleranceNone {
		return fmt.Errorf("batch for %s[%d] failed: %w", p.Topic, p.Partition, err)
	}
	if rejectErr := c.rejectAll(ctx, p, records, err); rejectErr != nil {
		return rejectErr
	}
	return nil
}

// rejectAll drops or dead-letters every record of the partition batch,
// then commits offsets so the poison batch is not redelivered forever.
// With tolerance none the first record fails the task instead.
func (c *Consumer) rejectAll(ctx context.Context, p kgo.FetchTopicPartition, records []*Record, cause error) error {
	for _, record := range records {
		if err := c.tolerate(ctx, &RecordError{Record: record, Err: cause}); err != nil {
			return err
		}
	}
	return c.commit(ctx, p)
}

func (c *Consumer) commit(ctx context.Context, p kgo.FetchTopicPartition) error {
	if err := c.client.CommitRecords(ctx, p.Records...); err != nil {
		return fmt.Errorf("committing offsets for %s[%d]: %w", p.Topic, p.Partition, err)
	}
	if c.mx != nil {
		c.mx.RecordsProcessed.WithLabelValues(p.Topic).Add(float64(len(p.Records)))
	}
	return nil
}

func (c *Consumer) logDrop(recordErr *RecordError) {
	record := recordErr.Record
	if c.mx != nil {
		c.mx.RecordsDropped.WithLabelValues(record.Topic, dropReason(recordErr.Err)).Inc()
	}
	c.log.Warn("dropping record",
		"topic", record.Topic,
		"partition", record.Partition,
		"offset", record.Offset,
		"error", recordErr.Err,
	)
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, ErrUnmappedTopic):
		return metrics.ReasonUnmappedTopic
	case errors.Is(err, ErrMissingConstraint):
		return metrics.ReasonMissingConstraint
	case errors.Is(err, ErrPermanentDriver):
		return "permanent_driver_failure"
	default:
		return metrics.ReasonMalformed
	}
}

func isPermanent(err error) bool {
	return errors.Is(err, ErrPermanentDriver)
}

// fromKafka converts a broker record into the pipeline's record shape,
// decoding key and value while keeping the raw bytes for dead-lettering.
func fromKafka(r *kgo.Record) *Record {
	headers := make(map[string][]byte, len(r.Headers))
	for _, h := range r.Headers {
		headers[h.Key] = h.Value
	}
	return &Record{
		Topic:     r.Topic,
		Partition: r.Partition,
		Offset:    r.Offset,
		Key:       decode(r.Key),
		Value:     decode(r.Value),
		RawKey:    r.Key,
		RawValue:  r.Value,
		Timestamp: r.Timestamp,
		Headers:   headers,
	}
}

// decode parses raw bytes as JSON, falling back to the plain string for
// non-JSON payloads. Empty input is a tombstone and decodes to nil.
func decode(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var value interface{}
	if err := decoder.Decode(&value); err != nil {
		return string(raw)
	}
	return convert.Normalize(value)
}
