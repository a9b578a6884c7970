package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/dhrudevalia/neo4j-kafka-connector/pkg/metrics"
)

// Dead-letter header names, following the Kafka Connect convention so
// existing DLQ tooling can parse them.
const (
	headerDLQTopic     = "__connect.errors.topic"
	headerDLQPartition = "__connect.errors.partition"
	headerDLQOffset    = "__connect.errors.offset"
	headerDLQMessage   = "__connect.errors.exception.message"
	headerDLQEventID   = "__connect.errors.event.id"
)

// producer is the slice of the broker client the DLQ needs.
type producer interface {
	ProduceSync(ctx context.Context, records ...*kgo.Record) kgo.ProduceResults
}

// DeadLetterQueue republishes refused records to a secondary topic with
// headers describing where they came from and why they failed.
type DeadLetterQueue struct {
	client producer
	topic  string
	log    hclog.Logger
	mx     *metrics.Connector
}

// NewDeadLetterQueue builds a DLQ publisher over an existing client.
func NewDeadLetterQueue(client producer, topic string, log hclog.Logger, mx *metrics.Connector) *DeadLetterQueue {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &DeadLetterQueue{client: client, topic: topic, log: log, mx: mx}
}

// Publish sends the original record bytes to the dead-letter topic.
// A delivery failure is wrapped in ErrDeadLetterPublish: the caller must
// fail the batch rather than silently lose the record.
func (d *DeadLetterQueue) Publish(ctx context.Context, record *Record, cause error) error {
	out := &kgo.Record{
		Topic: d.topic,
		Key:   record.RawKey,
		Value: record.RawValue,
		Headers: []kgo.RecordHeader{
			{Key: headerDLQTopic, Value: []byte(record.Topic)},
			{Key: headerDLQPartition, Value: []byte(fmt.Sprintf("%d", record.Partition))},
			{Key: headerDLQOffset, Value: []byte(fmt.Sprintf("%d", record.Offset))},
			{Key: headerDLQMessage, Value: []byte(cause.Error())},
			{Key: headerDLQEventID, Value: []byte(uuid.NewString())},
		},
	}
	for name, value := range record.Headers {
		out.Headers = append(out.Headers, kgo.RecordHeader{Key: name, Value: value})
	}

	if err := d.client.ProduceSync(ctx, out).FirstErr(); err != nil {
		return fmt.Errorf("%w: topic %s: %v", ErrDeadLetterPublish, d.topic, err)
	}

	if d.mx != nil {
		d.mx.DeadLettered.WithLabelValues(record.Topic).Inc()
	}
	d.log.Info("record dead-lettered",
		"topic", record.Topic,
		"partition", record.Partition,
		"offset", record.Offset,
		"error", unwrapKind(cause),
	)
	return nil
}

// unwrapKind reduces a wrapped cause to its sentinel kind when one is
// present, keeping log lines grep-able.
func unwrapKind(err error) string {
	for _, kind := range []error{
		ErrMalformedRecord, ErrMissingConstraint, ErrUnmappedTopic, ErrPermanentDriver,
	} {
		if errors.Is(err, kind) {
			return kind.Error()
		}
	}
	return err.Error()
}
