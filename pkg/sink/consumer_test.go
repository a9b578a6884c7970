package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/dhrudevalia/neo4j-kafka-connector/pkg/config"
)

func TestFromKafka(t *testing.T) {
	ts := time.UnixMilli(1700000000000)
	record := fromKafka(&kgo.Record{
		Topic:     "orders",
		Partition: 3,
		Offset:    17,
		Key:       []byte(`{"id": 1}`),
		Value:     []byte(`{"total": 9.5}`),
		Timestamp: ts,
		Headers:   []kgo.RecordHeader{{Key: "trace", Value: []byte("abc")}},
	})

	assert.Equal(t, "orders", record.Topic)
	assert.Equal(t, int32(3), record.Partition)
	assert.Equal(t, int64(17), record.Offset)
	assert.Equal(t, ts, record.Timestamp)
	assert.Equal(t, map[string]interface{}{"id": int64(1)}, record.Key)
	assert.Equal(t, map[string]interface{}{"total": 9.5}, record.Value)
	assert.Equal(t, []byte(`{"total": 9.5}`), record.RawValue)
	assert.Equal(t, []byte("abc"), record.Headers["trace"])
	assert.False(t, record.Tombstone())

	tombstone := fromKafka(&kgo.Record{Topic: "orders", Key: []byte(`1`)})
	assert.True(t, tombstone.Tombstone())
}

// With tolerance none the first translation failure fails the task; with
// tolerance all (and no DLQ) the record is dropped and processing goes on.
func TestConsumer_Tolerate(t *testing.T) {
	recordErr := &RecordError{
		Record: &Record{Topic: "orders", Partition: 1, Offset: 5},
		Err:    ErrMalformedRecord,
	}

	strict := &Consumer{tolerance: config.ToleranceNone, log: hclog.NewNullLogger()}
	err := strict.tolerate(context.Background(), recordErr)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedRecord)

	lenient := &Consumer{tolerance: config.ToleranceAll, log: hclog.NewNullLogger()}
	assert.NoError(t, lenient.tolerate(context.Background(), recordErr))
}

// With a DLQ configured, tolerated records are republished and a publish
// failure propagates so the batch cannot be acknowledged.
func TestConsumer_TolerateDeadLetters(t *testing.T) {
	producer := &fakeProducer{}
	consumer := &Consumer{
		tolerance: config.ToleranceAll,
		dlq:       NewDeadLetterQueue(producer, "orders.dlq", nil, nil),
		log:       hclog.NewNullLogger(),
	}

	recordErr := &RecordError{
		Record: &Record{Topic: "orders", RawValue: []byte("x")},
		Err:    ErrMalformedRecord,
	}
	require.NoError(t, consumer.tolerate(context.Background(), recordErr))
	require.Len(t, producer.published, 1)
	assert.Equal(t, "orders.dlq", producer.published[0].Topic)

	producer.err = errors.New("broker down")
	err := consumer.tolerate(context.Background(), recordErr)
	assert.ErrorIs(t, err, ErrDeadLetterPublish)
}

func TestDropReason(t *testing.T) {
	assert.Equal(t, "unmapped_topic", dropReason(ErrUnmappedTopic))
	assert.Equal(t, "missing_constraint", dropReason(ErrMissingConstraint))
	assert.Equal(t, "permanent_driver_failure", dropReason(ErrPermanentDriver))
	assert.Equal(t, "malformed_record", dropReason(ErrMalformedRecord))
	assert.Equal(t, "malformed_record", dropReason(errors.New("mystery")))
}

func TestIsPermanent(t *testing.T) {
	wrapped := &RecordError{
		Record: &Record{},
		Err:    ErrPermanentDriver,
	}
	assert.True(t, isPermanent(wrapped))
	assert.False(t, isPermanent(errors.New("other")))
	assert.False(t, isPermanent(nil))
}
