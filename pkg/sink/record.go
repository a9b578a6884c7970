// Package sink implements the write pipeline: topic records are translated
// by per-topic strategies into parameterized Cypher statements, grouped by
// statement shape, and committed in batched transactions.
//
// The flow for one consumer poll:
//
//	records -> Registry -> Handler.Handle -> []QueryEvents
//	        -> Group (coalesce equal statements, keep partition order)
//	        -> Engine.Apply (chunk, transact, retry)
//	        -> offset commit
//
// Handlers are pure functions of their immutable configuration; all
// synchronization lives in the consumer and the engine.
package sink

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnmappedTopic reports a record on a topic no strategy claims.
	ErrUnmappedTopic = errors.New("no strategy configured for topic")
	// ErrMalformedRecord reports a record value a strategy cannot decode.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrMissingConstraint reports a CDC event whose strategy demands a
	// unique constraint that the event's schema does not carry.
	ErrMissingConstraint = errors.New("missing unique constraint")
	// ErrDeadLetterPublish reports a failed dead-letter delivery. Records
	// cannot be silently lost, so this fails the batch.
	ErrDeadLetterPublish = errors.New("dead letter publish failed")
)

// Record is the pipeline's input unit. Key and Value are already decoded
// (nil, scalar, []any, or map[string]any with string keys); RawKey and
// RawValue keep the wire bytes for dead-letter republishing. Handlers must
// not retain a Record beyond the Handle call.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       interface{}
	Value     interface{}
	RawKey    []byte
	RawValue  []byte
	Timestamp time.Time
	Headers   map[string][]byte
}

// Tombstone reports a record whose value is null, signalling deletion of
// the keyed entity.
func (r *Record) Tombstone() bool {
	return r.Value == nil && len(r.RawValue) == 0
}

// QueryEvents pairs one parameterized statement with the ordered parameter
// maps to run it with. Within Events, maps for the same logical key appear
// in source record order.
type QueryEvents struct {
	Statement string
	Events    []map[string]interface{}
}

// RecordError attributes a translation failure to the record that caused
// it, so the tolerance policy can log, drop, or dead-letter it.
type RecordError struct {
	Record *Record
	Err    error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("topic %s partition %d offset %d: %v",
		e.Record.Topic, e.Record.Partition, e.Record.Offset, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// Handler translates a slice of same-topic records into query events.
// Implementations are stateless beyond their immutable configuration.
// Per-record failures are reported alongside the successes; only the
// failing records are excluded from the returned events.
type Handler interface {
	Handle(records []*Record) ([]QueryEvents, []*RecordError)
}
