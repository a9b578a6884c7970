// Package cdc models the change-data-capture transaction events consumed by
// the CDC sink strategies, and selects the constraint-backed keys that turn
// a change event into an idempotent merge.
package cdc

import (
	"encoding/json"
	"fmt"

	"github.com/dhrudevalia/neo4j-kafka-connector/pkg/convert"
)

// Operation is the change kind recorded in the event metadata.
type Operation string

const (
	OperationCreated Operation = "created"
	OperationUpdated Operation = "updated"
	OperationDeleted Operation = "deleted"
)

// EntityType distinguishes node events from relationship events.
type EntityType string

const (
	EntityNode         EntityType = "node"
	EntityRelationship EntityType = "relationship"
)

// ConstraintType is the declared rule kind on a label's properties. Only
// unique-flavored constraints participate in key selection.
type ConstraintType string

const (
	ConstraintUnique  ConstraintType = "UNIQUE"
	ConstraintNodeKey ConstraintType = "NODE_KEY"
)

// Constraint is a declared uniqueness or key rule on a label's properties,
// sourced from the event's schema metadata.
type Constraint struct {
	Label      string         `json:"label"`
	Type       ConstraintType `json:"type"`
	Properties []string       `json:"properties"`
}

// isUnique reports whether the constraint can establish node identity.
func (c Constraint) isUnique() bool {
	return c.Type == ConstraintUnique || c.Type == ConstraintNodeKey
}

// Meta is the transaction-level header of a change event.
type Meta struct {
	Timestamp     int64     `json:"timestamp"`
	Username      string    `json:"username"`
	TxID          int64     `json:"txId"`
	TxEventID     int       `json:"txEventId"`
	TxEventsCount int       `json:"txEventsCount"`
	Operation     Operation `json:"operation"`
}

// EntityState is the before or after image of a node or relationship.
// Labels is empty for relationship states.
type EntityState struct {
	Labels     []string               `json:"labels,omitempty"`
	Properties map[string]interface{} `json:"properties"`
}

// RelationshipNode identifies one endpoint of a relationship change by its
// labels and the property values of its unique constraints.
type RelationshipNode struct {
	ID     string                 `json:"id"`
	Labels []string               `json:"labels"`
	IDs    map[string]interface{} `json:"ids"`
}

// Payload carries the entity identity and its before/after images. Label,
// Start and End are populated for relationship events only.
type Payload struct {
	ID     string       `json:"id"`
	Type   EntityType   `json:"type"`
	Before *EntityState `json:"before"`
	After  *EntityState `json:"after"`

	Label string            `json:"label,omitempty"`
	Start *RelationshipNode `json:"start,omitempty"`
	End   *RelationshipNode `json:"end,omitempty"`
}

// Schema is the constraint metadata captured with the event.
type Schema struct {
	Constraints []Constraint      `json:"constraints"`
	Properties  map[string]string `json:"properties,omitempty"`
}

// TransactionEvent is one change event from the source database's
// transaction log: operation metadata, the changed entity, and the schema
// in force when the change committed.
type TransactionEvent struct {
	Meta    Meta    `json:"meta"`
	Payload Payload `json:"payload"`
	Schema  Schema  `json:"schema"`
}

// ParseEvent decodes a record value into a TransactionEvent. The value may
// be raw JSON bytes or an already-decoded map.
func ParseEvent(value interface{}) (*TransactionEvent, error) {
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case json.RawMessage:
		raw = v
	default:
		if m, ok := convert.ToStringMap(value); ok {
			encoded, err := json.Marshal(m)
			if err != nil {
				return nil, fmt.Errorf("re-encoding event map: %w", err)
			}
			raw = encoded
		}
	}
	if raw == nil {
		return nil, fmt.Errorf("value is not a change event")
	}

	var event TransactionEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, fmt.Errorf("decoding change event: %w", err)
	}
	if event.Payload.Type != EntityNode && event.Payload.Type != EntityRelationship {
		return nil, fmt.Errorf("unknown payload type %q", event.Payload.Type)
	}
	return &event, nil
}
