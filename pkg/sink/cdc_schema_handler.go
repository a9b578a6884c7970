package sink

import (
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/dhrudevalia/neo4j-kafka-connector/pkg/cdc"
	"github.com/dhrudevalia/neo4j-kafka-connector/pkg/cypher"
	"github.com/dhrudevalia/neo4j-kafka-connector/pkg/metrics"
)

// CDCSchemaHandler applies change events by the unique constraints carried
// in their schema metadata: node merges are keyed by the smallest covered
// constraint, relationships require a constraint on each endpoint.
//
// Events that carry no qualifying constraint are dropped from the output
// without failing the batch; that drop is this strategy's contract, so it
// is surfaced only through the dropped-records counter and a DEBUG log.
type CDCSchemaHandler struct {
	topic string
	log   hclog.Logger
	mx    *metrics.Connector
}

// NewCDCSchemaHandler returns the schema strategy handler for one topic.
func NewCDCSchemaHandler(topic string, log hclog.Logger, mx *metrics.Connector) *CDCSchemaHandler {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &CDCSchemaHandler{topic: topic, log: log, mx: mx}
}

// Handle translates and groups a slice of change events.
func (h *CDCSchemaHandler) Handle(records []*Record) ([]QueryEvents, []*RecordError) {
	builder := newGroupBuilder()
	var failures []*RecordError

	for _, record := range records {
		event, err := cdc.ParseEvent(record.Value)
		if err != nil {
			failures = append(failures, &RecordError{
				Record: record,
				Err:    fmt.Errorf("%w: %v", ErrMalformedRecord, err),
			})
			continue
		}

		var handled bool
		if event.Payload.Type == cdc.EntityNode {
			handled, err = h.handleNode(builder, event)
		} else {
			handled, err = h.handleRelationship(builder, event)
		}
		if err != nil {
			failures = append(failures, &RecordError{Record: record, Err: err})
			continue
		}
		if !handled {
			h.drop(record, event)
		}
	}
	return builder.build(), failures
}

func (h *CDCSchemaHandler) handleNode(builder *groupBuilder, event *cdc.TransactionEvent) (bool, error) {
	deleted := event.Meta.Operation == cdc.OperationDeleted

	state := event.Payload.After
	if deleted {
		state = event.Payload.Before
	}
	if state == nil {
		return false, fmt.Errorf("%w: node event without %s state",
			ErrMalformedRecord, map[bool]string{true: "before", false: "after"}[deleted])
	}

	qualifying := cdc.QualifyingConstraints(state.Labels, mapKeys(state.Properties), event.Schema.Constraints)
	if len(qualifying) == 0 {
		return false, nil
	}
	keys := cdc.NodeKeys(state.Labels, mapKeys(state.Properties), event.Schema.Constraints)

	if deleted {
		meta := cdc.NodeSchemaMetadata{Constraints: qualifying, Keys: keys}
		statement := cypher.UnwindPrelude +
			" MATCH (n" + cypher.LabelsClause(meta.MergeLabels()) +
			" {" + cypher.KeysClause("event.keys", keys) + "}) DETACH DELETE n"
		builder.add(statement, map[string]interface{}{
			"keys": pickFields(state.Properties, keys),
		})
		return true, nil
	}

	var beforeLabels []string
	if event.Payload.Before != nil {
		beforeLabels = event.Payload.Before.Labels
	}
	add, remove := cdc.LabelDiffs(beforeLabels, state.Labels, event.Schema.Constraints)

	meta := cdc.NodeSchemaMetadata{
		Constraints:    qualifying,
		LabelsToAdd:    add,
		LabelsToDelete: remove,
		Keys:           keys,
	}
	statement := cypher.UnwindPrelude +
		" MERGE (n" + cypher.LabelsClause(meta.MergeLabels()) +
		" {" + cypher.KeysClause("event.keys", keys) + "})" +
		" SET n = event.properties" +
		cypher.SetLabelsClause("n", add, remove)
	builder.add(statement, map[string]interface{}{
		"keys":       pickFields(state.Properties, keys),
		"properties": state.Properties,
	})
	return true, nil
}

func (h *CDCSchemaHandler) handleRelationship(builder *groupBuilder, event *cdc.TransactionEvent) (bool, error) {
	start, end := event.Payload.Start, event.Payload.End
	if start == nil || end == nil || event.Payload.Label == "" {
		return false, fmt.Errorf("%w: relationship event without endpoints", ErrMalformedRecord)
	}

	startKeys := cdc.NodeKeys(start.Labels, mapKeys(start.IDs), event.Schema.Constraints)
	endKeys := cdc.NodeKeys(end.Labels, mapKeys(end.IDs), event.Schema.Constraints)
	if len(startKeys) == 0 || len(endKeys) == 0 {
		return false, nil
	}

	meta := cdc.RelationshipSchemaMetadata{
		Label:       event.Payload.Label,
		StartLabels: start.Labels,
		EndLabels:   end.Labels,
		StartKeys:   startKeys,
		EndKeys:     endKeys,
	}
	startLookup := "(start" + cypher.LabelsClause(meta.StartLabels) +
		" {" + cypher.KeysClause("event.start", startKeys) + "})"
	endLookup := "(end" + cypher.LabelsClause(meta.EndLabels) +
		" {" + cypher.KeysClause("event.end", endKeys) + "})"
	rel := "(start)-[r:" + cypher.Backtick(meta.Label) + "]->(end)"

	if event.Meta.Operation == cdc.OperationDeleted {
		statement := cypher.UnwindPrelude +
			" MATCH " + startLookup +
			" MATCH " + endLookup +
			" MATCH " + rel + " DELETE r"
		builder.add(statement, map[string]interface{}{
			"start": pickFields(start.IDs, startKeys),
			"end":   pickFields(end.IDs, endKeys),
		})
		return true, nil
	}

	var properties map[string]interface{}
	if event.Payload.After != nil {
		properties = event.Payload.After.Properties
	}
	statement := cypher.UnwindPrelude +
		" MERGE " + startLookup +
		" MERGE " + endLookup +
		" MERGE " + rel + " SET r = event.properties"
	builder.add(statement, map[string]interface{}{
		"start":      pickFields(start.IDs, startKeys),
		"end":        pickFields(end.IDs, endKeys),
		"properties": properties,
	})
	return true, nil
}

func (h *CDCSchemaHandler) drop(record *Record, event *cdc.TransactionEvent) {
	if h.mx != nil {
		h.mx.RecordsDropped.WithLabelValues(h.topic, metrics.ReasonMissingConstraint).Inc()
	}
	h.log.Debug("dropping change event without qualifying constraint",
		"topic", record.Topic,
		"partition", record.Partition,
		"offset", record.Offset,
		"entity", string(event.Payload.Type),
		"operation", string(event.Meta.Operation),
	)
}

func mapKeys(m map[string]interface{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func pickFields(m map[string]interface{}, keys []string) map[string]interface{} {
	out := make(map[string]interface{}, len(keys))
	for _, k := range keys {
		out[k] = m[k]
	}
	return out
}
