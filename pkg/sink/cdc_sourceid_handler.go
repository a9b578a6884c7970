package sink

import (
	"fmt"

	"github.com/dhrudevalia/neo4j-kafka-connector/pkg/cdc"
	"github.com/dhrudevalia/neo4j-kafka-connector/pkg/cypher"
)

// CDCSourceIDHandler applies change events keyed by the opaque entity id
// the source database assigned, stored as a synthetic property on every
// written node. No constraint lookup is needed: identity is always
//
//	MERGE (n:`SourceEvent` {sourceId: event.sourceId})
//
// with the label and property names configurable.
type CDCSourceIDHandler struct {
	labelName string
	idName    string
}

// NewCDCSourceIDHandler returns the source-id strategy handler.
func NewCDCSourceIDHandler(labelName, idName string) *CDCSourceIDHandler {
	if labelName == "" {
		labelName = "SourceEvent"
	}
	if idName == "" {
		idName = "sourceId"
	}
	return &CDCSourceIDHandler{labelName: labelName, idName: idName}
}

// Handle translates and groups a slice of change events.
func (h *CDCSourceIDHandler) Handle(records []*Record) ([]QueryEvents, []*RecordError) {
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

		if event.Payload.Type == cdc.EntityNode {
			err = h.handleNode(builder, event)
		} else {
			err = h.handleRelationship(builder, event)
		}
		if err != nil {
			failures = append(failures, &RecordError{Record: record, Err: err})
		}
	}
	return builder.build(), failures
}

func (h *CDCSourceIDHandler) lookup(alias, idExpr string) string {
	return "(" + alias + ":" + cypher.Backtick(h.labelName) +
		" {" + h.idName + ": " + idExpr + "})"
}

func (h *CDCSourceIDHandler) handleNode(builder *groupBuilder, event *cdc.TransactionEvent) error {
	if event.Meta.Operation == cdc.OperationDeleted {
		statement := cypher.UnwindPrelude +
			" MATCH " + h.lookup("n", "event.sourceId") + " DETACH DELETE n"
		builder.add(statement, map[string]interface{}{"sourceId": event.Payload.ID})
		return nil
	}

	after := event.Payload.After
	if after == nil {
		return fmt.Errorf("%w: node event without after state", ErrMalformedRecord)
	}
	var beforeLabels []string
	if event.Payload.Before != nil {
		beforeLabels = event.Payload.Before.Labels
	}
	add, remove := cdc.LabelDiffs(beforeLabels, after.Labels, nil)

	statement := cypher.UnwindPrelude +
		" MERGE " + h.lookup("n", "event.sourceId") +
		" SET n = event.properties" +
		" SET n." + h.idName + " = event.sourceId" +
		cypher.SetLabelsClause("n", add, remove)
	builder.add(statement, map[string]interface{}{
		"sourceId":   event.Payload.ID,
		"properties": after.Properties,
	})
	return nil
}

func (h *CDCSourceIDHandler) handleRelationship(builder *groupBuilder, event *cdc.TransactionEvent) error {
	start, end := event.Payload.Start, event.Payload.End
	if start == nil || end == nil || event.Payload.Label == "" {
		return fmt.Errorf("%w: relationship event without endpoints", ErrMalformedRecord)
	}

	chain := " MATCH " + h.lookup("start", "event.start") +
		" MATCH " + h.lookup("end", "event.end")
	rel := "(start)-[r:" + cypher.Backtick(event.Payload.Label) + "]->(end)"

	if event.Meta.Operation == cdc.OperationDeleted {
		statement := cypher.UnwindPrelude + chain + " MATCH " + rel + " DELETE r"
		builder.add(statement, map[string]interface{}{
			"start": start.ID,
			"end":   end.ID,
		})
		return nil
	}

	var properties map[string]interface{}
	if event.Payload.After != nil {
		properties = event.Payload.After.Properties
	}
	statement := cypher.UnwindPrelude +
		" MERGE " + h.lookup("start", "event.start") +
		" MERGE " + h.lookup("end", "event.end") +
		" MERGE " + rel +
		" SET r = event.properties" +
		" SET r." + h.idName + " = event.id"
	builder.add(statement, map[string]interface{}{
		"id":         event.Payload.ID,
		"start":      start.ID,
		"end":        end.ID,
		"properties": properties,
	})
	return nil
}
