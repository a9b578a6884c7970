package sink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sourceIDNodeEvent(op, id string, labels []interface{}, props map[string]interface{}) map[string]interface{} {
	payload := map[string]interface{}{"id": id, "type": "node"}
	if op != "deleted" {
		payload["after"] = map[string]interface{}{"labels": labels, "properties": props}
	} else {
		payload["before"] = map[string]interface{}{"labels": labels, "properties": props}
	}
	return map[string]interface{}{
		"meta":    map[string]interface{}{"operation": op},
		"payload": payload,
		"schema":  map[string]interface{}{},
	}
}

func TestCDCSourceIDHandler_NodeMerge(t *testing.T) {
	handler := NewCDCSourceIDHandler("", "")
	events, failures := handler.Handle([]*Record{{
		Topic: "graph.raw",
		Value: sourceIDNodeEvent("created", "a1b2",
			[]interface{}{"Person"},
			map[string]interface{}{"name": "x"}),
	}})
	require.Empty(t, failures)
	require.Len(t, events, 1)

	assert.Equal(t,
		"UNWIND $events AS event"+
			" MERGE (n:`SourceEvent` {sourceId: event.sourceId})"+
			" SET n = event.properties"+
			" SET n.sourceId = event.sourceId"+
			" SET n:`Person`",
		events[0].Statement)
	assert.Equal(t, map[string]interface{}{
		"sourceId":   "a1b2",
		"properties": map[string]interface{}{"name": "x"},
	}, events[0].Events[0])
}

func TestCDCSourceIDHandler_CustomNames(t *testing.T) {
	handler := NewCDCSourceIDHandler("Imported", "externalId")
	events, _ := handler.Handle([]*Record{{
		Value: sourceIDNodeEvent("created", "7", nil, nil),
	}})
	require.Len(t, events, 1)
	assert.Contains(t, events[0].Statement, "MERGE (n:`Imported` {externalId: event.sourceId})")
	assert.Contains(t, events[0].Statement, "SET n.externalId = event.sourceId")
}

func TestCDCSourceIDHandler_NodeDelete(t *testing.T) {
	handler := NewCDCSourceIDHandler("", "")
	events, failures := handler.Handle([]*Record{{
		Value: sourceIDNodeEvent("deleted", "a1b2", []interface{}{"Person"}, nil),
	}})
	require.Empty(t, failures)
	require.Len(t, events, 1)
	assert.Equal(t,
		"UNWIND $events AS event MATCH (n:`SourceEvent` {sourceId: event.sourceId}) DETACH DELETE n",
		events[0].Statement)
	assert.Equal(t, map[string]interface{}{"sourceId": "a1b2"}, events[0].Events[0])
}

func TestCDCSourceIDHandler_Relationship(t *testing.T) {
	value := map[string]interface{}{
		"meta": map[string]interface{}{"operation": "created"},
		"payload": map[string]interface{}{
			"id":    "9",
			"type":  "relationship",
			"label": "KNOWS",
			"start": map[string]interface{}{"id": "1"},
			"end":   map[string]interface{}{"id": "2"},
			"after": map[string]interface{}{
				"properties": map[string]interface{}{"since": 2020},
			},
		},
		"schema": map[string]interface{}{},
	}

	handler := NewCDCSourceIDHandler("", "")
	events, failures := handler.Handle([]*Record{{Value: value}})
	require.Empty(t, failures)
	require.Len(t, events, 1)

	assert.Equal(t,
		"UNWIND $events AS event"+
			" MERGE (start:`SourceEvent` {sourceId: event.start})"+
			" MERGE (end:`SourceEvent` {sourceId: event.end})"+
			" MERGE (start)-[r:`KNOWS`]->(end)"+
			" SET r = event.properties"+
			" SET r.sourceId = event.id",
		events[0].Statement)
	assert.Equal(t, map[string]interface{}{
		"id":         "9",
		"start":      "1",
		"end":        "2",
		"properties": map[string]interface{}{"since": float64(2020)},
	}, events[0].Events[0])
}

// Same statement shape across records collapses to one group.
func TestCDCSourceIDHandler_Groups(t *testing.T) {
	handler := NewCDCSourceIDHandler("", "")
	events, failures := handler.Handle([]*Record{
		{Value: sourceIDNodeEvent("created", "1", []interface{}{"Person"}, nil)},
		{Value: sourceIDNodeEvent("updated", "2", []interface{}{"Person"}, nil)},
	})
	require.Empty(t, failures)
	require.Len(t, events, 1)
	assert.Len(t, events[0].Events, 2)
}
