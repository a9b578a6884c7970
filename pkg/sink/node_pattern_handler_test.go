package sink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhrudevalia/neo4j-kafka-connector/pkg/pattern"
)

func mustNodePattern(t *testing.T, src string) *pattern.NodePattern {
	t.Helper()
	p, err := pattern.ParseNode(src)
	require.NoError(t, err)
	return p
}

func TestNodePatternHandler_Merge(t *testing.T) {
	handler := NewNodePatternHandler(mustNodePattern(t, "(:Person{!id,*})"))
	events, failures := handler.Handle([]*Record{{
		Topic: "people",
		Value: map[string]interface{}{"id": int64(1), "name": "Ada", "born": int64(1815)},
	}})
	require.Empty(t, failures)
	require.Len(t, events, 1)

	assert.Equal(t,
		"UNWIND $events AS event MERGE (n:`Person` {id: event.keys.id})"+
			" SET n = event.properties SET n += event.keys",
		events[0].Statement)
	require.Len(t, events[0].Events, 1)
	assert.Equal(t, map[string]interface{}{"id": int64(1)}, events[0].Events[0]["keys"])
	assert.Equal(t, map[string]interface{}{"name": "Ada", "born": int64(1815)},
		events[0].Events[0]["properties"])
}

func TestNodePatternHandler_MergeProperties(t *testing.T) {
	p := mustNodePattern(t, "(:Person{!id})")
	p.MergeProperties = true
	handler := NewNodePatternHandler(p)

	events, _ := handler.Handle([]*Record{{
		Value: map[string]interface{}{"id": int64(1)},
	}})
	require.Len(t, events, 1)
	assert.Contains(t, events[0].Statement, "SET n += event.properties")
	assert.NotContains(t, events[0].Statement, "SET n = event.properties")
}

func TestNodePatternHandler_Projection(t *testing.T) {
	value := map[string]interface{}{
		"id": int64(1), "name": "Ada", "born": int64(1815), "secret": "x",
	}
	tests := []struct {
		name     string
		pattern  string
		expected map[string]interface{}
	}{
		{
			name:     "include",
			pattern:  "(:Person{!id,name})",
			expected: map[string]interface{}{"name": "Ada"},
		},
		{
			name:     "exclude",
			pattern:  "(:Person{!id,-secret})",
			expected: map[string]interface{}{"name": "Ada", "born": int64(1815)},
		},
		{
			name:     "all",
			pattern:  "(:Person{!id,*})",
			expected: map[string]interface{}{"name": "Ada", "born": int64(1815), "secret": "x"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewNodePatternHandler(mustNodePattern(t, tt.pattern))
			events, failures := handler.Handle([]*Record{{Value: value}})
			require.Empty(t, failures)
			require.Len(t, events, 1)
			assert.Equal(t, tt.expected, events[0].Events[0]["properties"])
		})
	}
}

func TestNodePatternHandler_DottedPaths(t *testing.T) {
	handler := NewNodePatternHandler(mustNodePattern(t, "(:Person{!address.id,address.city})"))
	events, failures := handler.Handle([]*Record{{
		Value: map[string]interface{}{
			"address": map[string]interface{}{"id": int64(9), "city": "Malmö", "zip": "21115"},
		},
	}})
	require.Empty(t, failures)
	require.Len(t, events, 1)
	assert.Equal(t, map[string]interface{}{"address.id": int64(9)}, events[0].Events[0]["keys"])
	assert.Equal(t, map[string]interface{}{"address.city": "Malmö"}, events[0].Events[0]["properties"])
}

// A tombstone detach-deletes the node addressed by the record key.
func TestNodePatternHandler_Tombstone(t *testing.T) {
	handler := NewNodePatternHandler(mustNodePattern(t, "(:Person{!id})"))
	events, failures := handler.Handle([]*Record{{
		Key:   map[string]interface{}{"id": int64(1)},
		Value: nil,
	}})
	require.Empty(t, failures)
	require.Len(t, events, 1)
	assert.Equal(t,
		"UNWIND $events AS event MATCH (n:`Person` {id: event.keys.id}) DETACH DELETE n",
		events[0].Statement)
	assert.Equal(t, map[string]interface{}{"keys": map[string]interface{}{"id": int64(1)}},
		events[0].Events[0])
}

func TestNodePatternHandler_Failures(t *testing.T) {
	handler := NewNodePatternHandler(mustNodePattern(t, "(:Person{!id})"))

	events, failures := handler.Handle([]*Record{
		{Value: "not a map"},
		{Value: map[string]interface{}{"name": "missing id"}},
		{Value: map[string]interface{}{"id": int64(1)}},
	})
	require.Len(t, failures, 2)
	assert.ErrorIs(t, failures[0].Err, ErrMalformedRecord)
	assert.ErrorIs(t, failures[1].Err, ErrMalformedRecord)
	require.Len(t, events, 1)
	assert.Len(t, events[0].Events, 1)
}

// Merges and deletions interleave into at most two statements with
// per-statement record order intact.
func TestNodePatternHandler_MixedBatch(t *testing.T) {
	handler := NewNodePatternHandler(mustNodePattern(t, "(:Person{!id})"))
	events, failures := handler.Handle([]*Record{
		{Offset: 0, Value: map[string]interface{}{"id": int64(1)}},
		{Offset: 1, Key: map[string]interface{}{"id": int64(2)}},
		{Offset: 2, Value: map[string]interface{}{"id": int64(3)}},
	})
	require.Empty(t, failures)
	require.Len(t, events, 2)
	assert.Len(t, events[0].Events, 2)
	assert.Len(t, events[1].Events, 1)
}
