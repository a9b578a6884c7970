package sink

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGroup_CoalescesEqualStatements(t *testing.T) {
	input := []QueryEvents{
		{Statement: "A", Events: []map[string]interface{}{{"n": 1}}},
		{Statement: "B", Events: []map[string]interface{}{{"n": 2}}},
		{Statement: "A", Events: []map[string]interface{}{{"n": 3}}},
	}

	got := Group(input)
	assert.Equal(t, []QueryEvents{
		{Statement: "A", Events: []map[string]interface{}{{"n": 1}, {"n": 3}}},
		{Statement: "B", Events: []map[string]interface{}{{"n": 2}}},
	}, got)
}

func TestGroup_Idempotent(t *testing.T) {
	input := []QueryEvents{
		{Statement: "A", Events: []map[string]interface{}{{"n": 1}}},
		{Statement: "A", Events: []map[string]interface{}{{"n": 2}}},
		{Statement: "B", Events: []map[string]interface{}{{"n": 3}}},
	}

	once := Group(input)
	twice := Group(once)
	assert.Equal(t, once, twice)
}

// Parameters for a statement must keep their input order, which within a
// partition is offset order.
func TestGroup_PreservesOrder(t *testing.T) {
	var input []QueryEvents
	for offset := 0; offset < 20; offset++ {
		input = append(input, QueryEvents{
			Statement: "S",
			Events:    []map[string]interface{}{{"offset": offset}},
		})
	}

	got := Group(input)
	assert.Len(t, got, 1)
	for i, event := range got[0].Events {
		assert.Equal(t, i, event["offset"])
	}
}

func TestGroup_EmptyAndSingle(t *testing.T) {
	assert.Empty(t, Group(nil))

	single := []QueryEvents{{Statement: "A"}}
	assert.Equal(t, single, Group(single))
}
