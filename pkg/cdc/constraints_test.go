package cdc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeKeys(t *testing.T) {
	tests := []struct {
		name         string
		labels       []string
		propertyKeys []string
		constraints  []Constraint
		expected     []string
	}{
		{
			name:         "single unique constraint",
			labels:       []string{"Person"},
			propertyKeys: []string{"id", "name"},
			constraints: []Constraint{
				{Label: "Person", Type: ConstraintUnique, Properties: []string{"id"}},
			},
			expected: []string{"id"},
		},
		{
			name:         "smallest cardinality wins",
			labels:       []string{"Person"},
			propertyKeys: []string{"id", "email", "ssn"},
			constraints: []Constraint{
				{Label: "Person", Type: ConstraintNodeKey, Properties: []string{"email", "ssn"}},
				{Label: "Person", Type: ConstraintUnique, Properties: []string{"id"}},
			},
			expected: []string{"id"},
		},
		{
			name:         "tie broken by label order",
			labels:       []string{"Employee", "Person"},
			propertyKeys: []string{"id", "badge"},
			constraints: []Constraint{
				{Label: "Person", Type: ConstraintUnique, Properties: []string{"id"}},
				{Label: "Employee", Type: ConstraintUnique, Properties: []string{"badge"}},
			},
			expected: []string{"badge"},
		},
		{
			name:         "tie broken lexicographically",
			labels:       []string{"Person"},
			propertyKeys: []string{"b", "a"},
			constraints: []Constraint{
				{Label: "Person", Type: ConstraintUnique, Properties: []string{"b"}},
				{Label: "Person", Type: ConstraintUnique, Properties: []string{"a"}},
			},
			expected: []string{"a"},
		},
		{
			name:         "uncovered constraint skipped",
			labels:       []string{"Person"},
			propertyKeys: []string{"name"},
			constraints: []Constraint{
				{Label: "Person", Type: ConstraintUnique, Properties: []string{"id"}},
			},
			expected: nil,
		},
		{
			name:         "constraint on foreign label skipped",
			labels:       []string{"Person"},
			propertyKeys: []string{"id"},
			constraints: []Constraint{
				{Label: "Company", Type: ConstraintUnique, Properties: []string{"id"}},
			},
			expected: nil,
		},
		{
			name:         "non-unique constraint types ignored",
			labels:       []string{"Person"},
			propertyKeys: []string{"id"},
			constraints: []Constraint{
				{Label: "Person", Type: "NODE_PROPERTY_EXISTS", Properties: []string{"id"}},
			},
			expected: nil,
		},
		{
			name:         "composite key returned sorted",
			labels:       []string{"Person"},
			propertyKeys: []string{"surname", "name"},
			constraints: []Constraint{
				{Label: "Person", Type: ConstraintNodeKey, Properties: []string{"surname", "name"}},
			},
			expected: []string{"name", "surname"},
		},
		{
			name:         "no constraints",
			labels:       []string{"Person"},
			propertyKeys: []string{"id"},
			constraints:  nil,
			expected:     nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NodeKeys(tt.labels, tt.propertyKeys, tt.constraints)
			assert.Equal(t, tt.expected, got)
		})
	}
}

// NodeKeys must always pick the smallest qualifying constraint regardless
// of declaration order.
func TestNodeKeys_MinimalityIsOrderIndependent(t *testing.T) {
	small := Constraint{Label: "Person", Type: ConstraintUnique, Properties: []string{"id"}}
	large := Constraint{Label: "Person", Type: ConstraintUnique, Properties: []string{"a", "b", "c"}}
	props := []string{"id", "a", "b", "c"}

	assert.Equal(t, []string{"id"}, NodeKeys([]string{"Person"}, props, []Constraint{small, large}))
	assert.Equal(t, []string{"id"}, NodeKeys([]string{"Person"}, props, []Constraint{large, small}))
}

func TestQualifyingConstraints_StableOrder(t *testing.T) {
	constraints := []Constraint{
		{Label: "B", Type: ConstraintUnique, Properties: []string{"b"}},
		{Label: "A", Type: ConstraintUnique, Properties: []string{"a1", "a2"}},
		{Label: "A", Type: ConstraintUnique, Properties: []string{"a0"}},
	}
	got := QualifyingConstraints([]string{"A", "B"}, []string{"a0", "a1", "a2", "b"}, constraints)
	require.Len(t, got, 3)
	assert.Equal(t, "A", got[0].Label)
	assert.Equal(t, []string{"a0"}, got[0].Properties)
	assert.Equal(t, "A", got[1].Label)
	assert.Equal(t, "B", got[2].Label)
}

func TestLabelDiffs(t *testing.T) {
	constraints := []Constraint{
		{Label: "Person", Type: ConstraintUnique, Properties: []string{"id"}},
	}
	add, remove := LabelDiffs(
		[]string{"Person", "Temp"},
		[]string{"Person", "Employee"},
		constraints,
	)
	assert.Equal(t, []string{"Employee"}, add)
	assert.Equal(t, []string{"Temp"}, remove)

	// Constraint-covered labels never appear in the diffs.
	add, remove = LabelDiffs(nil, []string{"Person"}, constraints)
	assert.Empty(t, add)
	assert.Empty(t, remove)
}

func TestParseEvent(t *testing.T) {
	raw := []byte(`{
		"meta": {"timestamp": 1669600000000, "operation": "created", "txId": 7},
		"payload": {
			"id": "0",
			"type": "node",
			"after": {"labels": ["Person"], "properties": {"id": 1, "name": "x"}}
		},
		"schema": {"constraints": [{"label": "Person", "type": "UNIQUE", "properties": ["id"]}]}
	}`)

	event, err := ParseEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, OperationCreated, event.Meta.Operation)
	assert.Equal(t, EntityNode, event.Payload.Type)
	require.NotNil(t, event.Payload.After)
	assert.Equal(t, []string{"Person"}, event.Payload.After.Labels)
	require.Len(t, event.Schema.Constraints, 1)
	assert.Equal(t, ConstraintUnique, event.Schema.Constraints[0].Type)
}

func TestParseEvent_FromDecodedMap(t *testing.T) {
	value := map[string]interface{}{
		"meta":    map[string]interface{}{"operation": "deleted"},
		"payload": map[string]interface{}{"id": "42", "type": "relationship", "label": "KNOWS"},
		"schema":  map[string]interface{}{},
	}
	event, err := ParseEvent(value)
	require.NoError(t, err)
	assert.Equal(t, OperationDeleted, event.Meta.Operation)
	assert.Equal(t, EntityRelationship, event.Payload.Type)
	assert.Equal(t, "KNOWS", event.Payload.Label)
}

func TestParseEvent_Errors(t *testing.T) {
	_, err := ParseEvent([]byte(`{"payload": {"type": "graph"}}`))
	assert.Error(t, err)

	_, err = ParseEvent(42)
	assert.Error(t, err)

	_, err = ParseEvent([]byte(`not json`))
	assert.Error(t, err)
}

func TestNodeSchemaMetadata_GroupKey(t *testing.T) {
	a := NodeSchemaMetadata{
		Constraints: []Constraint{{Label: "Person", Type: ConstraintUnique, Properties: []string{"id"}}},
		LabelsToAdd: []string{"Employee"},
		Keys:        []string{"id"},
	}
	b := NodeSchemaMetadata{
		Constraints: []Constraint{{Label: "Person", Type: ConstraintUnique, Properties: []string{"id"}}},
		LabelsToAdd: []string{"Employee"},
		Keys:        []string{"id"},
	}
	assert.Equal(t, a.GroupKey(), b.GroupKey())

	b.LabelsToDelete = []string{"Temp"}
	assert.NotEqual(t, a.GroupKey(), b.GroupKey())
}

func TestRelationshipSchemaMetadata_GroupKey(t *testing.T) {
	a := RelationshipSchemaMetadata{
		Label:       "KNOWS",
		StartLabels: []string{"Person"},
		EndLabels:   []string{"Person"},
		StartKeys:   []string{"id"},
		EndKeys:     []string{"id"},
	}
	b := a
	assert.Equal(t, a.GroupKey(), b.GroupKey())

	b.EndKeys = []string{"email"}
	assert.NotEqual(t, a.GroupKey(), b.GroupKey())
}
