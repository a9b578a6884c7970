package cypher

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBacktick(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain", "Person", "`Person`"},
		{"space", "My Label", "`My Label`"},
		{"embedded backtick doubled", "we`ird", "`we``ird`"},
		{"only backticks", "``", strings.Repeat("`", 6)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Backtick(tt.input))
		})
	}
}

func TestLabelsClause(t *testing.T) {
	assert.Equal(t, ":`Person`:`Employee`", LabelsClause([]string{"Person", "Employee"}))
	assert.Equal(t, "", LabelsClause(nil))
}

func TestKeysClause(t *testing.T) {
	// Keys render sorted so equal key sets give identical statement text.
	assert.Equal(t, "a: event.keys.a, b: event.keys.b",
		KeysClause("event.keys", []string{"b", "a"}))
	assert.Equal(t, "id: event.start.id", KeysClause("event.start", []string{"id"}))
}

func TestSetLabelsClause(t *testing.T) {
	assert.Equal(t, " SET n:`A` REMOVE n:`B`",
		SetLabelsClause("n", []string{"A"}, []string{"B"}))
	assert.Equal(t, " SET n:`A`:`B`", SetLabelsClause("n", []string{"A", "B"}, nil))
	assert.Equal(t, "", SetLabelsClause("n", nil, nil))
}
