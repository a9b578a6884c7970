// Package cypher renders the parameterized Cypher text emitted by the sink
// strategies.
//
// Every statement produced by the pipeline iterates a parameter list with the
// same prelude:
//
//	UNWIND $events AS event
//	MERGE (n:`Person` {id: event.keys.id})
//	SET n = event.properties
//
// Labels and relationship types are always backtick-quoted since they come
// from user configuration or payload data. Property keys inside a lookup
// block are rendered bare, matching what the Neo4j browser shows for merges
// keyed on plain identifiers.
package cypher

import (
	"sort"
	"strings"
)

// UnwindPrelude is the iteration prelude shared by every emitted statement.
// The execution engine binds the grouped parameter maps to $events.
const UnwindPrelude = "UNWIND $events AS event"

// Backtick quotes an identifier with backticks, doubling any embedded
// backtick so the identifier cannot terminate the quote early.
func Backtick(identifier string) string {
	return "`" + strings.ReplaceAll(identifier, "`", "``") + "`"
}

// LabelsClause renders an ordered label list as a Cypher label expression.
//
//	LabelsClause([]string{"Person", "Employee"})  // ":`Person`:`Employee`"
func LabelsClause(labels []string) string {
	var b strings.Builder
	for _, label := range labels {
		b.WriteString(":")
		b.WriteString(Backtick(label))
	}
	return b.String()
}

// KeysClause renders a key lookup block binding each key to a field of the
// current event, e.g. for prefix "event.keys":
//
//	KeysClause("event.keys", []string{"id"})  // "id: event.keys.id"
//
// Keys are sorted so equal key sets always render the same statement text,
// which is what lets the grouper coalesce by statement string.
func KeysClause(prefix string, keys []string) string {
	sorted := make([]string, len(keys))
	copy(sorted, keys)
	sort.Strings(sorted)

	parts := make([]string, len(sorted))
	for i, key := range sorted {
		parts[i] = key + ": " + prefix + "." + key
	}
	return strings.Join(parts, ", ")
}

// SetLabelsClause renders label add/remove clauses for an already-bound
// node alias. Either list may be empty.
//
//	SetLabelsClause("n", []string{"A"}, []string{"B"})
//	// " SET n:`A` REMOVE n:`B`"
func SetLabelsClause(alias string, add, remove []string) string {
	var b strings.Builder
	if len(add) > 0 {
		b.WriteString(" SET ")
		b.WriteString(alias)
		b.WriteString(LabelsClause(add))
	}
	if len(remove) > 0 {
		b.WriteString(" REMOVE ")
		b.WriteString(alias)
		b.WriteString(LabelsClause(remove))
	}
	return b.String()
}
