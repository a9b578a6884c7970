package sink

import (
	"github.com/dhrudevalia/neo4j-kafka-connector/pkg/cypher"
	"github.com/dhrudevalia/neo4j-kafka-connector/pkg/pattern"
)

// RelationshipPatternHandler applies a relationship pattern to every record
// of its topic. Records merge both endpoints by their keys and then the
// relationship; tombstones delete the relationship only, never the
// endpoint nodes.
type RelationshipPatternHandler struct {
	pattern    *pattern.RelationshipPattern
	mergeStmt  string
	deleteStmt string
}

// NewRelationshipPatternHandler renders the statements induced by the
// pattern.
func NewRelationshipPatternHandler(p *pattern.RelationshipPattern) *RelationshipPatternHandler {
	startLookup := "(start" + cypher.LabelsClause(p.Start.Labels) +
		" {" + cypher.KeysClause("event.start", p.Start.Keys) + "})"
	endLookup := "(end" + cypher.LabelsClause(p.End.Labels) +
		" {" + cypher.KeysClause("event.end", p.End.Keys) + "})"
	rel := "(start)-[r:" + cypher.Backtick(p.RelType) + "]->(end)"

	set := " SET r = event.properties"
	if p.MergeProperties {
		set = " SET r += event.properties"
	}

	return &RelationshipPatternHandler{
		pattern: p,
		mergeStmt: cypher.UnwindPrelude +
			" MERGE " + startLookup +
			" MERGE " + endLookup +
			" MERGE " + rel + set,
		deleteStmt: cypher.UnwindPrelude +
			" MATCH " + startLookup +
			" MATCH " + endLookup +
			" MATCH " + rel + " DELETE r",
	}
}

// Handle projects start keys, end keys, and relationship properties from
// each record.
func (h *RelationshipPatternHandler) Handle(records []*Record) ([]QueryEvents, []*RecordError) {
	builder := newGroupBuilder()
	var failures []*RecordError

	for _, record := range records {
		fields := map[string]interface{}{}
		var err error
		if record.Tombstone() {
			fields = recordKeyFields(record)
		} else if fields, err = recordValueFields(record); err != nil {
			failures = append(failures, &RecordError{Record: record, Err: err})
			continue
		}

		start, err := projectKeys(h.pattern.Start.Keys, fields)
		if err != nil {
			failures = append(failures, &RecordError{Record: record, Err: err})
			continue
		}
		end, err := projectKeys(h.pattern.End.Keys, fields)
		if err != nil {
			failures = append(failures, &RecordError{Record: record, Err: err})
			continue
		}

		if record.Tombstone() {
			builder.add(h.deleteStmt, map[string]interface{}{"start": start, "end": end})
			continue
		}
		builder.add(h.mergeStmt, map[string]interface{}{
			"start":      start,
			"end":        end,
			"properties": h.projectRelProperties(fields, start, end),
		})
	}
	return builder.build(), failures
}

// projectRelProperties selects the relationship's own properties: the
// fields left over after removing both endpoints' keys, narrowed by the
// pattern's include/exclude selection.
func (h *RelationshipPatternHandler) projectRelProperties(
	fields, start, end map[string]interface{},
) map[string]interface{} {
	out := make(map[string]interface{})
	switch h.pattern.Type {
	case pattern.TypeInclude:
		for _, name := range h.pattern.Properties {
			if value, ok := fields[name]; ok {
				out[name] = value
			}
		}
	case pattern.TypeExclude:
		excluded := make(map[string]struct{}, len(h.pattern.Properties))
		for _, name := range h.pattern.Properties {
			excluded[name] = struct{}{}
		}
		for name, value := range fields {
			if _, skip := excluded[name]; skip {
				continue
			}
			if keyField(name, start, end) {
				continue
			}
			out[name] = value
		}
	default: // pattern.TypeAll
		for name, value := range fields {
			if !keyField(name, start, end) {
				out[name] = value
			}
		}
	}
	return out
}

func keyField(name string, start, end map[string]interface{}) bool {
	if _, ok := start[name]; ok {
		return true
	}
	_, ok := end[name]
	return ok
}
