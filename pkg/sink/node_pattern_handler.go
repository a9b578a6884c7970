package sink

import (
	"fmt"

	"github.com/dhrudevalia/neo4j-kafka-connector/pkg/convert"
	"github.com/dhrudevalia/neo4j-kafka-connector/pkg/cypher"
	"github.com/dhrudevalia/neo4j-kafka-connector/pkg/pattern"
)

// NodePatternHandler applies a node pattern to every record of its topic.
// Record values merge a node keyed by the pattern's "!" fields; tombstones
// detach-delete it. Both statements are fixed by the pattern, so they are
// rendered once at construction.
type NodePatternHandler struct {
	pattern    *pattern.NodePattern
	mergeStmt  string
	deleteStmt string
}

// NewNodePatternHandler renders the statements induced by the pattern.
func NewNodePatternHandler(p *pattern.NodePattern) *NodePatternHandler {
	labels := cypher.LabelsClause(p.Labels)
	lookup := "(n" + labels + " {" + cypher.KeysClause("event.keys", p.Keys) + "})"

	set := " SET n = event.properties SET n += event.keys"
	if p.MergeProperties {
		set = " SET n += event.properties"
	}

	return &NodePatternHandler{
		pattern:    p,
		mergeStmt:  cypher.UnwindPrelude + " MERGE " + lookup + set,
		deleteStmt: cypher.UnwindPrelude + " MATCH " + lookup + " DETACH DELETE n",
	}
}

// Handle projects each record into {keys, properties} maps and groups the
// merges and deletions into at most two statements.
func (h *NodePatternHandler) Handle(records []*Record) ([]QueryEvents, []*RecordError) {
	builder := newGroupBuilder()
	var failures []*RecordError

	for _, record := range records {
		if record.Tombstone() {
			keys, err := projectKeys(h.pattern.Keys, recordKeyFields(record))
			if err != nil {
				failures = append(failures, &RecordError{Record: record, Err: err})
				continue
			}
			builder.add(h.deleteStmt, map[string]interface{}{"keys": keys})
			continue
		}

		fields, err := recordValueFields(record)
		if err != nil {
			failures = append(failures, &RecordError{Record: record, Err: err})
			continue
		}
		keys, err := projectKeys(h.pattern.Keys, fields)
		if err != nil {
			failures = append(failures, &RecordError{Record: record, Err: err})
			continue
		}
		builder.add(h.mergeStmt, map[string]interface{}{
			"keys":       keys,
			"properties": projectProperties(h.pattern, fields),
		})
	}
	return builder.build(), failures
}

// recordValueFields flattens the record value into dotted-path fields.
func recordValueFields(record *Record) (map[string]interface{}, error) {
	m, ok := convert.ToStringMap(convert.Normalize(record.Value))
	if !ok {
		return nil, fmt.Errorf("%w: value must be a mapping", ErrMalformedRecord)
	}
	return convert.Flatten(m), nil
}

// recordKeyFields flattens the record key; a scalar key yields no fields
// and the missing-key error names the first pattern key.
func recordKeyFields(record *Record) map[string]interface{} {
	if m, ok := convert.ToStringMap(convert.Normalize(record.Key)); ok {
		return convert.Flatten(m)
	}
	return map[string]interface{}{}
}

// projectKeys extracts the configured key fields; every key must be
// present for the merge to be idempotent.
func projectKeys(keys []string, fields map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(keys))
	for _, key := range keys {
		value, ok := fields[key]
		if !ok || value == nil {
			return nil, fmt.Errorf("%w: key field %q is missing", ErrMalformedRecord, key)
		}
		out[key] = value
	}
	return out, nil
}

// projectProperties selects the non-key fields per the pattern type.
func projectProperties(p *pattern.NodePattern, fields map[string]interface{}) map[string]interface{} {
	isKey := make(map[string]struct{}, len(p.Keys))
	for _, key := range p.Keys {
		isKey[key] = struct{}{}
	}

	out := make(map[string]interface{})
	switch p.Type {
	case pattern.TypeInclude:
		for _, name := range p.Properties {
			if value, ok := fields[name]; ok {
				out[name] = value
			}
		}
	case pattern.TypeExclude:
		excluded := make(map[string]struct{}, len(p.Properties))
		for _, name := range p.Properties {
			excluded[name] = struct{}{}
		}
		for name, value := range fields {
			if _, key := isKey[name]; key {
				continue
			}
			if _, skip := excluded[name]; skip {
				continue
			}
			out[name] = value
		}
	default: // pattern.TypeAll
		for name, value := range fields {
			if _, key := isKey[name]; !key {
				out[name] = value
			}
		}
	}
	return out
}
