package sink

import (
	"fmt"
	"strings"

	"github.com/dhrudevalia/neo4j-kafka-connector/pkg/convert"
	"github.com/dhrudevalia/neo4j-kafka-connector/pkg/cypher"
)

// CUD operation and entity type discriminators.
const (
	cudOpCreate = "create"
	cudOpUpdate = "update"
	cudOpMerge  = "merge"
	cudOpDelete = "delete"

	cudTypeNode         = "node"
	cudTypeRelationship = "relationship"

	// cudInternalID addresses a node by database id instead of a
	// property lookup when present among the ids.
	cudInternalID = "_id"
)

// CUDHandler translates the compact create/update/merge/delete JSON form.
//
// Node values look like:
//
//	{"op": "merge", "type": "node", "labels": ["Person"],
//	 "ids": {"userId": 42}, "properties": {"name": "Ada"}}
//
// Relationship values name their endpoints:
//
//	{"op": "create", "type": "relationship", "rel_type": "KNOWS",
//	 "from": {"labels": ["Person"], "ids": {"userId": 1}},
//	 "to":   {"labels": ["Person"], "ids": {"userId": 2}, "op": "merge"},
//	 "properties": {"since": 2020}}
//
// Records inducing the same statement shape (same op, type, labels, and id
// keys) group into a single statement with one parameter map per record.
type CUDHandler struct{}

// NewCUDHandler returns the CUD strategy handler.
func NewCUDHandler() *CUDHandler { return &CUDHandler{} }

type cudNodeRef struct {
	labels []string
	ids    map[string]interface{}
	op     string
}

type cudEntity struct {
	op         string
	entityType string
	labels     []string
	ids        map[string]interface{}
	properties map[string]interface{}
	detach     bool
	relType    string
	from       *cudNodeRef
	to         *cudNodeRef
}

// Handle translates each record and groups identical statement shapes.
func (h *CUDHandler) Handle(records []*Record) ([]QueryEvents, []*RecordError) {
	builder := newGroupBuilder()
	var failures []*RecordError

	for _, record := range records {
		entity, err := parseCUD(record.Value)
		if err != nil {
			failures = append(failures, &RecordError{Record: record, Err: err})
			continue
		}

		var statement string
		var event map[string]interface{}
		if entity.entityType == cudTypeNode {
			statement, event, err = nodeStatement(entity)
		} else {
			statement, event, err = relationshipStatement(entity)
		}
		if err != nil {
			failures = append(failures, &RecordError{Record: record, Err: err})
			continue
		}
		builder.add(statement, event)
	}
	return builder.build(), failures
}

func parseCUD(value interface{}) (*cudEntity, error) {
	m, ok := convert.ToStringMap(value)
	if !ok {
		return nil, fmt.Errorf("%w: CUD value must be a mapping", ErrMalformedRecord)
	}
	m, _ = convert.ToStringMap(convert.Normalize(m))

	entity := &cudEntity{
		op:         strings.ToLower(stringField(m, "op")),
		entityType: strings.ToLower(stringField(m, "type")),
		labels:     stringSlice(m["labels"]),
		relType:    stringField(m, "rel_type"),
		detach:     boolField(m, "detach"),
	}
	entity.ids, _ = convert.ToStringMap(m["ids"])
	entity.properties, _ = convert.ToStringMap(m["properties"])

	switch entity.op {
	case cudOpCreate, cudOpUpdate, cudOpMerge, cudOpDelete:
	default:
		return nil, fmt.Errorf("%w: unknown CUD op %q", ErrMalformedRecord, entity.op)
	}

	switch entity.entityType {
	case cudTypeNode:
		if len(entity.labels) == 0 && !hasInternalID(entity.ids) {
			return nil, fmt.Errorf("%w: CUD node requires labels", ErrMalformedRecord)
		}
		if entity.op != cudOpCreate && len(entity.ids) == 0 {
			return nil, fmt.Errorf("%w: CUD %s requires ids", ErrMalformedRecord, entity.op)
		}
	case cudTypeRelationship:
		if entity.relType == "" {
			return nil, fmt.Errorf("%w: CUD relationship requires rel_type", ErrMalformedRecord)
		}
		var err error
		if entity.from, err = parseNodeRef(m, "from"); err != nil {
			return nil, err
		}
		if entity.to, err = parseNodeRef(m, "to"); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unknown CUD type %q", ErrMalformedRecord, entity.entityType)
	}
	return entity, nil
}

func parseNodeRef(m map[string]interface{}, field string) (*cudNodeRef, error) {
	raw, ok := convert.ToStringMap(m[field])
	if !ok {
		return nil, fmt.Errorf("%w: CUD relationship requires %q node", ErrMalformedRecord, field)
	}
	ref := &cudNodeRef{
		labels: stringSlice(raw["labels"]),
		op:     strings.ToLower(stringField(raw, "op")),
	}
	ref.ids, _ = convert.ToStringMap(raw["ids"])
	if len(ref.ids) == 0 {
		return nil, fmt.Errorf("%w: CUD %q node requires ids", ErrMalformedRecord, field)
	}
	if ref.op == "" {
		ref.op = "match"
	}
	if ref.op != "match" && ref.op != "merge" {
		return nil, fmt.Errorf("%w: CUD %q node op must be match or merge", ErrMalformedRecord, field)
	}
	if ref.op == "merge" && hasInternalID(ref.ids) {
		return nil, fmt.Errorf("%w: cannot merge %q node on %s", ErrMalformedRecord, field, cudInternalID)
	}
	return ref, nil
}

// nodeStatement renders the statement for a node entity and its event map.
// Deletions carry identity only; no properties are projected.
func nodeStatement(entity *cudEntity) (string, map[string]interface{}, error) {
	labels := cypher.LabelsClause(entity.labels)
	lookup := nodeLookup("n", labels, "event.ids", entity.ids)

	switch entity.op {
	case cudOpCreate:
		statement := cypher.UnwindPrelude + " CREATE (n" + labels + ") SET n = event.properties"
		return statement, map[string]interface{}{"properties": entity.properties}, nil
	case cudOpUpdate:
		statement := cypher.UnwindPrelude + " MATCH " + lookup + " SET n += event.properties"
		return statement, map[string]interface{}{"ids": entity.ids, "properties": entity.properties}, nil
	case cudOpMerge:
		if hasInternalID(entity.ids) {
			return "", nil, fmt.Errorf("%w: cannot merge on %s", ErrMalformedRecord, cudInternalID)
		}
		statement := cypher.UnwindPrelude + " MERGE " + lookup + " SET n += event.properties"
		return statement, map[string]interface{}{"ids": entity.ids, "properties": entity.properties}, nil
	default: // delete
		action := " DELETE n"
		if entity.detach {
			action = " DETACH DELETE n"
		}
		statement := cypher.UnwindPrelude + " MATCH " + lookup + action
		return statement, map[string]interface{}{"ids": entity.ids}, nil
	}
}

func relationshipStatement(entity *cudEntity) (string, map[string]interface{}, error) {
	fromClause := endpointClause("from", entity.from)
	toClause := endpointClause("to", entity.to)
	rel := "(from)-[r:" + cypher.Backtick(entity.relType) + "]->(to)"

	var tail string
	event := map[string]interface{}{
		"from": map[string]interface{}{"ids": entity.from.ids},
		"to":   map[string]interface{}{"ids": entity.to.ids},
	}
	switch entity.op {
	case cudOpCreate:
		tail = " CREATE " + rel + " SET r = event.properties"
		event["properties"] = entity.properties
	case cudOpMerge:
		tail = " MERGE " + rel + " SET r += event.properties"
		event["properties"] = entity.properties
	case cudOpUpdate:
		tail = " MATCH " + rel + " SET r += event.properties"
		event["properties"] = entity.properties
	default: // delete
		tail = " MATCH " + rel + " DELETE r"
	}

	statement := cypher.UnwindPrelude + " " + fromClause + " " + toClause + tail
	return statement, event, nil
}

func endpointClause(alias string, ref *cudNodeRef) string {
	verb := "MATCH "
	if ref.op == "merge" {
		verb = "MERGE "
	}
	return verb + nodeLookup(alias, cypher.LabelsClause(ref.labels), "event."+alias+".ids", ref.ids)
}

// nodeLookup renders "(alias:Labels {k: prefix.k})", or an id() predicate
// when the ids carry the internal id marker.
func nodeLookup(alias, labels, prefix string, ids map[string]interface{}) string {
	if hasInternalID(ids) {
		return "(" + alias + labels + ") WHERE id(" + alias + ") = " + prefix + "." + cudInternalID
	}
	keys := make([]string, 0, len(ids))
	for k := range ids {
		keys = append(keys, k)
	}
	return "(" + alias + labels + " {" + cypher.KeysClause(prefix, keys) + "})"
}

func hasInternalID(ids map[string]interface{}) bool {
	_, ok := ids[cudInternalID]
	return ok
}

func stringField(m map[string]interface{}, field string) string {
	if s, ok := m[field].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func boolField(m map[string]interface{}, field string) bool {
	b, _ := m[field].(bool)
	return b
}

func stringSlice(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
