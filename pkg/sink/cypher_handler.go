package sink

import (
	"github.com/dhrudevalia/neo4j-kafka-connector/pkg/config"
	"github.com/dhrudevalia/neo4j-kafka-connector/pkg/cypher"
)

// CypherHandler runs a user-provided statement template once per record.
// The template is wrapped in the shared UNWIND prelude, so it sees each
// record as `event` with the bound fields enabled in its configuration.
type CypherHandler struct {
	statement string
	cfg       config.CypherConfig
}

// NewCypherHandler wraps the configured template.
func NewCypherHandler(cfg config.CypherConfig) *CypherHandler {
	return &CypherHandler{
		statement: cypher.UnwindPrelude + " " + cfg.Statement,
		cfg:       cfg,
	}
}

// Handle binds one event map per record. The template strategy has no way
// to tell a malformed value from a deliberate one, so every record
// translates; type errors surface from the database as permanent failures.
func (h *CypherHandler) Handle(records []*Record) ([]QueryEvents, []*RecordError) {
	events := make([]map[string]interface{}, 0, len(records))
	for _, record := range records {
		event := make(map[string]interface{}, 4)
		if h.cfg.BindValue {
			event["value"] = record.Value
		}
		if h.cfg.BindKey {
			event["key"] = record.Key
		}
		if h.cfg.BindHeader {
			headers := make(map[string]interface{}, len(record.Headers))
			for name, value := range record.Headers {
				headers[name] = string(value)
			}
			event["header"] = headers
		}
		if h.cfg.BindTimestamp {
			event["timestamp"] = record.Timestamp.UnixMilli()
		}
		events = append(events, event)
	}
	if len(events) == 0 {
		return nil, nil
	}
	return []QueryEvents{{Statement: h.statement, Events: events}}, nil
}
