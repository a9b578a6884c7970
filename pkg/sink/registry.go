package sink

import (
	"fmt"
	"sort"

	"github.com/hashicorp/go-hclog"

	"github.com/dhrudevalia/neo4j-kafka-connector/pkg/config"
	"github.com/dhrudevalia/neo4j-kafka-connector/pkg/metrics"
)

// Registry maps each configured topic to its materialized handler. It is
// built once at start-up and read-only afterwards, so dispatch needs no
// synchronization.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry materializes one handler per configured topic. Config
// validation has already rejected conflicting strategy assignments, but a
// duplicate here is still an invariant violation worth failing on.
func NewRegistry(cfg *config.Config, log hclog.Logger, mx *metrics.Connector) (*Registry, error) {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	handlers := make(map[string]Handler)
	register := func(topic string, handler Handler) error {
		if _, ok := handlers[topic]; ok {
			return fmt.Errorf("%w: topic %q already has a handler", config.ErrInvalidConfig, topic)
		}
		handlers[topic] = handler
		return nil
	}

	for topic, cypherCfg := range cfg.Topics.Cypher {
		if err := register(topic, NewCypherHandler(cypherCfg)); err != nil {
			return nil, err
		}
	}
	for _, topic := range cfg.Topics.CUD {
		if err := register(topic, NewCUDHandler()); err != nil {
			return nil, err
		}
	}
	for topic, p := range cfg.Topics.NodePatterns {
		if err := register(topic, NewNodePatternHandler(p)); err != nil {
			return nil, err
		}
	}
	for topic, p := range cfg.Topics.RelationshipPatterns {
		if err := register(topic, NewRelationshipPatternHandler(p)); err != nil {
			return nil, err
		}
	}
	for _, topic := range cfg.Topics.CDCSchema {
		if err := register(topic, NewCDCSchemaHandler(topic, log, mx)); err != nil {
			return nil, err
		}
	}
	for _, topic := range cfg.Topics.CDCSourceID {
		handler := NewCDCSourceIDHandler(cfg.Topics.SourceIDLabelName, cfg.Topics.SourceIDIDName)
		if err := register(topic, handler); err != nil {
			return nil, err
		}
	}

	return &Registry{handlers: handlers}, nil
}

// Handler returns the handler for topic, or ErrUnmappedTopic.
func (r *Registry) Handler(topic string) (Handler, error) {
	handler, ok := r.handlers[topic]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnmappedTopic, topic)
	}
	return handler, nil
}

// Topics returns the registered topics, sorted.
func (r *Registry) Topics() []string {
	topics := make([]string, 0, len(r.handlers))
	for topic := range r.handlers {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}
