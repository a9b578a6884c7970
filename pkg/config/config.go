// Package config loads and validates connector configuration.
//
// Configuration uses Kafka-Connect-style dotted keys, read from a YAML or
// properties-style file and overridable through environment variables. An
// environment variable overrides the key derived by stripping the
// NEO4J_CONNECTOR_ prefix, lowercasing, and turning underscores into dots:
//
//	NEO4J_CONNECTOR_NEO4J_BATCH_SIZE=500   ->  neo4j.batch.size=500
//
// Example sink configuration:
//
//	kafka.bootstrap.servers: broker-1:9092,broker-2:9092
//	kafka.group.id: orders-sink
//	neo4j.uri: neo4j://graph:7687
//	neo4j.authentication.type: BASIC
//	neo4j.authentication.basic.username: neo4j
//	neo4j.authentication.basic.password: secret
//	neo4j.topic.cypher.orders: "MERGE (o:Order {id: event.id})"
//	neo4j.topic.cdc.schema: graph.changes
//	errors.tolerance: all
//	errors.deadletterqueue.topic.name: orders.dlq
//
// Load returns an immutable Config; call Validate (and ValidateSink or
// ValidateSource for the side being started) before use. Exactly one
// strategy may claim a topic; conflicting assignments fail validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dhrudevalia/neo4j-kafka-connector/pkg/pattern"
)

// ErrInvalidConfig reports configuration that cannot start the connector.
var ErrInvalidConfig = errors.New("invalid configuration")

// envPrefix marks environment variables that override file keys.
const envPrefix = "NEO4J_CONNECTOR_"

// Recognized configuration keys. Per-topic keys append the topic name.
const (
	KeyConnectorClass = "connector.class"

	KeyBootstrapServers = "kafka.bootstrap.servers"
	KeyGroupID          = "kafka.group.id"

	KeyURI            = "neo4j.uri"
	KeyDatabase       = "neo4j.database"
	KeyAuthType       = "neo4j.authentication.type"
	KeyAuthUsername   = "neo4j.authentication.basic.username"
	KeyAuthPassword   = "neo4j.authentication.basic.password"
	KeyAuthRealm      = "neo4j.authentication.basic.realm"
	KeyKerberosTicket = "neo4j.authentication.kerberos.ticket"
	KeyBearerToken    = "neo4j.authentication.bearer.token"

	KeyBatchSize    = "neo4j.batch.size"
	KeyBatchTimeout = "neo4j.batch.timeout.msecs"
	// KeyMaxRetries carries the historical spelling; renaming it would
	// break every deployed configuration.
	KeyMaxRetries   = "neo4j.retry.max.attemps"
	KeyRetryBackoff = "neo4j.retry.backoff.msecs"

	KeyTopicCypherPrefix  = "neo4j.topic.cypher."
	KeyCypherBindKey      = "neo4j.topic.cypher.bind.key"
	KeyCypherBindValue    = "neo4j.topic.cypher.bind.value"
	KeyCypherBindHeader   = "neo4j.topic.cypher.bind.header"
	KeyCypherBindTime     = "neo4j.topic.cypher.bind.timestamp"
	KeyTopicCUD           = "neo4j.topic.cud"
	KeyPatternNodePrefix  = "neo4j.topic.pattern.node."
	KeyPatternRelPrefix   = "neo4j.topic.pattern.relationship."
	KeyPatternMergeNode   = "neo4j.topic.pattern.merge.node.properties"
	KeyPatternMergeRel    = "neo4j.topic.pattern.merge.relationship.properties"
	KeyTopicCDCSchema     = "neo4j.topic.cdc.schema"
	KeyTopicCDCSourceID   = "neo4j.topic.cdc.sourceId"
	KeySourceIDLabelName  = "neo4j.topic.cdc.sourceId.labelName"
	KeySourceIDIDName     = "neo4j.topic.cdc.sourceId.idName"

	KeyErrorsTolerance = "errors.tolerance"
	KeyDLQTopic        = "errors.deadletterqueue.topic.name"

	KeySourceQuery        = "neo4j.source.query"
	KeySourcePollInterval = "neo4j.streaming.poll.interval.msecs"
	KeySourceFrom         = "neo4j.streaming.from"
	KeySourceTopic        = "neo4j.source.topic"
	KeySourceTopicKey     = "neo4j.source.topic.key"

	KeyMetricsAddress  = "metrics.listen.address"
	KeyShutdownTimeout = "shutdown.timeout.msecs"
)

// Tolerance is the per-record error policy.
type Tolerance string

const (
	// ToleranceNone fails the task on the first translation error.
	ToleranceNone Tolerance = "none"
	// ToleranceAll drops (or dead-letters) failing records and continues.
	ToleranceAll Tolerance = "all"
)

// AuthType selects the driver authentication scheme.
type AuthType string

const (
	AuthNone     AuthType = "NONE"
	AuthBasic    AuthType = "BASIC"
	AuthKerberos AuthType = "KERBEROS"
	AuthBearer   AuthType = "BEARER"
)

// Config is the complete connector configuration, immutable after Load.
type Config struct {
	ConnectorClass string
	Kafka          KafkaConfig
	Neo4j          Neo4jConfig
	Errors         ErrorsConfig
	Topics         TopicsConfig
	Source         SourceConfig
	Metrics        MetricsConfig
	// ShutdownTimeout bounds how long an in-flight batch may run after a
	// stop signal before its transaction is abandoned.
	ShutdownTimeout time.Duration
}

// KafkaConfig holds broker client settings.
type KafkaConfig struct {
	BootstrapServers []string
	GroupID          string
}

// AuthConfig holds driver authentication settings.
type AuthConfig struct {
	Type           AuthType
	Username       string
	Password       string
	Realm          string
	KerberosTicket string
	BearerToken    string
}

// Neo4jConfig holds driver and batching settings.
type Neo4jConfig struct {
	URI          string
	Database     string
	Auth         AuthConfig
	BatchSize    int
	BatchTimeout time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// ErrorsConfig holds the tolerance policy and dead-letter routing.
type ErrorsConfig struct {
	Tolerance Tolerance
	DLQTopic  string
}

// CypherConfig is a per-topic Cypher strategy configuration.
type CypherConfig struct {
	Statement     string
	BindKey       bool
	BindValue     bool
	BindHeader    bool
	BindTimestamp bool
}

// TopicsConfig maps sink topics to their strategies.
type TopicsConfig struct {
	Cypher               map[string]CypherConfig
	CUD                  []string
	NodePatterns         map[string]*pattern.NodePattern
	RelationshipPatterns map[string]*pattern.RelationshipPattern
	CDCSchema            []string
	CDCSourceID          []string
	SourceIDLabelName    string
	SourceIDIDName       string
}

// SourceConfig holds the source connector settings.
type SourceConfig struct {
	Query        string
	PollInterval time.Duration
	From         string
	Topic        string
	TopicKey     string
}

// MetricsConfig holds the optional metrics listener address.
type MetricsConfig struct {
	ListenAddress string
}

// Load reads the configuration file at path (may be empty for
// environment-only configuration), applies environment overrides, and
// parses the result into a Config. Pattern DSL strings are parsed here so
// a bad pattern aborts start-up rather than the first record.
func Load(path string) (*Config, error) {
	props := properties{}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: reading %s: %v", ErrInvalidConfig, path, err)
		}
		var loaded map[string]interface{}
		if err := yaml.Unmarshal(raw, &loaded); err != nil {
			return nil, fmt.Errorf("%w: parsing %s: %v", ErrInvalidConfig, path, err)
		}
		for k, v := range loaded {
			props[k] = fmt.Sprintf("%v", v)
		}
	}
	props.applyEnv(os.Environ())

	return parse(props)
}

func parse(props properties) (*Config, error) {
	cfg := &Config{
		ConnectorClass: props.get(KeyConnectorClass, "Neo4jSinkConnector"),
		Kafka: KafkaConfig{
			BootstrapServers: props.getList(KeyBootstrapServers, []string{"localhost:9092"}),
			GroupID:          props.get(KeyGroupID, "neo4j-connector"),
		},
		Neo4j: Neo4jConfig{
			URI:      props.get(KeyURI, ""),
			Database: props.get(KeyDatabase, "neo4j"),
			Auth: AuthConfig{
				Type:           AuthType(strings.ToUpper(props.get(KeyAuthType, string(AuthNone)))),
				Username:       props.get(KeyAuthUsername, ""),
				Password:       props.get(KeyAuthPassword, ""),
				Realm:          props.get(KeyAuthRealm, ""),
				KerberosTicket: props.get(KeyKerberosTicket, ""),
				BearerToken:    props.get(KeyBearerToken, ""),
			},
			BatchSize:    props.getInt(KeyBatchSize, 1000),
			BatchTimeout: props.getMillis(KeyBatchTimeout, 30*time.Second),
			MaxRetries:   props.getInt(KeyMaxRetries, 5),
			RetryBackoff: props.getMillis(KeyRetryBackoff, 3*time.Second),
		},
		Errors: ErrorsConfig{
			Tolerance: Tolerance(strings.ToLower(props.get(KeyErrorsTolerance, string(ToleranceNone)))),
			DLQTopic:  props.get(KeyDLQTopic, ""),
		},
		Topics: TopicsConfig{
			Cypher:               map[string]CypherConfig{},
			NodePatterns:         map[string]*pattern.NodePattern{},
			RelationshipPatterns: map[string]*pattern.RelationshipPattern{},
			CUD:                  props.getList(KeyTopicCUD, nil),
			CDCSchema:            props.getList(KeyTopicCDCSchema, nil),
			CDCSourceID:          props.getList(KeyTopicCDCSourceID, nil),
			SourceIDLabelName:    props.get(KeySourceIDLabelName, "SourceEvent"),
			SourceIDIDName:       props.get(KeySourceIDIDName, "sourceId"),
		},
		Source: SourceConfig{
			Query:        props.get(KeySourceQuery, ""),
			PollInterval: props.getMillis(KeySourcePollInterval, 10*time.Second),
			From:         strings.ToUpper(props.get(KeySourceFrom, "NOW")),
			Topic:        props.get(KeySourceTopic, ""),
			TopicKey:     props.get(KeySourceTopicKey, ""),
		},
		Metrics: MetricsConfig{
			ListenAddress: props.get(KeyMetricsAddress, ""),
		},
		ShutdownTimeout: props.getMillis(KeyShutdownTimeout, 10*time.Second),
	}

	bindKey := props.getBool(KeyCypherBindKey, false)
	bindValue := props.getBool(KeyCypherBindValue, true)
	bindHeader := props.getBool(KeyCypherBindHeader, false)
	bindTime := props.getBool(KeyCypherBindTime, false)

	for _, key := range props.sortedKeys() {
		switch {
		case strings.HasPrefix(key, KeyTopicCypherPrefix) && !strings.HasPrefix(key, "neo4j.topic.cypher.bind."):
			topic := strings.TrimPrefix(key, KeyTopicCypherPrefix)
			cfg.Topics.Cypher[topic] = CypherConfig{
				Statement:     props[key],
				BindKey:       bindKey,
				BindValue:     bindValue,
				BindHeader:    bindHeader,
				BindTimestamp: bindTime,
			}
		case strings.HasPrefix(key, KeyPatternNodePrefix):
			topic := strings.TrimPrefix(key, KeyPatternNodePrefix)
			parsed, err := pattern.ParseNode(props[key])
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
			}
			parsed.MergeProperties = props.getBool(KeyPatternMergeNode, false)
			cfg.Topics.NodePatterns[topic] = parsed
		case strings.HasPrefix(key, KeyPatternRelPrefix):
			topic := strings.TrimPrefix(key, KeyPatternRelPrefix)
			parsed, err := pattern.ParseRelationship(props[key])
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
			}
			parsed.MergeProperties = props.getBool(KeyPatternMergeRel, false)
			cfg.Topics.RelationshipPatterns[topic] = parsed
		}
	}

	return cfg, nil
}

// Validate checks settings shared by both connector directions.
func (c *Config) Validate() error {
	if c.Neo4j.URI == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidConfig, KeyURI)
	}
	if len(c.Kafka.BootstrapServers) == 0 {
		return fmt.Errorf("%w: %s is required", ErrInvalidConfig, KeyBootstrapServers)
	}
	switch c.Errors.Tolerance {
	case ToleranceNone, ToleranceAll:
	default:
		return fmt.Errorf("%w: %s must be none or all, got %q",
			ErrInvalidConfig, KeyErrorsTolerance, c.Errors.Tolerance)
	}
	switch c.Neo4j.Auth.Type {
	case AuthNone, AuthBasic, AuthKerberos, AuthBearer:
	default:
		return fmt.Errorf("%w: unknown %s %q", ErrInvalidConfig, KeyAuthType, c.Neo4j.Auth.Type)
	}
	if c.Neo4j.Auth.Type == AuthBasic && c.Neo4j.Auth.Username == "" {
		return fmt.Errorf("%w: %s requires %s", ErrInvalidConfig, KeyAuthType, KeyAuthUsername)
	}
	if c.Neo4j.BatchSize <= 0 {
		return fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, KeyBatchSize)
	}
	if c.Neo4j.MaxRetries < 0 {
		return fmt.Errorf("%w: %s must not be negative", ErrInvalidConfig, KeyMaxRetries)
	}
	return c.validateTopicExclusivity()
}

// ValidateSink additionally requires at least one topic strategy.
func (c *Config) ValidateSink() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if len(c.SinkTopics()) == 0 {
		return fmt.Errorf("%w: no topic strategies configured", ErrInvalidConfig)
	}
	return nil
}

// ValidateSource additionally requires the polling query and target topic.
func (c *Config) ValidateSource() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Source.Query == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidConfig, KeySourceQuery)
	}
	if c.Source.Topic == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidConfig, KeySourceTopic)
	}
	if c.Source.From != "ALL" && c.Source.From != "NOW" {
		return fmt.Errorf("%w: %s must be ALL or NOW, got %q",
			ErrInvalidConfig, KeySourceFrom, c.Source.From)
	}
	return nil
}

// validateTopicExclusivity rejects topics claimed by more than one strategy.
func (c *Config) validateTopicExclusivity() error {
	claims := map[string][]string{}
	claim := func(topic, strategy string) {
		claims[topic] = append(claims[topic], strategy)
	}
	for topic := range c.Topics.Cypher {
		claim(topic, "cypher")
	}
	for _, topic := range c.Topics.CUD {
		claim(topic, "cud")
	}
	for topic := range c.Topics.NodePatterns {
		claim(topic, "pattern.node")
	}
	for topic := range c.Topics.RelationshipPatterns {
		claim(topic, "pattern.relationship")
	}
	for _, topic := range c.Topics.CDCSchema {
		claim(topic, "cdc.schema")
	}
	for _, topic := range c.Topics.CDCSourceID {
		claim(topic, "cdc.sourceId")
	}
	for topic, strategies := range claims {
		if len(strategies) > 1 {
			sort.Strings(strategies)
			return fmt.Errorf("%w: topic %q is claimed by multiple strategies: %s",
				ErrInvalidConfig, topic, strings.Join(strategies, ", "))
		}
	}
	return nil
}

// SinkTopics returns every topic with a configured strategy, sorted.
func (c *Config) SinkTopics() []string {
	var topics []string
	for topic := range c.Topics.Cypher {
		topics = append(topics, topic)
	}
	topics = append(topics, c.Topics.CUD...)
	for topic := range c.Topics.NodePatterns {
		topics = append(topics, topic)
	}
	for topic := range c.Topics.RelationshipPatterns {
		topics = append(topics, topic)
	}
	topics = append(topics, c.Topics.CDCSchema...)
	topics = append(topics, c.Topics.CDCSourceID...)
	sort.Strings(topics)
	return topics
}

// properties is the flat key space the typed Config is parsed from.
type properties map[string]string

// applyEnv overlays NEO4J_CONNECTOR_* environment variables. The variable
// name maps to a key by stripping the prefix, lowercasing, and replacing
// underscores with dots, so topics containing underscores must be set in
// the file.
func (p properties) applyEnv(environ []string) {
	for _, entry := range environ {
		name, value, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasPrefix(name, envPrefix) {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(name, envPrefix))
		key = strings.ReplaceAll(key, "_", ".")
		p[key] = value
	}
}

func (p properties) get(key, def string) string {
	if v, ok := p[key]; ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (p properties) getInt(key string, def int) int {
	if v, ok := p[key]; ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func (p properties) getBool(key string, def bool) bool {
	if v, ok := p[key]; ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return def
}

func (p properties) getMillis(key string, def time.Duration) time.Duration {
	if v, ok := p[key]; ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n >= 0 {
			return time.Duration(n) * time.Millisecond
		}
	}
	return def
}

func (p properties) getList(key string, def []string) []string {
	v, ok := p[key]
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (p properties) sortedKeys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
