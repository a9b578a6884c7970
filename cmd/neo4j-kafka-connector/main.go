// Package main provides the connector CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/dhrudevalia/neo4j-kafka-connector/pkg/config"
	"github.com/dhrudevalia/neo4j-kafka-connector/pkg/metrics"
	"github.com/dhrudevalia/neo4j-kafka-connector/pkg/sink"
	"github.com/dhrudevalia/neo4j-kafka-connector/pkg/source"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

var (
	configPath string
	logLevel   string
	logFormat  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "neo4j-kafka-connector",
		Short: "Bidirectional bridge between Kafka topics and Neo4j",
		Long: `neo4j-kafka-connector streams data between Kafka and Neo4j.

The sink consumes topic records and applies them as graph mutations
through per-topic strategies (Cypher templates, CUD, node and
relationship patterns, CDC schema and source-id). The source polls a
Cypher query and publishes changed rows as topic records.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "connector.yaml", "Configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (text, json)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("neo4j-kafka-connector v%s (%s)\n", version, commit)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration, then exit",
		RunE:  runValidate,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "sink",
		Short: "Run the sink connector (Kafka -> Neo4j)",
		RunE:  runSink,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "source",
		Short: "Run the source connector (Neo4j -> Kafka)",
		RunE:  runSource,
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:       "neo4j-connector",
		Level:      hclog.LevelFromString(logLevel),
		JSONFormat: logFormat == "json",
	})
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.ValidateSink(); err == nil {
		fmt.Printf("sink: ok (%d topics)\n", len(cfg.SinkTopics()))
	} else {
		fmt.Printf("sink: %v\n", err)
	}
	if err := cfg.ValidateSource(); err == nil {
		fmt.Println("source: ok")
	} else {
		fmt.Printf("source: %v\n", err)
	}
	return nil
}

func runSink(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.ValidateSink(); err != nil {
		return err
	}
	log := newLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	driver, err := sink.NewDriver(cfg)
	if err != nil {
		return err
	}
	defer driver.Close(context.Background())
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("connecting to %s: %w", cfg.Neo4j.URI, err)
	}

	mx := metrics.New()
	go serveMetrics(ctx, mx, cfg, log)

	registry, err := sink.NewRegistry(cfg, log, mx)
	if err != nil {
		return err
	}
	engine := sink.NewEngine(driver, cfg, log, mx)
	consumer, err := sink.NewConsumer(cfg, registry, engine, log, mx)
	if err != nil {
		return err
	}
	return consumer.Run(ctx)
}

func runSource(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.ValidateSource(); err != nil {
		return err
	}
	log := newLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	driver, err := sink.NewDriver(cfg)
	if err != nil {
		return err
	}
	defer driver.Close(context.Background())
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("connecting to %s: %w", cfg.Neo4j.URI, err)
	}

	mx := metrics.New()
	go serveMetrics(ctx, mx, cfg, log)

	connector, err := source.New(cfg, driver, log, mx)
	if err != nil {
		return err
	}
	return connector.Run(ctx)
}

func serveMetrics(ctx context.Context, mx *metrics.Connector, cfg *config.Config, log hclog.Logger) {
	if err := mx.Serve(ctx, cfg.Metrics.ListenAddress); err != nil {
		log.Error("metrics listener failed", "error", err)
	}
}
