package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/dhrudevalia/neo4j-kafka-connector/pkg/config"
	"github.com/dhrudevalia/neo4j-kafka-connector/pkg/metrics"
)

// ErrPermanentDriver marks a driver failure that retrying cannot fix:
// constraint violations, syntax errors, type mismatches. The consumer
// routes these through the tolerance policy instead of retrying.
var ErrPermanentDriver = errors.New("permanent driver failure")

// batchState tracks a batch through the engine.
//
// BUILDING -> SUBMITTED -> (COMMITTED | RETRYING -> SUBMITTED | FAILED)
type batchState string

const (
	stateBuilding  batchState = "BUILDING"
	stateSubmitted batchState = "SUBMITTED"
	stateRetrying  batchState = "RETRYING"
	stateCommitted batchState = "COMMITTED"
	stateFailed    batchState = "FAILED"
)

// executor commits one batch in a single transaction. It exists so the
// retry machinery can be exercised without a live database.
type executor interface {
	executeBatch(ctx context.Context, batch []QueryEvents) error
}

// Engine batches, orders, and commits query events against the graph.
//
// Apply is synchronous: when it returns nil the batch's transaction has
// committed, which is the signal the consumer needs before committing
// offsets. The engine is safe for concurrent use; each batch runs on the
// caller's goroutine with its own session.
type Engine struct {
	exec         executor
	maxRetries   int
	retryBackoff time.Duration
	log          hclog.Logger
	mx           *metrics.Connector
}

// NewEngine builds an engine over the given driver.
func NewEngine(driver neo4j.DriverWithContext, cfg *config.Config, log hclog.Logger, mx *metrics.Connector) *Engine {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Engine{
		exec: &driverExecutor{
			driver:    driver,
			database:  cfg.Neo4j.Database,
			chunkSize: cfg.Neo4j.BatchSize,
			timeout:   cfg.Neo4j.BatchTimeout,
		},
		maxRetries:   cfg.Neo4j.MaxRetries,
		retryBackoff: cfg.Neo4j.RetryBackoff,
		log:          log,
		mx:           mx,
	}
}

// NewDriver opens a driver for the configured URI and authentication.
func NewDriver(cfg *config.Config) (neo4j.DriverWithContext, error) {
	var token neo4j.AuthToken
	auth := cfg.Neo4j.Auth
	switch auth.Type {
	case config.AuthBasic:
		token = neo4j.BasicAuth(auth.Username, auth.Password, auth.Realm)
	case config.AuthKerberos:
		token = neo4j.KerberosAuth(auth.KerberosTicket)
	case config.AuthBearer:
		token = neo4j.BearerAuth(auth.BearerToken)
	default:
		token = neo4j.NoAuth()
	}
	driver, err := neo4j.NewDriverWithContext(cfg.Neo4j.URI, token)
	if err != nil {
		return nil, fmt.Errorf("creating driver for %s: %w", cfg.Neo4j.URI, err)
	}
	return driver, nil
}

// Apply commits the batch, retrying transient failures with exponential
// backoff up to the configured attempt limit. Permanent failures return
// wrapped in ErrPermanentDriver without retrying.
func (e *Engine) Apply(ctx context.Context, batch []QueryEvents) error {
	if len(batch) == 0 {
		return nil
	}

	state := stateBuilding
	transition := func(next batchState) {
		e.log.Debug("batch state", "from", string(state), "to", string(next))
		state = next
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.retryBackoff
	policy.MaxElapsedTime = 0

	started := time.Now()
	attempt := func() error {
		transition(stateSubmitted)
		err := e.exec.executeBatch(ctx, batch)
		if err == nil {
			return nil
		}
		if !Transient(err) {
			return backoff.Permanent(fmt.Errorf("%w: %v", ErrPermanentDriver, err))
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		transition(stateRetrying)
		if e.mx != nil {
			e.mx.BatchRetries.Inc()
		}
		e.log.Warn("transient failure, retrying batch", "error", err, "backoff", wait)
	}

	err := backoff.RetryNotify(attempt,
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(e.maxRetries)), ctx),
		notify)
	if err != nil {
		transition(stateFailed)
		return err
	}

	transition(stateCommitted)
	if e.mx != nil {
		e.mx.BatchCommitSeconds.Observe(time.Since(started).Seconds())
	}
	return nil
}

// Transient reports whether a driver failure is worth retrying: deadlocks,
// connection resets, leader switches, and anything else the driver itself
// marks retryable. Everything unrecognized is permanent, because retrying
// a constraint violation or a syntax error only rewrites the same failure.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if neo4j.IsRetryable(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// driverExecutor runs a batch in one explicit transaction, chunking each
// statement's parameter list so a single invocation never exceeds the
// configured batch size.
type driverExecutor struct {
	driver    neo4j.DriverWithContext
	database  string
	chunkSize int
	timeout   time.Duration
}

func (d *driverExecutor) executeBatch(ctx context.Context, batch []QueryEvents) error {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	session := d.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: d.database,
		AccessMode:   neo4j.AccessModeWrite,
	})
	defer session.Close(ctx)

	tx, err := session.BeginTransaction(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Close(ctx)

	for _, qe := range batch {
		for _, chunk := range chunkEvents(qe.Events, d.chunkSize) {
			result, err := tx.Run(ctx, qe.Statement, map[string]interface{}{"events": chunk})
			if err != nil {
				return err
			}
			if _, err := result.Consume(ctx); err != nil {
				return err
			}
		}
	}
	return tx.Commit(ctx)
}

// chunkEvents splits the parameter list into runs of at most size maps,
// preserving order.
func chunkEvents(events []map[string]interface{}, size int) [][]map[string]interface{} {
	if size <= 0 || len(events) <= size {
		return [][]map[string]interface{}{events}
	}
	var chunks [][]map[string]interface{}
	for start := 0; start < len(events); start += size {
		end := start + size
		if end > len(events) {
			end = len(events)
		}
		chunks = append(chunks, events[start:end])
	}
	return chunks
}
