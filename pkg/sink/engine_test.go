package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhrudevalia/neo4j-kafka-connector/pkg/metrics"
)

type fakeExecutor struct {
	calls   int
	results []error
}

func (f *fakeExecutor) executeBatch(ctx context.Context, batch []QueryEvents) error {
	err := f.results[f.calls%len(f.results)]
	f.calls++
	return err
}

// timeoutErr satisfies net.Error, which the engine classifies as transient.
type timeoutErr struct{}

func (timeoutErr) Error() string   { return "connection reset" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func testEngine(exec executor, maxRetries int) *Engine {
	return &Engine{
		exec:         exec,
		maxRetries:   maxRetries,
		retryBackoff: time.Millisecond,
		log:          hclog.NewNullLogger(),
		mx:           metrics.New(),
	}
}

func batchOf(n int) []QueryEvents {
	events := make([]map[string]interface{}, n)
	for i := range events {
		events[i] = map[string]interface{}{"i": i}
	}
	return []QueryEvents{{Statement: "S", Events: events}}
}

func TestEngine_Apply(t *testing.T) {
	exec := &fakeExecutor{results: []error{nil}}
	engine := testEngine(exec, 3)

	require.NoError(t, engine.Apply(context.Background(), batchOf(1)))
	assert.Equal(t, 1, exec.calls)
}

func TestEngine_EmptyBatchIsNoop(t *testing.T) {
	exec := &fakeExecutor{results: []error{nil}}
	engine := testEngine(exec, 3)

	require.NoError(t, engine.Apply(context.Background(), nil))
	assert.Zero(t, exec.calls)
}

func TestEngine_RetriesTransient(t *testing.T) {
	exec := &fakeExecutor{results: []error{timeoutErr{}, timeoutErr{}, nil}}
	engine := testEngine(exec, 5)

	require.NoError(t, engine.Apply(context.Background(), batchOf(1)))
	assert.Equal(t, 3, exec.calls)
}

func TestEngine_ExhaustsRetries(t *testing.T) {
	exec := &fakeExecutor{results: []error{timeoutErr{}}}
	engine := testEngine(exec, 2)

	err := engine.Apply(context.Background(), batchOf(1))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrPermanentDriver))
	assert.Equal(t, 3, exec.calls, "initial attempt plus two retries")
}

func TestEngine_PermanentFailureDoesNotRetry(t *testing.T) {
	exec := &fakeExecutor{results: []error{errors.New("Neo.ClientError.Schema.ConstraintValidationFailed")}}
	engine := testEngine(exec, 5)

	err := engine.Apply(context.Background(), batchOf(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPermanentDriver)
	assert.Equal(t, 1, exec.calls)
}

func TestTransient(t *testing.T) {
	assert.True(t, Transient(timeoutErr{}))
	assert.False(t, Transient(errors.New("syntax error")))
	assert.False(t, Transient(nil))
}

func TestChunkEvents(t *testing.T) {
	events := batchOf(10)[0].Events

	chunks := chunkEvents(events, 4)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 4)
	assert.Len(t, chunks[1], 4)
	assert.Len(t, chunks[2], 2)

	// Order survives chunking.
	i := 0
	for _, chunk := range chunks {
		for _, event := range chunk {
			assert.Equal(t, i, event["i"])
			i++
		}
	}

	assert.Len(t, chunkEvents(events, 100), 1)
	assert.Len(t, chunkEvents(events, 0), 1)
}
