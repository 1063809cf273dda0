package exec

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s-emmerson/hycast/types"
)

func TestSubmitAndResult(t *testing.T) {
	e := NewExecutor[int]()
	future, err := e.Submit(context.Background(), func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)

	v, err := future.Result(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestCancelStopsTask(t *testing.T) {
	e := NewExecutor[int]()
	started := make(chan struct{})
	future, err := e.Submit(context.Background(), func(ctx context.Context) (int, error) {
		close(started)
		<-ctx.Done()
		return 0, ctx.Err()
	})
	require.NoError(t, err)

	<-started
	assert.True(t, future.Cancel())
	assert.True(t, future.Canceled())

	_, err = future.Result(context.Background())
	var logicErr types.LogicError
	assert.ErrorAs(t, err, &logicErr)
}

func TestFutureFromContext(t *testing.T) {
	e := NewExecutor[string]()
	result := make(chan bool, 1)
	_, err := e.Submit(context.Background(), func(ctx context.Context) (string, error) {
		_, ok := FutureFromContext[string](ctx)
		result <- ok
		return "", nil
	})
	require.NoError(t, err)
	assert.True(t, <-result)
}

func TestShutdownRejectsNewWork(t *testing.T) {
	e := NewExecutor[int]()
	e.Shutdown(false)
	_, err := e.Submit(context.Background(), func(ctx context.Context) (int, error) {
		return 0, nil
	})
	var shutdown types.Shutdown
	assert.ErrorAs(t, err, &shutdown)
}

func TestCompleterYieldsCompletionOrder(t *testing.T) {
	c := NewCompleter[int](4)
	gate := make(chan struct{})

	_, err := c.Submit(context.Background(), func(ctx context.Context) (int, error) {
		<-gate
		return 1, nil
	})
	require.NoError(t, err)
	_, err = c.Submit(context.Background(), func(ctx context.Context) (int, error) {
		return 2, nil
	})
	require.NoError(t, err)

	f, err := c.Get(context.Background())
	require.NoError(t, err)
	v, err := f.Result(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	close(gate)
	f2, err := c.Get(context.Background())
	require.NoError(t, err)
	v2, err := f2.Result(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v2)
}

func TestAwaitTermination(t *testing.T) {
	e := NewExecutor[int]()
	_, err := e.Submit(context.Background(), func(ctx context.Context) (int, error) {
		time.Sleep(5 * time.Millisecond)
		return 0, nil
	})
	require.NoError(t, err)
	e.Shutdown(false)
	assert.NoError(t, e.AwaitTermination(context.Background()))
}
