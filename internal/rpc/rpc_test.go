package rpc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driftdb/internal/engine"
	"driftdb/pkg/model"
)

func startPair(t *testing.T, clientTransport func(Transport) Transport) *Client {
	t.Helper()

	hostEnd, clientEnd := NewPipe()
	factory := func(name string) (*engine.Collection, error) {
		return engine.New(name, engine.WithActiveTransitions()), nil
	}
	host := NewHost("w1", hostEnd, factory, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = host.Run(ctx)
	}()

	var transport Transport = clientEnd
	if clientTransport != nil {
		transport = clientTransport(clientEnd)
	}
	client := NewClient("w1", transport,
		WithReadyTimeout(2*time.Second),
		WithBatchWindow(time.Millisecond))

	t.Cleanup(func() {
		_ = client.Dispose()
		cancel()
		<-done
	})
	return client
}

func TestEndToEnd(t *testing.T) {
	client := startPair(t, nil)
	ctx := context.Background()

	require.NoError(t, client.IsReady(ctx))
	require.NoError(t, client.RegisterCollection(ctx, "posts"))

	doc, err := client.Insert(ctx, "posts", model.Document{"id": "1", "name": "alice"})
	require.NoError(t, err)
	assert.Equal(t, "1", doc.GetID())

	items, err := client.ExecuteQuery(ctx, "posts", model.Selector{"name": "alice"}, model.Options{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "1", items[0].GetID())

	n, err := client.Count(ctx, "posts", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	updated, err := client.UpdateOne(ctx, "posts", model.Selector{"id": "1"}, model.Modifier{
		"$set": map[string]interface{}{"name": "bob"},
	})
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.Equal(t, "bob", updated[0]["name"])

	removed, err := client.RemoveOne(ctx, "posts", model.Selector{"id": "1"})
	require.NoError(t, err)
	assert.Len(t, removed, 1)

	n, err = client.Count(ctx, "posts", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDuplicateInsertRejectedRemotely(t *testing.T) {
	client := startPair(t, nil)
	ctx := context.Background()
	require.NoError(t, client.RegisterCollection(ctx, "posts"))

	_, err := client.Insert(ctx, "posts", model.Document{"id": "1", "name": "a"})
	require.NoError(t, err)

	_, err = client.Insert(ctx, "posts", model.Document{"id": "1", "name": "b"})
	assert.ErrorIs(t, err, model.ErrItemExists)
}

func TestLiveQueryPushes(t *testing.T) {
	client := startPair(t, nil)
	ctx := context.Background()
	require.NoError(t, client.RegisterCollection(ctx, "posts"))

	sel := model.Selector{"name": "test"}

	var mu sync.Mutex
	var states []model.QueryState
	unsubscribe := client.OnQueryUpdate("posts", sel, model.Options{}, func(u QueryUpdate) {
		mu.Lock()
		states = append(states, u.State)
		mu.Unlock()
	})
	defer unsubscribe()

	require.NoError(t, client.RegisterQuery(ctx, "posts", sel, model.Options{}))

	require.Eventually(t, func() bool {
		state, ok := client.QueryState("posts", sel, model.Options{})
		return ok && state == model.QueryStateComplete
	}, time.Second, 5*time.Millisecond)

	result, ok := client.QueryResult("posts", sel, model.Options{})
	require.True(t, ok)
	assert.Empty(t, result)

	_, err := client.Insert(ctx, "posts", model.Document{"id": "1", "name": "test"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		result, ok := client.QueryResult("posts", sel, model.Options{})
		return ok && len(result) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, states, model.QueryStateActive)
	assert.Contains(t, states, model.QueryStateComplete)
}

func TestQueryUpdateForUnknownQueryIgnored(t *testing.T) {
	client := startPair(t, nil)
	ctx := context.Background()
	require.NoError(t, client.RegisterCollection(ctx, "posts"))

	other := model.Selector{"name": "other"}
	require.NoError(t, client.RegisterQuery(ctx, "posts", other, model.Options{}))
	client.mu.Lock()
	delete(client.queries, queryKey("posts", other, model.Options{}))
	client.mu.Unlock()

	// Pushes for the forgotten query must be dropped without effect.
	_, err := client.Insert(ctx, "posts", model.Document{"id": "1", "name": "other"})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	_, ok := client.QueryState("posts", other, model.Options{})
	assert.False(t, ok)
}

func TestReadyTimeoutIsFatal(t *testing.T) {
	_, clientEnd := NewPipe()
	client := NewClient("w1", clientEnd, WithReadyTimeout(30*time.Millisecond))
	defer client.Dispose()

	err := client.IsReady(context.Background())
	require.ErrorIs(t, err, model.ErrReadyTimeout)

	// Queued and future operations reject instead of hanging.
	_, err = client.Insert(context.Background(), "posts", model.Document{"id": "1"})
	assert.ErrorIs(t, err, model.ErrReadyTimeout)
	_, err = client.ExecuteQuery(context.Background(), "posts", nil, model.Options{})
	assert.ErrorIs(t, err, model.ErrReadyTimeout)
}

func TestForeignWorkerIgnored(t *testing.T) {
	hostEnd, clientEnd := NewPipe()
	client := NewClient("w1", clientEnd, WithReadyTimeout(60*time.Millisecond))
	defer client.Dispose()

	// A ready handshake for another worker must not arm this client.
	require.NoError(t, hostEnd.Send(Message{WorkerID: "other", Type: TypeReady}))

	err := client.IsReady(context.Background())
	assert.ErrorIs(t, err, model.ErrReadyTimeout)
}

func TestMethodNotFound(t *testing.T) {
	client := startPair(t, nil)
	ctx := context.Background()
	require.NoError(t, client.IsReady(ctx))

	_, err := client.call(ctx, "bogus", CallArgs{Collection: "posts"})
	assert.ErrorIs(t, err, model.ErrMethodNotFound)
}

func TestOperationsBeforeRegisterCollectionFail(t *testing.T) {
	client := startPair(t, nil)
	ctx := context.Background()
	require.NoError(t, client.IsReady(ctx))

	_, err := client.ExecuteQuery(ctx, "posts", nil, model.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not initialized")
}

// countingTransport counts writeBatch requests crossing the wire.
type countingTransport struct {
	Transport
	mu         sync.Mutex
	batchSends int
}

func (t *countingTransport) Send(msg Message) error {
	if msg.Type == TypeRequest && msg.Method == MethodWriteBatch {
		t.mu.Lock()
		t.batchSends++
		t.mu.Unlock()
	}
	return t.Transport.Send(msg)
}

func TestWritesCoalesceIntoOneBatch(t *testing.T) {
	var counter *countingTransport
	client := startPair(t, func(inner Transport) Transport {
		counter = &countingTransport{Transport: inner}
		return counter
	})
	client.batchWindow = 50 * time.Millisecond

	ctx := context.Background()
	require.NoError(t, client.RegisterCollection(ctx, "posts"))

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = client.Insert(ctx, "posts", model.Document{"kind": "x"})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	n, err := client.Count(ctx, "posts", nil)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	counter.mu.Lock()
	defer counter.mu.Unlock()
	assert.Equal(t, 1, counter.batchSends, "writes in one window share one message")
}

func TestBatchedWriteFailureIsPositional(t *testing.T) {
	client := startPair(t, nil)
	client.batchWindow = 50 * time.Millisecond
	ctx := context.Background()
	require.NoError(t, client.RegisterCollection(ctx, "posts"))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = client.Insert(ctx, "posts", model.Document{"id": "dup"})
		}(i)
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, model.ErrItemExists)
			failures++
		}
	}
	assert.Equal(t, 1, failures, "exactly one of the colliding inserts fails")
}

func TestDisposeRejectsLaterCalls(t *testing.T) {
	client := startPair(t, nil)
	ctx := context.Background()
	require.NoError(t, client.RegisterCollection(ctx, "posts"))

	require.NoError(t, client.Dispose())
	require.NoError(t, client.Dispose(), "dispose is idempotent")
	assert.Equal(t, StateDisposed, client.State())

	_, err := client.Insert(ctx, "posts", model.Document{"id": "1"})
	assert.ErrorIs(t, err, model.ErrDisposed)
	_, err = client.ExecuteQuery(ctx, "posts", nil, model.Options{})
	assert.ErrorIs(t, err, model.ErrDisposed)
}

func TestClientStateTransitions(t *testing.T) {
	client := startPair(t, nil)
	ctx := context.Background()

	require.NoError(t, client.IsReady(ctx))
	assert.Equal(t, StateReady, client.State())

	require.NoError(t, client.RegisterCollection(ctx, "posts"))
	assert.Equal(t, StateOperating, client.State())
}
