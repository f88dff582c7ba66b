package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"driftdb/pkg/model"
)

// ClientState is the client lifecycle position.
type ClientState string

const (
	StateInitializing ClientState = "initializing"
	StateReady        ClientState = "ready"
	StateOperating    ClientState = "operating"
	StateDisposed     ClientState = "disposed"
)

// DefaultReadyTimeout bounds the wait for the host's ready handshake.
// Missing it is fatal: pending and future calls all reject.
const DefaultReadyTimeout = 5 * time.Second

// DefaultBatchWindow is how long write calls are held open for coalescing
// into one writeBatch message.
const DefaultBatchWindow = 2 * time.Millisecond

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithReadyTimeout overrides the ready handshake deadline.
func WithReadyTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.readyTimeout = d }
}

// WithBatchWindow overrides the write coalescing window.
func WithBatchWindow(d time.Duration) ClientOption {
	return func(c *Client) { c.batchWindow = d }
}

type clientQuery struct {
	state model.QueryState
	items []model.Document
	err   error
}

// Client is the worker-side stub of the RPC split. Operations issued
// before the ready handshake are queued, never dropped; a handshake
// timeout fails them all. Write calls issued within one batch window
// coalesce into a single writeBatch request.
type Client struct {
	workerID     string
	transport    Transport
	readyTimeout time.Duration
	batchWindow  time.Duration

	readyCh chan struct{}
	failCh  chan struct{}

	mu           sync.Mutex
	state        ClientState
	failErr      error
	pending      map[string]chan Message
	collections  map[string]struct{}
	queries      map[string]*clientQuery
	listeners    map[string]map[int]func(QueryUpdate)
	nextListener int
	batchers     map[string]*batcher
}

// NewClient creates a client over a transport and starts waiting for the
// host's ready handshake.
func NewClient(workerID string, transport Transport, opts ...ClientOption) *Client {
	c := &Client{
		workerID:     workerID,
		transport:    transport,
		readyTimeout: DefaultReadyTimeout,
		batchWindow:  DefaultBatchWindow,
		readyCh:      make(chan struct{}),
		failCh:       make(chan struct{}),
		state:        StateInitializing,
		pending:      map[string]chan Message{},
		collections:  map[string]struct{}{},
		queries:      map[string]*clientQuery{},
		listeners:    map[string]map[int]func(QueryUpdate){},
		batchers:     map[string]*batcher{},
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.readLoop()
	go c.watchdog()
	return c
}

// State returns the lifecycle position.
func (c *Client) State() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsReady blocks until the ready handshake arrived, the handshake timed
// out, or the context expired.
func (c *Client) IsReady(ctx context.Context) error {
	return c.awaitReady(ctx)
}

// RegisterCollection makes the host create and bootstrap a collection.
func (c *Client) RegisterCollection(ctx context.Context, name string) error {
	if _, err := c.call(ctx, MethodRegisterCollection, CallArgs{Collection: name}); err != nil {
		return err
	}
	c.mu.Lock()
	c.collections[name] = struct{}{}
	c.mu.Unlock()
	return nil
}

// Insert adds a document through the coalescing write path.
func (c *Client) Insert(ctx context.Context, collection string, doc model.Document) (model.Document, error) {
	items, err := c.write(ctx, collection, MethodInsert, CallArgs{Collection: collection, Document: doc})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, errors.New("insert: empty result")
	}
	return items[0], nil
}

// UpdateOne applies a modifier to the first matching document.
func (c *Client) UpdateOne(ctx context.Context, collection string, selector model.Selector, modifier model.Modifier) ([]model.Document, error) {
	return c.write(ctx, collection, MethodUpdateOne, CallArgs{Collection: collection, Selector: selector, Modifier: modifier})
}

// UpdateMany applies a modifier to every matching document.
func (c *Client) UpdateMany(ctx context.Context, collection string, selector model.Selector, modifier model.Modifier) ([]model.Document, error) {
	return c.write(ctx, collection, MethodUpdateMany, CallArgs{Collection: collection, Selector: selector, Modifier: modifier})
}

// ReplaceOne swaps the first matching document for the replacement.
func (c *Client) ReplaceOne(ctx context.Context, collection string, selector model.Selector, doc model.Document) ([]model.Document, error) {
	return c.write(ctx, collection, MethodReplaceOne, CallArgs{Collection: collection, Selector: selector, Document: doc})
}

// RemoveOne removes the first matching document.
func (c *Client) RemoveOne(ctx context.Context, collection string, selector model.Selector) ([]model.Document, error) {
	return c.write(ctx, collection, MethodRemoveOne, CallArgs{Collection: collection, Selector: selector})
}

// RemoveMany removes every matching document.
func (c *Client) RemoveMany(ctx context.Context, collection string, selector model.Selector) ([]model.Document, error) {
	return c.write(ctx, collection, MethodRemoveMany, CallArgs{Collection: collection, Selector: selector})
}

// ExecuteQuery runs a one-shot query on the host.
func (c *Client) ExecuteQuery(ctx context.Context, collection string, selector model.Selector, options model.Options) ([]model.Document, error) {
	data, err := c.call(ctx, MethodExecuteQuery, CallArgs{Collection: collection, Selector: selector, Options: options})
	if err != nil {
		return nil, err
	}
	var items []model.Document
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode query result: %w", err)
	}
	if items == nil {
		items = []model.Document{}
	}
	return items, nil
}

// Count returns the number of matching documents on the host.
func (c *Client) Count(ctx context.Context, collection string, selector model.Selector) (int, error) {
	data, err := c.call(ctx, MethodCount, CallArgs{Collection: collection, Selector: selector})
	if err != nil {
		return 0, err
	}
	var result CountResult
	if err := json.Unmarshal(data, &result); err != nil {
		return 0, fmt.Errorf("decode count result: %w", err)
	}
	return result.Count, nil
}

// RegisterQuery starts a live query; updates arrive as pushes and are
// mirrored into the client's local records.
func (c *Client) RegisterQuery(ctx context.Context, collection string, selector model.Selector, options model.Options) error {
	key := queryKey(collection, selector, options)
	c.mu.Lock()
	if _, exists := c.queries[key]; !exists {
		c.queries[key] = &clientQuery{state: model.QueryStateActive}
	}
	c.mu.Unlock()

	_, err := c.call(ctx, MethodRegisterQuery, CallArgs{Collection: collection, Selector: selector, Options: options})
	return err
}

// UnregisterQuery stops a live query. Unknown queries are tolerated.
func (c *Client) UnregisterQuery(ctx context.Context, collection string, selector model.Selector, options model.Options) error {
	c.mu.Lock()
	delete(c.queries, queryKey(collection, selector, options))
	c.mu.Unlock()

	_, err := c.call(ctx, MethodUnregisterQuery, CallArgs{Collection: collection, Selector: selector, Options: options})
	return err
}

// QueryState returns the mirrored state of a live query.
func (c *Client) QueryState(collection string, selector model.Selector, options model.Options) (model.QueryState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.queries[queryKey(collection, selector, options)]
	if !ok {
		return "", false
	}
	return rec.state, true
}

// QueryResult returns the mirrored result of a live query.
func (c *Client) QueryResult(collection string, selector model.Selector, options model.Options) ([]model.Document, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.queries[queryKey(collection, selector, options)]
	if !ok {
		return nil, false
	}
	return rec.items, true
}

// QueryError returns the mirrored evaluation error of a live query.
func (c *Client) QueryError(collection string, selector model.Selector, options model.Options) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.queries[queryKey(collection, selector, options)]
	if !ok {
		return nil
	}
	return rec.err
}

// OnQueryUpdate adds a listener for one live query's pushes and returns
// its remove function.
func (c *Client) OnQueryUpdate(collection string, selector model.Selector, options model.Options, cb func(QueryUpdate)) func() {
	key := queryKey(collection, selector, options)
	c.mu.Lock()
	if c.listeners[key] == nil {
		c.listeners[key] = map[int]func(QueryUpdate){}
	}
	id := c.nextListener
	c.nextListener++
	c.listeners[key][id] = cb
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners[key], id)
		c.mu.Unlock()
	}
}

// Dispose unregisters the client's collections best effort, closes the
// transport and rejects every pending and future call. Idempotent.
func (c *Client) Dispose() error {
	c.mu.Lock()
	if c.state == StateDisposed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateDisposed
	collections := make([]string, 0, len(c.collections))
	for name := range c.collections {
		collections = append(collections, name)
	}
	c.mu.Unlock()

	for _, name := range collections {
		args, err := json.Marshal(CallArgs{Collection: name})
		if err != nil {
			continue
		}
		_ = c.transport.Send(Message{
			ID:       uuid.NewString(),
			WorkerID: c.workerID,
			Type:     TypeRequest,
			Method:   MethodUnregisterCollection,
			Args:     args,
		})
	}

	err := c.transport.Close()
	c.fail(fmt.Errorf("client: %w", model.ErrDisposed))
	return err
}

// call issues one request and waits for its correlated response.
func (c *Client) call(ctx context.Context, method string, args interface{}) (json.RawMessage, error) {
	// A latched fatal error wins over an already-closed ready gate.
	if err := c.failure(); err != nil {
		return nil, err
	}
	if err := c.awaitReady(ctx); err != nil {
		return nil, err
	}

	rawArgs, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode args: %w", err)
	}

	id := uuid.NewString()
	ch := make(chan Message, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	msg := Message{ID: id, WorkerID: c.workerID, Type: TypeRequest, Method: method, Args: rawArgs}
	if err := c.transport.Send(msg); err != nil {
		c.dropPending(id)
		return nil, err
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return nil, remoteError(resp.Error)
		}
		c.mu.Lock()
		if c.state == StateReady {
			c.state = StateOperating
		}
		c.mu.Unlock()
		return resp.Data, nil
	case <-c.failCh:
		c.dropPending(id)
		return nil, c.failure()
	case <-ctx.Done():
		c.dropPending(id)
		return nil, ctx.Err()
	}
}

// write funnels a mutation through the per-collection coalescing batcher.
func (c *Client) write(ctx context.Context, collection, method string, args CallArgs) ([]model.Document, error) {
	c.mu.Lock()
	if c.state == StateDisposed {
		c.mu.Unlock()
		return nil, fmt.Errorf("client: %w", model.ErrDisposed)
	}
	b, ok := c.batchers[collection]
	if !ok {
		b = &batcher{client: c, collection: collection}
		c.batchers[collection] = b
	}
	c.mu.Unlock()

	result := make(chan WriteResult, 1)
	b.add(WriteOp{Method: method, Args: args}, result)

	select {
	case res := <-result:
		if res.Error != "" {
			return nil, remoteError(res.Error)
		}
		items := res.Items
		if items == nil {
			items = []model.Document{}
		}
		return items, nil
	case <-c.failCh:
		return nil, c.failure()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) readLoop() {
	for msg := range c.transport.Receive() {
		if msg.WorkerID != c.workerID {
			continue
		}
		switch msg.Type {
		case TypeReady:
			c.markReady()
		case TypeResponse:
			c.mu.Lock()
			ch, ok := c.pending[msg.ID]
			delete(c.pending, msg.ID)
			c.mu.Unlock()
			if ok {
				ch <- msg
			}
		case TypeQueryUpdate:
			var update QueryUpdate
			if err := json.Unmarshal(msg.Data, &update); err != nil {
				continue
			}
			c.handleUpdate(update)
		}
	}
	c.fail(ErrTransportClosed)
}

// watchdog makes a missing ready handshake fatal.
func (c *Client) watchdog() {
	timer := time.NewTimer(c.readyTimeout)
	defer timer.Stop()
	select {
	case <-c.readyCh:
	case <-c.failCh:
	case <-timer.C:
		c.fail(model.ErrReadyTimeout)
	}
}

func (c *Client) markReady() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateInitializing || c.failErr != nil {
		return
	}
	c.state = StateReady
	close(c.readyCh)
}

// fail latches a fatal error and releases everyone waiting on it.
func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failErr != nil {
		return
	}
	c.failErr = err
	c.pending = map[string]chan Message{}
	close(c.failCh)
}

func (c *Client) failure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failErr
}

func (c *Client) awaitReady(ctx context.Context) error {
	select {
	case <-c.readyCh:
		return nil
	case <-c.failCh:
		return c.failure()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) dropPending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// handleUpdate mirrors a push into the local query record. Pushes for
// unknown queries are silently ignored.
func (c *Client) handleUpdate(update QueryUpdate) {
	key := update.Collection + "/" + update.QueryID

	c.mu.Lock()
	rec, ok := c.queries[key]
	if !ok {
		c.mu.Unlock()
		return
	}
	rec.state = update.State
	if update.State == model.QueryStateComplete {
		rec.items = update.Items
		rec.err = nil
	}
	if update.Error != "" {
		rec.err = errors.New(update.Error)
	}
	listeners := make([]func(QueryUpdate), 0, len(c.listeners[key]))
	for _, cb := range c.listeners[key] {
		listeners = append(listeners, cb)
	}
	c.mu.Unlock()

	for _, cb := range listeners {
		cb(update)
	}
}

func queryKey(collection string, selector model.Selector, options model.Options) string {
	return collection + "/" + model.QueryID(selector, options)
}

func remoteError(s string) error {
	if strings.Contains(s, model.ErrMethodNotFound.Error()) {
		return fmt.Errorf("%s: %w", s, model.ErrMethodNotFound)
	}
	if strings.Contains(s, model.ErrItemExists.Error()) {
		return fmt.Errorf("%s: %w", s, model.ErrItemExists)
	}
	return errors.New(s)
}

// batcher coalesces one collection's writes issued within the batch
// window into a single writeBatch request with positional results.
type batcher struct {
	client     *Client
	collection string

	mu      sync.Mutex
	ops     []WriteOp
	waiters []chan WriteResult
}

func (b *batcher) add(op WriteOp, result chan WriteResult) {
	b.mu.Lock()
	b.ops = append(b.ops, op)
	b.waiters = append(b.waiters, result)
	first := len(b.ops) == 1
	b.mu.Unlock()

	if first {
		time.AfterFunc(b.client.batchWindow, b.flush)
	}
}

func (b *batcher) flush() {
	b.mu.Lock()
	ops := b.ops
	waiters := b.waiters
	b.ops = nil
	b.waiters = nil
	b.mu.Unlock()
	if len(ops) == 0 {
		return
	}

	data, err := b.client.call(context.Background(), MethodWriteBatch, BatchArgs{Collection: b.collection, Ops: ops})
	if err != nil {
		for _, w := range waiters {
			w <- WriteResult{Error: err.Error()}
		}
		return
	}

	var results []WriteResult
	if err := json.Unmarshal(data, &results); err != nil || len(results) != len(ops) {
		for _, w := range waiters {
			w <- WriteResult{Error: "write batch: malformed result array"}
		}
		return
	}
	for i, w := range waiters {
		w <- results[i]
	}
}
