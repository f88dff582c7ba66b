package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"driftdb/internal/engine"
	"driftdb/internal/live"
	"driftdb/pkg/model"
)

// CollectionFactory builds the backend for a collection the first time a
// client registers it. Factories should enable active transitions on the
// backend so clients observe the in-flight state of recomputations.
type CollectionFactory func(name string) (*engine.Collection, error)

type hostedCollection struct {
	backend     *engine.Collection
	unsubscribe func()
}

// Host serves one worker's collections over a transport: it dispatches
// requests by method name, answers unknown methods with a structured
// error, converts handler errors and panics into response data, and pushes
// query updates. The receive loop never crashes on a bad message.
type Host struct {
	workerID  string
	transport Transport
	factory   CollectionFactory
	logger    *slog.Logger

	mu          sync.Mutex
	collections map[string]*hostedCollection
}

// NewHost creates a host for one worker id.
func NewHost(workerID string, transport Transport, factory CollectionFactory, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{
		workerID:    workerID,
		transport:   transport,
		factory:     factory,
		logger:      logger,
		collections: map[string]*hostedCollection{},
	}
}

// Run announces readiness and serves requests in arrival order until the
// context is cancelled or the transport closes. Collections are disposed
// on the way out.
func (h *Host) Run(ctx context.Context) error {
	if err := h.transport.Send(Message{WorkerID: h.workerID, Type: TypeReady}); err != nil {
		return fmt.Errorf("announce ready: %w", err)
	}

	defer h.disposeAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-h.transport.Receive():
			if !ok {
				return nil
			}
			h.handle(ctx, msg)
		}
	}
}

func (h *Host) handle(ctx context.Context, msg Message) {
	if msg.Type != TypeRequest || msg.WorkerID != h.workerID {
		return
	}

	data, err := h.invoke(ctx, msg.Method, msg.Args)
	reply := Message{ID: msg.ID, WorkerID: h.workerID, Type: TypeResponse, Data: data}
	if err != nil {
		h.logger.Warn("request failed", "method", msg.Method, "error", err)
		reply.Error = err.Error()
	}
	if err := h.transport.Send(reply); err != nil {
		h.logger.Error("send response", "method", msg.Method, "error", err)
	}
}

func (h *Host) invoke(ctx context.Context, method string, rawArgs json.RawMessage) (data json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", method, r)
		}
	}()

	if method == MethodWriteBatch {
		var args BatchArgs
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return nil, fmt.Errorf("decode args: %w", err)
		}
		return h.writeBatch(ctx, args)
	}

	var args CallArgs
	if len(rawArgs) > 0 {
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return nil, fmt.Errorf("decode args: %w", err)
		}
	}

	switch method {
	case MethodRegisterCollection:
		return nil, h.register(ctx, args.Collection)
	case MethodUnregisterCollection:
		return nil, h.unregister(ctx, args.Collection)
	case MethodExecuteQuery:
		backend, err := h.collection(args.Collection)
		if err != nil {
			return nil, err
		}
		items, err := backend.ExecuteQuery(args.Selector, args.Options)
		if err != nil {
			return nil, err
		}
		return marshal(items)
	case MethodCount:
		backend, err := h.collection(args.Collection)
		if err != nil {
			return nil, err
		}
		n, err := backend.Count(args.Selector)
		if err != nil {
			return nil, err
		}
		return marshal(CountResult{Count: n})
	case MethodRegisterQuery:
		backend, err := h.collection(args.Collection)
		if err != nil {
			return nil, err
		}
		return nil, backend.RegisterQuery(args.Selector, args.Options)
	case MethodUnregisterQuery:
		backend, err := h.collection(args.Collection)
		if err != nil {
			return nil, err
		}
		backend.UnregisterQuery(args.Selector, args.Options)
		return nil, nil
	case MethodInsert, MethodUpdateOne, MethodUpdateMany, MethodReplaceOne, MethodRemoveOne, MethodRemoveMany:
		backend, err := h.collection(args.Collection)
		if err != nil {
			return nil, err
		}
		items, err := applyWrite(ctx, backend, WriteOp{Method: method, Args: args})
		if err != nil {
			return nil, err
		}
		return marshal(items)
	default:
		return nil, fmt.Errorf("%s: %w", method, model.ErrMethodNotFound)
	}
}

// writeBatch executes coalesced writes inside one batch scope and answers
// a parallel result array. Individual write failures occupy their result
// slot; they never abort the remaining writes.
func (h *Host) writeBatch(ctx context.Context, args BatchArgs) (json.RawMessage, error) {
	backend, err := h.collection(args.Collection)
	if err != nil {
		return nil, err
	}

	results := make([]WriteResult, len(args.Ops))
	err = backend.Batch(func() error {
		for i, op := range args.Ops {
			items, err := applyWrite(ctx, backend, op)
			if err != nil {
				results[i] = WriteResult{Error: err.Error()}
				continue
			}
			results[i] = WriteResult{Items: items}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return marshal(results)
}

func applyWrite(ctx context.Context, backend *engine.Collection, op WriteOp) ([]model.Document, error) {
	switch op.Method {
	case MethodInsert:
		doc, err := backend.Insert(ctx, op.Args.Document)
		if err != nil {
			return nil, err
		}
		return []model.Document{doc}, nil
	case MethodUpdateOne:
		return backend.UpdateOne(ctx, op.Args.Selector, op.Args.Modifier)
	case MethodUpdateMany:
		return backend.UpdateMany(ctx, op.Args.Selector, op.Args.Modifier)
	case MethodReplaceOne:
		return backend.ReplaceOne(ctx, op.Args.Selector, op.Args.Document)
	case MethodRemoveOne:
		return backend.RemoveOne(ctx, op.Args.Selector)
	case MethodRemoveMany:
		return backend.RemoveMany(ctx, op.Args.Selector)
	default:
		return nil, fmt.Errorf("%s: %w", op.Method, model.ErrMethodNotFound)
	}
}

// register creates and bootstraps the backend for a collection and wires
// its query transitions to push messages. Repeated registration is a no-op.
func (h *Host) register(ctx context.Context, name string) error {
	h.mu.Lock()
	if _, exists := h.collections[name]; exists {
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	backend, err := h.factory(name)
	if err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	if err := backend.Setup(ctx); err != nil {
		return err
	}
	unsubscribe := backend.Subscribe(func(e live.Event) {
		h.pushUpdate(name, e)
	})

	h.mu.Lock()
	h.collections[name] = &hostedCollection{backend: backend, unsubscribe: unsubscribe}
	h.mu.Unlock()
	return nil
}

func (h *Host) unregister(ctx context.Context, name string) error {
	h.mu.Lock()
	hosted, ok := h.collections[name]
	delete(h.collections, name)
	h.mu.Unlock()
	if !ok {
		return nil
	}
	hosted.unsubscribe()
	return hosted.backend.Dispose(ctx)
}

func (h *Host) collection(name string) (*engine.Collection, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	hosted, ok := h.collections[name]
	if !ok {
		return nil, model.UninitializedError(name)
	}
	return hosted.backend, nil
}

func (h *Host) pushUpdate(collection string, e live.Event) {
	update := QueryUpdate{
		Collection: collection,
		QueryID:    model.QueryID(e.Selector, e.Options),
		Selector:   e.Selector,
		Options:    e.Options,
		State:      e.State,
		Items:      e.Items,
	}
	if e.Err != nil {
		update.Error = e.Err.Error()
	}

	data, err := marshal(update)
	if err != nil {
		h.logger.Error("encode query update", "collection", collection, "error", err)
		return
	}
	msg := Message{WorkerID: h.workerID, Type: TypeQueryUpdate, Data: data}
	if err := h.transport.Send(msg); err != nil {
		h.logger.Error("push query update", "collection", collection, "error", err)
	}
}

func (h *Host) disposeAll(ctx context.Context) {
	h.mu.Lock()
	hosted := make([]*hostedCollection, 0, len(h.collections))
	for _, entry := range h.collections {
		hosted = append(hosted, entry)
	}
	h.collections = map[string]*hostedCollection{}
	h.mu.Unlock()

	for _, entry := range hosted {
		entry.unsubscribe()
		if err := entry.backend.Dispose(ctx); err != nil {
			h.logger.Error("dispose collection", "collection", entry.backend.Name(), "error", err)
		}
	}
}

func marshal(v interface{}) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return raw, nil
}
