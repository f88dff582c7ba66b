// Package engine exposes the collection backend: the mutation pipeline,
// the query surface and the live query registration API, glued to the
// store, the query engine, the live registry and an optional storage
// collaborator.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"driftdb/internal/index"
	"driftdb/internal/live"
	"driftdb/internal/modify"
	"driftdb/internal/query"
	"driftdb/internal/storage"
	"driftdb/internal/store"
	"driftdb/pkg/model"
)

// ErrorHook receives isolated failures: collaborator write-through errors
// and live query evaluation errors. They never abort the triggering call.
type ErrorHook func(collection string, err error)

type settings struct {
	hashFields    []string
	orderedFields []string
	collaborator  storage.Collaborator
	logger        *slog.Logger
	onError       ErrorHook
	emitActive    bool
}

// Option configures a Collection at construction time.
type Option func(*settings)

// WithIndex adds hash secondary indexes on the given fields.
func WithIndex(fields ...string) Option {
	return func(s *settings) { s.hashFields = append(s.hashFields, fields...) }
}

// WithOrderedIndex adds btree-backed secondary indexes on the given fields.
func WithOrderedIndex(fields ...string) Option {
	return func(s *settings) { s.orderedFields = append(s.orderedFields, fields...) }
}

// WithCollaborator attaches a storage collaborator. Setup must be called
// before any other operation when a collaborator is attached.
func WithCollaborator(c storage.Collaborator) Option {
	return func(s *settings) { s.collaborator = c }
}

// WithLogger sets the logger used by the default error hook.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithOnError replaces the default error hook.
func WithOnError(hook ErrorHook) Option {
	return func(s *settings) { s.onError = hook }
}

// WithActiveTransitions makes every query recomputation emit a discrete
// "active" transition before its terminal state, as the host side of the
// RPC split requires.
func WithActiveTransitions() Option {
	return func(s *settings) { s.emitActive = true }
}

type pendingQuery struct {
	selector model.Selector
	options  model.Options
}

// Collection is the backend for one named collection. All operations are
// safe for concurrent use. Query transition listeners run synchronously on
// the mutating goroutine and must not call back into the collection.
type Collection struct {
	name         string
	collaborator storage.Collaborator
	logger       *slog.Logger
	onError      ErrorHook
	indexFields  []string

	mu       sync.Mutex
	store    *store.Store
	queries  *query.Engine
	registry *live.Registry
	pending  map[string]pendingQuery
	ready    bool
	disposed bool
}

// New creates a collection backend. Without a collaborator the collection
// is ready immediately; with one, Setup performs the bootstrap load first.
func New(name string, opts ...Option) *Collection {
	s := settings{logger: slog.Default()}
	for _, opt := range opts {
		opt(&s)
	}

	providers := make([]index.Provider, 0, len(s.hashFields)+len(s.orderedFields))
	fields := make([]string, 0, cap(providers))
	for _, field := range s.hashFields {
		providers = append(providers, index.NewHash(field))
		fields = append(fields, field)
	}
	for _, field := range s.orderedFields {
		providers = append(providers, index.NewOrdered(field))
		fields = append(fields, field)
	}

	c := &Collection{
		name:         name,
		collaborator: s.collaborator,
		logger:       s.logger,
		onError:      s.onError,
		indexFields:  fields,
		store:        store.New(providers...),
		pending:      map[string]pendingQuery{},
		ready:        s.collaborator == nil,
	}
	c.queries = query.New(c.store)
	if c.onError == nil {
		c.onError = func(collection string, err error) {
			c.logger.Error("collection error", "collection", collection, "error", err)
		}
	}
	c.registry = live.NewRegistry(name, c.evaluate, live.ErrorHook(c.onError))
	if s.emitActive {
		c.registry.EmitActive()
	}
	return c
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Setup bootstraps the collection from its collaborator: connect, ensure
// persisted indexes, load all documents into the store. Queries registered
// before Setup stay active until the load completes, then evaluate.
func (c *Collection) Setup(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return fmt.Errorf("collection %s: %w", c.name, model.ErrDisposed)
	}
	if c.collaborator == nil {
		c.ready = true
		return nil
	}

	if err := c.collaborator.Setup(ctx); err != nil {
		return fmt.Errorf("setup collection %s: %w", c.name, err)
	}
	for _, field := range c.indexFields {
		if err := c.collaborator.CreateIndex(ctx, field); err != nil {
			c.onError(c.name, fmt.Errorf("create index %s: %w", field, err))
		}
	}
	items, err := c.collaborator.ReadAll(ctx)
	if err != nil {
		return fmt.Errorf("load collection %s: %w", c.name, err)
	}
	c.store.Load(items)
	c.ready = true

	for _, pq := range c.pending {
		c.registry.Register(pq.selector, pq.options)
	}
	c.pending = map[string]pendingQuery{}
	return nil
}

// Insert adds a document. A missing id is generated; a duplicate id fails
// with the uniqueness error. Returns the stored document.
func (c *Collection) Insert(ctx context.Context, doc model.Document) (model.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.guard(); err != nil {
		return nil, err
	}

	stored := doc.Clone()
	if stored == nil {
		stored = model.Document{}
	}
	if stored.HasKey("id") && stored.GetID() == "" {
		return nil, fmt.Errorf("collection %s: document id must be a non-empty string", c.name)
	}
	stored.GenerateIDIfEmpty()

	if _, exists := c.store.PositionOfID(stored.GetID()); exists {
		return nil, model.ItemExistsError(stored.GetID())
	}

	c.store.Append(stored)
	c.writeThrough(ctx, "insert", func(ctx context.Context) error {
		return c.collaborator.Insert(ctx, []model.Document{stored})
	})
	c.registry.Push(live.Changeset{Added: []model.Document{stored}})
	return stored.Clone(), nil
}

// UpdateOne applies the modifier to the first document matching the
// selector. Returns the updated documents; no match returns an empty slice.
func (c *Collection) UpdateOne(ctx context.Context, selector model.Selector, modifier model.Modifier) ([]model.Document, error) {
	return c.update(ctx, selector, modifier, 1)
}

// UpdateMany applies the modifier to every document matching the selector.
func (c *Collection) UpdateMany(ctx context.Context, selector model.Selector, modifier model.Modifier) ([]model.Document, error) {
	return c.update(ctx, selector, modifier, 0)
}

func (c *Collection) update(ctx context.Context, selector model.Selector, modifier model.Modifier, limit int) ([]model.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.guard(); err != nil {
		return nil, err
	}

	targets, positions, err := c.locate(selector, limit)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return []model.Document{}, nil
	}

	// Phase one: apply the modifier to clones and validate the resulting
	// ids before touching the store, so a uniqueness violation never
	// leaves a partial update behind.
	updated := make([]model.Document, len(targets))
	seen := map[string]struct{}{}
	for i, target := range targets {
		next, err := modify.Apply(target, modifier)
		if err != nil {
			return nil, fmt.Errorf("collection %s: %w", c.name, err)
		}
		if next.GetID() == "" {
			next.SetID(target.GetID())
		}
		if err := c.checkUnique(next.GetID(), positions[i], seen); err != nil {
			return nil, err
		}
		seen[next.GetID()] = struct{}{}
		updated[i] = next
	}

	for i, next := range updated {
		if err := c.store.ReplaceAt(positions[i], next); err != nil {
			return nil, err
		}
	}

	c.writeThrough(ctx, "update", func(ctx context.Context) error {
		return c.collaborator.Replace(ctx, updated)
	})
	c.registry.Push(live.Changeset{Modified: updated})
	return cloneAll(updated), nil
}

// ReplaceOne swaps the first document matching the selector for the given
// replacement. A replacement without an id keeps the old one.
func (c *Collection) ReplaceOne(ctx context.Context, selector model.Selector, doc model.Document) ([]model.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.guard(); err != nil {
		return nil, err
	}

	targets, positions, err := c.locate(selector, 1)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return []model.Document{}, nil
	}

	replacement := doc.Clone()
	if replacement == nil {
		replacement = model.Document{}
	}
	if replacement.GetID() == "" {
		replacement.SetID(targets[0].GetID())
	}
	if err := c.checkUnique(replacement.GetID(), positions[0], nil); err != nil {
		return nil, err
	}
	if err := c.store.ReplaceAt(positions[0], replacement); err != nil {
		return nil, err
	}

	c.writeThrough(ctx, "replace", func(ctx context.Context) error {
		return c.collaborator.Replace(ctx, []model.Document{replacement})
	})
	c.registry.Push(live.Changeset{Modified: []model.Document{replacement}})
	return []model.Document{replacement.Clone()}, nil
}

// RemoveOne removes the first document matching the selector. Returns the
// removed documents; no match returns an empty slice.
func (c *Collection) RemoveOne(ctx context.Context, selector model.Selector) ([]model.Document, error) {
	return c.remove(ctx, selector, 1)
}

// RemoveMany removes every document matching the selector.
func (c *Collection) RemoveMany(ctx context.Context, selector model.Selector) ([]model.Document, error) {
	return c.remove(ctx, selector, 0)
}

func (c *Collection) remove(ctx context.Context, selector model.Selector, limit int) ([]model.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.guard(); err != nil {
		return nil, err
	}

	targets, positions, err := c.locate(selector, limit)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return []model.Document{}, nil
	}

	// Splice back to front so earlier positions stay valid.
	descending := append([]int(nil), positions...)
	sort.Sort(sort.Reverse(sort.IntSlice(descending)))
	for _, pos := range descending {
		if _, err := c.store.RemoveAt(pos); err != nil {
			return nil, err
		}
	}

	c.writeThrough(ctx, "remove", func(ctx context.Context) error {
		return c.collaborator.Remove(ctx, targets)
	})
	c.registry.Push(live.Changeset{Removed: targets})
	return cloneAll(targets), nil
}

// ExecuteQuery runs a one-shot query: match, sort, skip, limit, project.
func (c *Collection) ExecuteQuery(selector model.Selector, options model.Options) ([]model.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.guard(); err != nil {
		return nil, err
	}
	items, err := c.queries.Execute(selector, options)
	if err != nil {
		return nil, err
	}
	return cloneAll(items), nil
}

// Count returns the number of documents matching the selector.
func (c *Collection) Count(selector model.Selector) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.guard(); err != nil {
		return 0, err
	}
	return c.queries.Count(selector)
}

// RegisterQuery adds (or re-arms) a live query. When the collection is
// still bootstrapping, the query stays active and evaluates after Setup.
func (c *Collection) RegisterQuery(selector model.Selector, options model.Options) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return fmt.Errorf("collection %s: %w", c.name, model.ErrDisposed)
	}
	if !c.ready {
		c.pending[model.QueryID(selector, options)] = pendingQuery{selector: selector, options: options}
		return nil
	}
	c.registry.Register(selector, options)
	return nil
}

// UnregisterQuery removes a live query. Unknown queries and disposed
// collections are tolerated.
func (c *Collection) UnregisterQuery(selector model.Selector, options model.Options) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}
	delete(c.pending, model.QueryID(selector, options))
	c.registry.Unregister(selector, options)
}

// QueryState returns the state of a registered live query.
func (c *Collection) QueryState(selector model.Selector, options model.Options) (model.QueryState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if state, ok := c.registry.State(selector, options); ok {
		return state, true
	}
	if _, ok := c.pending[model.QueryID(selector, options)]; ok {
		return model.QueryStateActive, true
	}
	return "", false
}

// QueryError returns the stored evaluation error of a live query, if any.
func (c *Collection) QueryError(selector model.Selector, options model.Options) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.Error(selector, options)
}

// QueryResult returns the cached result of a live query.
func (c *Collection) QueryResult(selector model.Selector, options model.Options) ([]model.Document, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	items, ok := c.registry.Result(selector, options)
	if !ok {
		return nil, false
	}
	return cloneAll(items), true
}

// Subscribe adds a listener for every query transition of the collection.
func (c *Collection) Subscribe(cb func(live.Event)) func() {
	return c.registry.Subscribe(cb)
}

// OnQueryStateChange adds a listener scoped to one query.
func (c *Collection) OnQueryStateChange(selector model.Selector, options model.Options, cb func(live.Event)) func() {
	id := model.QueryID(selector, options)
	return c.registry.Subscribe(func(e live.Event) {
		if model.QueryID(e.Selector, e.Options) == id {
			cb(e)
		}
	})
}

// Batch runs fn inside a batch scope: index rebuilds and live query
// notifications are deferred and coalesced until the outermost scope ends.
// Batches nest.
func (c *Collection) Batch(fn func() error) error {
	c.mu.Lock()
	if err := c.guard(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.store.Begin()
	c.registry.Begin()
	c.mu.Unlock()

	// Close the scopes even when fn panics; the host dispatcher converts
	// panics into structured errors and the batch must not stay open.
	defer func() {
		c.mu.Lock()
		c.store.End()
		c.registry.End()
		c.mu.Unlock()
	}()
	return fn()
}

// Dispose drops all live queries and tears down the collaborator. Later
// operations fail with the disposed error; Dispose itself is idempotent.
func (c *Collection) Dispose(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return nil
	}
	c.disposed = true
	c.registry.Dispose()
	c.pending = map[string]pendingQuery{}
	if c.collaborator != nil {
		if err := c.collaborator.Teardown(ctx); err != nil {
			return fmt.Errorf("teardown collection %s: %w", c.name, err)
		}
	}
	return nil
}

// guard rejects operations on disposed or not yet bootstrapped collections.
// Callers hold c.mu.
func (c *Collection) guard() error {
	if c.disposed {
		return fmt.Errorf("collection %s: %w", c.name, model.ErrDisposed)
	}
	if !c.ready {
		return model.UninitializedError(c.name)
	}
	return nil
}

// locate resolves the selector to target documents and their current store
// positions through the index-assisted query path. Callers hold c.mu.
func (c *Collection) locate(selector model.Selector, limit int) ([]model.Document, []int, error) {
	matched, err := c.queries.Items(selector)
	if err != nil {
		return nil, nil, err
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	positions := make([]int, len(matched))
	for i, doc := range matched {
		pos, ok := c.store.PositionOfID(doc.GetID())
		if !ok {
			return nil, nil, fmt.Errorf("document %s: %w", doc.GetID(), model.ErrStalePosition)
		}
		positions[i] = pos
	}
	return matched, positions, nil
}

// checkUnique verifies a prospective id collides with no document other
// than the one at selfPos, nor with an id already claimed in this
// operation. Callers hold c.mu.
func (c *Collection) checkUnique(id string, selfPos int, claimed map[string]struct{}) error {
	if _, dup := claimed[id]; dup {
		return model.ItemExistsError(id)
	}
	if pos, ok := c.store.PositionOfID(id); ok && pos != selfPos {
		return model.ItemExistsError(id)
	}
	return nil
}

// evaluate is the live registry's evaluator. It runs on goroutines that
// already hold c.mu, so it must not lock.
func (c *Collection) evaluate(selector model.Selector, options model.Options) ([]model.Document, error) {
	return c.queries.Execute(selector, options)
}

// writeThrough runs a collaborator write and routes failures to the error
// hook. The in-memory mutation stands regardless; the store is
// authoritative and durability is best effort. Callers hold c.mu.
func (c *Collection) writeThrough(ctx context.Context, op string, fn func(context.Context) error) {
	if c.collaborator == nil {
		return
	}
	if err := fn(ctx); err != nil {
		c.onError(c.name, fmt.Errorf("%s write-through: %w", op, err))
	}
}

func cloneAll(items []model.Document) []model.Document {
	out := make([]model.Document, len(items))
	for i, item := range items {
		out[i] = item.Clone()
	}
	return out
}
