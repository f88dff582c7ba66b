package live

import (
	"sync"

	"driftdb/internal/match"
	"driftdb/pkg/model"
)

// Event is one query state transition, delivered to subscribers.
type Event struct {
	Collection string
	Selector   model.Selector
	Options    model.Options
	State      model.QueryState
	Items      []model.Document
	Err        error
}

// Evaluator recomputes a query result; the registry stays decoupled from the
// query engine through it.
type Evaluator func(selector model.Selector, options model.Options) ([]model.Document, error)

// ErrorHook receives evaluation failures that are isolated per query and
// never propagate out of the triggering mutation.
type ErrorHook func(collection string, err error)

// record is one active query: selector, options, state, cached result and
// last error, keyed by the deterministic query id.
type record struct {
	selector model.Selector
	options  model.Options
	state    model.QueryState
	err      error
	result   []model.Document
}

// Registry is the per-collection live query registry and notifier.
type Registry struct {
	collection string
	evaluate   Evaluator
	onError    ErrorHook

	// emitActive inserts a discrete in-flight transition before each
	// recomputation, as the host side of the RPC split does.
	emitActive bool

	mu          sync.Mutex
	queries     map[string]*record
	subscribers map[int]func(Event)
	nextSub     int

	batchDepth int
	pending    Changeset
}

// NewRegistry creates a registry for one collection.
func NewRegistry(collection string, evaluate Evaluator, onError ErrorHook) *Registry {
	return &Registry{
		collection:  collection,
		evaluate:    evaluate,
		onError:     onError,
		queries:     map[string]*record{},
		subscribers: map[int]func(Event){},
	}
}

// EmitActive makes every recomputation emit an "active" transition before
// its terminal state.
func (r *Registry) EmitActive() { r.emitActive = true }

// Register upserts the record for (selector, options) and evaluates it to a
// terminal state. Structurally identical pairs share one record, so
// repeated registrations are idempotent. A record stuck in error state is
// reset to active by re-registration.
func (r *Registry) Register(selector model.Selector, options model.Options) {
	id := model.QueryID(selector, options)

	r.mu.Lock()
	rec, exists := r.queries[id]
	if !exists {
		rec = &record{selector: selector, options: options, state: model.QueryStateActive}
		r.queries[id] = rec
	} else if rec.state == model.QueryStateError {
		rec.state = model.QueryStateActive
		rec.err = nil
	}
	r.mu.Unlock()

	r.recompute(id)
}

// Unregister removes the record outright. It tolerates unknown queries and
// repeated calls; disposal races are not errors.
func (r *Registry) Unregister(selector model.Selector, options model.Options) {
	id := model.QueryID(selector, options)
	r.mu.Lock()
	delete(r.queries, id)
	r.mu.Unlock()
}

// State returns the current state of a registered query.
func (r *Registry) State(selector model.Selector, options model.Options) (model.QueryState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.queries[model.QueryID(selector, options)]
	if !ok {
		return "", false
	}
	return rec.state, true
}

// Error returns the stored evaluation error of a registered query, if any.
func (r *Registry) Error(selector model.Selector, options model.Options) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.queries[model.QueryID(selector, options)]
	if !ok {
		return nil
	}
	return rec.err
}

// Result returns the cached result of a registered query. The cached result
// stays accessible even after the query transitioned to error state.
func (r *Registry) Result(selector model.Selector, options model.Options) ([]model.Document, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.queries[model.QueryID(selector, options)]
	if !ok {
		return nil, false
	}
	return rec.result, true
}

// Subscribe adds a transition listener and returns its remove function.
func (r *Registry) Subscribe(cb func(Event)) func() {
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subscribers[id] = cb
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.subscribers, id)
		r.mu.Unlock()
	}
}

// Begin opens a notification batch scope: changesets queue up and flush once
// when the outermost scope ends.
func (r *Registry) Begin() {
	r.mu.Lock()
	r.batchDepth++
	r.mu.Unlock()
}

// End closes a batch scope and flushes the queued changeset at the
// outermost level.
func (r *Registry) End() {
	r.mu.Lock()
	if r.batchDepth > 0 {
		r.batchDepth--
	}
	flush := r.batchDepth == 0 && !r.pending.IsEmpty()
	var pending Changeset
	if flush {
		pending = r.pending
		r.pending = Changeset{}
	}
	r.mu.Unlock()

	if flush {
		r.process(pending)
	}
}

// Push feeds one mutation's changeset into the registry. Inside a batch it
// is queued; otherwise affected queries are recomputed immediately.
func (r *Registry) Push(cs Changeset) {
	if cs.IsEmpty() {
		return
	}

	r.mu.Lock()
	if r.batchDepth > 0 {
		r.pending.Merge(cs)
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	r.process(cs)
}

// Dispose drops all records and subscribers.
func (r *Registry) Dispose() {
	r.mu.Lock()
	r.queries = map[string]*record{}
	r.subscribers = map[int]func(Event){}
	r.pending = Changeset{}
	r.mu.Unlock()
}

// process recomputes every query whose raw selector matches at least one
// document of the changeset. Affectedness deliberately uses the raw
// selector, not the index-optimized one, so partial index coverage can
// never suppress a notification.
func (r *Registry) process(cs Changeset) {
	docs := cs.all()

	r.mu.Lock()
	affected := make([]string, 0, len(r.queries))
	for id, rec := range r.queries {
		if r.isAffected(rec.selector, docs) {
			affected = append(affected, id)
		}
	}
	r.mu.Unlock()

	for _, id := range affected {
		r.recompute(id)
	}
}

func (r *Registry) isAffected(selector model.Selector, docs []model.Document) bool {
	if selector.IsEmpty() {
		return true
	}
	for _, doc := range docs {
		ok, err := match.Document(doc, selector)
		if err != nil {
			// A selector the matcher cannot evaluate counts as affected;
			// the recomputation surfaces the error on the query itself.
			return true
		}
		if ok {
			return true
		}
	}
	return false
}

func (r *Registry) recompute(id string) {
	r.mu.Lock()
	rec, ok := r.queries[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	selector, options := rec.selector, rec.options
	r.mu.Unlock()

	if r.emitActive {
		r.setState(id, model.QueryStateActive, nil, nil, true)
	}

	items, err := r.evaluate(selector, options)
	if err != nil {
		r.setState(id, model.QueryStateError, nil, err, false)
		if r.onError != nil {
			r.onError(r.collection, err)
		}
		return
	}
	r.setState(id, model.QueryStateComplete, items, nil, false)
}

// setState applies a transition and notifies subscribers. keepResult leaves
// the cached result untouched (used for the in-flight transition and for
// errors, where the stale result stays accessible).
func (r *Registry) setState(id string, state model.QueryState, items []model.Document, err error, keepResult bool) {
	r.mu.Lock()
	rec, ok := r.queries[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	rec.state = state
	rec.err = err
	if !keepResult && state == model.QueryStateComplete {
		rec.result = items
	}
	event := Event{
		Collection: r.collection,
		Selector:   rec.selector,
		Options:    rec.options,
		State:      state,
		Items:      rec.result,
		Err:        err,
	}
	listeners := make([]func(Event), 0, len(r.subscribers))
	for _, cb := range r.subscribers {
		listeners = append(listeners, cb)
	}
	r.mu.Unlock()

	for _, cb := range listeners {
		cb(event)
	}
}
