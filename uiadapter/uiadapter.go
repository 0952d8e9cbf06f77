// Package uiadapter implements spec component C11: a single surface that
// bridges a live query into a rendering framework's external-store
// mechanism. Go has no React, so the idiomatic shape of
// "useSyncExternalStore" here is a subscribable Store type: GetSnapshot
// pulls the current {data, error, loading} triple and Subscribe registers a
// change callback, matching the snapshot-pull-plus-notify contract React's
// hook (and any other host framework's store binding) expects - a pushed
// value, not a generator.
package uiadapter

import (
	"context"
	"sync"

	"github.com/relaycoder/opor/livedb"
)

// Snapshot is the {data, error, loading} triple spec.md's Result snapshot
// exposes to a UI layer.
type Snapshot[T any] struct {
	Data    T
	Error   error
	Loading bool
}

func snapshotOf[T any](r livedb.Result[T]) Snapshot[T] {
	return Snapshot[T]{Data: r.Data, Error: r.Err, Loading: r.Loading}
}

// Store memoizes one *livedb.Query[T] per caller-supplied key - the Go
// analogue of React memoizing a factory by referential identity, since Go
// closures have no stable identity to key off of. Store never destroys the
// live query it memoizes: per spec.md §4.10, the default must not surprise
// multi-consumer code that might still be subscribed elsewhere. Call
// Close explicitly (or Query(key).Destroy()) when a query is truly done.
type Store[T any] struct {
	facade *livedb.Facade

	mu      sync.Mutex
	queries map[string]*livedb.Query[T]
}

// NewStore constructs a Store bound to facade.
func NewStore[T any](facade *livedb.Facade) *Store[T] {
	return &Store[T]{facade: facade, queries: make(map[string]*livedb.Query[T])}
}

// Query returns the live query registered under key, registering builder on
// first use and returning the memoized query on every subsequent call with
// the same key - regardless of whether builder differs, matching
// React's memoize-by-identity-of-the-first-factory-seen semantics for a
// given key. It is the caller's job to pick a key that's stable exactly
// when the factory is (e.g. a serialized set of query parameters).
func (s *Store[T]) Query(ctx context.Context, key string, builder livedb.Builder[T]) (*livedb.Query[T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if q, ok := s.queries[key]; ok {
		return q, nil
	}
	q, err := livedb.LiveQuery(ctx, s.facade, builder)
	if err != nil {
		return nil, err
	}
	s.queries[key] = q
	return q, nil
}

// GetSnapshot returns key's current snapshot, or the zero Snapshot if key
// has never been registered.
func (s *Store[T]) GetSnapshot(key string) Snapshot[T] {
	s.mu.Lock()
	q, ok := s.queries[key]
	s.mu.Unlock()
	if !ok {
		return Snapshot[T]{}
	}
	return snapshotOf(q.Snapshot())
}

// Subscribe registers onChange to be invoked (with no arguments, per the
// external-store contract: the consumer re-pulls via GetSnapshot rather
// than receiving a pushed value) whenever key's live query produces a new
// result. The returned function unsubscribes; it is a no-op if key was
// never registered.
func (s *Store[T]) Subscribe(key string, onChange func()) func() {
	s.mu.Lock()
	q, ok := s.queries[key]
	s.mu.Unlock()
	if !ok {
		return func() {}
	}
	return q.Subscribe(func(T) { onChange() })
}

// Destroy unregisters and destroys key's live query, if one is registered.
// This is the explicit opt-in spec.md calls for: the Store itself never
// destroys a query on its own.
func (s *Store[T]) Destroy(key string) {
	s.mu.Lock()
	q, ok := s.queries[key]
	delete(s.queries, key)
	s.mu.Unlock()
	if ok {
		q.Destroy()
	}
}

// Close destroys every live query the store currently memoizes.
func (s *Store[T]) Close() {
	s.mu.Lock()
	queries := s.queries
	s.queries = make(map[string]*livedb.Query[T])
	s.mu.Unlock()
	for _, q := range queries {
		q.Destroy()
	}
}
