package cache

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Memo is a concurrent key to value store whose writes are memoized: the
// first caller for a key computes the value, concurrent callers wait for it
// and later callers read it. Errors are memoized too, except cancellation.
//
// A Memo belongs to one build generation. Reset starts a new one.
type Memo[V any] struct {
	entries    *Sharded[memoEntry[V]]
	group      singleflight.Group
	generation atomic.Uint64
}

type memoEntry[V any] struct {
	value V
	err   error
}

// NewMemo creates a memo with numShards shards of maxPerShard entries.
func NewMemo[V any](numShards, maxPerShard int) *Memo[V] {
	return &Memo[V]{entries: NewSharded[memoEntry[V]](numShards, maxPerShard)}
}

// Do returns the memoized result for key, calling fn once if there is none.
func (m *Memo[V]) Do(key string, fn func() (V, error)) (V, error) {
	if e, ok := m.entries.Get(key); ok {
		return e.value, e.err
	}

	res, _, _ := m.group.Do(key, func() (interface{}, error) {
		if e, ok := m.entries.Peek(key); ok {
			return e, nil
		}
		value, err := fn()
		e := memoEntry[V]{value: value, err: err}
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			m.entries.Set(key, e)
		}
		return e, nil
	})
	e := res.(memoEntry[V])
	return e.value, e.err
}

// Forget drops the memoized result for key.
func (m *Memo[V]) Forget(key string) {
	m.entries.Delete(key)
	m.group.Forget(key)
}

// Reset drops every entry and starts a new generation.
func (m *Memo[V]) Reset() {
	m.entries.Clear()
	m.generation.Add(1)
}

// Generation returns the current generation number.
func (m *Memo[V]) Generation() uint64 {
	return m.generation.Load()
}

// Len returns the number of memoized keys.
func (m *Memo[V]) Len() int {
	return m.entries.Len()
}

// Stats returns lookup statistics.
func (m *Memo[V]) Stats() Stats {
	return m.entries.Stats()
}
