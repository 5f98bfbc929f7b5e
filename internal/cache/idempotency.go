package cache

import (
	"errors"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrKeyReused reports an idempotency key replayed with a different request.
var ErrKeyReused = errors.New("idempotency key reused with a different request")

type replay[T any] struct {
	fingerprint string
	result      T
}

// Idempotency remembers successful results by client key so a retried
// request returns the first result instead of running again. Concurrent
// calls with the same key share one execution. Failed calls are not kept.
type Idempotency[T any] struct {
	results *LRUCache[replay[T]]
	group   singleflight.Group
}

func NewIdempotency[T any](maxSize int, ttl time.Duration) *Idempotency[T] {
	return &Idempotency[T]{results: NewLRUCache[replay[T]](maxSize, ttl)}
}

// Do runs fn once per key. replayed is true when the result came from an
// earlier or concurrent call. fingerprint identifies the request body; a
// key seen with another fingerprint, stored or still in flight, fails with
// ErrKeyReused.
func (i *Idempotency[T]) Do(key, fingerprint string, fn func() (T, error)) (result T, replayed bool, err error) {
	var zero T
	if r, ok := i.results.Get(key); ok {
		if r.fingerprint != fingerprint {
			return zero, false, ErrKeyReused
		}
		return r.result, true, nil
	}

	ran := false
	v, err, _ := i.group.Do(key, func() (any, error) {
		// A call that finished between Get and Do already stored its result.
		if r, ok := i.results.Get(key); ok {
			return r, nil
		}
		ran = true
		res, err := fn()
		r := replay[T]{fingerprint: fingerprint, result: res}
		if err != nil {
			return r, err
		}
		i.results.Set(key, r)
		return r, nil
	})
	// Callers that joined another request's flight see its fingerprint.
	if r, _ := v.(replay[T]); r.fingerprint != fingerprint {
		return zero, false, ErrKeyReused
	}
	if err != nil {
		return zero, false, err
	}
	return v.(replay[T]).result, !ran, nil
}

// CleanExpired implements Cleaner.
func (i *Idempotency[T]) CleanExpired() int {
	return i.results.CleanExpired()
}

// Size returns the number of remembered keys.
func (i *Idempotency[T]) Size() int {
	return i.results.Size()
}

// Stats reports lookups against the remembered results.
func (i *Idempotency[T]) Stats() Stats {
	return i.results.Stats()
}
