// Package async runs independent operations concurrently and collects their
// results without giving up on the first failure.
package async

import "context"

type Result[T any] struct {
	Value T
	Error error
}

type KeyedResult[K any, T any] struct {
	Key   K
	Value T
	Error error
}

// Map runs every operation in its own goroutine and returns all results.
// Order is completion order, not input order. A cancelled context abandons
// collection; in-flight operations finish in the background.
func Map[R any](ctx context.Context, ops []func() (R, error)) ([]Result[R], error) {
	results := make(chan Result[R], len(ops))

	for _, op := range ops {
		go func(operation func() (R, error)) {
			value, err := operation()
			results <- Result[R]{Value: value, Error: err}
		}(op)
	}

	out := make([]Result[R], 0, len(ops))
	for range ops {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case result := <-results:
			out = append(out, result)
		}
	}
	return out, nil
}

// MapWithKeys is Map for keyed operations; each result carries the key of
// the operation that produced it.
func MapWithKeys[K comparable, R any](ctx context.Context, ops map[K]func() (R, error)) ([]KeyedResult[K, R], error) {
	results := make(chan KeyedResult[K, R], len(ops))

	for key, op := range ops {
		go func(k K, operation func() (R, error)) {
			value, err := operation()
			results <- KeyedResult[K, R]{Key: k, Value: value, Error: err}
		}(key, op)
	}

	out := make([]KeyedResult[K, R], 0, len(ops))
	for range ops {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case result := <-results:
			out = append(out, result)
		}
	}
	return out, nil
}
