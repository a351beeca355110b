// Package ctxstore keeps typed request-scoped values in a context.
package ctxstore

import (
	"context"
	"fmt"
)

type Key string

func (k Key) String() string {
	return string(k)
}

func With[T any](ctx context.Context, key Key, value T) context.Context {
	return context.WithValue(ctx, key, value)
}

// From reports false when the key is missing or holds a value of another type.
func From[T any](ctx context.Context, key Key) (T, bool) {
	value, ok := ctx.Value(key).(T)
	return value, ok
}

func MustFrom[T any](ctx context.Context, key Key) T {
	value, ok := From[T](ctx, key)
	if !ok {
		panic(fmt.Sprintf("ctxstore: %s not found", key))
	}
	return value
}
