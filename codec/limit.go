package codec

import (
	"errors"
	"fmt"
)

var ErrTooLarge = errors.New("codec: payload too large")

// Limit rejects payloads over limit bytes in both directions. A value too
// large to store is not cached; a stored record too large to read is
// treated as corrupt and evicted. limit <= 0 returns inner unchanged.
func Limit[V any](inner Codec[V], limit int) Codec[V] {
	if limit <= 0 {
		return inner
	}
	return limited[V]{inner: inner, max: limit}
}

type limited[V any] struct {
	inner Codec[V]
	max   int
}

func (c limited[V]) Encode(v V) ([]byte, error) {
	b, err := c.inner.Encode(v)
	if err != nil {
		return nil, err
	}
	if len(b) > c.max {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, len(b), c.max)
	}
	return b, nil
}

func (c limited[V]) Decode(b []byte) (V, error) {
	if len(b) > c.max {
		var zero V
		return zero, fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, len(b), c.max)
	}
	return c.inner.Decode(b)
}
