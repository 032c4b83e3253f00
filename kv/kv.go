package kv

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("kv: store closed")

type Store interface {
	// Get returns the value stored under key. found is false when the key does not exist.
	Get(ctx context.Context, key string) (found bool, val []byte, err error)
	// Set stores val under key, replacing any previous value.
	Set(ctx context.Context, key string, val []byte) error
	// Delete removes key and reports whether it existed.
	Delete(ctx context.Context, key string) (bool, error)
	// Close releases the store.
	Close() error
}

// Get loads and decodes the value stored under key.
func Get[T any](ctx context.Context, s Store, key string) (bool, T, error) {
	var result T
	found, data, err := s.Get(ctx, key)
	if !found || err != nil {
		return false, result, err
	}
	if err := msgpack.Unmarshal(data, &result); err != nil {
		var zero T
		return false, zero, errors.Wrapf(err, "kv: failed to decode %q", key)
	}
	return true, result, nil
}

// Set encodes val and stores it under key.
func Set[T any](ctx context.Context, s Store, key string, val T) error {
	data, err := msgpack.Marshal(val)
	if err != nil {
		return errors.Wrapf(err, "kv: failed to encode %q", key)
	}
	return s.Set(ctx, key, data)
}

// DefaultQueryTimeout bounds each operation of the I/O backed stores.
const DefaultQueryTimeout = 5 * time.Second

type config struct {
	queryTimeout time.Duration
	prefix       string
	ttl          time.Duration
}

// Option configures a Store implementation.
type Option func(*config)

func applyOptions(opts []Option) config {
	cfg := config{queryTimeout: DefaultQueryTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithQueryTimeout sets the per-operation timeout for SQLite and Redis.
func WithQueryTimeout(d time.Duration) Option {
	return func(c *config) { c.queryTimeout = d }
}

// WithPrefix namespaces keys. Applies to the Redis backend.
func WithPrefix(p string) Option {
	return func(c *config) { c.prefix = p }
}

// WithTTL expires keys d after their last write. Applies to the Redis backend; zero keeps keys forever.
func WithTTL(d time.Duration) Option {
	return func(c *config) { c.ttl = d }
}

func withTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, d)
}
