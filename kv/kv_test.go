package kv

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func backends(t *testing.T) map[string]Store {
	t.Helper()
	_, client := newTestRedis(t)
	sqlite, err := NewSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Store{
		"inmemory": NewInMemory(),
		"sqlite":   sqlite,
		"redis":    NewRedis(client, WithPrefix("test")),
	}
}

type record struct {
	Name  string
	Count int
}

func TestStoreSetGetDelete(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			found, val, err := s.Get(ctx, "missing")
			assert.NoError(t, err)
			assert.False(t, found)
			assert.Nil(t, val)

			require.NoError(t, s.Set(ctx, "raw", []byte("one")))
			require.NoError(t, s.Set(ctx, "raw", []byte("two")))
			found, val, err = s.Get(ctx, "raw")
			assert.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, []byte("two"), val)

			ok, err := s.Delete(ctx, "raw")
			assert.NoError(t, err)
			assert.True(t, ok)
			ok, err = s.Delete(ctx, "raw")
			assert.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestTypedHelpers(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, Set(ctx, s, "rec", record{Name: "kim", Count: 3}))
			found, got, err := Get[record](ctx, s, "rec")
			assert.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, record{Name: "kim", Count: 3}, got)

			found, _, err = Get[record](ctx, s, "nope")
			assert.NoError(t, err)
			assert.False(t, found)
		})
	}
}

func TestGetDecodeError(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	require.NoError(t, s.Set(ctx, "bad", []byte{0xc1}))
	found, _, err := Get[record](ctx, s, "bad")
	assert.False(t, found)
	assert.Error(t, err)
}

func TestInMemoryClosed(t *testing.T) {
	s := NewInMemory()
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Set(context.Background(), "k", nil), ErrClosed)
}

func TestSQLitePersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "session.db")

	s, err := NewSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, Set(ctx, s, "rec", record{Name: "lee"}))
	require.NoError(t, s.Close())

	s, err = NewSQLite(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	found, got, err := Get[record](ctx, s, "rec")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "lee", got.Name)
}

func TestRedisPrefixAndTTL(t *testing.T) {
	mr, client := newTestRedis(t)
	s := NewRedis(client, WithPrefix("roommate"), WithTTL(time.Hour))
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "session", []byte("x")))

	assert.True(t, mr.Exists("roommate:session"))
	assert.Equal(t, time.Hour, mr.TTL("roommate:session"))

	mr.FastForward(2 * time.Hour)
	found, _, err := s.Get(ctx, "session")
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestNewRedisURL(t *testing.T) {
	mr := miniredis.RunT(t)
	s, closer, err := NewRedisURL("redis://" + mr.Addr() + "/0")
	require.NoError(t, err)
	defer closer()
	require.NoError(t, s.Set(context.Background(), "k", []byte("v")))
	got, err := mr.Get("k")
	assert.NoError(t, err)
	assert.Equal(t, "v", got)

	_, _, err = NewRedisURL("::bad::")
	assert.Error(t, err)
}
