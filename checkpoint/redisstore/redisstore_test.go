package redisstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/favbox/flowgraph/compose"
	"github.com/favbox/flowgraph/schema"
)

// fakeClient 内存版 Redis 命令，只实现 GET / SET / DEL
type fakeClient struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
	err  error
}

func newFakeClient() *fakeClient {
	return &fakeClient{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeClient) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.data[key] = string(value.([]byte))
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeClient) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	s := New(client, WithPrefix("test:"), WithTTL(time.Hour))

	_, ok, err := s.Load(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, ok)

	cp := &compose.Checkpoint{
		ThreadID: "t1",
		Status:   compose.StatusRunning,
		Step:     3,
		State:    map[string]schema.Value{"n": schema.Int(3)},
	}
	require.NoError(t, s.Save(ctx, "t1", cp))
	assert.Contains(t, client.data, "test:t1")
	assert.Equal(t, time.Hour, client.ttls["test:t1"])

	got, ok, err := s.Load(ctx, "t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, got.Step)
	assert.Equal(t, compose.StatusRunning, got.Status)
	assert.True(t, got.State["n"].Equal(schema.Int(3)))

	require.NoError(t, s.Delete(ctx, "t1"))
	_, ok, err = s.Load(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStoreErrors(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	client.err = errors.New("connection reset")
	s := New(client)

	assert.ErrorContains(t, s.Save(ctx, "t", &compose.Checkpoint{}), "connection reset")
	_, _, err := s.Load(ctx, "t")
	assert.ErrorContains(t, err, "redis get")

	client.err = nil
	client.data[defaultPrefix+"t"] = "{not json"
	_, _, err = s.Load(ctx, "t")
	assert.ErrorContains(t, err, "unmarshal checkpoint")
}

func TestNewFromURL(t *testing.T) {
	s, client, err := NewFromURL("redis://localhost:6379/2", WithPrefix("p:"))
	require.NoError(t, err)
	defer client.Close()
	assert.Equal(t, "p:", s.prefix)
	assert.Equal(t, 2, client.Options().DB)

	_, _, err = NewFromURL("http://nope")
	assert.Error(t, err)
}
