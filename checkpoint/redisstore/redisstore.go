// Package redisstore 基于 Redis 的检查点存储。
//
// 每个 thread 对应一个键，值为序列化后的检查点，写入使用单条 SET 保证原子覆盖。
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/favbox/flowgraph/compose"
	"github.com/favbox/flowgraph/internal"
)

const defaultPrefix = "flowgraph:checkpoint:"

// Client 存储用到的 Redis 命令，*redis.Client 与 *redis.ClusterClient 都满足
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Store Redis 检查点存储
type Store struct {
	client     Client
	prefix     string
	ttl        time.Duration
	serializer compose.Serializer
	locks      *internal.KeyedMutex
}

var _ compose.CheckPointStore = (*Store)(nil)

// Option 存储选项
type Option func(*Store)

// WithPrefix 设置键前缀，默认 "flowgraph:checkpoint:"
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithTTL 设置检查点过期时间，0 表示永不过期
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithSerializer 设置序列化器
func WithSerializer(ser compose.Serializer) Option {
	return func(s *Store) {
		s.serializer = ser
	}
}

// New 创建 Redis 存储
func New(client Client, opts ...Option) *Store {
	s := &Store{
		client:     client,
		prefix:     defaultPrefix,
		serializer: compose.DefaultSerializer,
		locks:      internal.NewKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewFromURL 解析 redis:// 地址并创建存储
func NewFromURL(url string, opts ...Option) (*Store, *redis.Client, error) {
	o, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(o)
	return New(client, opts...), client, nil
}

func (s *Store) key(threadID string) string {
	return s.prefix + threadID
}

func (s *Store) Save(ctx context.Context, threadID string, cp *compose.Checkpoint) error {
	unlock, err := s.locks.Lock(ctx, threadID)
	if err != nil {
		return err
	}
	defer unlock()

	b, err := s.serializer.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if err := s.client.Set(ctx, s.key(threadID), b, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, threadID string) (*compose.Checkpoint, bool, error) {
	unlock, err := s.locks.Lock(ctx, threadID)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	b, err := s.client.Get(ctx, s.key(threadID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	cp := &compose.Checkpoint{}
	if err := s.serializer.Unmarshal(b, cp); err != nil {
		return nil, false, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return cp, true, nil
}

func (s *Store) Delete(ctx context.Context, threadID string) error {
	unlock, err := s.locks.Lock(ctx, threadID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.client.Del(ctx, s.key(threadID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
