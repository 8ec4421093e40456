// Package memstore 进程内检查点存储。
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/favbox/flowgraph/compose"
	"github.com/favbox/flowgraph/internal"
)

// Store 进程内检查点存储。
// 检查点以序列化后的字节保存，读写都会复制，调用方拿到的检查点不会与存储共享内存。
type Store struct {
	locks *internal.KeyedMutex

	mu   sync.RWMutex
	data map[string][]byte

	serializer compose.Serializer
}

var _ compose.CheckPointStore = (*Store)(nil)

// Option 存储选项
type Option func(*Store)

// WithSerializer 设置序列化器，默认 compose.DefaultSerializer
func WithSerializer(s compose.Serializer) Option {
	return func(st *Store) {
		st.serializer = s
	}
}

// New 创建进程内存储
func New(opts ...Option) *Store {
	s := &Store{
		locks:      internal.NewKeyedMutex(),
		data:       map[string][]byte{},
		serializer: compose.DefaultSerializer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
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

	s.mu.Lock()
	s.data[threadID] = b
	s.mu.Unlock()
	return nil
}

func (s *Store) Load(ctx context.Context, threadID string) (*compose.Checkpoint, bool, error) {
	unlock, err := s.locks.Lock(ctx, threadID)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	s.mu.RLock()
	b, ok := s.data[threadID]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
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

	s.mu.Lock()
	delete(s.data, threadID)
	s.mu.Unlock()
	return nil
}

// Threads 返回当前保存的所有 thread id，顺序不确定
func (s *Store) Threads() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.data))
	for k := range s.data {
		out = append(out, k)
	}
	return out
}
