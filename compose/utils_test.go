package compose

import (
	"context"
	"errors"
	"sync"

	"github.com/favbox/flowgraph/schema"
)

// testStore 基于序列化的内存存储，每次读写都做深拷贝
type testStore struct {
	mu       sync.Mutex
	data     map[string][]byte
	statuses []RunStatus
	saveErr  error
}

func newTestStore() *testStore {
	return &testStore{data: map[string][]byte{}}
}

func (s *testStore) Save(_ context.Context, threadID string, cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	b, err := DefaultSerializer.Marshal(cp)
	if err != nil {
		return err
	}
	s.data[threadID] = b
	s.statuses = append(s.statuses, cp.Status)
	return nil
}

func (s *testStore) Load(_ context.Context, threadID string) (*Checkpoint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.data[threadID]
	if !ok {
		return nil, false, nil
	}
	cp := &Checkpoint{}
	if err := DefaultSerializer.Unmarshal(b, cp); err != nil {
		return nil, false, err
	}
	return cp, true, nil
}

func (s *testStore) Delete(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, threadID)
	return nil
}

func (s *testStore) lastStatus() RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.statuses) == 0 {
		return ""
	}
	return s.statuses[len(s.statuses)-1]
}

// recorder 记录节点执行顺序
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, key)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) count(key string) int {
	n := 0
	for _, c := range r.list() {
		if c == key {
			n++
		}
	}
	return n
}

// write 返回写入固定增量并记录执行的节点
func write(rec *recorder, key string, delta Delta) *Lambda {
	return InvokableLambda(func(ctx context.Context, s State) (Delta, error) {
		if rec != nil {
			rec.add(key)
		}
		return delta.Clone(), nil
	})
}

func appendTo(rec *recorder, key, stateKey string, v schema.Value) *Lambda {
	return write(rec, key, Delta{stateKey: v})
}

var errBoom = errors.New("boom")

func strs(v schema.Value) []string {
	items, _ := v.AsList()
	out := make([]string, 0, len(items))
	for _, it := range items {
		s, _ := it.AsString()
		out = append(out, s)
	}
	return out
}
