/*
 * checkpoint.go - 检查点
 *
 * 核心组件：
 *   - Checkpoint: 状态快照 + 下一步要执行的节点 + 运行状态，按 thread id 存储
 *   - CheckPointStore: 存储接口（Save / Load / Delete），内置实现见 checkpoint/ 目录
 *   - Serializer: 存储实现使用的序列化器，默认基于 sonic
 *   - checkPointer: 运行器内部对存储的封装，统一错误类型与尽力而为语义
 *
 * 写入时机：每个超级步完成后、挂起时、完成时、失败时。
 * 同一 thread id 的后写检查点覆盖先写检查点。
 */

package compose

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/sirupsen/logrus"

	"github.com/favbox/flowgraph/callbacks"
	"github.com/favbox/flowgraph/schema"
)

// RunStatus 运行状态
type RunStatus string

const (
	StatusPending   RunStatus = "PENDING"
	StatusRunning   RunStatus = "RUNNING"
	StatusSuspended RunStatus = "SUSPENDED"
	StatusCompleted RunStatus = "COMPLETED"
	StatusFailed    RunStatus = "FAILED"
)

// IsTerminal 是否为终态（完成或失败）
func (s RunStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Resumable 检查点处于该状态时，后续调用会从检查点继续而不是重新开始
func (s RunStatus) Resumable() bool {
	return s == StatusSuspended || s == StatusFailed || s == StatusRunning
}

// Checkpoint 某个 thread id 的执行快照
type Checkpoint struct {
	ThreadID  string    `json:"thread_id"`
	RunID     string    `json:"run_id"`
	GraphName string    `json:"graph_name,omitempty"`
	Status    RunStatus `json:"status"`
	// Step 累计完成的超级步数
	Step  int                     `json:"step"`
	State map[string]schema.Value `json:"state"`
	// Next 下一个超级步要执行的节点
	Next []string `json:"next,omitempty"`
	// Pending AllPredecessor 模式下尚未集齐前驱的节点：节点 -> 前驱 -> 是否被选中
	Pending   map[string]map[string]bool `json:"pending,omitempty"`
	Interrupt *InterruptInfo             `json:"interrupt,omitempty"`
	Error     string                     `json:"error,omitempty"`
	CreatedAt time.Time                  `json:"created_at"`
	UpdatedAt time.Time                  `json:"updated_at"`
}

// Clone 复制检查点，Value 不可变因此只复制容器
func (c *Checkpoint) Clone() *Checkpoint {
	if c == nil {
		return nil
	}
	out := *c
	out.State = make(map[string]schema.Value, len(c.State))
	for k, v := range c.State {
		out.State[k] = v
	}
	out.Next = append([]string(nil), c.Next...)
	if c.Pending != nil {
		out.Pending = make(map[string]map[string]bool, len(c.Pending))
		for node, preds := range c.Pending {
			cp := make(map[string]bool, len(preds))
			for p, v := range preds {
				cp[p] = v
			}
			out.Pending[node] = cp
		}
	}
	out.Interrupt = c.Interrupt.clone()
	return &out
}

//go:generate  mockgen -destination ../internal/mock/compose/checkpoint_mock.go --package compose -source checkpoint.go

// CheckPointStore 检查点存储接口。
// 实现必须保证同一 thread id 的读写串行化，并且写入失败时保留上一个已成功写入的检查点。
type CheckPointStore interface {
	// Save 保存（覆盖）检查点
	Save(ctx context.Context, threadID string, cp *Checkpoint) error
	// Load 读取检查点，不存在时第二个返回值为 false
	Load(ctx context.Context, threadID string) (*Checkpoint, bool, error)
	// Delete 删除检查点，不存在时不报错
	Delete(ctx context.Context, threadID string) error
}

// NamespacedStore 以 "namespace/thread id" 为键访问 store。
// 多个图共用一个存储时，各自使用不同的命名空间，thread id 互不可见。
func NamespacedStore(store CheckPointStore, namespace string) CheckPointStore {
	if store == nil || namespace == "" {
		return store
	}
	return &namespacedStore{store: store, prefix: namespace + "/"}
}

type namespacedStore struct {
	store  CheckPointStore
	prefix string
}

func (s *namespacedStore) Save(ctx context.Context, threadID string, cp *Checkpoint) error {
	return s.store.Save(ctx, s.prefix+threadID, cp)
}

func (s *namespacedStore) Load(ctx context.Context, threadID string) (*Checkpoint, bool, error) {
	return s.store.Load(ctx, s.prefix+threadID)
}

func (s *namespacedStore) Delete(ctx context.Context, threadID string) error {
	return s.store.Delete(ctx, s.prefix+threadID)
}

// Serializer 序列化器接口
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// SonicSerializer 基于 sonic 的 JSON 序列化器
type SonicSerializer struct{}

func (SonicSerializer) Marshal(v any) ([]byte, error) {
	return sonic.Marshal(v)
}

func (SonicSerializer) Unmarshal(data []byte, v any) error {
	return sonic.Unmarshal(data, v)
}

// DefaultSerializer 存储实现的默认序列化器
var DefaultSerializer Serializer = SonicSerializer{}

// checkPointer 运行器使用的存储封装
type checkPointer struct {
	store      CheckPointStore
	bestEffort bool
	logger     logrus.FieldLogger
	cbm        *callbacks.Manager
	info       *callbacks.RunInfo
}

func (c *checkPointer) enabled() bool {
	return c != nil && c.store != nil
}

func (c *checkPointer) load(ctx context.Context, threadID string) (*Checkpoint, bool, error) {
	cp, ok, err := c.store.Load(ctx, threadID)
	if err != nil {
		return nil, false, &CheckpointError{Op: "load", ThreadID: threadID, Err: err}
	}
	return cp, ok, nil
}

// save 写入检查点。尽力而为模式或 force 为 true 时只记录错误并返回 nil。
func (c *checkPointer) save(ctx context.Context, cp *Checkpoint, force bool) error {
	if !c.enabled() {
		return nil
	}
	cp.UpdatedAt = time.Now()
	err := c.store.Save(ctx, cp.ThreadID, cp)
	if err == nil {
		return nil
	}
	cerr := &CheckpointError{Op: "save", ThreadID: cp.ThreadID, Err: err}
	info := *c.info
	info.Component = callbacks.ComponentCheckpoint
	info.Step = cp.Step
	c.cbm.OnError(ctx, &info, cerr)
	if c.bestEffort || force {
		c.logger.WithError(cerr).WithField("status", cp.Status).Warn("checkpoint save failed")
		return nil
	}
	return cerr
}
