package compose

import (
	"sort"

	"github.com/bytedance/sonic"

	"github.com/favbox/flowgraph/schema"
)

// Delta 节点产出的部分状态更新，由运行器按键策略合并进状态。
type Delta map[string]schema.Value

// Clone 浅复制增量，Value 本身不可变。
func (d Delta) Clone() Delta {
	if d == nil {
		return nil
	}
	out := make(Delta, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// DeltaFromMap 从普通 map 构造增量。
func DeltaFromMap(m map[string]any) (Delta, error) {
	out := make(Delta, len(m))
	for k, v := range m {
		sv, err := schema.FromAny(v)
		if err != nil {
			return nil, err
		}
		out[k] = sv
	}
	return out, nil
}

// State 状态的只读快照。
// 节点拿到的是快照，不能修改运行器持有的状态；并发节点共享同一份快照是安全的。
type State struct {
	values map[string]schema.Value
}

// NewState 由给定键值构造快照，入参会被复制。
func NewState(values map[string]schema.Value) State {
	cp := make(map[string]schema.Value, len(values))
	for k, v := range values {
		cp[k] = v
	}
	return State{values: cp}
}

// Get 读取键值。
func (s State) Get(key string) (schema.Value, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Value 读取键值，不存在时返回 Null。
func (s State) Value(key string) schema.Value {
	return s.values[key]
}

// Has 是否存在键。
func (s State) Has(key string) bool {
	_, ok := s.values[key]
	return ok
}

// Len 键数量。
func (s State) Len() int {
	return len(s.values)
}

// Keys 按字典序返回所有键。
func (s State) Keys() []string {
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ToMap 返回键值副本。
func (s State) ToMap() map[string]schema.Value {
	out := make(map[string]schema.Value, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Interface 转换为普通 Go map，供表达式求值和模板渲染使用。
func (s State) Interface() map[string]any {
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v.Interface()
	}
	return out
}

// Equal 深度比较两个快照。
func (s State) Equal(o State) bool {
	if len(s.values) != len(o.values) {
		return false
	}
	for k, v := range s.values {
		ov, ok := o.values[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

func (s State) MarshalJSON() ([]byte, error) {
	if s.values == nil {
		return []byte("{}"), nil
	}
	return sonic.Marshal(s.values)
}

func (s *State) UnmarshalJSON(data []byte) error {
	values := map[string]schema.Value{}
	if err := sonic.Unmarshal(data, &values); err != nil {
		return err
	}
	s.values = values
	return nil
}
