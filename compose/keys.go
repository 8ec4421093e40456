/*
 * keys.go - 状态键合并策略
 *
 * 核心组件：
 *   - KeyStrategy: 单个键的合并策略（替换 / 追加 / 映射合并 / 自定义）
 *   - KeyStrategies: 键到策略的注册表，通过 WithKeyStrategies 传给 NewGraph
 *
 * 合并发生在运行器的屏障之后，按确定的节点顺序把各节点的增量逐个合并进状态。
 */

package compose

import (
	"fmt"
	"sort"

	"github.com/favbox/flowgraph/schema"
)

// MergeFunc 合并函数。
// old 为当前值，exists 表示该键此前是否存在，update 为节点写入的新值。
type MergeFunc func(old schema.Value, exists bool, update schema.Value) (schema.Value, error)

// KeyStrategy 单个状态键的合并策略。
type KeyStrategy struct {
	// Name 策略名称，用于可视化和声明式图定义
	Name  string
	merge MergeFunc
}

// Merge 执行合并。
func (s KeyStrategy) Merge(old schema.Value, exists bool, update schema.Value) (schema.Value, error) {
	if s.merge == nil {
		return update, nil
	}
	return s.merge(old, exists, update)
}

const (
	StrategyReplace = "replace"
	StrategyAppend  = "append"
	StrategyMerge   = "merge"
)

// ReplaceStrategy 后写覆盖前写。未注册策略的键默认使用此策略。
func ReplaceStrategy() KeyStrategy {
	return KeyStrategy{Name: StrategyReplace}
}

// AppendStrategy 追加到列表。
// 写入列表时逐个追加其元素，写入标量时追加该标量本身；
// 旧值为标量时先提升为单元素列表。
func AppendStrategy() KeyStrategy {
	return KeyStrategy{Name: StrategyAppend, merge: func(old schema.Value, exists bool, update schema.Value) (schema.Value, error) {
		if !exists {
			old = schema.Null()
		}
		if items, ok := update.AsList(); ok {
			return old.Append(items...), nil
		}
		return old.Append(update), nil
	}}
}

// MergeMapStrategy 浅合并映射，新值中的字段覆盖旧值中的同名字段。
func MergeMapStrategy() KeyStrategy {
	return KeyStrategy{Name: StrategyMerge, merge: func(old schema.Value, exists bool, update schema.Value) (schema.Value, error) {
		patch, ok := update.AsMap()
		if !ok {
			return schema.Value{}, fmt.Errorf("merge strategy expects a map update, got %s", update.Kind())
		}
		if !exists || old.IsNull() {
			return schema.Map(patch), nil
		}
		base, ok := old.AsMap()
		if !ok {
			return schema.Value{}, fmt.Errorf("merge strategy expects a map state value, got %s", old.Kind())
		}
		for k, v := range patch {
			base[k] = v
		}
		return schema.Map(base), nil
	}}
}

// CustomStrategy 自定义合并策略。
func CustomStrategy(name string, fn MergeFunc) KeyStrategy {
	return KeyStrategy{Name: name, merge: fn}
}

// StrategyByName 按名称查找内置策略。
func StrategyByName(name string) (KeyStrategy, bool) {
	switch name {
	case StrategyReplace, "":
		return ReplaceStrategy(), true
	case StrategyAppend:
		return AppendStrategy(), true
	case StrategyMerge:
		return MergeMapStrategy(), true
	}
	return KeyStrategy{}, false
}

// KeyStrategies 键合并策略注册表。
type KeyStrategies map[string]KeyStrategy

// Lookup 查找键的策略。
func (ks KeyStrategies) Lookup(key string) (KeyStrategy, bool) {
	s, ok := ks[key]
	return s, ok
}

// clone 复制注册表，编译产物之间互不影响。
func (ks KeyStrategies) clone() KeyStrategies {
	out := make(KeyStrategies, len(ks))
	for k, v := range ks {
		out[k] = v
	}
	return out
}

// apply 把增量按键名字典序合并进 values（原地修改 values）。
// strict 为 true 时未注册策略的键返回 ErrUnknownStateKey。
func (ks KeyStrategies) apply(values map[string]schema.Value, delta Delta, strict bool) error {
	keys := make([]string, 0, len(delta))
	for k := range delta {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		s, ok := ks[k]
		if !ok {
			if strict {
				return fmt.Errorf("%w: %s", ErrUnknownStateKey, k)
			}
			s = ReplaceStrategy()
		}
		old, exists := values[k]
		merged, err := s.Merge(old, exists, delta[k])
		if err != nil {
			return fmt.Errorf("merge key %s with strategy %s: %w", k, s.Name, err)
		}
		values[k] = merged
	}
	return nil
}
