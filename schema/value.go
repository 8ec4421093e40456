/*
 * value.go - 状态值的标签联合类型
 *
 * 核心组件：
 *   - Kind: 值的种类标签（null/bool/number/string/list/map）
 *   - Value: 不可变的状态值，构造与读取时均做深拷贝
 *   - FromAny / MustFromAny: 从任意 Go 值转换
 *   - ConcatValues: 流式分块拼接
 *
 * 与其他文件关系：
 *   - compose 包的 State / Delta 以 Value 作为元素类型
 *   - checkpoint 序列化依赖 Value 的 JSON 编解码
 */

package schema

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
)

// Kind 值的种类标签。
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
)

// String 返回种类名称。
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "unknown(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value 图状态中的动态值。
// 零值即 Null。Value 不可变：List / Map 的构造和读取都会复制底层数据，
// 因此同一个 Value 可以在多个并发节点之间安全共享。
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	list []Value
	m    map[string]Value
}

// Null 返回空值。
func Null() Value { return Value{} }

// Bool 构造布尔值。
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number 构造数值。
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// Int 构造整数数值。
func Int(i int64) Value { return Value{kind: KindNumber, n: float64(i)} }

// String 构造字符串值。
func String(s string) Value { return Value{kind: KindString, s: s} }

// List 构造列表值，入参会被复制。
func List(items ...Value) Value {
	return Value{kind: KindList, list: cloneList(items)}
}

// Map 构造映射值，入参会被复制。
func Map(m map[string]Value) Value {
	return Value{kind: KindMap, m: cloneMap(m)}
}

// Kind 返回值的种类。
func (v Value) Kind() Kind { return v.kind }

// IsNull 是否为空值。
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool 读取布尔值，第二个返回值表示种类是否匹配。
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsNumber 读取数值。
func (v Value) AsNumber() (float64, bool) { return v.n, v.kind == KindNumber }

// AsInt 读取整数，非整数数值返回 false。
func (v Value) AsInt() (int64, bool) {
	if v.kind != KindNumber || v.n != math.Trunc(v.n) {
		return 0, false
	}
	return int64(v.n), true
}

// AsString 读取字符串。
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsList 读取列表副本。
func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return cloneList(v.list), true
}

// AsMap 读取映射副本。
func (v Value) AsMap() (map[string]Value, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	return cloneMap(v.m), true
}

// Len 列表 / 映射 / 字符串的长度，其余种类为 0。
func (v Value) Len() int {
	switch v.kind {
	case KindList:
		return len(v.list)
	case KindMap:
		return len(v.m)
	case KindString:
		return len(v.s)
	default:
		return 0
	}
}

// Index 读取列表第 i 个元素。
func (v Value) Index(i int) (Value, bool) {
	if v.kind != KindList || i < 0 || i >= len(v.list) {
		return Value{}, false
	}
	return v.list[i], true
}

// Field 读取映射中的字段。
func (v Value) Field(key string) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	f, ok := v.m[key]
	return f, ok
}

// Append 返回追加元素后的新列表，原值不变。
// 非列表值会被视为单元素列表，空值视为空列表。
func (v Value) Append(items ...Value) Value {
	var base []Value
	switch v.kind {
	case KindNull:
	case KindList:
		base = v.list
	default:
		base = []Value{v}
	}
	out := make([]Value, 0, len(base)+len(items))
	out = append(out, base...)
	out = append(out, items...)
	return Value{kind: KindList, list: out}
}

// Equal 深度比较。
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return v.n == o.n
	case KindString:
		return v.s == o.s
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(o.m) {
			return false
		}
		for k, a := range v.m {
			b, ok := o.m[k]
			if !ok || !a.Equal(b) {
				return false
			}
		}
		return true
	}
	return false
}

// Truthy 按脚本语言习惯判断真假：null、false、0、空串、空容器为假。
func (v Value) Truthy() bool {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n != 0
	case KindString, KindList, KindMap:
		return v.Len() > 0
	default:
		return false
	}
}

// Interface 转换为 JSON 风格的 Go 值：nil / bool / float64 / string / []any / map[string]any。
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Interface()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, item := range v.m {
			out[k] = item.Interface()
		}
		return out
	default:
		return nil
	}
}

// String 返回便于调试的文本形式，字符串本身不加引号。
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNumber:
		return strconv.FormatFloat(v.n, 'g', -1, 64)
	case KindString:
		return v.s
	case KindList:
		parts := make([]string, len(v.list))
		for i, item := range v.list {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, " ") + "]"
	case KindMap:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ":" + v.m[k].String()
		}
		return "map[" + strings.Join(parts, " ") + "]"
	}
	return ""
}

// MarshalJSON 编码为普通 JSON。
func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == KindNumber && (math.IsNaN(v.n) || math.IsInf(v.n, 0)) {
		return nil, fmt.Errorf("value: unsupported number %v", v.n)
	}
	return sonic.Marshal(v.Interface())
}

// UnmarshalJSON 从普通 JSON 解码。
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return err
	}
	nv, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = nv
	return nil
}

// MustFromAny 与 FromAny 相同，转换失败时 panic，仅用于字面量构造。
func MustFromAny(x any) Value {
	v, err := FromAny(x)
	if err != nil {
		panic(err)
	}
	return v
}

// FromAny 将任意 Go 值转换为 Value。
// 支持基础类型、Value、切片、数组以及键为字符串的 map，其余类型返回错误。
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Value{}, nil
	case Value:
		return t, nil
	case *Value:
		if t == nil {
			return Value{}, nil
		}
		return *t, nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case int32:
		return Int(int64(t)), nil
	case []any:
		out := make([]Value, len(t))
		for i, item := range t {
			iv, err := FromAny(item)
			if err != nil {
				return Value{}, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = iv
		}
		return Value{kind: KindList, list: out}, nil
	case []Value:
		return List(t...), nil
	case map[string]any:
		out := make(map[string]Value, len(t))
		for k, item := range t {
			iv, err := FromAny(item)
			if err != nil {
				return Value{}, fmt.Errorf("key %q: %w", k, err)
			}
			out[k] = iv
		}
		return Value{kind: KindMap, m: out}, nil
	case map[string]Value:
		return Map(t), nil
	}
	return fromReflect(reflect.ValueOf(x))
}

func fromReflect(rv reflect.Value) (Value, error) {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Value{}, nil
		}
		return FromAny(rv.Elem().Interface())
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.String:
		return String(rv.String()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return Number(float64(rv.Uint())), nil
	case reflect.Float32, reflect.Float64:
		return Number(rv.Float()), nil
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return Value{kind: KindList}, nil
		}
		out := make([]Value, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			iv, err := FromAny(rv.Index(i).Interface())
			if err != nil {
				return Value{}, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = iv
		}
		return Value{kind: KindList, list: out}, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Value{}, fmt.Errorf("value: unsupported map key type %s", rv.Type().Key())
		}
		out := make(map[string]Value, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			iv, err := FromAny(iter.Value().Interface())
			if err != nil {
				return Value{}, fmt.Errorf("key %q: %w", iter.Key().String(), err)
			}
			out[iter.Key().String()] = iv
		}
		return Value{kind: KindMap, m: out}, nil
	case reflect.Invalid:
		return Value{}, nil
	}
	return Value{}, fmt.Errorf("value: unsupported type %s", rv.Type())
}

// ConcatValues 拼接同一个键的多个流式分块。
// 字符串按顺序连接，列表依次追加，映射逐键递归拼接，其余种类取最后一个。
// 种类不一致时同样取最后一个。
func ConcatValues(vs []Value) (Value, error) {
	if len(vs) == 0 {
		return Value{}, nil
	}
	if len(vs) == 1 {
		return vs[0], nil
	}
	kind := vs[0].kind
	for _, v := range vs[1:] {
		if v.kind != kind {
			return vs[len(vs)-1], nil
		}
	}

	switch kind {
	case KindString:
		var sb strings.Builder
		for _, v := range vs {
			sb.WriteString(v.s)
		}
		return String(sb.String()), nil
	case KindList:
		var out []Value
		for _, v := range vs {
			out = append(out, v.list...)
		}
		return Value{kind: KindList, list: out}, nil
	case KindMap:
		grouped := make(map[string][]Value)
		for _, v := range vs {
			for k, item := range v.m {
				grouped[k] = append(grouped[k], item)
			}
		}
		out := make(map[string]Value, len(grouped))
		for k, items := range grouped {
			merged, err := ConcatValues(items)
			if err != nil {
				return Value{}, err
			}
			out[k] = merged
		}
		return Value{kind: KindMap, m: out}, nil
	default:
		return vs[len(vs)-1], nil
	}
}

func cloneList(in []Value) []Value {
	if in == nil {
		return nil
	}
	out := make([]Value, len(in))
	copy(out, in)
	return out
}

func cloneMap(in map[string]Value) map[string]Value {
	if in == nil {
		return nil
	}
	out := make(map[string]Value, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
