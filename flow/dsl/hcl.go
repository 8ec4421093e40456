package dsl

import (
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

// hclDocument HCL 文档的解码结构
//
//	name = "review"
//
//	state "comments" {
//	  strategy = "append"
//	}
//
//	node "draft" {
//	  type   = "template"
//	  config = { template = "Hello {name}", output = "greeting" }
//	}
//
//	edge {
//	  from = "start"
//	  to   = "draft"
//	}
type hclDocument struct {
	Name            string     `hcl:"name,optional"`
	MaxSteps        int        `hcl:"max_steps,optional"`
	TriggerMode     string     `hcl:"trigger_mode,optional"`
	InterruptBefore []string   `hcl:"interrupt_before,optional"`
	InterruptAfter  []string   `hcl:"interrupt_after,optional"`
	State           []hclState `hcl:"state,block"`
	Nodes           []hclNode  `hcl:"node,block"`
	Edges           []hclEdge  `hcl:"edge,block"`
}

type hclState struct {
	Key      string `hcl:"key,label"`
	Strategy string `hcl:"strategy"`
}

type hclNode struct {
	Key        string    `hcl:"key,label"`
	Type       string    `hcl:"type"`
	Name       string    `hcl:"name,optional"`
	Timeout    string    `hcl:"timeout,optional"`
	Retries    int       `hcl:"retries,optional"`
	OutputKeys []string  `hcl:"output_keys,optional"`
	Config     cty.Value `hcl:"config,optional"`
}

type hclEdge struct {
	From    string `hcl:"from"`
	To      string `hcl:"to"`
	When    string `hcl:"when,optional"`
	Default bool   `hcl:"default,optional"`
	FanOut  bool   `hcl:"fan_out,optional"`
}

// ParseHCL 解析 HCL 文档，filename 仅用于诊断信息
func ParseHCL(data []byte, filename string) (*Document, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL %s: %s", filename, diags.Error())
	}

	var raw hclDocument
	if diags := gohcl.DecodeBody(file.Body, nil, &raw); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL %s: %s", filename, diags.Error())
	}

	doc := &Document{
		Name:            raw.Name,
		MaxSteps:        raw.MaxSteps,
		TriggerMode:     raw.TriggerMode,
		InterruptBefore: raw.InterruptBefore,
		InterruptAfter:  raw.InterruptAfter,
	}
	if len(raw.State) > 0 {
		doc.State = make(map[string]StateKey, len(raw.State))
		for _, s := range raw.State {
			doc.State[s.Key] = StateKey{Strategy: s.Strategy}
		}
	}
	for _, n := range raw.Nodes {
		cfg, err := ctyToAny(n.Config)
		if err != nil {
			return nil, fmt.Errorf("node %s config: %w", n.Key, err)
		}
		spec := NodeSpec{
			Key:        n.Key,
			Type:       n.Type,
			Name:       n.Name,
			Timeout:    n.Timeout,
			Retries:    n.Retries,
			OutputKeys: n.OutputKeys,
		}
		if cfg != nil {
			m, ok := cfg.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("node %s config must be an object", n.Key)
			}
			spec.Config = m
		}
		doc.Nodes = append(doc.Nodes, spec)
	}
	for _, e := range raw.Edges {
		doc.Edges = append(doc.Edges, EdgeSpec(e))
	}
	return doc, nil
}

// ctyToAny 把 cty 值转换为普通 Go 值：数字为 int64 或 float64，集合为 []any，对象与映射为 map[string]any
func ctyToAny(v cty.Value) (any, error) {
	if v == cty.NilVal || v.IsNull() {
		return nil, nil
	}
	if !v.IsWhollyKnown() {
		return nil, fmt.Errorf("value is not known")
	}

	ty := v.Type()
	switch {
	case ty == cty.String:
		return v.AsString(), nil
	case ty == cty.Bool:
		return v.True(), nil
	case ty == cty.Number:
		bf := v.AsBigFloat()
		if bf.IsInt() {
			if i, acc := bf.Int64(); acc == 0 {
				return i, nil
			}
		}
		f, _ := bf.Float64()
		return f, nil
	case ty.IsListType(), ty.IsTupleType(), ty.IsSetType():
		out := make([]any, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			item, err := ctyToAny(ev)
			if err != nil {
				return nil, err
			}
			out = append(out, item)
		}
		return out, nil
	case ty.IsMapType(), ty.IsObjectType():
		out := make(map[string]any, v.LengthInt())
		keys := make([]string, 0, v.LengthInt())
		values := map[string]cty.Value{}
		for it := v.ElementIterator(); it.Next(); {
			k, ev := it.Element()
			keys = append(keys, k.AsString())
			values[k.AsString()] = ev
		}
		sort.Strings(keys)
		for _, k := range keys {
			item, err := ctyToAny(values[k])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = item
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported value type %s", ty.FriendlyName())
}
