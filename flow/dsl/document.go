/*
 * document.go - 声明式图文档
 *
 * 核心组件：
 *   - Document: 图的声明（名称、键策略、节点、边、编译参数）
 *   - ParseYAML: 解析 YAML 文档，先按 JSON Schema 校验再解码
 *   - ParseHCL: 解析 HCL 文档（node / edge / state 块）
 *   - LoadFile: 按扩展名选择解析器
 *
 * 文档只描述结构，节点动作由 Registry 中的节点类型构造，见 registry.go。
 */

package dsl

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document 声明式图文档
type Document struct {
	Name string `yaml:"name" json:"name"`
	// MaxSteps 步数上限，0 表示使用默认值
	MaxSteps int `yaml:"max_steps,omitempty" json:"max_steps,omitempty"`
	// TriggerMode any_predecessor 或 all_predecessor
	TriggerMode     string              `yaml:"trigger_mode,omitempty" json:"trigger_mode,omitempty"`
	State           map[string]StateKey `yaml:"state,omitempty" json:"state,omitempty"`
	Nodes           []NodeSpec          `yaml:"nodes" json:"nodes"`
	Edges           []EdgeSpec          `yaml:"edges" json:"edges"`
	InterruptBefore []string            `yaml:"interrupt_before,omitempty" json:"interrupt_before,omitempty"`
	InterruptAfter  []string            `yaml:"interrupt_after,omitempty" json:"interrupt_after,omitempty"`
}

// StateKey 状态键声明
type StateKey struct {
	// Strategy replace / append / merge，或注册到 Registry 的自定义策略
	Strategy string `yaml:"strategy" json:"strategy"`
}

// NodeSpec 节点声明
type NodeSpec struct {
	Key  string `yaml:"key" json:"key"`
	Type string `yaml:"type" json:"type"`
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
	// Timeout 单次执行超时，time.ParseDuration 格式
	Timeout string `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	// Retries 失败后的重试次数
	Retries    int            `yaml:"retries,omitempty" json:"retries,omitempty"`
	OutputKeys []string       `yaml:"output_keys,omitempty" json:"output_keys,omitempty"`
	Config     map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
}

// EdgeSpec 边声明。
// When 为空且 Default 为 false 时是无条件边；
// 同一起点上带 When 或 Default 的边合并为一个谓词分支。
type EdgeSpec struct {
	From string `yaml:"from" json:"from"`
	To   string `yaml:"to" json:"to"`
	// When gval 表达式，以当前状态为参数求值
	When string `yaml:"when,omitempty" json:"when,omitempty"`
	// Default 没有任何 When 命中时选择该边
	Default bool `yaml:"default,omitempty" json:"default,omitempty"`
	// FanOut 允许同一分支多个 When 同时命中并行执行
	FanOut bool `yaml:"fan_out,omitempty" json:"fan_out,omitempty"`
}

func (e EdgeSpec) conditional() bool {
	return e.When != "" || e.Default
}

// ParseYAML 解析并校验 YAML 文档
func ParseYAML(data []byte) (*Document, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if err := validateDocument(raw); err != nil {
		return nil, err
	}

	doc := &Document{}
	if err := yaml.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return doc, nil
}

// LoadFile 读取文件，.yaml / .yml 按 YAML 解析，.hcl 按 HCL 解析
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc *Document
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		doc, err = ParseYAML(data)
	case ".hcl":
		doc, err = ParseHCL(data, path)
	default:
		return nil, fmt.Errorf("unsupported graph file extension: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if doc.Name == "" {
		doc.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return doc, nil
}

// LoadDir 加载目录下所有图文件，按文件名排序
func LoadDir(dir string) ([]*Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var docs []*Document
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".hcl":
		default:
			continue
		}
		doc, err := LoadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
