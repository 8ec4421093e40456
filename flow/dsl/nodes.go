package dsl

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"text/template"

	"github.com/nikolalohinski/gonja"
	"github.com/nikolalohinski/gonja/config"
	"github.com/nikolalohinski/gonja/nodes"
	"github.com/nikolalohinski/gonja/parser"
	"github.com/slongfield/pyfmt"

	"github.com/favbox/flowgraph/compose"
	"github.com/favbox/flowgraph/schema"
)

// ====== set 节点 ======

// newSetNode 写入字面量或从状态读取的值。
//
//	config:
//	  values: {status: "draft"}       # 字面量
//	  paths:  {title: "$.input.title"} # JSONPath 读取
func newSetNode(spec NodeSpec) (*compose.Lambda, error) {
	literals := map[string]schema.Value{}
	if raw, ok := spec.Config["values"]; ok {
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("set node %s: values must be an object", spec.Key)
		}
		for k, v := range m {
			sv, err := schema.FromAny(v)
			if err != nil {
				return nil, fmt.Errorf("set node %s: value %s: %w", spec.Key, k, err)
			}
			literals[k] = sv
		}
	}

	paths := map[string]string{}
	if raw, ok := spec.Config["paths"]; ok {
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("set node %s: paths must be an object", spec.Key)
		}
		for k, v := range m {
			p, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("set node %s: path for %s must be a string", spec.Key, k)
			}
			paths[k] = p
		}
	}
	if len(literals) == 0 && len(paths) == 0 {
		return nil, fmt.Errorf("set node %s: config needs values or paths", spec.Key)
	}

	pathKeys := make([]string, 0, len(paths))
	for k := range paths {
		pathKeys = append(pathKeys, k)
	}
	sort.Strings(pathKeys)

	return compose.InvokableLambda(func(ctx context.Context, state compose.State) (compose.Delta, error) {
		delta := make(compose.Delta, len(literals)+len(paths))
		for k, v := range literals {
			delta[k] = v
		}
		for _, k := range pathKeys {
			v, err := readPath(paths[k], state)
			if err != nil {
				return nil, err
			}
			sv, err := schema.FromAny(v)
			if err != nil {
				return nil, fmt.Errorf("convert %s: %w", paths[k], err)
			}
			delta[k] = sv
		}
		return delta, nil
	}), nil
}

// ====== template 节点 ======

// FormatType 模板格式
type FormatType string

const (
	// FString python 风格 {name}，基于 pyfmt
	FString FormatType = "fstring"
	// Jinja2 基于 gonja
	Jinja2 FormatType = "jinja2"
	// GoTemplate text/template，缺失键报错
	GoTemplate FormatType = "gotemplate"
)

// newTemplateNode 以状态为变量渲染模板，结果写入 output 键。
//
//	config:
//	  format: jinja2
//	  template: "Hello {{ name }}"
//	  output: greeting
func newTemplateNode(spec NodeSpec) (*compose.Lambda, error) {
	tpl, _ := spec.Config["template"].(string)
	if tpl == "" {
		return nil, fmt.Errorf("template node %s: template is required", spec.Key)
	}
	output, _ := spec.Config["output"].(string)
	if output == "" {
		return nil, fmt.Errorf("template node %s: output is required", spec.Key)
	}
	format := FString
	if f, ok := spec.Config["format"].(string); ok && f != "" {
		format = FormatType(f)
	}
	switch format {
	case FString, Jinja2, GoTemplate:
	default:
		return nil, fmt.Errorf("template node %s: unknown format type: %v", spec.Key, format)
	}

	return compose.InvokableLambda(func(ctx context.Context, state compose.State) (compose.Delta, error) {
		out, err := formatContent(tpl, state.Interface(), format)
		if err != nil {
			return nil, fmt.Errorf("render template: %w", err)
		}
		return compose.Delta{output: schema.String(out)}, nil
	}), nil
}

// formatContent 根据格式化类型渲染模板
func formatContent(content string, vs map[string]any, formatType FormatType) (string, error) {
	switch formatType {
	case FString:
		return pyfmt.Fmt(content, vs)
	case GoTemplate:
		parsedTmpl, err := template.New("template").
			Option("missingkey=error").
			Parse(content)
		if err != nil {
			return "", err
		}
		sb := new(strings.Builder)
		if err := parsedTmpl.Execute(sb, vs); err != nil {
			return "", err
		}
		return sb.String(), nil
	case Jinja2:
		env, err := getJinjaEnv()
		if err != nil {
			return "", err
		}
		tpl, err := env.FromString(content)
		if err != nil {
			return "", err
		}
		return tpl.Execute(vs)
	default:
		return "", fmt.Errorf("unknown format type: %v", formatType)
	}
}

var (
	jinjaEnvOnce sync.Once
	jinjaEnv     *gonja.Environment
	envInitErr   error
)

// getJinjaEnv 获取禁用了 include / extends / import / from 的 jinja 环境，模板不能访问文件系统
func getJinjaEnv() (*gonja.Environment, error) {
	jinjaEnvOnce.Do(func() {
		jinjaEnv = gonja.NewEnvironment(config.DefaultConfig, gonja.DefaultLoader)
		for _, keyword := range []string{"include", "extends", "import", "from"} {
			if !jinjaEnv.Statements.Exists(keyword) {
				continue
			}
			kw := keyword
			err := jinjaEnv.Statements.Replace(kw, func(parser *parser.Parser, args *parser.Parser) (nodes.Statement, error) {
				return nil, fmt.Errorf("keyword[%s] has been disabled", kw)
			})
			if err != nil {
				envInitErr = fmt.Errorf("init jinja env fail: %w", err)
				return
			}
		}
	})
	return jinjaEnv, envInitErr
}
