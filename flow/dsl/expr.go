package dsl

import (
	"context"
	"fmt"

	"github.com/PaesslerAG/gval"
	"github.com/PaesslerAG/jsonpath"

	"github.com/favbox/flowgraph/compose"
)

// exprLanguage 边条件使用的表达式语言：gval 完整语法加 JSONPath（$.a.b）
var exprLanguage = gval.NewLanguage(gval.Full(), jsonpath.Language())

// Condition 预编译的条件表达式
type Condition struct {
	src  string
	eval gval.Evaluable
}

// CompileCondition 编译条件表达式，状态键可直接作为变量使用：
//
//	score >= 0.8 && status == "ok"
//	$.review.approved == true
func CompileCondition(expr string) (*Condition, error) {
	eval, err := exprLanguage.NewEvaluable(expr)
	if err != nil {
		return nil, fmt.Errorf("compile condition %q: %w", expr, err)
	}
	return &Condition{src: expr, eval: eval}, nil
}

// String 返回表达式原文
func (c *Condition) String() string {
	return c.src
}

// Eval 以状态为参数求值，结果必须为布尔值
func (c *Condition) Eval(ctx context.Context, state compose.State) (bool, error) {
	ok, err := c.eval.EvalBool(ctx, state.Interface())
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", c.src, err)
	}
	return ok, nil
}

// readPath 用 JSONPath 读取状态
func readPath(path string, state compose.State) (any, error) {
	v, err := jsonpath.Get(path, state.Interface())
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return v, nil
}
