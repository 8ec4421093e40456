package compose

import (
	"context"
	"errors"
	"fmt"
)

// InterruptAndRerun 节点动作返回此错误时运行挂起，恢复后重新执行该节点
var InterruptAndRerun = errors.New("interrupt and rerun")

// NewInterruptAndRerunErr 创建带附加信息的挂起错误，附加信息会出现在 InterruptInfo.RerunNodesExtra 中
func NewInterruptAndRerunErr(extra any) error {
	return &interruptAndRerun{Extra: extra}
}

type interruptAndRerun struct {
	Extra any
}

func (i *interruptAndRerun) Error() string {
	return fmt.Sprintf("interrupt and rerun: %v", i.Extra)
}

// IsInterruptRerunError 判断是否为挂起错误并提取附加信息
func IsInterruptRerunError(err error) (any, bool) {
	return isInterruptError(err)
}

func isInterruptError(err error) (any, bool) {
	if err == nil {
		return nil, false
	}
	if errors.Is(err, InterruptAndRerun) {
		return nil, true
	}
	var ire *interruptAndRerun
	if errors.As(err, &ire) {
		return ire.Extra, true
	}
	return nil, false
}

// InterruptInfo 挂起原因
type InterruptInfo struct {
	// BeforeNodes 等待执行的人工检查点或 interrupt-before 节点
	BeforeNodes []string `json:"before_nodes,omitempty"`
	// AfterNodes 刚执行完的 interrupt-after 节点
	AfterNodes []string `json:"after_nodes,omitempty"`
	// RerunNodes 主动返回挂起错误、恢复后需要重新执行的节点
	RerunNodes      []string       `json:"rerun_nodes,omitempty"`
	RerunNodesExtra map[string]any `json:"rerun_nodes_extra,omitempty"`
}

func (i *InterruptInfo) clone() *InterruptInfo {
	if i == nil {
		return nil
	}
	out := &InterruptInfo{
		BeforeNodes: append([]string(nil), i.BeforeNodes...),
		AfterNodes:  append([]string(nil), i.AfterNodes...),
		RerunNodes:  append([]string(nil), i.RerunNodes...),
	}
	if i.RerunNodesExtra != nil {
		out.RerunNodesExtra = make(map[string]any, len(i.RerunNodesExtra))
		for k, v := range i.RerunNodesExtra {
			out.RerunNodesExtra[k] = v
		}
	}
	return out
}

type rerunKey struct{}

// IsRerun 节点动作中调用，判断本次执行是否为挂起恢复后的重新执行
func IsRerun(ctx context.Context) bool {
	v, _ := ctx.Value(rerunKey{}).(bool)
	return v
}

func withRerun(ctx context.Context) context.Context {
	return context.WithValue(ctx, rerunKey{}, true)
}
