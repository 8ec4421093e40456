/*
 * graph_manager.go - 超级步内的节点执行
 *
 * 核心组件：
 *   - task: 一个节点在一个超级步中的执行单元
 *   - runTasks: 用 errgroup 并发执行同一超级步的全部节点，任一失败即取消其余节点
 *   - executeNode: 单个节点的重试、超时、回调和 panic 恢复
 *
 * 所有节点看到同一份只读快照，结果写回各自的 task，合并由运行器在屏障之后完成。
 */

package compose

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/favbox/flowgraph/callbacks"
	"github.com/favbox/flowgraph/internal/safe"
	"github.com/favbox/flowgraph/schema"
)

type task struct {
	node  *graphNode
	rerun bool

	delta Delta
	err   error
}

// runTasks 并发执行任务并等待全部结束（屏障）
func (ex *execution) runTasks(ctx context.Context, snapshot State, tasks []*task) error {
	eg, egCtx := errgroup.WithContext(ctx)
	if ex.cg.maxConcurrency > 0 {
		eg.SetLimit(ex.cg.maxConcurrency)
	}
	for _, t := range tasks {
		t := t
		eg.Go(func() error {
			t.err = ex.executeNode(egCtx, t, snapshot)
			return t.err
		})
	}
	return eg.Wait()
}

func (ex *execution) nodeTimeout(n *graphNode) time.Duration {
	if ex.opts.nodeTimeout != nil {
		return *ex.opts.nodeTimeout
	}
	if n.opts.timeout > 0 {
		return n.opts.timeout
	}
	return ex.cg.defaultTimeout
}

func (ex *execution) retryPolicy(n *graphNode) *RetryPolicy {
	if n.opts.retry != nil {
		return n.opts.retry
	}
	return ex.cg.defaultRetry
}

// executeNode 执行单个节点，返回的错误已按 ErrorKind 归类
func (ex *execution) executeNode(ctx context.Context, t *task, snapshot State) error {
	node := t.node
	if t.rerun {
		ctx = withRerun(ctx)
	}
	timeout := ex.nodeTimeout(node)
	logger := ex.logger.WithField("node", node.key)

	op := func(attempt int) error {
		info := &callbacks.RunInfo{
			GraphName: ex.cg.name,
			ThreadID:  ex.threadID,
			RunID:     ex.runID,
			NodeKey:   node.key,
			Component: callbacks.ComponentNode,
			Step:      ex.step,
			Attempt:   attempt,
		}
		nctx := ex.cbm.OnStart(ctx, info, snapshot)
		delta, err := ex.invokeOnce(nctx, node, snapshot, timeout)
		if err != nil {
			ex.cbm.OnError(nctx, info, err)
			return err
		}
		ex.cbm.OnEnd(nctx, info, delta)
		t.delta = delta
		return nil
	}
	onRetry := func(attempt int, err error, wait time.Duration) {
		logger.WithError(err).WithField("attempt", attempt).Debugf("node failed, retrying in %s", wait)
	}

	err := retry(ctx, ex.retryPolicy(node), op, onRetry)
	return wrapNodeError(node.key, ex.step, err)
}

// invokeOnce 执行一次节点动作，负责超时和 panic 恢复
func (ex *execution) invokeOnce(ctx context.Context, node *graphNode, snapshot State, timeout time.Duration) (Delta, error) {
	gate := &chunkGate{e: ex.emitter}
	defer gate.close()

	call := func(ctx context.Context) (d Delta, err error) {
		defer safe.Recover(&err)
		if node.lambda.stream != nil {
			return ex.consumeStream(ctx, node, snapshot, gate)
		}
		return node.lambda.invoke(ctx, snapshot)
	}

	if timeout <= 0 {
		return call(ctx)
	}

	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		delta Delta
		err   error
	}
	done := make(chan result, 1)
	go func() {
		d, err := call(tctx)
		done <- result{d, err}
	}()

	select {
	case res := <-done:
		if res.err != nil && ctx.Err() == nil && errors.Is(tctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s: %v", ErrNodeTimeout, timeout, res.err)
		}
		return res.delta, res.err
	case <-tctx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w after %s", ErrNodeTimeout, timeout)
	}
}

// consumeStream 读取流式节点的全部分块，逐块推送并拼接为最终增量
func (ex *execution) consumeStream(ctx context.Context, node *graphNode, snapshot State, gate *chunkGate) (Delta, error) {
	sr, err := node.lambda.stream(ctx, snapshot)
	if err != nil {
		return nil, err
	}
	if sr == nil {
		return Delta{}, nil
	}
	defer sr.Close()

	var chunks []Delta
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read from stream: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
		gate.emit(&NodeOutput{
			Kind:     OutputChunk,
			ThreadID: ex.threadID,
			NodeKey:  node.key,
			Step:     ex.step,
			Chunk:    chunk.Clone(),
		})
	}
	return concatDeltas(chunks)
}

// concatDeltas 按键拼接分块
func concatDeltas(chunks []Delta) (Delta, error) {
	grouped := map[string][]schema.Value{}
	for _, c := range chunks {
		for k, v := range c {
			grouped[k] = append(grouped[k], v)
		}
	}
	out := make(Delta, len(grouped))
	for k, vs := range grouped {
		v, err := schema.ConcatValues(vs)
		if err != nil {
			return nil, fmt.Errorf("concat stream chunks of key %s: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}
