package callbacks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/favbox/flowgraph/callbacks"
	"github.com/favbox/flowgraph/checkpoint/memstore"
	"github.com/favbox/flowgraph/compose"
)

// countingHandler 记录每个时机的调用次数，不实现 TimingChecker
type countingHandler struct {
	starts, ends int
	errs         []error
}

func (h *countingHandler) OnStart(ctx context.Context, _ *callbacks.RunInfo, _ callbacks.CallbackInput) context.Context {
	h.starts++
	return ctx
}

func (h *countingHandler) OnEnd(ctx context.Context, _ *callbacks.RunInfo, _ callbacks.CallbackOutput) context.Context {
	h.ends++
	return ctx
}

func (h *countingHandler) OnError(ctx context.Context, _ *callbacks.RunInfo, err error) context.Context {
	h.errs = append(h.errs, err)
	return ctx
}

type readOnlyStore struct {
	*memstore.Store
}

func (readOnlyStore) Save(context.Context, string, *compose.Checkpoint) error {
	return errors.New("read-only")
}

func TestHandlerHelperCheckpointErrors(t *testing.T) {
	graphH, cpH := &countingHandler{}, &countingHandler{}
	h := NewHandlerHelper().Graph(graphH).Checkpoint(cpH).Handler()

	g := compose.NewGraph()
	require.NoError(t, g.AddPassthroughNode("a"))
	require.NoError(t, g.AddEdge(compose.START, "a"))
	require.NoError(t, g.AddEdge("a", compose.END))
	r, err := g.Compile(context.Background(),
		compose.WithCheckPointStore(readOnlyStore{memstore.New()}),
		compose.WithBestEffortCheckpoint())
	require.NoError(t, err)

	res, err := r.Invoke(context.Background(), compose.Delta{}, compose.WithCallbacks(h))
	require.NoError(t, err)
	assert.Equal(t, compose.StatusCompleted, res.Status)

	assert.Equal(t, 1, graphH.starts)
	assert.Equal(t, 1, graphH.ends)
	assert.Empty(t, graphH.errs)

	require.NotEmpty(t, cpH.errs)
	var ce *compose.CheckpointError
	require.True(t, errors.As(cpH.errs[0], &ce))
	assert.Equal(t, "save", ce.Op)
	assert.Zero(t, cpH.starts)
}

func TestHandlerHelperRouting(t *testing.T) {
	ctx := context.Background()
	nodeH := &countingHandler{}
	h := NewHandlerHelper().Node(nodeH).Handler()

	node := &callbacks.RunInfo{Component: callbacks.ComponentNode, NodeKey: "a"}
	graph := &callbacks.RunInfo{Component: callbacks.ComponentGraph}

	h.OnStart(ctx, node, nil)
	h.OnEnd(ctx, node, nil)
	h.OnError(ctx, node, errors.New("x"))
	assert.Equal(t, 1, nodeH.starts)
	assert.Equal(t, 1, nodeH.ends)
	assert.Len(t, nodeH.errs, 1)

	type key struct{}
	marked := context.WithValue(ctx, key{}, "v")
	assert.Equal(t, marked, h.OnStart(marked, graph, nil))
	assert.Equal(t, marked, h.OnError(marked, graph, errors.New("y")))
	assert.Equal(t, 1, nodeH.starts)
	assert.Len(t, nodeH.errs, 1)

	checker := h.(callbacks.TimingChecker)
	assert.False(t, checker.Needed(ctx, nil, callbacks.TimingOnStart))
	assert.False(t, checker.Needed(ctx, graph, callbacks.TimingOnEnd))
	for _, timing := range []callbacks.CallbackTiming{callbacks.TimingOnStart, callbacks.TimingOnEnd, callbacks.TimingOnError} {
		assert.True(t, checker.Needed(ctx, node, timing))
	}
}
