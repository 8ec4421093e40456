package compose

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/favbox/flowgraph/callbacks"
	"github.com/favbox/flowgraph/schema"
)

func TestLinearRun(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	r, err := linearGraph(t, rec).Compile(ctx)
	require.NoError(t, err)

	res, err := r.Invoke(ctx, Delta{"input": schema.String("hi")})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 2, res.Steps)
	assert.NotEmpty(t, res.ThreadID)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, []string{"a", "b"}, strs(res.State.Value("path")))
	assert.True(t, res.State.Value("input").Equal(schema.String("hi")))
	assert.Equal(t, []string{"a", "b"}, rec.list())
}

func TestNodeSeesSnapshot(t *testing.T) {
	ctx := context.Background()
	g := NewGraph()
	require.NoError(t, g.AddLambdaNode("double", InvokableLambda(func(ctx context.Context, s State) (Delta, error) {
		n, _ := s.Value("n").AsNumber()
		return Delta{"n": schema.Number(n * 2)}, nil
	})))
	require.NoError(t, g.AddEdge(START, "double"))
	require.NoError(t, g.AddEdge("double", END))
	r, err := g.Compile(ctx)
	require.NoError(t, err)

	res, err := r.Invoke(ctx, Delta{"n": schema.Int(21)})
	require.NoError(t, err)
	assert.True(t, res.State.Value("n").Equal(schema.Int(42)))
}

// fanInGraph START -> a -> {b, c} -> d -> END，b 和 c 向 msgs 追加
func fanInGraph(t *testing.T, rec *recorder, slow time.Duration) *Graph {
	t.Helper()
	g := NewGraph(WithKeyStrategy("msgs", AppendStrategy()))
	jitter := func(key string) *Lambda {
		return InvokableLambda(func(ctx context.Context, s State) (Delta, error) {
			if slow > 0 {
				time.Sleep(time.Duration(rand.Int63n(int64(slow))))
			}
			rec.add(key)
			return Delta{"msgs": schema.String(key)}, nil
		})
	}
	require.NoError(t, g.AddLambdaNode("a", write(rec, "a", Delta{})))
	require.NoError(t, g.AddLambdaNode("b", jitter("b"), WithOutputKeys("msgs")))
	require.NoError(t, g.AddLambdaNode("c", jitter("c"), WithOutputKeys("msgs")))
	require.NoError(t, g.AddLambdaNode("d", InvokableLambda(func(ctx context.Context, s State) (Delta, error) {
		rec.add("d")
		return Delta{"seen": schema.Int(int64(s.Value("msgs").Len()))}, nil
	})))
	require.NoError(t, g.AddEdge(START, "a"))
	require.NoError(t, g.AddParallelEdges("a", "b", "c"))
	require.NoError(t, g.AddEdge("b", "d"))
	require.NoError(t, g.AddEdge("c", "d"))
	require.NoError(t, g.AddEdge("d", END))
	return g
}

func TestParallelFanIn(t *testing.T) {
	convey.Convey("并行扇出与扇入", t, func() {
		ctx := context.Background()

		convey.Convey("汇聚节点只执行一次并看到两路结果", func() {
			rec := &recorder{}
			r, err := fanInGraph(t, rec, 0).Compile(ctx)
			convey.So(err, convey.ShouldBeNil)

			res, err := r.Invoke(ctx, Delta{})
			convey.So(err, convey.ShouldBeNil)
			convey.So(res.Status, convey.ShouldEqual, StatusCompleted)
			convey.So(res.Steps, convey.ShouldEqual, 3)
			convey.So(rec.count("d"), convey.ShouldEqual, 1)
			convey.So(strs(res.State.Value("msgs")), convey.ShouldResemble, []string{"b", "c"})
			seen, _ := res.State.Value("seen").AsInt()
			convey.So(seen, convey.ShouldEqual, 2)
		})

		convey.Convey("合并顺序与完成顺序无关", func() {
			rec := &recorder{}
			r, err := fanInGraph(t, rec, 5*time.Millisecond).Compile(ctx)
			convey.So(err, convey.ShouldBeNil)
			for i := 0; i < 20; i++ {
				res, err := r.Invoke(ctx, Delta{})
				convey.So(err, convey.ShouldBeNil)
				convey.So(strs(res.State.Value("msgs")), convey.ShouldResemble, []string{"b", "c"})
			}
		})

		convey.Convey("显式合并顺序", func() {
			rec := &recorder{}
			r, err := fanInGraph(t, rec, 0).Compile(ctx, WithMergeOrder("c", "b"))
			convey.So(err, convey.ShouldBeNil)
			res, err := r.Invoke(ctx, Delta{})
			convey.So(err, convey.ShouldBeNil)
			convey.So(strs(res.State.Value("msgs")), convey.ShouldResemble, []string{"c", "b"})
		})

		convey.Convey("并发上限", func() {
			var running, peak int32
			g := NewGraph()
			for _, key := range []string{"x", "y", "z"} {
				require.NoError(t, g.AddLambdaNode(key, InvokableLambda(func(ctx context.Context, s State) (Delta, error) {
					n := atomic.AddInt32(&running, 1)
					for {
						p := atomic.LoadInt32(&peak)
						if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
							break
						}
					}
					time.Sleep(5 * time.Millisecond)
					atomic.AddInt32(&running, -1)
					return Delta{}, nil
				})))
				require.NoError(t, g.AddEdge(START, key))
				require.NoError(t, g.AddEdge(key, END))
			}
			r, err := g.Compile(ctx, WithMaxConcurrency(1))
			convey.So(err, convey.ShouldBeNil)
			_, err = r.Invoke(ctx, Delta{})
			convey.So(err, convey.ShouldBeNil)
			convey.So(atomic.LoadInt32(&peak), convey.ShouldEqual, 1)
		})
	})
}

func TestReplaceVersusAppend(t *testing.T) {
	ctx := context.Background()
	build := func(opts ...NewGraphOption) *CompiledGraph {
		g := NewGraph(opts...)
		require.NoError(t, g.AddLambdaNode("a", write(nil, "a", Delta{"v": schema.String("a")}), WithOutputKeys("v")))
		require.NoError(t, g.AddLambdaNode("b", write(nil, "b", Delta{"v": schema.String("b")}), WithOutputKeys("v")))
		require.NoError(t, g.AddEdge(START, "a"))
		require.NoError(t, g.AddEdge("a", "b"))
		require.NoError(t, g.AddEdge("b", END))
		r, err := g.Compile(ctx)
		require.NoError(t, err)
		return r
	}

	res, err := build(WithKeyStrategy("v", ReplaceStrategy())).Invoke(ctx, Delta{})
	require.NoError(t, err)
	assert.True(t, res.State.Value("v").Equal(schema.String("b")))

	res, err = build(WithKeyStrategy("v", AppendStrategy())).Invoke(ctx, Delta{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, strs(res.State.Value("v")))
}

func TestStrictKeys(t *testing.T) {
	ctx := context.Background()
	g := NewGraph(WithKeyStrategy("known", ReplaceStrategy()))
	require.NoError(t, g.AddLambdaNode("a", write(nil, "a", Delta{"unknown": schema.Int(1)})))
	require.NoError(t, g.AddEdge(START, "a"))
	require.NoError(t, g.AddEdge("a", END))
	r, err := g.Compile(ctx, WithStrictKeys())
	require.NoError(t, err)

	res, err := r.Invoke(ctx, Delta{"known": schema.Int(1)})
	require.Error(t, err)
	assert.True(t, IsRunErrorKind(err, ErrorKindUnknownKey))
	assert.ErrorIs(t, err, ErrUnknownStateKey)
	assert.Equal(t, StatusFailed, res.Status)

	_, err = r.Invoke(ctx, Delta{"bad": schema.Int(1)})
	assert.True(t, IsRunErrorKind(err, ErrorKindUnknownKey))
}

func routeGraph(t *testing.T, rec *recorder, cases []BranchCase, allowFanOut bool) *CompiledGraph {
	t.Helper()
	g := NewGraph()
	require.NoError(t, g.AddLambdaNode("classify", write(rec, "classify", Delta{})))
	require.NoError(t, g.AddLambdaNode("left", write(rec, "left", Delta{})))
	require.NoError(t, g.AddLambdaNode("right", write(rec, "right", Delta{})))
	require.NoError(t, g.AddEdge(START, "classify"))
	require.NoError(t, g.AddBranch("classify", NewPredicateBranch(cases, allowFanOut)))
	require.NoError(t, g.AddEdge("left", END))
	require.NoError(t, g.AddEdge("right", END))
	r, err := g.Compile(context.Background())
	require.NoError(t, err)
	return r
}

func when(key string) func(ctx context.Context, s State) (bool, error) {
	return func(ctx context.Context, s State) (bool, error) {
		return s.Value(key).Truthy(), nil
	}
}

func TestConditionalEdges(t *testing.T) {
	ctx := context.Background()
	cases := []BranchCase{{Target: "left", When: when("l")}, {Target: "right", When: when("r")}}

	t.Run("exactly one match", func(t *testing.T) {
		rec := &recorder{}
		res, err := routeGraph(t, rec, cases, false).Invoke(ctx, Delta{"l": schema.Bool(true)})
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, res.Status)
		assert.Equal(t, []string{"classify", "left"}, rec.list())
	})

	t.Run("no match", func(t *testing.T) {
		res, err := routeGraph(t, &recorder{}, cases, false).Invoke(ctx, Delta{})
		require.Error(t, err)
		assert.True(t, IsRunErrorKind(err, ErrorKindBranch))
		assert.Equal(t, StatusFailed, res.Status)
	})

	t.Run("default case", func(t *testing.T) {
		rec := &recorder{}
		withDefault := []BranchCase{{Target: "left", When: when("l")}, {Target: "right"}}
		_, err := routeGraph(t, rec, withDefault, false).Invoke(ctx, Delta{})
		require.NoError(t, err)
		assert.Equal(t, []string{"classify", "right"}, rec.list())
	})

	t.Run("multiple matches", func(t *testing.T) {
		in := Delta{"l": schema.Bool(true), "r": schema.Bool(true)}
		_, err := routeGraph(t, &recorder{}, cases, false).Invoke(ctx, in)
		require.Error(t, err)
		var re *GraphRunError
		require.True(t, errors.As(err, &re))
		assert.Equal(t, ErrorKindBranch, re.Kind)
		assert.Equal(t, "classify", re.NodeKey)

		rec := &recorder{}
		res, err := routeGraph(t, rec, cases, true).Invoke(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Steps)
		assert.ElementsMatch(t, []string{"classify", "left", "right"}, rec.list())
	})

	t.Run("route labels", func(t *testing.T) {
		rec := &recorder{}
		g := NewGraph()
		require.NoError(t, g.AddLambdaNode("a", write(rec, "a", Delta{})))
		require.NoError(t, g.AddLambdaNode("b", write(rec, "b", Delta{})))
		require.NoError(t, g.AddEdge(START, "a"))
		require.NoError(t, g.AddConditionalEdges("a", func(ctx context.Context, s State) (string, error) {
			label, _ := s.Value("route").AsString()
			return label, nil
		}, map[string]string{"again": "b", "done": END}))
		require.NoError(t, g.AddEdge("b", END))
		r, err := g.Compile(ctx)
		require.NoError(t, err)

		_, err = r.Invoke(ctx, Delta{"route": schema.String("again")})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, rec.list())

		_, err = r.Invoke(ctx, Delta{"route": schema.String("nope")})
		assert.True(t, IsRunErrorKind(err, ErrorKindBranch))
	})

	t.Run("branch panic", func(t *testing.T) {
		g := NewGraph()
		require.NoError(t, g.AddLambdaNode("a", noop()))
		require.NoError(t, g.AddEdge(START, "a"))
		require.NoError(t, g.AddBranch("a", NewGraphBranch(func(ctx context.Context, s State) (string, error) {
			panic("bad branch")
		}, map[string]bool{END: true})))
		r, err := g.Compile(ctx)
		require.NoError(t, err)
		_, err = r.Invoke(ctx, Delta{})
		assert.True(t, IsRunErrorKind(err, ErrorKindBranch))
		assert.Contains(t, err.Error(), "bad branch")
	})
}

func TestTriggerModes(t *testing.T) {
	// START -> {a, b}; a -> a2 -> d; b -> d; d -> END
	build := func(rec *recorder, mode NodeTriggerMode) *CompiledGraph {
		g := NewGraph(WithKeyStrategy("path", AppendStrategy()))
		for _, key := range []string{"a", "a2", "b", "d"} {
			require.NoError(t, g.AddLambdaNode(key, appendTo(rec, key, "path", schema.String(key)), WithOutputKeys("path")))
		}
		require.NoError(t, g.AddParallelEdges(START, "a", "b"))
		require.NoError(t, g.AddEdge("a", "a2"))
		require.NoError(t, g.AddEdge("a2", "d"))
		require.NoError(t, g.AddEdge("b", "d"))
		require.NoError(t, g.AddEdge("d", END))
		r, err := g.Compile(context.Background(), WithNodeTriggerMode(mode))
		require.NoError(t, err)
		return r
	}

	t.Run("any predecessor", func(t *testing.T) {
		rec := &recorder{}
		res, err := build(rec, AnyPredecessor).Invoke(context.Background(), Delta{})
		require.NoError(t, err)
		assert.Equal(t, 2, rec.count("d"))
		assert.Equal(t, []string{"a", "b", "a2", "d", "d"}, strs(res.State.Value("path")))
	})

	t.Run("all predecessor", func(t *testing.T) {
		rec := &recorder{}
		res, err := build(rec, AllPredecessor).Invoke(context.Background(), Delta{})
		require.NoError(t, err)
		assert.Equal(t, 1, rec.count("d"))
		assert.Equal(t, []string{"a", "b", "a2", "d"}, strs(res.State.Value("path")))
		assert.Equal(t, 3, res.Steps)
	})

	t.Run("all predecessor skips unselected branch", func(t *testing.T) {
		rec := &recorder{}
		g := NewGraph()
		for _, key := range []string{"a", "yes", "no", "join"} {
			require.NoError(t, g.AddLambdaNode(key, write(rec, key, Delta{})))
		}
		require.NoError(t, g.AddEdge(START, "a"))
		require.NoError(t, g.AddBranch("a", NewGraphBranch(func(ctx context.Context, s State) (string, error) {
			return "yes", nil
		}, map[string]bool{"yes": true, "no": true})))
		require.NoError(t, g.AddEdge("yes", "join"))
		require.NoError(t, g.AddEdge("no", "join"))
		require.NoError(t, g.AddEdge("join", END))
		r, err := g.Compile(context.Background(), WithNodeTriggerMode(AllPredecessor))
		require.NoError(t, err)

		res, err := r.Invoke(context.Background(), Delta{})
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, res.Status)
		assert.Equal(t, []string{"a", "yes", "join"}, rec.list())
	})
}

func TestBranchSelectingNothing(t *testing.T) {
	build := func(mode NodeTriggerMode) *CompiledGraph {
		g := NewGraph()
		require.NoError(t, g.AddLambdaNode("a", noop()))
		require.NoError(t, g.AddLambdaNode("b", noop()))
		require.NoError(t, g.AddEdge(START, "a"))
		require.NoError(t, g.AddBranch("a", NewGraphMultiBranch(func(ctx context.Context, s State) (map[string]bool, error) {
			return map[string]bool{"b": s.Value("go").Truthy()}, nil
		}, map[string]bool{"b": true, END: true})))
		require.NoError(t, g.AddEdge("b", END))
		r, err := g.Compile(context.Background(), WithNodeTriggerMode(mode))
		require.NoError(t, err)
		return r
	}

	for _, mode := range []NodeTriggerMode{AnyPredecessor, AllPredecessor} {
		t.Run(string(mode), func(t *testing.T) {
			r := build(mode)
			res, err := r.Invoke(context.Background(), Delta{})
			require.Error(t, err)
			assert.True(t, IsRunErrorKind(err, ErrorKindBranch))
			var re *GraphRunError
			require.True(t, errors.As(err, &re))
			assert.Equal(t, "a", re.NodeKey)
			assert.Equal(t, StatusFailed, res.Status)

			res, err = r.Invoke(context.Background(), Delta{"go": schema.Bool(true)})
			require.NoError(t, err)
			assert.Equal(t, StatusCompleted, res.Status)
		})
	}
}

func TestRunMustReachEnd(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	r, err := linearGraph(t, nil).Compile(ctx, WithCheckPointStore(store))
	require.NoError(t, err)

	// 挂起检查点的 frontier 为空，继续运行时不能直接视为完成
	require.NoError(t, store.Save(ctx, "t1", &Checkpoint{ThreadID: "t1", RunID: "r1", Status: StatusSuspended, Step: 1}))
	res, err := r.Invoke(ctx, Delta{}, WithThreadID("t1"))
	require.Error(t, err)
	assert.True(t, IsRunErrorKind(err, ErrorKindBranch))
	assert.Equal(t, StatusFailed, res.Status)

	require.NoError(t, store.Save(ctx, "t2", &Checkpoint{ThreadID: "t2", RunID: "r2", Status: StatusSuspended, Step: 2, Next: []string{END}}))
	res, err = r.Invoke(ctx, Delta{}, WithThreadID("t2"))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
}

func loopGraph(t *testing.T, rec *recorder, opts ...GraphCompileOption) *CompiledGraph {
	t.Helper()
	g := NewGraph()
	require.NoError(t, g.AddLambdaNode("tick", InvokableLambda(func(ctx context.Context, s State) (Delta, error) {
		rec.add("tick")
		n, _ := s.Value("n").AsNumber()
		return Delta{"n": schema.Number(n + 1)}, nil
	})))
	require.NoError(t, g.AddEdge(START, "tick"))
	require.NoError(t, g.AddBranch("tick", NewGraphBranch(func(ctx context.Context, s State) (string, error) {
		n, _ := s.Value("n").AsNumber()
		limit, ok := s.Value("limit").AsNumber()
		if ok && n >= limit {
			return END, nil
		}
		return "tick", nil
	}, map[string]bool{"tick": true, END: true})))
	r, err := g.Compile(context.Background(), opts...)
	require.NoError(t, err)
	return r
}

func TestRecursionLimit(t *testing.T) {
	ctx := context.Background()

	t.Run("loop terminates", func(t *testing.T) {
		rec := &recorder{}
		res, err := loopGraph(t, rec).Invoke(ctx, Delta{"limit": schema.Int(3)})
		require.NoError(t, err)
		assert.Equal(t, 3, rec.count("tick"))
		assert.True(t, res.State.Value("n").Equal(schema.Int(3)))
	})

	t.Run("default limit", func(t *testing.T) {
		rec := &recorder{}
		res, err := loopGraph(t, rec).Invoke(ctx, Delta{})
		require.Error(t, err)
		assert.True(t, IsRunErrorKind(err, ErrorKindRecursionLimit))
		assert.ErrorIs(t, err, ErrExceedMaxSteps)
		assert.Equal(t, StatusFailed, res.Status)
		assert.Equal(t, DefaultMaxRunSteps, rec.count("tick"))
	})

	t.Run("configured limit", func(t *testing.T) {
		rec := &recorder{}
		_, err := loopGraph(t, rec, WithMaxRunSteps(5)).Invoke(ctx, Delta{})
		assert.True(t, IsRunErrorKind(err, ErrorKindRecursionLimit))
		assert.Equal(t, 5, rec.count("tick"))
	})

	t.Run("runtime override", func(t *testing.T) {
		rec := &recorder{}
		_, err := loopGraph(t, rec, WithMaxRunSteps(5)).Invoke(ctx, Delta{}, WithRuntimeMaxSteps(2))
		assert.True(t, IsRunErrorKind(err, ErrorKindRecursionLimit))
		assert.Equal(t, 2, rec.count("tick"))
	})
}

func TestRetry(t *testing.T) {
	ctx := context.Background()
	policy := RetryPolicy{MaxRetries: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

	flaky := func(failures int32, attempts *int32) *Lambda {
		return InvokableLambda(func(ctx context.Context, s State) (Delta, error) {
			if atomic.AddInt32(attempts, 1) <= failures {
				return nil, errBoom
			}
			return Delta{"ok": schema.Bool(true)}, nil
		})
	}
	build := func(node *Lambda, opts ...GraphAddNodeOpt) *CompiledGraph {
		g := NewGraph()
		require.NoError(t, g.AddLambdaNode("flaky", node, opts...))
		require.NoError(t, g.AddEdge(START, "flaky"))
		require.NoError(t, g.AddEdge("flaky", END))
		r, err := g.Compile(ctx)
		require.NoError(t, err)
		return r
	}

	t.Run("exhausted", func(t *testing.T) {
		var attempts int32
		res, err := build(flaky(100, &attempts), WithRetryPolicy(policy)).Invoke(ctx, Delta{})
		require.Error(t, err)
		assert.EqualValues(t, 4, attempts)
		assert.ErrorIs(t, err, errBoom)
		assert.True(t, IsRunErrorKind(err, ErrorKindNodeFailed))
		assert.Equal(t, StatusFailed, res.Status)
		assert.Contains(t, res.Error, "boom")
	})

	t.Run("recovers", func(t *testing.T) {
		var attempts int32
		res, err := build(flaky(2, &attempts), WithRetryPolicy(policy)).Invoke(ctx, Delta{})
		require.NoError(t, err)
		assert.EqualValues(t, 3, attempts)
		assert.True(t, res.State.Value("ok").Truthy())
	})

	t.Run("no policy", func(t *testing.T) {
		var attempts int32
		_, err := build(flaky(1, &attempts)).Invoke(ctx, Delta{})
		require.Error(t, err)
		assert.EqualValues(t, 1, attempts)
	})

	t.Run("retry if", func(t *testing.T) {
		var attempts int32
		p := policy
		p.RetryIf = func(err error) bool { return !errors.Is(err, errBoom) }
		_, err := build(flaky(100, &attempts), WithRetryPolicy(p)).Invoke(ctx, Delta{})
		require.Error(t, err)
		assert.EqualValues(t, 1, attempts)
	})

	t.Run("callbacks see attempts", func(t *testing.T) {
		var attempts int32
		var seen []int
		h := callbacks.NewHandlerBuilder().OnStartFn(func(ctx context.Context, info *callbacks.RunInfo, _ callbacks.CallbackInput) context.Context {
			if info.Component == callbacks.ComponentNode {
				seen = append(seen, info.Attempt)
			}
			return ctx
		}).Build()
		_, err := build(flaky(2, &attempts), WithRetryPolicy(policy)).Invoke(ctx, Delta{}, WithCallbacks(h))
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2, 3}, seen)
	})
}

func TestNodePanic(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddLambdaNode("p", InvokableLambda(func(ctx context.Context, s State) (Delta, error) {
		panic("kaboom")
	})))
	require.NoError(t, g.AddEdge(START, "p"))
	require.NoError(t, g.AddEdge("p", END))
	r, err := g.Compile(context.Background())
	require.NoError(t, err)

	_, err = r.Invoke(context.Background(), Delta{})
	require.Error(t, err)
	assert.True(t, IsRunErrorKind(err, ErrorKindNodeFailed))
	assert.Contains(t, err.Error(), "kaboom")
}

func blocking(started chan<- struct{}) *Lambda {
	return InvokableLambda(func(ctx context.Context, s State) (Delta, error) {
		if started != nil {
			close(started)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return Delta{}, nil
		}
	})
}

func TestNodeTimeout(t *testing.T) {
	ctx := context.Background()
	g := NewGraph()
	require.NoError(t, g.AddLambdaNode("slow", blocking(nil), WithNodeTimeout(20*time.Millisecond)))
	require.NoError(t, g.AddEdge(START, "slow"))
	require.NoError(t, g.AddEdge("slow", END))
	r, err := g.Compile(ctx)
	require.NoError(t, err)

	start := time.Now()
	res, err := r.Invoke(ctx, Delta{})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, IsRunErrorKind(err, ErrorKindTimeout))
	assert.ErrorIs(t, err, ErrNodeTimeout)
	assert.Equal(t, StatusFailed, res.Status)

	// 调用级超时覆盖节点配置
	g2 := NewGraph()
	require.NoError(t, g2.AddLambdaNode("slow", blocking(nil)))
	require.NoError(t, g2.AddEdge(START, "slow"))
	require.NoError(t, g2.AddEdge("slow", END))
	r2, err := g2.Compile(ctx)
	require.NoError(t, err)
	_, err = r2.Invoke(ctx, Delta{}, WithRuntimeNodeTimeout(10*time.Millisecond))
	assert.True(t, IsRunErrorKind(err, ErrorKindTimeout))
}

func TestCancellation(t *testing.T) {
	t.Run("parent context", func(t *testing.T) {
		g := NewGraph()
		require.NoError(t, g.AddLambdaNode("wait", blocking(nil)))
		require.NoError(t, g.AddEdge(START, "wait"))
		require.NoError(t, g.AddEdge("wait", END))
		r, err := g.Compile(context.Background())
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		res, err := r.Invoke(ctx, Delta{})
		require.Error(t, err)
		assert.True(t, IsRunErrorKind(err, ErrorKindCanceled))
		assert.Equal(t, StatusFailed, res.Status)
	})

	t.Run("sibling failure cancels in-flight branch", func(t *testing.T) {
		var observed atomic.Bool
		g := NewGraph()
		require.NoError(t, g.AddLambdaNode("fail", InvokableLambda(func(ctx context.Context, s State) (Delta, error) {
			time.Sleep(5 * time.Millisecond)
			return nil, errBoom
		})))
		require.NoError(t, g.AddLambdaNode("wait", InvokableLambda(func(ctx context.Context, s State) (Delta, error) {
			select {
			case <-ctx.Done():
				observed.Store(true)
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return Delta{}, nil
			}
		})))
		require.NoError(t, g.AddParallelEdges(START, "fail", "wait"))
		require.NoError(t, g.AddEdge("fail", END))
		require.NoError(t, g.AddEdge("wait", END))
		r, err := g.Compile(context.Background())
		require.NoError(t, err)

		_, err = r.Invoke(context.Background(), Delta{})
		require.Error(t, err)
		assert.ErrorIs(t, err, errBoom)
		assert.True(t, observed.Load())
	})

	t.Run("already canceled", func(t *testing.T) {
		rec := &recorder{}
		r, err := linearGraph(t, rec).Compile(context.Background())
		require.NoError(t, err)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = r.Invoke(ctx, Delta{})
		assert.True(t, IsRunErrorKind(err, ErrorKindCanceled))
		assert.Empty(t, rec.list())
	})
}

func TestRunCallbacks(t *testing.T) {
	var (
		graphStarts, graphEnds int32
		nodes                  []string
	)
	h := callbacks.NewHandlerBuilder().
		OnStartFn(func(ctx context.Context, info *callbacks.RunInfo, _ callbacks.CallbackInput) context.Context {
			if info.Component == callbacks.ComponentGraph {
				atomic.AddInt32(&graphStarts, 1)
			}
			return ctx
		}).
		OnEndFn(func(ctx context.Context, info *callbacks.RunInfo, _ callbacks.CallbackOutput) context.Context {
			switch info.Component {
			case callbacks.ComponentGraph:
				atomic.AddInt32(&graphEnds, 1)
			case callbacks.ComponentNode:
				nodes = append(nodes, info.NodeKey)
			}
			return ctx
		}).Build()

	r, err := linearGraph(t, nil).Compile(context.Background(), WithGraphName("linear"))
	require.NoError(t, err)
	_, err = r.Invoke(context.Background(), Delta{}, WithCallbacks(h))
	require.NoError(t, err)
	assert.EqualValues(t, 1, graphStarts)
	assert.EqualValues(t, 1, graphEnds)
	assert.Equal(t, []string{"a", "b"}, nodes)
}
