package compose

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/favbox/flowgraph/schema"
)

// approvalGraph START -> wait(人工) -> done -> END
func approvalGraph(t *testing.T, name string, store CheckPointStore) *CompiledGraph {
	t.Helper()
	g := NewGraph()
	require.NoError(t, g.AddHumanNode("wait", nil))
	require.NoError(t, g.AddLambdaNode("done", write(nil, "done", Delta{"done": schema.Bool(true)})))
	require.NoError(t, g.AddEdge(START, "wait"))
	require.NoError(t, g.AddEdge("wait", "done"))
	require.NoError(t, g.AddEdge("done", END))
	r, err := g.Compile(context.Background(), WithGraphName(name), WithCheckPointStore(store))
	require.NoError(t, err)
	return r
}

// otherGraph START -> x -> END，节点与 approvalGraph 不同
func otherGraph(t *testing.T, name string, store CheckPointStore) *CompiledGraph {
	t.Helper()
	g := NewGraph()
	require.NoError(t, g.AddLambdaNode("x", noop()))
	require.NoError(t, g.AddEdge(START, "x"))
	require.NoError(t, g.AddEdge("x", END))
	r, err := g.Compile(context.Background(), WithGraphName(name), WithCheckPointStore(store))
	require.NoError(t, err)
	return r
}

func assertMismatch(t *testing.T, err error, op string) {
	t.Helper()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCheckpointMismatch)
	var ce *CheckpointError
	require.True(t, errors.As(err, &ce), "%v", err)
	assert.Equal(t, op, ce.Op)
}

func TestForeignCheckpoint(t *testing.T) {
	convey.Convey("共用存储的两个图", t, func() {
		ctx := context.Background()
		store := newTestStore()
		a := approvalGraph(t, "a", store)

		res, err := a.Invoke(ctx, Delta{}, WithThreadID("t1"))
		convey.So(err, convey.ShouldBeNil)
		convey.So(res.Status, convey.ShouldEqual, StatusSuspended)

		convey.Convey("图名不同的检查点被拒绝", func() {
			b := otherGraph(t, "b", store)

			_, err := b.Resume(ctx, "t1", Delta{})
			assertMismatch(t, err, "load")

			_, err = b.Invoke(ctx, Delta{}, WithThreadID("t1"))
			assertMismatch(t, err, "load")

			sr, err := b.ResumeStream(ctx, "t1", Delta{})
			convey.So(err, convey.ShouldBeNil)
			_, err = collect(t, sr)
			assertMismatch(t, err, "load")

			_, err = b.GetState(ctx, "t1")
			assertMismatch(t, err, "load")

			assertMismatch(t, b.DeleteThread(ctx, "t1"), "delete")

			cp, err := a.GetState(ctx, "t1")
			convey.So(err, convey.ShouldBeNil)
			convey.So(cp.Next, convey.ShouldResemble, []string{"wait"})
		})

		convey.Convey("同名但引用未知节点的检查点被拒绝", func() {
			b := otherGraph(t, "a", store)
			_, err := b.Resume(ctx, "t1", Delta{})
			assertMismatch(t, err, "load")
			convey.So(err.Error(), convey.ShouldContainSubstring, "wait")
		})

		convey.Convey("原图仍可恢复", func() {
			res, err := a.Resume(ctx, "t1", Delta{})
			convey.So(err, convey.ShouldBeNil)
			convey.So(res.Status, convey.ShouldEqual, StatusCompleted)
		})
	})
}

func TestNamespacedStore(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	a := approvalGraph(t, "a", NamespacedStore(store, "a"))
	b := otherGraph(t, "b", NamespacedStore(store, "b"))

	res, err := a.Invoke(ctx, Delta{}, WithThreadID("t1"))
	require.NoError(t, err)
	assert.Equal(t, StatusSuspended, res.Status)
	assert.Contains(t, store.data, "a/t1")
	assert.NotContains(t, store.data, "t1")

	_, err = b.Resume(ctx, "t1", Delta{})
	assert.ErrorIs(t, err, ErrNoCheckpoint)

	// 同一 thread id 在 b 中是一次全新运行
	res, err = b.Invoke(ctx, Delta{}, WithThreadID("t1"))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Contains(t, store.data, "b/t1")

	res, err = a.Resume(ctx, "t1", Delta{})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "t1", res.ThreadID)

	assert.Same(t, CheckPointStore(store), NamespacedStore(store, ""))
}

// panicStore 读取时 panic 的存储
type panicStore struct {
	*testStore
}

func (s *panicStore) Load(context.Context, string) (*Checkpoint, bool, error) {
	panic("corrupted checkpoint")
}

func TestStreamRecoversRunnerPanic(t *testing.T) {
	ctx := context.Background()
	r := approvalGraph(t, "a", &panicStore{newTestStore()})

	sr, err := r.ResumeStream(ctx, "t1", Delta{})
	require.NoError(t, err)
	outs, err := collect(t, sr)
	require.Error(t, err)
	assert.Empty(t, outs)
	assert.Contains(t, err.Error(), "corrupted checkpoint")

	// 线程锁已释放，后续调用不会卡住
	sr, err = r.Stream(ctx, Delta{}, WithThreadID("t1"))
	require.NoError(t, err)
	_, err = collect(t, sr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupted checkpoint")
}

func TestGetStateDoesNotWaitForRun(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	started := make(chan struct{})
	g := NewGraph()
	require.NoError(t, g.AddLambdaNode("first", noop()))
	require.NoError(t, g.AddLambdaNode("wait", blocking(started)))
	require.NoError(t, g.AddEdge(START, "first"))
	require.NoError(t, g.AddEdge("first", "wait"))
	require.NoError(t, g.AddEdge("wait", END))
	r, err := g.Compile(ctx, WithCheckPointStore(store))
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = r.Invoke(runCtx, Delta{}, WithThreadID("busy"))
	}()
	<-started

	readCtx, readCancel := context.WithTimeout(ctx, time.Second)
	defer readCancel()
	cp, err := r.GetState(readCtx, "busy")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, cp.Status)
	assert.Equal(t, []string{"wait"}, cp.Next)

	cancel()
	<-done
}

func TestOneRunPerThread(t *testing.T) {
	ctx := context.Background()

	t.Run("same thread runs serially", func(t *testing.T) {
		var active, maxActive int32
		g := NewGraph(WithKeyStrategy("runs", AppendStrategy()))
		require.NoError(t, g.AddLambdaNode("work", InvokableLambda(func(ctx context.Context, s State) (Delta, error) {
			n := atomic.AddInt32(&active, 1)
			defer atomic.AddInt32(&active, -1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(30 * time.Millisecond)
			return Delta{"runs": schema.String("run")}, nil
		})))
		require.NoError(t, g.AddEdge(START, "work"))
		require.NoError(t, g.AddEdge("work", END))
		r, err := g.Compile(ctx, WithCheckPointStore(newTestStore()))
		require.NoError(t, err)

		var wg sync.WaitGroup
		results := make([]*RunResult, 2)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				res, err := r.Invoke(ctx, Delta{}, WithThreadID("shared"))
				assert.NoError(t, err)
				results[i] = res
			}(i)
		}
		wg.Wait()

		assert.EqualValues(t, 1, maxActive)
		require.NotNil(t, results[0])
		require.NotNil(t, results[1])
		// 后执行的调用在先完成的检查点上开始新一轮
		lens := []int{results[0].State.Value("runs").Len(), results[1].State.Value("runs").Len()}
		assert.ElementsMatch(t, []int{1, 2}, lens)
		assert.NotEqual(t, results[0].RunID, results[1].RunID)
	})

	t.Run("distinct threads run in parallel", func(t *testing.T) {
		var arrived int32
		both := make(chan struct{})
		g := NewGraph()
		require.NoError(t, g.AddLambdaNode("meet", InvokableLambda(func(ctx context.Context, s State) (Delta, error) {
			if atomic.AddInt32(&arrived, 1) == 2 {
				close(both)
			}
			select {
			case <-both:
				return Delta{"met": schema.Bool(true)}, nil
			case <-time.After(2 * time.Second):
				return nil, errors.New("the other thread never ran concurrently")
			}
		})))
		require.NoError(t, g.AddEdge(START, "meet"))
		require.NoError(t, g.AddEdge("meet", END))
		r, err := g.Compile(ctx, WithCheckPointStore(newTestStore()))
		require.NoError(t, err)

		var wg sync.WaitGroup
		for _, id := range []string{"t1", "t2"} {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				res, err := r.Invoke(ctx, Delta{}, WithThreadID(id))
				if assert.NoError(t, err) {
					assert.Equal(t, StatusCompleted, res.Status)
				}
			}(id)
		}
		wg.Wait()
	})

	t.Run("busy thread with canceled context", func(t *testing.T) {
		started := make(chan struct{})
		g := NewGraph()
		require.NoError(t, g.AddLambdaNode("wait", blocking(started)))
		require.NoError(t, g.AddEdge(START, "wait"))
		require.NoError(t, g.AddEdge("wait", END))
		r, err := g.Compile(ctx)
		require.NoError(t, err)

		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			_, _ = r.Invoke(runCtx, Delta{}, WithThreadID("busy"))
		}()
		<-started

		waitCtx, waitCancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer waitCancel()
		res, err := r.Invoke(waitCtx, Delta{}, WithThreadID("busy"))
		assert.Nil(t, res)
		assert.True(t, IsRunErrorKind(err, ErrorKindCanceled), "%v", err)

		cancel()
		<-done
	})
}

func TestDefaultRetryPolicy(t *testing.T) {
	ctx := context.Background()
	build := func(failures int32, calls *int32) *Graph {
		g := NewGraph()
		require.NoError(t, g.AddLambdaNode("flaky", InvokableLambda(func(ctx context.Context, s State) (Delta, error) {
			if atomic.AddInt32(calls, 1) <= failures {
				return nil, errBoom
			}
			return Delta{"ok": schema.Bool(true)}, nil
		})))
		require.NoError(t, g.AddEdge(START, "flaky"))
		require.NoError(t, g.AddEdge("flaky", END))
		return g
	}
	policy := WithDefaultRetryPolicy(RetryPolicy{MaxRetries: 2, InitialInterval: time.Millisecond})

	var calls int32
	r, err := build(2, &calls).Compile(ctx, policy)
	require.NoError(t, err)
	res, err := r.Invoke(ctx, Delta{})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.EqualValues(t, 3, calls)

	calls = 0
	r, err = build(5, &calls).Compile(ctx, policy)
	require.NoError(t, err)
	res, err = r.Invoke(ctx, Delta{})
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, StatusFailed, res.Status)
	assert.EqualValues(t, 3, calls)
}
