// Package metrics 图运行的 Prometheus 指标。
//
// Collector 实现 callbacks.Handler，通过 compose.WithCallbacks 或
// callbacks.AppendGlobalHandlers 接入即可采集节点与运行级指标。
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/favbox/flowgraph/callbacks"
	"github.com/favbox/flowgraph/compose"
)

// Collector 指标采集器，指标注册在私有 Registry 上
type Collector struct {
	registry *prometheus.Registry

	nodeExecutions  *prometheus.CounterVec
	nodeLatency     *prometheus.HistogramVec
	nodeRetries     *prometheus.CounterVec
	runs            *prometheus.CounterVec
	runLatency      *prometheus.HistogramVec
	runsInFlight    *prometheus.GaugeVec
	checkpointFails *prometheus.CounterVec
}

var _ callbacks.Handler = (*Collector)(nil)

// NewCollector 创建采集器，namespace 为空时使用 "flowgraph"
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "flowgraph"
	}

	c := &Collector{registry: prometheus.NewRegistry()}

	c.nodeExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "executions_total",
			Help:      "Total number of node attempts by result",
		},
		[]string{"graph", "node", "result"},
	)

	c.nodeLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "duration_seconds",
			Help:      "Time taken by a single node attempt",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms ~ 32s
		},
		[]string{"graph", "node"},
	)

	c.nodeRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "retries_total",
			Help:      "Total number of node retry attempts",
		},
		[]string{"graph", "node"},
	)

	c.runs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "total",
			Help:      "Total number of graph runs by final status",
		},
		[]string{"graph", "status"},
	)

	c.runLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "Time taken by a graph call (invoke, stream or resume)",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms ~ 40s
		},
		[]string{"graph"},
	)

	c.runsInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "in_flight",
			Help:      "Number of graph calls currently executing",
		},
		[]string{"graph"},
	)

	c.checkpointFails = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkpoint",
			Name:      "failures_total",
			Help:      "Total number of failed checkpoint operations",
		},
		[]string{"graph"},
	)

	c.registry.MustRegister(
		c.nodeExecutions,
		c.nodeLatency,
		c.nodeRetries,
		c.runs,
		c.runLatency,
		c.runsInFlight,
		c.checkpointFails,
	)

	return c
}

// Registry 返回私有 Registry，供 promhttp.HandlerFor 暴露
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

type startKey struct{}

func (c *Collector) OnStart(ctx context.Context, info *callbacks.RunInfo, _ callbacks.CallbackInput) context.Context {
	switch info.Component {
	case callbacks.ComponentGraph:
		c.runsInFlight.WithLabelValues(info.GraphName).Inc()
	case callbacks.ComponentNode:
		if info.Attempt > 1 {
			c.nodeRetries.WithLabelValues(info.GraphName, info.NodeKey).Inc()
		}
	default:
		return ctx
	}
	return context.WithValue(ctx, startKey{}, time.Now())
}

func (c *Collector) OnEnd(ctx context.Context, info *callbacks.RunInfo, output callbacks.CallbackOutput) context.Context {
	switch info.Component {
	case callbacks.ComponentGraph:
		status := string(compose.StatusCompleted)
		if res, ok := output.(*compose.RunResult); ok && res != nil {
			status = string(res.Status)
		}
		c.endRun(ctx, info, status)
	case callbacks.ComponentNode:
		c.endNode(ctx, info, "success")
	}
	return ctx
}

func (c *Collector) OnError(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
	switch info.Component {
	case callbacks.ComponentGraph:
		c.endRun(ctx, info, string(compose.StatusFailed))
	case callbacks.ComponentNode:
		c.endNode(ctx, info, nodeResult(err))
	case callbacks.ComponentCheckpoint:
		c.checkpointFails.WithLabelValues(info.GraphName).Inc()
	}
	return ctx
}

func (c *Collector) endRun(ctx context.Context, info *callbacks.RunInfo, status string) {
	c.runsInFlight.WithLabelValues(info.GraphName).Dec()
	c.runs.WithLabelValues(info.GraphName, status).Inc()
	if start, ok := ctx.Value(startKey{}).(time.Time); ok {
		c.runLatency.WithLabelValues(info.GraphName).Observe(time.Since(start).Seconds())
	}
}

func (c *Collector) endNode(ctx context.Context, info *callbacks.RunInfo, result string) {
	c.nodeExecutions.WithLabelValues(info.GraphName, info.NodeKey, result).Inc()
	if start, ok := ctx.Value(startKey{}).(time.Time); ok {
		c.nodeLatency.WithLabelValues(info.GraphName, info.NodeKey).Observe(time.Since(start).Seconds())
	}
}

func nodeResult(err error) string {
	switch {
	case errors.Is(err, compose.ErrNodeTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	if _, ok := compose.IsInterruptRerunError(err); ok {
		return "interrupted"
	}
	return "error"
}
