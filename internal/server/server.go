/*
 * server.go - flowgraph HTTP 服务
 *
 * 核心组件：
 *   - Server: 基于 gin 的路由，按名称暴露已编译的图
 *   - 调用：invoke / stream(SSE) / resume，线程状态查询与删除
 *   - 观测：/metrics（promhttp）、/healthz、Mermaid 图
 *
 * 所有图调用都挂上指标采集回调；请求 context 取消时运行随之取消。
 */

package server

import (
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/favbox/flowgraph/compose"
	"github.com/favbox/flowgraph/metrics"
)

// Server HTTP 服务
type Server struct {
	engine   *gin.Engine
	graphs   map[string]compose.Runnable
	names    []string
	metrics  *metrics.Collector
	logger   logrus.FieldLogger
	callOpts []compose.Option
}

// Option 服务选项
type Option func(*Server)

// WithLogger 设置日志器，默认 logrus.StandardLogger()
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithMetrics 设置指标采集器，默认新建命名空间为 flowgraph 的采集器
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Server) {
		s.metrics = c
	}
}

// WithCallOptions 追加到每次图调用的选项
func WithCallOptions(opts ...compose.Option) Option {
	return func(s *Server) {
		s.callOpts = append(s.callOpts, opts...)
	}
}

// New 创建服务，graphs 为图名到已编译图的映射
func New(graphs map[string]compose.Runnable, opts ...Option) *Server {
	s := &Server{
		graphs: graphs,
		logger: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.NewCollector("")
	}
	for name := range graphs {
		s.names = append(s.names, name)
	}
	sort.Strings(s.names)

	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.Use(gin.Recovery(), s.requestLogger())

	e.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	e.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})))

	v1 := e.Group("/v1/graphs")
	v1.GET("", s.listGraphs)
	g := v1.Group("/:name", s.lookupGraph)
	g.GET("", s.describeGraph)
	g.GET("/mermaid", s.mermaid)
	g.POST("/invoke", s.invoke)
	g.POST("/stream", s.stream)
	g.GET("/threads/:thread", s.getThread)
	g.DELETE("/threads/:thread", s.deleteThread)
	g.POST("/threads/:thread/resume", s.resume)
	g.POST("/threads/:thread/resume/stream", s.resumeStream)

	s.engine = e
	return s
}

// Handler 返回 http.Handler
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Metrics 返回指标采集器
func (s *Server) Metrics() *metrics.Collector {
	return s.metrics
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start),
		}).Debug("http request")
	}
}
