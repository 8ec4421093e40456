package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/favbox/flowgraph/compose"
)

const graphKey = "flowgraph.graph"

// invokeRequest invoke / stream 请求体
type invokeRequest struct {
	ThreadID    string         `json:"thread_id"`
	Input       map[string]any `json:"input"`
	ForceNewRun bool           `json:"force_new_run"`
	MaxSteps    int            `json:"max_steps"`
}

// resumeRequest resume 请求体
type resumeRequest struct {
	Feedback map[string]any `json:"feedback"`
	MaxSteps int            `json:"max_steps"`
}

// errorResponse 错误响应，运行失败时附带 Failed 状态的运行结果
type errorResponse struct {
	Error  string             `json:"error"`
	Kind   string             `json:"kind,omitempty"`
	Result *compose.RunResult `json:"result,omitempty"`
}

type graphSummary struct {
	Name  string `json:"name"`
	Nodes int    `json:"nodes"`
	Edges int    `json:"edges"`
}

func (s *Server) lookupGraph(c *gin.Context) {
	name := c.Param("name")
	g, ok := s.graphs[name]
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, errorResponse{Error: "graph not found: " + name})
		return
	}
	c.Set(graphKey, g)
	c.Next()
}

func graphOf(c *gin.Context) compose.Runnable {
	return c.MustGet(graphKey).(compose.Runnable)
}

func (s *Server) listGraphs(c *gin.Context) {
	out := make([]graphSummary, 0, len(s.names))
	for _, name := range s.names {
		info := s.graphs[name].GraphInfo()
		out = append(out, graphSummary{Name: name, Nodes: len(info.Nodes), Edges: len(info.Edges)})
	}
	c.JSON(http.StatusOK, gin.H{"graphs": out})
}

func (s *Server) describeGraph(c *gin.Context) {
	c.JSON(http.StatusOK, graphOf(c).GraphInfo())
}

func (s *Server) mermaid(c *gin.Context) {
	c.String(http.StatusOK, graphOf(c).GraphInfo().Mermaid())
}

func (s *Server) invoke(c *gin.Context) {
	input, opts, ok := s.bindInvoke(c)
	if !ok {
		return
	}
	res, err := graphOf(c).Invoke(c.Request.Context(), input, opts...)
	s.respond(c, res, err)
}

func (s *Server) resume(c *gin.Context) {
	feedback, opts, ok := s.bindResume(c)
	if !ok {
		return
	}
	res, err := graphOf(c).Resume(c.Request.Context(), c.Param("thread"), feedback, opts...)
	s.respond(c, res, err)
}

func (s *Server) getThread(c *gin.Context) {
	cp, err := graphOf(c).GetState(c.Request.Context(), c.Param("thread"))
	if err != nil {
		c.JSON(statusFor(err), errorResponse{Error: err.Error(), Kind: kindOf(err)})
		return
	}
	c.JSON(http.StatusOK, cp)
}

func (s *Server) deleteThread(c *gin.Context) {
	if err := graphOf(c).DeleteThread(c.Request.Context(), c.Param("thread")); err != nil {
		c.JSON(statusFor(err), errorResponse{Error: err.Error(), Kind: kindOf(err)})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) bindInvoke(c *gin.Context) (compose.Delta, []compose.Option, bool) {
	var req invokeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
			return nil, nil, false
		}
	}
	input, err := compose.DeltaFromMap(req.Input)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return nil, nil, false
	}

	opts := s.baseOptions()
	if req.ThreadID != "" {
		opts = append(opts, compose.WithThreadID(req.ThreadID))
	}
	if req.ForceNewRun {
		opts = append(opts, compose.WithForceNewRun())
	}
	if req.MaxSteps > 0 {
		opts = append(opts, compose.WithRuntimeMaxSteps(req.MaxSteps))
	}
	return input, opts, true
}

func (s *Server) bindResume(c *gin.Context) (compose.Delta, []compose.Option, bool) {
	var req resumeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
			return nil, nil, false
		}
	}
	feedback, err := compose.DeltaFromMap(req.Feedback)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return nil, nil, false
	}
	opts := s.baseOptions()
	if req.MaxSteps > 0 {
		opts = append(opts, compose.WithRuntimeMaxSteps(req.MaxSteps))
	}
	return feedback, opts, true
}

func (s *Server) baseOptions() []compose.Option {
	opts := make([]compose.Option, 0, len(s.callOpts)+4)
	opts = append(opts, s.callOpts...)
	return append(opts, compose.WithCallbacks(s.metrics))
}

func (s *Server) respond(c *gin.Context, res *compose.RunResult, err error) {
	if err != nil {
		s.logger.WithError(err).WithField("graph", c.Param("name")).Warn("graph call failed")
		c.JSON(statusFor(err), errorResponse{Error: err.Error(), Kind: kindOf(err), Result: res})
		return
	}
	c.JSON(http.StatusOK, res)
}

// statusFor 运行错误到 HTTP 状态码
func statusFor(err error) int {
	if errors.Is(err, compose.ErrCheckpointMismatch) {
		return http.StatusConflict
	}
	if errors.Is(err, compose.ErrNoCheckpoint) {
		return http.StatusNotFound
	}
	var re *compose.GraphRunError
	if errors.As(err, &re) {
		switch re.Kind {
		case compose.ErrorKindUnknownKey:
			return http.StatusBadRequest
		case compose.ErrorKindTimeout:
			return http.StatusGatewayTimeout
		case compose.ErrorKindCanceled:
			return http.StatusRequestTimeout
		case compose.ErrorKindCheckpoint:
			return http.StatusServiceUnavailable
		default:
			return http.StatusUnprocessableEntity
		}
	}
	var ce *compose.CheckpointError
	if errors.As(err, &ce) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func kindOf(err error) string {
	var re *compose.GraphRunError
	if errors.As(err, &re) {
		return string(re.Kind)
	}
	var ce *compose.CheckpointError
	if errors.As(err, &ce) {
		return "Checkpoint"
	}
	return ""
}
