package server

import (
	"errors"
	"io"

	"github.com/gin-gonic/gin"

	"github.com/favbox/flowgraph/compose"
	"github.com/favbox/flowgraph/schema"
)

// stream 以 SSE 推送运行输出。
// 事件名为 NodeOutput.Kind（chunk / final / suspended / completed），运行失败时发送一条 error 事件后结束。
func (s *Server) stream(c *gin.Context) {
	input, opts, ok := s.bindInvoke(c)
	if !ok {
		return
	}
	sr, err := graphOf(c).Stream(c.Request.Context(), input, opts...)
	if err != nil {
		s.respond(c, nil, err)
		return
	}
	s.pipe(c, sr)
}

func (s *Server) resumeStream(c *gin.Context) {
	feedback, opts, ok := s.bindResume(c)
	if !ok {
		return
	}
	sr, err := graphOf(c).ResumeStream(c.Request.Context(), c.Param("thread"), feedback, opts...)
	if err != nil {
		s.respond(c, nil, err)
		return
	}
	s.pipe(c, sr)
}

func (s *Server) pipe(c *gin.Context, sr *schema.StreamReader[*compose.NodeOutput]) {
	defer sr.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	for {
		out, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			s.logger.WithError(err).WithField("graph", c.Param("name")).Warn("graph stream failed")
			c.SSEvent("error", errorResponse{Error: err.Error(), Kind: kindOf(err)})
			c.Writer.Flush()
			return
		}
		c.SSEvent(string(out.Kind), out)
		c.Writer.Flush()
	}
}
