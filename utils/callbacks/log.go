package callbacks

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/favbox/flowgraph/callbacks"
	"github.com/favbox/flowgraph/compose"
)

type logStartKey struct{}

// NewLogHandler 创建日志回调处理器，图运行与节点的开始、结束、出错都会记录。
// 开始与成功结束记为 Debug，图运行结束记为 Info，出错记为 Error。
func NewLogHandler(logger logrus.FieldLogger) callbacks.Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return callbacks.NewHandlerBuilder().
		OnStartFn(func(ctx context.Context, info *callbacks.RunInfo, _ callbacks.CallbackInput) context.Context {
			fields(logger, info).Debug("start")
			return context.WithValue(ctx, logStartKey{}, time.Now())
		}).
		OnEndFn(func(ctx context.Context, info *callbacks.RunInfo, output callbacks.CallbackOutput) context.Context {
			entry := withElapsed(ctx, fields(logger, info))
			if res, ok := output.(*compose.RunResult); ok && res != nil {
				entry.WithFields(logrus.Fields{
					"status": res.Status,
					"steps":  res.Steps,
				}).Info("run finished")
				return ctx
			}
			entry.Debug("end")
			return ctx
		}).
		OnErrorFn(func(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
			withElapsed(ctx, fields(logger, info)).WithError(err).Error("failed")
			return ctx
		}).
		Build()
}

func fields(logger logrus.FieldLogger, info *callbacks.RunInfo) logrus.FieldLogger {
	f := logrus.Fields{
		"component": info.Component,
		"graph":     info.GraphName,
		"thread_id": info.ThreadID,
		"run_id":    info.RunID,
	}
	if info.NodeKey != "" {
		f["node"] = info.NodeKey
		f["step"] = info.Step
		f["attempt"] = info.Attempt
	}
	return logger.WithFields(f)
}

func withElapsed(ctx context.Context, entry logrus.FieldLogger) logrus.FieldLogger {
	if start, ok := ctx.Value(logStartKey{}).(time.Time); ok {
		return entry.WithField("elapsed", time.Since(start))
	}
	return entry
}
