/*
 * main.go - flowgraph 服务入口
 *
 * 启动流程：
 *   - 读取配置（YAML 文件、.env、FLOWGRAPH_* 环境变量）
 *   - 打开检查点存储（memory / redis / postgres / sql）
 *   - 编译 graph_dir 下的声明式图
 *   - 启动 HTTP 服务，收到 SIGINT / SIGTERM 后优雅退出
 */

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/favbox/flowgraph/callbacks"
	"github.com/favbox/flowgraph/compose"
	"github.com/favbox/flowgraph/flow/dsl"
	"github.com/favbox/flowgraph/internal/config"
	"github.com/favbox/flowgraph/internal/server"
	"github.com/favbox/flowgraph/metrics"
	ucb "github.com/favbox/flowgraph/utils/callbacks"
)

func main() {
	configPath := flag.String("config", "flowgraph.yaml", "path to the YAML config file")
	envFile := flag.String("env", "", "path to the .env file (default ./.env)")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	logger := cfg.NewLogger()

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("flowgraph exited")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg.Checkpoint)
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}
	defer closeStore()

	graphs, err := loadGraphs(ctx, cfg, store, logger)
	if err != nil {
		return err
	}
	if len(graphs) == 0 {
		logger.WithField("dir", cfg.GraphDir).Warn("no graphs loaded")
	}

	callbacks.AppendGlobalHandlers(ucb.NewHandlerHelper().
		Graph(ucb.NewLogHandler(logger)).
		Checkpoint(ucb.NewLogHandler(logger)).
		Handler())

	srv := server.New(graphs,
		server.WithLogger(logger),
		server.WithMetrics(metrics.NewCollector("flowgraph")),
	)

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"listen":  cfg.Listen,
			"backend": cfg.Checkpoint.Backend,
			"graphs":  len(graphs),
		}).Info("flowgraph started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// loadGraphs 编译目录下所有图，运行参数只在文档未声明时生效
func loadGraphs(ctx context.Context, cfg *config.Config, store compose.CheckPointStore, logger *logrus.Logger) (map[string]compose.Runnable, error) {
	docs, err := dsl.LoadDir(cfg.GraphDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]compose.Runnable{}, nil
		}
		return nil, fmt.Errorf("load graphs: %w", err)
	}

	registry := dsl.NewRegistry()
	graphs := make(map[string]compose.Runnable, len(docs))
	for _, doc := range docs {
		if _, dup := graphs[doc.Name]; dup {
			return nil, fmt.Errorf("duplicate graph name %q", doc.Name)
		}

		opts := []compose.GraphCompileOption{
			compose.WithCheckPointStore(compose.NamespacedStore(store, doc.Name)),
			compose.WithLogger(logger),
		}
		if doc.MaxSteps == 0 && cfg.Runtime.MaxSteps > 0 {
			opts = append(opts, compose.WithMaxRunSteps(cfg.Runtime.MaxSteps))
		}
		if cfg.Runtime.NodeTimeout > 0 {
			opts = append(opts, compose.WithDefaultNodeTimeout(cfg.Runtime.NodeTimeout))
		}
		if cfg.Runtime.MaxConcurrency > 0 {
			opts = append(opts, compose.WithMaxConcurrency(cfg.Runtime.MaxConcurrency))
		}
		if cfg.Checkpoint.BestEffort {
			opts = append(opts, compose.WithBestEffortCheckpoint())
		}

		cg, err := dsl.Compile(ctx, doc, registry, opts...)
		if err != nil {
			return nil, fmt.Errorf("compile graph %q: %w", doc.Name, err)
		}
		graphs[doc.Name] = cg
		logger.WithFields(logrus.Fields{
			"graph": doc.Name,
			"nodes": len(doc.Nodes),
		}).Debug("graph compiled")
	}
	return graphs, nil
}
