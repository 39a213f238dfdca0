// Package http 组装 gin 引擎：访问日志、panic 恢复、/healthz、/metrics 以及各业务路由。
package http

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"exhub/internal/logger"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Registrar 是可挂载到 /api 分组下的路由。
type Registrar interface {
	Register(group *gin.RouterGroup)
}

type Config struct {
	Addr     string
	Gatherer prometheus.Gatherer // nil 时使用默认 Registry
	Logger   *zap.Logger         // nil 时使用全局 logger
}

// Server 是状态 HTTP 服务。
type Server struct {
	addr   string
	router *gin.Engine
}

func NewServer(cfg Config, routes ...Registrar) (*Server, error) {
	if cfg.Addr == "" {
		return nil, errors.New("http addr 不能为空")
	}
	zl := cfg.Logger
	if zl == nil {
		zl = logger.Named("http")
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(ginzap.Ginzap(zl, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(zl, true))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(stdhttp.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := router.Group("/api")
	for _, r := range routes {
		if r != nil {
			r.Register(api)
		}
	}
	return &Server{addr: cfg.Addr, router: router}, nil
}

// Handler 返回底层引擎，测试中配合 httptest 使用。
func (s *Server) Handler() stdhttp.Handler { return s.router }

func (s *Server) Addr() string { return s.addr }

// Start 启动 HTTP 服务，阻塞直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	srv := &stdhttp.Server{Addr: s.addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Infof("[http] 状态服务监听 %s", s.addr)

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}
