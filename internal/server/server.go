package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// shutdownTimeout はグレースフルシャットダウンを待つ時間
const shutdownTimeout = 5 * time.Second

// Options はServerの構成
type Options struct {
	Listen   string
	Status   StatusProvider
	Gatherer prometheus.Gatherer // nilなら /metrics を公開しない
	Logger   zerolog.Logger
}

// Server は読み取り専用のステータスHTTPサーバー
type Server struct {
	listen     string
	engine     *gin.Engine
	httpServer *http.Server
	logger     zerolog.Logger
}

// New は新しいServerインスタンスを作成する
func New(opts Options) *Server {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(opts.Logger))

	s := &Server{
		listen: opts.Listen,
		engine: engine,
		logger: opts.Logger,
		httpServer: &http.Server{
			Addr:              opts.Listen,
			Handler:           engine,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
		},
	}
	s.setupRoutes(&StatusHandler{status: opts.Status}, opts.Gatherer)

	return s
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes(h *StatusHandler, gatherer prometheus.Gatherer) {
	// ヘルスチェックエンドポイント
	s.engine.GET("/health", h.HealthCheck)

	// APIエンドポイント
	api := s.engine.Group("/api")
	api.GET("/cameras", h.GetCameras)
	api.GET("/cameras/:name", h.GetCamera)

	if gatherer != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
}

// Handler はルーティング済みのハンドラを返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Serve はサーバーを起動し、コンテキストがキャンセルされるまでブロックする
// suture.Serviceを実装する
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("%s で待ち受けできません: %w", s.listen, err)
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info().Str("listen", ln.Addr().String()).Msg("ステータスサーバーを起動しています")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ステータスサーバーが停止しました: %w", err)
		}
		return nil

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("サーバーのシャットダウンに失敗: %w", err)
		}

		<-errCh
		s.logger.Info().Msg("ステータスサーバーを停止しました")
		return ctx.Err()
	}
}

// String はsutureのログで使う名前を返す
func (s *Server) String() string {
	return "status-server"
}

// requestLogger はリクエストをzerologへ記録するミドルウェア
func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("HTTPリクエスト")
	}
}
