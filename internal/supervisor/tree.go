package supervisor

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"camsitter/internal/logging"
)

// TreeConfig はsutureツリーの再起動ポリシー
type TreeConfig struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

// DefaultTreeConfig は既定の再起動ポリシーを返す
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree は監視ループとステータスサーバーを束ねるsutureツリー
//
//	camsitter
//	├── cameras  (監視ループ)
//	└── api      (ステータスサーバー)
type Tree struct {
	root    *suture.Supervisor
	cameras *suture.Supervisor
	api     *suture.Supervisor
}

// NewTree は新しいTreeを作成する。ツリーのイベントはzerologへ流す
func NewTree(logger zerolog.Logger, cfg TreeConfig) *Tree {
	d := DefaultTreeConfig()
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = d.FailureThreshold
	}
	if cfg.FailureDecay == 0 {
		cfg.FailureDecay = d.FailureDecay
	}
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = d.FailureBackoff
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = d.ShutdownTimeout
	}

	handler := &sutureslog.Handler{Logger: logging.NewSlogLogger(logger.With().Str("component", "suture").Logger())}

	rootSpec := suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}
	childSpec := suture.Spec{
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}

	root := suture.New("camsitter", rootSpec)
	cameras := suture.New("cameras", childSpec)
	api := suture.New("api", childSpec)
	root.Add(cameras)
	root.Add(api)

	return &Tree{root: root, cameras: cameras, api: api}
}

// AddCameraService は監視ループ側にサービスを追加する
func (t *Tree) AddCameraService(svc suture.Service) suture.ServiceToken {
	return t.cameras.Add(svc)
}

// AddAPIService はステータスサーバー側にサービスを追加する
func (t *Tree) AddAPIService(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

// Serve はツリーを実行し、コンテキストがキャンセルされるまでブロックする
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// UnstoppedServiceReport は終了しなかったサービスを返す
func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}
