// Package supervisor はカメラごとのストリーミングプロセスを監視し続けるループを提供する
//
// 監視ループは単一のゴルーチンで動き、全カメラのRecordを所有する。
// 1回のパスでは設定順に各カメラを処理し、あるカメラでの失敗は
// そのカメラの中で記録して捨てるため、他のカメラの処理には影響しない。
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"

	"camsitter/internal/camera"
	"camsitter/internal/config"
	"camsitter/internal/metrics"
)

// Deps は監視ループが使う外部とのやり取り
type Deps struct {
	Inspector camera.Inspector
	Launcher  camera.Launcher
	// Configurator はconfigure_devicesが有効なときに使う。nilならv4l2-ctlを使う
	Configurator camera.Configurator
	Metrics      *metrics.Metrics // nil可
	Logger       zerolog.Logger
	Relay        zerolog.Logger // 子プロセスの診断出力の中継先
	Wake         <-chan struct{} // ホットプラグ検知による早期起床。nil可
}

// Supervisor はカメラ群の監視ループ
type Supervisor struct {
	records    []*camera.Record
	inspector  camera.Inspector
	controller *camera.Controller
	resolver   *camera.Resolver
	interval   time.Duration
	wake       <-chan struct{}
	board      *StatusBoard
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	relay      zerolog.Logger
	stopped    bool
}

// New は設定の順にカメラのRecordを作成する
// 初期デバイスの不在やハードウェアタグの解決失敗は起動時の致命的なエラーとして返す
func New(ctx context.Context, cfg *config.Config, deps Deps) (*Supervisor, error) {
	if deps.Inspector == nil || deps.Launcher == nil {
		return nil, errors.New("InspectorとLauncherは必須です")
	}

	var observer camera.Observer = camera.NopObserver{}
	if deps.Metrics != nil {
		observer = deps.Metrics
	}

	var configurator camera.Configurator
	if cfg.ConfigureDevices {
		configurator = deps.Configurator
		if configurator == nil {
			configurator = camera.NewV4L2Configurator(cfg.Device.ConfigTool, cfg.Device.Controls)
		}
	}

	controller := camera.NewController(camera.ControllerOptions{
		Inspector:    deps.Inspector,
		Launcher:     deps.Launcher,
		Configurator: configurator,
		Pipeline: camera.Pipeline{
			Binary:    cfg.Stream.Binary,
			Width:     cfg.Stream.Width,
			Height:    cfg.Stream.Height,
			FrameRate: cfg.Stream.FrameRate,
			Bitrate:   cfg.Stream.Bitrate,
		},
		DiagnosticDir: cfg.Diagnostics.Dir,
		GracePeriod:   cfg.Stream.GracePeriod,
		Observer:      observer,
		Logger:        deps.Logger,
	})

	records := make([]*camera.Record, 0, len(cfg.Cameras))
	names := make([]string, 0, len(cfg.Cameras))
	for _, cc := range cfg.Cameras {
		rec, err := camera.NewRecord(ctx, camera.Config{
			Name:   cc.Name,
			Device: cc.Device,
			Host:   cc.Host,
			Port:   cc.Port,
		}, deps.Inspector)
		if err != nil {
			return nil, err
		}

		deps.Logger.Info().Str("camera", rec.Name()).Int("device", rec.DeviceNumber).Str("tag", rec.HardwareTag).Msg("カメラを登録しました")
		records = append(records, rec)
		names = append(names, rec.Name())
	}

	s := &Supervisor{
		records:    records,
		inspector:  deps.Inspector,
		controller: controller,
		resolver:   camera.NewResolver(deps.Inspector, controller, observer, deps.Logger, cfg.Hotplug.ExcludeClaimed),
		interval:   cfg.CheckInterval,
		wake:       deps.Wake,
		board:      NewStatusBoard(names),
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		relay:      deps.Relay,
	}
	for _, rec := range records {
		s.publish(rec)
	}

	return s, nil
}

// Board はステータスのスナップショット置き場を返す
func (s *Supervisor) Board() *StatusBoard {
	return s.board
}

// Start は全カメラにデバイス設定を適用し、プロセスを起動する
// 起動時の失敗は致命的として扱い、起動済みのプロセスを止めてからエラーを返す
func (s *Supervisor) Start(ctx context.Context) error {
	for _, rec := range s.records {
		if err := s.controller.Start(ctx, rec, camera.ReasonInitial); err != nil {
			s.Shutdown()
			return fmt.Errorf("カメラ %s の起動に失敗: %w", rec.Name(), err)
		}
		s.publish(rec)
	}
	return nil
}

// Tick は全カメラを設定順に1回ずつ処理する
func (s *Supervisor) Tick(ctx context.Context) {
	start := time.Now()

	for _, rec := range s.records {
		if err := s.processCamera(ctx, rec); err != nil {
			s.logger.Error().
				Err(err).
				Str("camera", rec.Name()).
				Int("device", rec.DeviceNumber).
				Str("state", string(rec.State)).
				Msg("カメラの処理に失敗しました")
			rec.RecordError(err)
			if s.metrics != nil {
				s.metrics.CameraError(rec.Name())
			}
		}
		s.publish(rec)
	}

	if s.metrics != nil {
		s.metrics.ObserveTick(time.Since(start))
	}
}

// processCamera は1台のカメラを処理する。panicもエラーとして返す
func (s *Supervisor) processCamera(ctx context.Context, rec *camera.Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("カメラ %s の処理中にpanicが発生: %v", rec.Name(), r)
		}
	}()

	if err := s.relayDiagnostics(rec); err != nil {
		return err
	}

	if !s.inspector.Exists(rec.DeviceNumber) {
		_, err := s.resolver.Resolve(ctx, rec, s.claimed())
		return err
	}

	switch {
	case rec.Process == nil:
		// 前回の起動かデバイス設定に失敗している
		return s.controller.Start(ctx, rec, camera.ReasonRetry)

	case rec.Process.Exited():
		s.logger.Warn().
			Str("camera", rec.Name()).
			Int("device", rec.DeviceNumber).
			Int("pid", rec.Process.Pid()).
			Str("run_id", rec.RunID).
			AnErr("exit", rec.Process.ExitError()).
			Msg("プロセスが予期せず終了しました。再起動します")
		return s.controller.Spawn(rec, camera.ReasonRespawn)

	case rec.State == camera.StateSearching:
		// 同じ番号でデバイスが戻り、プロセスも生きている
		s.logger.Info().Str("camera", rec.Name()).Int("device", rec.DeviceNumber).Msg("デバイスが戻りました")
		rec.State = camera.StateRunning
	}

	return nil
}

// relayDiagnostics は診断出力の新しい行を中継ロガーへ書き出す
func (s *Supervisor) relayDiagnostics(rec *camera.Record) error {
	diag := rec.Diagnostic()
	if diag == nil {
		return nil
	}

	lines, err := diag.Drain()
	for _, line := range lines {
		s.relay.Info().
			Str("camera", rec.Name()).
			Int("device", rec.DeviceNumber).
			Str("tag", rec.HardwareTag).
			Msg(line)
	}
	if s.metrics != nil {
		s.metrics.DiagnosticRelayed(rec.Name(), len(lines))
	}

	return err
}

// claimed は各カメラが現在使っているデバイス番号を返す
func (s *Supervisor) claimed() map[int]string {
	result := make(map[int]string, len(s.records))
	for _, rec := range s.records {
		result[rec.DeviceNumber] = rec.Name()
	}
	return result
}

func (s *Supervisor) publish(rec *camera.Record) {
	snap := rec.Snapshot()
	s.board.Publish(snap)
	if s.metrics != nil {
		s.metrics.ObserveCamera(snap.Name, snap.State)
	}
}

// Serve は監視ループを実行する。suture.Serviceを実装する
// コンテキストがキャンセルされると全プロセスを終了させてから戻る
func (s *Supervisor) Serve(ctx context.Context) error {
	if s.stopped {
		return suture.ErrDoNotRestart
	}
	s.logger.Info().Dur("interval", s.interval).Int("cameras", len(s.records)).Msg("監視ループを開始します")

	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		s.Tick(ctx)

		timer.Reset(s.interval)
		select {
		case <-ctx.Done():
			s.Shutdown()
			return ctx.Err()
		case <-timer.C:
		case <-s.wake:
			s.logger.Debug().Msg("デバイスの変化を検知しました")
		}
	}
}

// Shutdown は全カメラのプロセスを終了させ、診断出力チャンネルを閉じる
func (s *Supervisor) Shutdown() {
	if s.stopped {
		return
	}
	s.stopped = true

	for _, rec := range s.records {
		if err := s.controller.Terminate(rec); err != nil {
			s.logger.Error().Err(err).Str("camera", rec.Name()).Msg("プロセスの終了に失敗しました")
		}
		// 残りの診断出力を読み切ってから閉じる
		if err := s.relayDiagnostics(rec); err != nil {
			s.logger.Warn().Err(err).Str("camera", rec.Name()).Msg("診断出力の読み取りに失敗しました")
		}
		if err := rec.Close(); err != nil {
			s.logger.Warn().Err(err).Str("camera", rec.Name()).Msg("診断出力を閉じられませんでした")
		}
		rec.State = camera.StateUnbound
		s.publish(rec)
	}

	s.logger.Info().Msg("全カメラのプロセスを終了しました")
}

// String はsutureのログで使う名前を返す
func (s *Supervisor) String() string {
	return "camera-supervisor"
}
