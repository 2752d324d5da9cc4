package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"camsitter/internal/camera"
	"camsitter/internal/hotplug"
	"camsitter/internal/logging"
	"camsitter/internal/metrics"
	"camsitter/internal/server"
	"camsitter/internal/supervisor"
)

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "カメラの監視を開始する",
		Long: `設定された全カメラのストリーミングプロセスを起動し、監視を続けます。
SIGINTまたはSIGTERMを受け取ると、全プロセスを終了させてから終了します。`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSupervisor(cmd, opts)
		},
	}
}

func runSupervisor(cmd *cobra.Command, opts *rootOptions) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cmd.ErrOrStderr(),
	})
	relay := logging.NewRelay(cmd.OutOrStdout())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	deps := supervisor.Deps{
		Inspector: camera.NewLinuxInspector(cfg.Device.Dir, cfg.Device.Prefix, cfg.Device.TagKey, cfg.Device.QueryTool),
		Launcher:  camera.NewExecLauncher(),
		Metrics:   m,
		Logger:    logger,
		Relay:     relay,
	}

	var watcher *hotplug.Watcher
	if cfg.Hotplug.Watch {
		watcher, err = hotplug.New(cfg.Device.Dir, cfg.Device.Prefix, logger)
		if err != nil {
			// ポーリングだけでも動作する
			logger.Warn().Err(err).Msg("デバイスディレクトリを監視できません。ポーリングのみで動作します")
			watcher = nil
		} else {
			deps.Wake = watcher.C()
		}
	}

	sup, err := supervisor.New(ctx, cfg, deps)
	if err != nil {
		closeWatcher(watcher)
		return err
	}
	if err := sup.Start(ctx); err != nil {
		closeWatcher(watcher)
		return err
	}

	// 全カメラのプロセスを猶予期間内に止められるだけの時間を確保する
	shutdownTimeout := time.Duration(len(cfg.Cameras))*2*cfg.Stream.GracePeriod + 5*time.Second
	tree := supervisor.NewTree(logger, supervisor.TreeConfig{ShutdownTimeout: shutdownTimeout})
	tree.AddCameraService(sup)
	if watcher != nil {
		tree.AddCameraService(watcher)
	}
	if cfg.Status.Enabled {
		tree.AddAPIService(server.New(server.Options{
			Listen:   cfg.Status.Listen,
			Status:   sup.Board(),
			Gatherer: m.Registry,
			Logger:   logger,
		}))
	}

	logger.Info().Int("cameras", len(cfg.Cameras)).Msg("camsitterを開始しました")

	err = tree.Serve(ctx)
	if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		logger.Warn().Int("services", len(report)).Msg("終了しなかったサービスがあります")
	} else {
		// Serveが一度も呼ばれずに終わった場合でもプロセスを残さない
		sup.Shutdown()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info().Msg("camsitterを終了しました")
	return nil
}

func closeWatcher(w *hotplug.Watcher) {
	if w != nil {
		_ = w.Close()
	}
}
