package camera

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultGracePeriod はSIGTERMからSIGKILLへ切り替えるまでの既定の待ち時間
const DefaultGracePeriod = time.Second

// ControllerOptions はController の構成
type ControllerOptions struct {
	Inspector     Inspector
	Launcher      Launcher
	Configurator  Configurator // nilならデバイス設定を行わない
	Pipeline      Pipeline
	DiagnosticDir string
	GracePeriod   time.Duration
	Observer      Observer
	Logger        zerolog.Logger
}

// Controller はカメラに紐づくストリーミングプロセスの起動と終了を担う
type Controller struct {
	inspector    Inspector
	launcher     Launcher
	configurator Configurator
	pipeline     Pipeline
	diagDir      string
	grace        time.Duration
	observer     Observer
	logger       zerolog.Logger
}

// NewController は新しいControllerを作成する
func NewController(opts ControllerOptions) *Controller {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}
	if opts.DiagnosticDir == "" {
		opts.DiagnosticDir = os.TempDir()
	}

	return &Controller{
		inspector:    opts.Inspector,
		launcher:     opts.Launcher,
		configurator: opts.Configurator,
		pipeline:     opts.Pipeline,
		diagDir:      opts.DiagnosticDir,
		grace:        opts.GracePeriod,
		observer:     opts.Observer,
		logger:       opts.Logger,
	}
}

// Start はデバイス設定（有効な場合）を適用してからプロセスを起動する
func (c *Controller) Start(ctx context.Context, rec *Record, reason string) error {
	rec.State = StateStarting

	if err := c.Configure(ctx, rec); err != nil {
		return err
	}

	return c.Spawn(rec, reason)
}

// Configure はデバイス固有の設定を適用する。Configuratorがなければ何もしない
func (c *Controller) Configure(ctx context.Context, rec *Record) error {
	if c.configurator == nil {
		return nil
	}

	path := c.inspector.DevicePath(rec.DeviceNumber)
	if err := c.configurator.Configure(ctx, path); err != nil {
		return fmt.Errorf("カメラ %s のデバイス設定に失敗: %w", rec.Name(), err)
	}

	c.logger.Debug().Str("camera", rec.Name()).Str("device", path).Msg("デバイス設定を適用しました")
	return nil
}

// Spawn はストリーミングプロセスを起動する
// 診断出力チャンネルは初回の起動時にだけ開き、以後は同じものを使う
func (c *Controller) Spawn(rec *Record, reason string) error {
	if rec.HardwareTag == "" {
		return &ConfigurationError{Camera: rec.Name(), Reason: "ハードウェアタグが未設定です"}
	}
	if rec.HasLiveProcess() {
		return fmt.Errorf("カメラ %s のプロセス (pid %d) がまだ動作中です", rec.Name(), rec.Process.Pid())
	}

	if rec.diag == nil {
		diag, err := OpenDiagnostic(c.diagDir, rec.Name())
		if err != nil {
			return fmt.Errorf("カメラ %s: %w", rec.Name(), err)
		}
		rec.diag = diag
	}

	rec.State = StateStarting
	path := c.inspector.DevicePath(rec.DeviceNumber)

	proc, err := c.launcher.Launch(LaunchSpec{
		Name:   c.pipeline.Binary,
		Args:   c.pipeline.Args(path, rec.Config.Host, rec.Config.Port),
		Output: rec.diag.Writer(),
	})
	if err != nil {
		rec.Process = nil
		return fmt.Errorf("カメラ %s のプロセス起動に失敗: %w", rec.Name(), err)
	}

	rec.Process = proc
	rec.RunID = uuid.NewString()
	rec.State = StateRunning
	rec.Spawns++
	if reason == ReasonRespawn {
		rec.Restarts++
	}
	c.observer.ProcessSpawned(rec.Name(), reason)

	c.logger.Info().
		Str("camera", rec.Name()).
		Str("device", path).
		Str("tag", rec.HardwareTag).
		Int("pid", proc.Pid()).
		Str("run_id", rec.RunID).
		Str("reason", reason).
		Msg("プロセスを起動しました")

	return nil
}

// Terminate はプロセスを終了させる。プロセスがなければ何もしない
//
// SIGTERMを送り、猶予期間内に終了しなければSIGKILLへ切り替える。
// 終了を確認できた場合だけRecordからプロセスを外すため、
// 同じデバイスを2つのプロセスが取り合う状態にはならない
func (c *Controller) Terminate(rec *Record) error {
	proc := rec.Process
	if proc == nil {
		return nil
	}
	if proc.Exited() {
		rec.Process = nil
		return nil
	}

	rec.State = StateTerminating
	log := c.logger.With().Str("camera", rec.Name()).Int("pid", proc.Pid()).Str("run_id", rec.RunID).Logger()
	log.Info().Msg("プロセスを終了します")

	if err := proc.Terminate(); err != nil {
		log.Warn().Err(err).Msg("SIGTERMの送信に失敗しました")
	}
	if proc.Wait(c.grace) {
		rec.Process = nil
		return nil
	}

	log.Warn().Dur("grace_period", c.grace).Msg("SIGTERM後も終了しないため、SIGKILLで強制終了します")
	rec.ForcedKills++
	c.observer.ProcessForceKilled(rec.Name())

	if err := proc.Kill(); err != nil {
		log.Error().Err(err).Msg("SIGKILLの送信に失敗しました")
	}
	if !proc.Wait(c.grace) {
		return fmt.Errorf("カメラ %s のプロセス (pid %d) が強制終了後も終了しません", rec.Name(), proc.Pid())
	}

	rec.Process = nil
	return nil
}

// MockLauncher はテスト用のモックLauncher実装
type MockLauncher struct {
	mu         sync.Mutex
	launched   []*MockProcess
	nextPid    int
	failErr    error
	ignoreTerm bool
}

// NewMockLauncher は新しいMockLauncherを作成する
func NewMockLauncher() *MockLauncher {
	return &MockLauncher{nextPid: 1000}
}

// Launch はモックプロセスを起動したことにする
func (l *MockLauncher) Launch(spec LaunchSpec) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failErr != nil {
		return nil, l.failErr
	}

	l.nextPid++
	p := &MockProcess{
		pid:        l.nextPid,
		spec:       spec,
		ignoreTerm: l.ignoreTerm,
	}
	l.launched = append(l.launched, p)
	return p, nil
}

// SetFailure はテスト用に起動を失敗させる。nilで解除する
func (l *MockLauncher) SetFailure(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failErr = err
}

// SetIgnoreTerm は以後起動するプロセスがSIGTERMを無視するかどうかを設定する
func (l *MockLauncher) SetIgnoreTerm(ignore bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ignoreTerm = ignore
}

// Launched は起動したプロセスを起動順に返す
func (l *MockLauncher) Launched() []*MockProcess {
	l.mu.Lock()
	defer l.mu.Unlock()

	result := make([]*MockProcess, len(l.launched))
	copy(result, l.launched)
	return result
}

// Live は終了していないプロセスを返す
func (l *MockLauncher) Live() []*MockProcess {
	var live []*MockProcess
	for _, p := range l.Launched() {
		if !p.Exited() {
			live = append(live, p)
		}
	}
	return live
}

// MockProcess はテスト用のモックProcess実装
type MockProcess struct {
	mu         sync.Mutex
	pid        int
	spec       LaunchSpec
	exited     bool
	exitErr    error
	ignoreTerm bool
	terms      int
	kills      int
}

// Spec は起動時の内容を返す
func (p *MockProcess) Spec() LaunchSpec {
	return p.spec
}

func (p *MockProcess) Pid() int {
	return p.pid
}

func (p *MockProcess) Exited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited
}

func (p *MockProcess) Terminate() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.terms++
	if !p.ignoreTerm {
		p.exited = true
	}
	return nil
}

func (p *MockProcess) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.kills++
	p.exited = true
	return nil
}

// Wait は待たずに現在の終了状態を返す
func (p *MockProcess) Wait(_ time.Duration) bool {
	return p.Exited()
}

// Exit はプロセスが自分で終了したことにする
func (p *MockProcess) Exit() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exited = true
}

// ExitWith は終了理由つきでプロセスが終了したことにする
func (p *MockProcess) ExitWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exited = true
	p.exitErr = err
}

func (p *MockProcess) ExitError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// Emit はプロセスが診断出力を書き込んだことにする
func (p *MockProcess) Emit(text string) error {
	if p.spec.Output == nil {
		return errors.New("出力先がありません")
	}
	_, err := p.spec.Output.WriteString(text)
	return err
}

// Signals はTerminateとKillが呼ばれた回数を返す
func (p *MockProcess) Signals() (terms, kills int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terms, p.kills
}
