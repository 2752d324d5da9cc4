package camera

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// recordingObserver はテスト用にイベントを記録するObserver
type recordingObserver struct {
	spawns  []string
	kills   []string
	rebinds [][2]int
}

func (o *recordingObserver) ProcessSpawned(camera, reason string) {
	o.spawns = append(o.spawns, camera+"/"+reason)
}

func (o *recordingObserver) ProcessForceKilled(camera string) {
	o.kills = append(o.kills, camera)
}

func (o *recordingObserver) DeviceRebound(_ string, from, to int) {
	o.rebinds = append(o.rebinds, [2]int{from, to})
}

// failingConfigurator は常に失敗するConfigurator
type failingConfigurator struct {
	calls int
}

func (c *failingConfigurator) Configure(_ context.Context, devicePath string) error {
	c.calls++
	return errors.New("設定できません: " + devicePath)
}

func testPipeline() Pipeline {
	return Pipeline{Binary: "gst-launch-1.0", Width: 320, Height: 240, FrameRate: 30, Bitrate: 512}
}

func newTestController(t *testing.T, inspector Inspector, launcher Launcher, observer Observer) *Controller {
	t.Helper()
	return NewController(ControllerOptions{
		Inspector:     inspector,
		Launcher:      launcher,
		Pipeline:      testPipeline(),
		DiagnosticDir: t.TempDir(),
		GracePeriod:   10 * time.Millisecond,
		Observer:      observer,
		Logger:        zerolog.Nop(),
	})
}

func newTestRecord(t *testing.T, inspector Inspector, cfg Config) *Record {
	t.Helper()
	rec, err := NewRecord(context.Background(), cfg, inspector)
	if err != nil {
		t.Fatalf("NewRecord failed: %v", err)
	}
	t.Cleanup(func() { _ = rec.Close() })
	return rec
}

func TestController_Spawn(t *testing.T) {
	inspector := NewMockInspector(map[int]string{0: "T0"})
	launcher := NewMockLauncher()
	observer := &recordingObserver{}
	ctrl := newTestController(t, inspector, launcher, observer)

	rec := newTestRecord(t, inspector, Config{Name: "front", Device: 0, Host: "10.1.14.5", Port: 5808})

	if err := ctrl.Spawn(rec, ReasonInitial); err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	if rec.State != StateRunning {
		t.Errorf("expected state running, got %s", rec.State)
	}
	if !rec.HasLiveProcess() {
		t.Fatal("expected live process")
	}
	if rec.RunID == "" {
		t.Error("expected run id to be set")
	}
	if rec.Spawns != 1 || rec.Restarts != 0 {
		t.Errorf("unexpected counters: spawns=%d restarts=%d", rec.Spawns, rec.Restarts)
	}

	launched := launcher.Launched()
	if len(launched) != 1 {
		t.Fatalf("expected 1 launch, got %d", len(launched))
	}

	spec := launched[0].Spec()
	if spec.Name != "gst-launch-1.0" {
		t.Errorf("unexpected binary: %s", spec.Name)
	}
	args := strings.Join(spec.Args, " ")
	for _, want := range []string{"device=/dev/video0", "host=10.1.14.5", "port=5808"} {
		if !strings.Contains(args, want) {
			t.Errorf("expected args to contain %q: %s", want, args)
		}
	}
	if spec.Output != rec.Diagnostic().Writer() {
		t.Error("expected output to be the diagnostic write handle")
	}

	if len(observer.spawns) != 1 || observer.spawns[0] != "front/initial" {
		t.Errorf("unexpected spawn events: %v", observer.spawns)
	}
}

func TestController_Spawn_ReusesDiagnostic(t *testing.T) {
	inspector := NewMockInspector(map[int]string{1: "T1"})
	launcher := NewMockLauncher()
	ctrl := newTestController(t, inspector, launcher, nil)

	rec := newTestRecord(t, inspector, Config{Name: "back", Device: 1, Host: "10.1.14.5", Port: 5809})

	if err := ctrl.Spawn(rec, ReasonInitial); err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	first := rec.Diagnostic()
	firstRun := rec.RunID

	// プロセスが予期せず終了した
	launcher.Launched()[0].Exit()

	if err := ctrl.Spawn(rec, ReasonRespawn); err != nil {
		t.Fatalf("respawn failed: %v", err)
	}

	if rec.Diagnostic() != first {
		t.Error("expected the diagnostic channel to be reused")
	}
	if launcher.Launched()[1].Spec().Output != first.Writer() {
		t.Error("expected respawned process to write to the same handle")
	}
	if rec.RunID == firstRun {
		t.Error("expected a new run id")
	}
	if rec.Spawns != 2 || rec.Restarts != 1 {
		t.Errorf("unexpected counters: spawns=%d restarts=%d", rec.Spawns, rec.Restarts)
	}
	if rec.DeviceNumber != 1 {
		t.Errorf("expected binding to be unchanged, got %d", rec.DeviceNumber)
	}
}

func TestController_Spawn_Errors(t *testing.T) {
	t.Run("ハードウェアタグがない場合は構成エラー", func(t *testing.T) {
		inspector := NewMockInspector(map[int]string{0: "T0"})
		launcher := NewMockLauncher()
		ctrl := newTestController(t, inspector, launcher, nil)

		rec := &Record{Config: Config{Name: "front"}, State: StateUnbound}

		err := ctrl.Spawn(rec, ReasonInitial)
		if !errors.Is(err, ErrConfiguration) {
			t.Fatalf("expected ErrConfiguration, got %v", err)
		}

		var cerr *ConfigurationError
		if !errors.As(err, &cerr) || cerr.Camera != "front" {
			t.Errorf("expected ConfigurationError for front, got %v", err)
		}
		if len(launcher.Launched()) != 0 {
			t.Error("expected no launch")
		}
	})

	t.Run("動作中のプロセスがある場合は起動しない", func(t *testing.T) {
		inspector := NewMockInspector(map[int]string{0: "T0"})
		launcher := NewMockLauncher()
		ctrl := newTestController(t, inspector, launcher, nil)
		rec := newTestRecord(t, inspector, Config{Name: "front", Device: 0, Host: "h", Port: 1})

		if err := ctrl.Spawn(rec, ReasonInitial); err != nil {
			t.Fatalf("Spawn failed: %v", err)
		}
		if err := ctrl.Spawn(rec, ReasonInitial); err == nil {
			t.Fatal("expected error for second spawn")
		}
		if len(launcher.Live()) != 1 {
			t.Errorf("expected exactly one live process, got %d", len(launcher.Live()))
		}
	})

	t.Run("起動失敗", func(t *testing.T) {
		inspector := NewMockInspector(map[int]string{0: "T0"})
		launcher := NewMockLauncher()
		launcher.SetFailure(errors.New("exec: not found"))
		ctrl := newTestController(t, inspector, launcher, nil)
		rec := newTestRecord(t, inspector, Config{Name: "front", Device: 0, Host: "h", Port: 1})

		if err := ctrl.Spawn(rec, ReasonInitial); err == nil {
			t.Fatal("expected error")
		}
		if rec.Process != nil {
			t.Error("expected no process")
		}
		if rec.Spawns != 0 {
			t.Errorf("expected spawns to stay 0, got %d", rec.Spawns)
		}
	})
}

func TestController_Terminate(t *testing.T) {
	t.Run("プロセスがなければ何もしない", func(t *testing.T) {
		inspector := NewMockInspector(map[int]string{0: "T0"})
		ctrl := newTestController(t, inspector, NewMockLauncher(), nil)
		rec := newTestRecord(t, inspector, Config{Name: "front", Device: 0, Host: "h", Port: 1})

		if err := ctrl.Terminate(rec); err != nil {
			t.Errorf("expected no error, got %v", err)
		}
		if rec.State != StateUnbound {
			t.Errorf("expected state to be unchanged, got %s", rec.State)
		}
	})

	t.Run("SIGTERMで終了", func(t *testing.T) {
		inspector := NewMockInspector(map[int]string{0: "T0"})
		launcher := NewMockLauncher()
		observer := &recordingObserver{}
		ctrl := newTestController(t, inspector, launcher, observer)
		rec := newTestRecord(t, inspector, Config{Name: "front", Device: 0, Host: "h", Port: 1})

		if err := ctrl.Spawn(rec, ReasonInitial); err != nil {
			t.Fatalf("Spawn failed: %v", err)
		}
		if err := ctrl.Terminate(rec); err != nil {
			t.Fatalf("Terminate failed: %v", err)
		}

		terms, kills := launcher.Launched()[0].Signals()
		if terms != 1 || kills != 0 {
			t.Errorf("expected 1 term and 0 kills, got %d/%d", terms, kills)
		}
		if rec.Process != nil {
			t.Error("expected process to be cleared")
		}
		if rec.ForcedKills != 0 || len(observer.kills) != 0 {
			t.Error("expected no forced kill")
		}
	})

	t.Run("猶予期間を過ぎたらSIGKILL", func(t *testing.T) {
		inspector := NewMockInspector(map[int]string{0: "T0"})
		launcher := NewMockLauncher()
		launcher.SetIgnoreTerm(true)
		observer := &recordingObserver{}
		ctrl := newTestController(t, inspector, launcher, observer)
		rec := newTestRecord(t, inspector, Config{Name: "front", Device: 0, Host: "h", Port: 1})

		if err := ctrl.Spawn(rec, ReasonInitial); err != nil {
			t.Fatalf("Spawn failed: %v", err)
		}
		if err := ctrl.Terminate(rec); err != nil {
			t.Fatalf("Terminate failed: %v", err)
		}

		terms, kills := launcher.Launched()[0].Signals()
		if terms != 1 || kills != 1 {
			t.Errorf("expected 1 term and 1 kill, got %d/%d", terms, kills)
		}
		if rec.ForcedKills != 1 {
			t.Errorf("expected 1 forced kill, got %d", rec.ForcedKills)
		}
		if len(observer.kills) != 1 || observer.kills[0] != "front" {
			t.Errorf("unexpected kill events: %v", observer.kills)
		}
		if rec.Process != nil {
			t.Error("expected process to be cleared")
		}
	})

	t.Run("既に終了したプロセスにはシグナルを送らない", func(t *testing.T) {
		inspector := NewMockInspector(map[int]string{0: "T0"})
		launcher := NewMockLauncher()
		ctrl := newTestController(t, inspector, launcher, nil)
		rec := newTestRecord(t, inspector, Config{Name: "front", Device: 0, Host: "h", Port: 1})

		if err := ctrl.Spawn(rec, ReasonInitial); err != nil {
			t.Fatalf("Spawn failed: %v", err)
		}
		launcher.Launched()[0].Exit()

		if err := ctrl.Terminate(rec); err != nil {
			t.Fatalf("Terminate failed: %v", err)
		}
		if terms, kills := launcher.Launched()[0].Signals(); terms != 0 || kills != 0 {
			t.Errorf("expected no signals, got %d/%d", terms, kills)
		}
		if rec.Process != nil {
			t.Error("expected process to be cleared")
		}
	})
}

func TestController_Start(t *testing.T) {
	ctx := context.Background()

	t.Run("デバイス設定の失敗で起動しない", func(t *testing.T) {
		inspector := NewMockInspector(map[int]string{0: "T0"})
		launcher := NewMockLauncher()
		configurator := &failingConfigurator{}
		ctrl := NewController(ControllerOptions{
			Inspector:     inspector,
			Launcher:      launcher,
			Configurator:  configurator,
			Pipeline:      testPipeline(),
			DiagnosticDir: t.TempDir(),
			Logger:        zerolog.Nop(),
		})
		rec := newTestRecord(t, inspector, Config{Name: "front", Device: 0, Host: "h", Port: 1})

		if err := ctrl.Start(ctx, rec, ReasonInitial); err == nil {
			t.Fatal("expected error")
		}
		if configurator.calls != 1 {
			t.Errorf("expected 1 configure call, got %d", configurator.calls)
		}
		if len(launcher.Launched()) != 0 {
			t.Error("expected no launch")
		}
	})

	t.Run("設定なしで起動", func(t *testing.T) {
		inspector := NewMockInspector(map[int]string{0: "T0"})
		launcher := NewMockLauncher()
		ctrl := newTestController(t, inspector, launcher, nil)
		rec := newTestRecord(t, inspector, Config{Name: "front", Device: 0, Host: "h", Port: 1})

		if err := ctrl.Start(ctx, rec, ReasonInitial); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		if rec.State != StateRunning {
			t.Errorf("expected running, got %s", rec.State)
		}
	})
}
