package camera

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// State はカメラの監視状態を表す
type State string

const (
	StateUnbound     State = "unbound"     // 起動直後。まだプロセスを起動していない
	StateStarting    State = "starting"    // デバイス設定・プロセス起動中
	StateRunning     State = "running"     // ストリーミングプロセスが動作中
	StateSearching   State = "searching"   // デバイスが消失し、同じハードウェアを探索中
	StateTerminating State = "terminating" // 既存プロセスを終了中（遷移途中の状態）
)

// 起動理由。ログとメトリクスのラベルに使う
const (
	ReasonInitial = "initial" // 起動時
	ReasonRespawn = "respawn" // プロセスの予期しない終了からの再起動
	ReasonRebind  = "rebind"  // ホットプラグ後の再バインド
	ReasonRetry   = "retry"   // 起動失敗後の再試行
)

var (
	// ErrDeviceAbsent は起動時に初期デバイスが存在しないことを表す
	ErrDeviceAbsent = errors.New("デバイスが存在しません")
	// ErrDeviceQuery はデバイスのプロパティ問い合わせに失敗したことを表す
	ErrDeviceQuery = errors.New("デバイスの問い合わせに失敗")
	// ErrConfiguration はカメラの構成が不完全であることを表す
	ErrConfiguration = errors.New("カメラの構成が不正")
)

// DeviceQueryError はハードウェアタグの解決失敗
type DeviceQueryError struct {
	Device int
	Err    error
}

func (e *DeviceQueryError) Error() string {
	return fmt.Sprintf("デバイス %d の問い合わせに失敗: %v", e.Device, e.Err)
}

func (e *DeviceQueryError) Unwrap() []error {
	return []error{ErrDeviceQuery, e.Err}
}

// ConfigurationError はプロセス起動の前提条件が満たされていないことを表す
type ConfigurationError struct {
	Camera string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("カメラ %s: %s", e.Camera, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

// Config は個別カメラの不変の設定
type Config struct {
	Name   string // 論理名
	Device int    // 初期デバイス番号
	Host   string // 送信先アドレス
	Port   int    // 送信先ポート
}

// Inspector はデバイスの存在確認とハードウェア識別を提供する
type Inspector interface {
	// DevicePath はデバイス番号に対応するパスを返す
	DevicePath(num int) string

	// Exists はデバイスパスが現在存在するかを返す
	Exists(num int) bool

	// ResolveHardwareTag はデバイスの安定したハードウェア識別子を取得する
	ResolveHardwareTag(ctx context.Context, num int) (string, error)

	// ListDevices は現在存在するデバイス番号を昇順で返す
	ListDevices() ([]int, error)
}

// Configurator はデバイス固有の設定（露出など）を適用する
type Configurator interface {
	Configure(ctx context.Context, devicePath string) error
}

// LaunchSpec は外部プロセスの起動内容
type LaunchSpec struct {
	Name   string
	Args   []string
	Output *os.File // 標準出力と標準エラー出力の書き込み先
}

// Launcher は外部プロセスを起動する
type Launcher interface {
	Launch(spec LaunchSpec) (Process, error)
}

// Process は起動済みの外部プロセスのハンドル
type Process interface {
	// Pid はプロセスIDを返す
	Pid() int

	// Exited はプロセスが終了済みかどうかをブロックせずに返す
	Exited() bool

	// Terminate は終了シグナル（SIGTERM）を送る
	Terminate() error

	// Kill は強制終了シグナル（SIGKILL）を送る
	Kill() error

	// Wait は最大timeoutまで終了を待ち、終了したかどうかを返す
	Wait(timeout time.Duration) bool

	// ExitError は終了済みプロセスの終了理由を返す。実行中または正常終了ならnil
	ExitError() error
}

// Observer はプロセスのライフサイクルイベントを受け取る
type Observer interface {
	ProcessSpawned(camera, reason string)
	ProcessForceKilled(camera string)
	DeviceRebound(camera string, from, to int)
}

// NopObserver は何もしないObserver
type NopObserver struct{}

func (NopObserver) ProcessSpawned(string, string)  {}
func (NopObserver) ProcessForceKilled(string)      {}
func (NopObserver) DeviceRebound(string, int, int) {}
