package camera

import (
	"context"
	"fmt"
	"time"
)

// Record は1台の論理カメラの実行時状態
//
// 監視ループだけが所有・変更する。DeviceNumberはホットプラグのたびに変わり得るが、
// HardwareTagは起動時に一度だけ解決され、再識別の基準として以後変わらない。
type Record struct {
	Config Config

	DeviceNumber int
	HardwareTag  string
	State        State
	Process      Process
	RunID        string // 起動ごとに振られる識別子

	Spawns      int // プロセス起動の累計
	Restarts    int // 予期しない終了からの再起動の累計
	Rebinds     int // ホットプラグによる再バインドの累計
	ForcedKills int // SIGKILLに至った終了の累計

	LastError   string
	LastErrorAt time.Time

	diag *Diagnostic
}

// NewRecord は設定からRecordを作成する
// 初期デバイスが存在しない場合やハードウェアタグを解決できない場合はエラーを返す。
// これらは起動時の前提条件であり、呼び出し側は回復を試みずに終了する
func NewRecord(ctx context.Context, cfg Config, inspector Inspector) (*Record, error) {
	if !inspector.Exists(cfg.Device) {
		return nil, fmt.Errorf("カメラ %s: %w: %s", cfg.Name, ErrDeviceAbsent, inspector.DevicePath(cfg.Device))
	}

	tag, err := inspector.ResolveHardwareTag(ctx, cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("カメラ %s のハードウェアタグを解決できません: %w", cfg.Name, err)
	}

	return &Record{
		Config:       cfg,
		DeviceNumber: cfg.Device,
		HardwareTag:  tag,
		State:        StateUnbound,
	}, nil
}

// Name はカメラの論理名を返す
func (r *Record) Name() string {
	return r.Config.Name
}

// Diagnostic は診断出力チャンネルを返す。まだ一度も起動していなければnil
func (r *Record) Diagnostic() *Diagnostic {
	return r.diag
}

// HasLiveProcess は動作中のプロセスを保持しているかを返す
func (r *Record) HasLiveProcess() bool {
	return r.Process != nil && !r.Process.Exited()
}

// RecordError は直近のエラーを記録する
func (r *Record) RecordError(err error) {
	r.LastError = err.Error()
	r.LastErrorAt = time.Now()
}

// Close は診断出力チャンネルを閉じる
func (r *Record) Close() error {
	if r.diag == nil {
		return nil
	}
	err := r.diag.Close()
	r.diag = nil
	return err
}

// String はログ用の表現を返す
func (r *Record) String() string {
	return fmt.Sprintf("Camera(%s, %d, %s)", r.Config.Name, r.DeviceNumber, r.HardwareTag)
}

// Snapshot はRecordの読み取り専用のコピー
type Snapshot struct {
	Name         string    `json:"name"`
	DeviceNumber int       `json:"device_number"`
	HardwareTag  string    `json:"hardware_tag"`
	State        State     `json:"state"`
	PID          int       `json:"pid,omitempty"`
	RunID        string    `json:"run_id,omitempty"`
	Host         string    `json:"host"`
	Port         int       `json:"port"`
	Spawns       int       `json:"spawns"`
	Restarts     int       `json:"restarts"`
	Rebinds      int       `json:"rebinds"`
	ForcedKills  int       `json:"forced_kills"`
	LastError    string    `json:"last_error,omitempty"`
	LastErrorAt  time.Time `json:"last_error_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Snapshot は現在の状態のコピーを返す
func (r *Record) Snapshot() Snapshot {
	s := Snapshot{
		Name:         r.Config.Name,
		DeviceNumber: r.DeviceNumber,
		HardwareTag:  r.HardwareTag,
		State:        r.State,
		RunID:        r.RunID,
		Host:         r.Config.Host,
		Port:         r.Config.Port,
		Spawns:       r.Spawns,
		Restarts:     r.Restarts,
		Rebinds:      r.Rebinds,
		ForcedKills:  r.ForcedKills,
		LastError:    r.LastError,
		LastErrorAt:  r.LastErrorAt,
		UpdatedAt:    time.Now(),
	}
	if r.HasLiveProcess() {
		s.PID = r.Process.Pid()
	}
	return s
}
