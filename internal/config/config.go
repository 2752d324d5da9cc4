package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix は環境変数で設定を上書きする際のプレフィックス
const EnvPrefix = "CAMSITTER"

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Cameras          []CameraConfig    `mapstructure:"cameras" yaml:"cameras" validate:"required,min=1,dive"`
	CheckInterval    time.Duration     `mapstructure:"check_interval" yaml:"check_interval" validate:"gt=0"`
	ConfigureDevices bool              `mapstructure:"configure_devices" yaml:"configure_devices"`
	Device           DeviceConfig      `mapstructure:"device" yaml:"device"`
	Stream           StreamConfig      `mapstructure:"stream" yaml:"stream"`
	Diagnostics      DiagnosticsConfig `mapstructure:"diagnostics" yaml:"diagnostics"`
	Hotplug          HotplugConfig     `mapstructure:"hotplug" yaml:"hotplug"`
	Log              LogConfig         `mapstructure:"log" yaml:"log"`
	Status           StatusConfig      `mapstructure:"status" yaml:"status"`
}

// CameraConfig は個別カメラの設定。起動時に一度だけ読み込まれ、以後変更されない
type CameraConfig struct {
	Name   string `mapstructure:"name" yaml:"name" validate:"required,excludesall=/\\"` // 論理名。診断出力のファイル名にも使う
	Device int    `mapstructure:"device" yaml:"device" validate:"gte=0"`                // 初期デバイス番号 (/dev/videoN の N)
	Host   string `mapstructure:"host" yaml:"host" validate:"required"`                 // 送信先アドレス
	Port   int    `mapstructure:"port" yaml:"port" validate:"min=1,max=65535"`          // 送信先ポート
}

// DeviceConfig はデバイスの検出・識別・設定に使う外部ツールの設定
type DeviceConfig struct {
	Dir        string         `mapstructure:"dir" yaml:"dir" validate:"required"`
	Prefix     string         `mapstructure:"prefix" yaml:"prefix" validate:"required"`
	TagKey     string         `mapstructure:"tag_key" yaml:"tag_key" validate:"required"`
	QueryTool  string         `mapstructure:"query_tool" yaml:"query_tool" validate:"required"`
	ConfigTool string         `mapstructure:"config_tool" yaml:"config_tool" validate:"required"`
	Controls   map[string]int `mapstructure:"controls" yaml:"controls"`
}

// StreamConfig はストリーミングプロセス（gst-launch）の設定
type StreamConfig struct {
	Binary      string        `mapstructure:"binary" yaml:"binary" validate:"required"`
	Width       int           `mapstructure:"width" yaml:"width" validate:"gt=0,lte=4096"`
	Height      int           `mapstructure:"height" yaml:"height" validate:"gt=0,lte=4096"`
	FrameRate   int           `mapstructure:"framerate" yaml:"framerate" validate:"gt=0,lte=240"`
	Bitrate     int           `mapstructure:"bitrate" yaml:"bitrate" validate:"gt=0"`
	GracePeriod time.Duration `mapstructure:"grace_period" yaml:"grace_period" validate:"gt=0"`
}

// DiagnosticsConfig は子プロセスの診断出力の置き場所
type DiagnosticsConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir" validate:"required"`
}

// HotplugConfig はホットプラグ検知の設定
type HotplugConfig struct {
	// Watch はデバイスディレクトリをfsnotifyで監視し、変化があれば次のチェックを前倒しする
	Watch bool `mapstructure:"watch" yaml:"watch"`
	// ExcludeClaimed は他のカメラが使用中のデバイスを候補から除外する
	ExcludeClaimed bool `mapstructure:"exclude_claimed" yaml:"exclude_claimed"`
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=trace debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=json console"`
}

// StatusConfig は読み取り専用のステータスHTTPエンドポイントの設定
type StatusConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen" validate:"required_if=Enabled true"`
}

// Default はデフォルト設定を返す
func Default() *Config {
	return &Config{
		Cameras: []CameraConfig{
			{Name: "front", Device: 0, Host: "10.1.14.5", Port: 5808},
			{Name: "back", Device: 1, Host: "10.1.14.5", Port: 5809},
		},
		CheckInterval:    100 * time.Millisecond,
		ConfigureDevices: false,
		Device: DeviceConfig{
			Dir:        "/dev",
			Prefix:     "video",
			TagKey:     "ID_PATH_TAG",
			QueryTool:  "udevadm",
			ConfigTool: "v4l2-ctl",
			Controls: map[string]int{
				"exposure_auto":     1,
				"exposure_absolute": 300,
			},
		},
		Stream: StreamConfig{
			Binary:      "gst-launch-1.0",
			Width:       320,
			Height:      240,
			FrameRate:   30,
			Bitrate:     512,
			GracePeriod: time.Second,
		},
		Diagnostics: DiagnosticsConfig{
			Dir: filepath.Join(os.TempDir(), "camsitter"),
		},
		Hotplug: HotplugConfig{
			Watch:          true,
			ExcludeClaimed: false,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Status: StatusConfig{
			Enabled: true,
			Listen:  "127.0.0.1:8095",
		},
	}
}

// SetDefaults はviperにデフォルト値を登録する
// 設定ファイルがなくても値が得られるよう、読み込み前に呼ぶ
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("cameras", []map[string]any{
		{"name": d.Cameras[0].Name, "device": d.Cameras[0].Device, "host": d.Cameras[0].Host, "port": d.Cameras[0].Port},
		{"name": d.Cameras[1].Name, "device": d.Cameras[1].Device, "host": d.Cameras[1].Host, "port": d.Cameras[1].Port},
	})
	v.SetDefault("check_interval", d.CheckInterval)
	v.SetDefault("configure_devices", d.ConfigureDevices)

	v.SetDefault("device.dir", d.Device.Dir)
	v.SetDefault("device.prefix", d.Device.Prefix)
	v.SetDefault("device.tag_key", d.Device.TagKey)
	v.SetDefault("device.query_tool", d.Device.QueryTool)
	v.SetDefault("device.config_tool", d.Device.ConfigTool)
	v.SetDefault("device.controls", d.Device.Controls)

	v.SetDefault("stream.binary", d.Stream.Binary)
	v.SetDefault("stream.width", d.Stream.Width)
	v.SetDefault("stream.height", d.Stream.Height)
	v.SetDefault("stream.framerate", d.Stream.FrameRate)
	v.SetDefault("stream.bitrate", d.Stream.Bitrate)
	v.SetDefault("stream.grace_period", d.Stream.GracePeriod)

	v.SetDefault("diagnostics.dir", d.Diagnostics.Dir)

	v.SetDefault("hotplug.watch", d.Hotplug.Watch)
	v.SetDefault("hotplug.exclude_claimed", d.Hotplug.ExcludeClaimed)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("status.enabled", d.Status.Enabled)
	v.SetDefault("status.listen", d.Status.Listen)
}

// NewViper は環境変数とデフォルト値を設定済みのviperインスタンスを作成する
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	// ネストしたキーは CAMSITTER_STREAM_BITRATE のように指定する
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// Load は設定を読み込む
// path が空の場合はカレントディレクトリと /etc/camsitter の camsitter.yaml を探し、
// 見つからなければデフォルト値と環境変数だけで構成する
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("camsitter")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/camsitter")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("設定のデコードに失敗: %w", err)
	}

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	// カメラ名はログとステータスのキーで、診断出力のファイル名にもなる
	seen := make(map[string]struct{}, len(c.Cameras))
	for _, cam := range c.Cameras {
		if cam.Name == "." || cam.Name == ".." {
			return fmt.Errorf("カメラ名にパス要素は使えません: %s", cam.Name)
		}
		if _, dup := seen[cam.Name]; dup {
			return fmt.Errorf("カメラ名が重複しています: %s", cam.Name)
		}
		seen[cam.Name] = struct{}{}
	}

	return nil
}
