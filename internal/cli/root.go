// Package cli はcamsitterのコマンドラインインターフェースを提供する
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"camsitter/internal/config"
)

// rootOptions は全サブコマンドで共有するフラグ
type rootOptions struct {
	configFile string
	viper      *viper.Viper
}

// NewRootCommand はルートコマンドを作成する
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{viper: config.NewViper()}

	root := &cobra.Command{
		Use:   "camsitter",
		Short: "V4L2カメラのストリーミングプロセスを監視し続ける",
		Long: `camsitterは固定のカメラ群ごとにgst-launchのストリーミングプロセスを起動し、
プロセスの予期しない終了やUSBの抜き差しによるデバイス番号の変化に追従して
ストリームを維持し続けます。`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "設定ファイル (既定: ./camsitter.yaml, /etc/camsitter/camsitter.yaml)")

	root.AddCommand(
		newRunCommand(opts),
		newDevicesCommand(opts),
		newConfigCommand(opts),
	)

	return root
}

// Execute はルートコマンドを実行する
func Execute() error {
	return NewRootCommand().Execute()
}

// load は設定ファイル・環境変数・既定値から設定を読み込む
func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.viper, o.configFile)
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗しました: %w", err)
	}
	return cfg, nil
}
