package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"camsitter/internal/camera"
)

func newDevicesCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "接続中のビデオデバイスとハードウェアタグを表示する",
		Long: `デバイスディレクトリ内のビデオデバイスを列挙し、それぞれのハードウェアタグを表示します。
設定ファイルのカメラと同じ初期デバイス番号を持つものには、そのカメラ名を併記します。
製品名はv4l2-ctl --info から取得します。`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}

			inspector := camera.NewLinuxInspector(cfg.Device.Dir, cfg.Device.Prefix, cfg.Device.TagKey, cfg.Device.QueryTool)
			v4l2 := camera.NewV4L2Configurator(cfg.Device.ConfigTool, nil)

			cameras := make(map[int]string, len(cfg.Cameras))
			for _, cam := range cfg.Cameras {
				cameras[cam.Device] = cam.Name
			}

			return listDevices(cmd, inspector, v4l2.CardName, cameras)
		},
	}
}

// cardNamer はデバイスパスから製品名を返す。取得できなければ空文字列
type cardNamer func(ctx context.Context, devicePath string) string

func listDevices(cmd *cobra.Command, inspector camera.Inspector, cardName cardNamer, cameras map[int]string) error {
	nums, err := inspector.ListDevices()
	if err != nil {
		return err
	}

	if len(nums) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "ビデオデバイスが見つかりません")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DEVICE\tPATH\tTAG\tCAMERA\tNAME")
	for _, num := range nums {
		tag, err := inspector.ResolveHardwareTag(cmd.Context(), num)
		if err != nil {
			tag = "-"
		}

		name := cameras[num]
		if name == "" {
			name = "-"
		}

		path := inspector.DevicePath(num)
		card := cardName(cmd.Context(), path)
		if card == "" {
			card = "-"
		}

		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", num, path, tag, name, card)
	}

	return w.Flush()
}
