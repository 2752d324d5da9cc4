package camera

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"
)

// configureTimeout はv4l2-ctlの1回の実行に許す時間
const configureTimeout = 5 * time.Second

// V4L2Configurator はv4l2-ctlでカメラのコントロール（露出など）を設定する
type V4L2Configurator struct {
	tool     string
	controls map[string]int
}

// NewV4L2Configurator は新しいV4L2Configuratorを作成する
func NewV4L2Configurator(tool string, controls map[string]int) *V4L2Configurator {
	copied := make(map[string]int, len(controls))
	for k, v := range controls {
		copied[k] = v
	}
	return &V4L2Configurator{tool: tool, controls: copied}
}

// Args はv4l2-ctlに渡す引数を返す。コントロールはキーの昇順に並べる
func (c *V4L2Configurator) Args(devicePath string) []string {
	keys := make([]string, 0, len(c.controls))
	for k := range c.controls {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := []string{"-d", devicePath}
	for _, k := range keys {
		args = append(args, "-c", k+"="+strconv.Itoa(c.controls[k]))
	}
	return args
}

// Configure はデバイスにコントロールを適用する。失敗はそのままエラーとして返す
func (c *V4L2Configurator) Configure(ctx context.Context, devicePath string) error {
	if len(c.controls) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, configureTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.tool, c.Args(devicePath)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s によるデバイス %s の設定に失敗: %w (stderr: %s)",
			c.tool, devicePath, err, strings.TrimSpace(stderr.String()))
	}

	return nil
}

// CardName はv4l2-ctl --info の "Card type" からカメラ名を取得する
// 取得できなければ空文字列を返す
func (c *V4L2Configurator) CardName(ctx context.Context, devicePath string) string {
	ctx, cancel := context.WithTimeout(ctx, configureTimeout)
	defer cancel()

	output, err := exec.CommandContext(ctx, c.tool, "-d", devicePath, "--info").Output()
	if err != nil {
		return ""
	}
	return parseCardType(output)
}

// parseCardType は "Card type      : HD Pro Webcam C920" 形式の行から値を取り出す
func parseCardType(output []byte) string {
	for _, line := range strings.Split(string(output), "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if ok && strings.TrimSpace(key) == "Card type" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
