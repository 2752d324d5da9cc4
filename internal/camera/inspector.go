package camera

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// queryTimeout はudevadmの1回の問い合わせに許す時間
const queryTimeout = 2 * time.Second

// LinuxInspector はLinux環境でのV4L2デバイスの存在確認と識別を実装する
type LinuxInspector struct {
	dir       string // デバイスディレクトリ（通常は /dev）
	prefix    string // デバイス名のプレフィックス（通常は video）
	tagKey    string // 安定した識別子として使うudevプロパティ
	queryTool string // udevadm
}

// NewLinuxInspector は新しいLinuxInspectorを作成する
func NewLinuxInspector(dir, prefix, tagKey, queryTool string) *LinuxInspector {
	return &LinuxInspector{
		dir:       dir,
		prefix:    prefix,
		tagKey:    tagKey,
		queryTool: queryTool,
	}
}

// DevicePath はデバイス番号からデバイスパスを組み立てる
func (d *LinuxInspector) DevicePath(num int) string {
	return filepath.Join(d.dir, fmt.Sprintf("%s%d", d.prefix, num))
}

// Exists はデバイスファイルが存在するかチェックする
func (d *LinuxInspector) Exists(num int) bool {
	_, err := os.Stat(d.DevicePath(num))
	return err == nil
}

// ResolveHardwareTag はudevadmでデバイスのプロパティを取得し、識別子を返す
func (d *LinuxInspector) ResolveHardwareTag(ctx context.Context, num int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, d.queryTool, "info", "--query=property", "--name="+d.DevicePath(num))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		return "", &DeviceQueryError{
			Device: num,
			Err:    fmt.Errorf("%s の実行に失敗: %w (stderr: %s)", d.queryTool, err, strings.TrimSpace(stderr.String())),
		}
	}

	tag, ok := parseProperty(output, d.tagKey)
	if !ok {
		return "", &DeviceQueryError{
			Device: num,
			Err:    fmt.Errorf("プロパティ %s が見つかりません", d.tagKey),
		}
	}

	return tag, nil
}

// ListDevices はデバイスディレクトリ内の一致するデバイス番号を昇順で返す
func (d *LinuxInspector) ListDevices() ([]int, error) {
	matches, err := filepath.Glob(filepath.Join(d.dir, d.prefix+"*"))
	if err != nil {
		return nil, fmt.Errorf("デバイスのスキャンに失敗: %w", err)
	}

	nums := make([]int, 0, len(matches))
	for _, match := range matches {
		if num, ok := extractDeviceNumber(filepath.Base(match), d.prefix); ok {
			nums = append(nums, num)
		}
	}
	sort.Ints(nums)

	return nums, nil
}

// extractDeviceNumber はデバイス名からプレフィックスを除いた番号を取り出す
// 番号として解釈できないもの（video-loopback など）は除外する
func extractDeviceNumber(name, prefix string) (int, bool) {
	suffix, found := strings.CutPrefix(name, prefix)
	if !found || suffix == "" {
		return 0, false
	}

	num, err := strconv.Atoi(suffix)
	if err != nil || num < 0 {
		return 0, false
	}

	return num, true
}

// parseProperty は "KEY=VALUE" 形式の出力から指定キーの値を取り出す
func parseProperty(output []byte, key string) (string, bool) {
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		k, v, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if ok && k == key && v != "" {
			return v, true
		}
	}
	return "", false
}

// MockInspector はテスト用のモックInspector実装
type MockInspector struct {
	mu       sync.RWMutex
	tags     map[int]string
	failures map[int]error
	listErr  error
	queries  []int
}

// NewMockInspector はデバイス番号とハードウェアタグの組から新しいMockInspectorを作成する
func NewMockInspector(devices map[int]string) *MockInspector {
	tags := make(map[int]string, len(devices))
	for num, tag := range devices {
		tags[num] = tag
	}

	return &MockInspector{
		tags:     tags,
		failures: make(map[int]error),
	}
}

// DevicePath はモックのデバイスパスを返す
func (m *MockInspector) DevicePath(num int) string {
	return fmt.Sprintf("/dev/video%d", num)
}

// Exists はモックデバイスが存在するかチェックする
func (m *MockInspector) Exists(num int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.tags[num]
	return ok
}

// ResolveHardwareTag はモックデバイスのタグを返す
func (m *MockInspector) ResolveHardwareTag(_ context.Context, num int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queries = append(m.queries, num)

	if err, ok := m.failures[num]; ok {
		return "", &DeviceQueryError{Device: num, Err: err}
	}

	tag, ok := m.tags[num]
	if !ok {
		return "", &DeviceQueryError{Device: num, Err: errors.New("デバイスが見つかりません")}
	}

	return tag, nil
}

// ListDevices はモックデバイス番号を昇順で返す
func (m *MockInspector) ListDevices() ([]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.listErr != nil {
		return nil, m.listErr
	}

	nums := make([]int, 0, len(m.tags))
	for num := range m.tags {
		nums = append(nums, num)
	}
	sort.Ints(nums)

	return nums, nil
}

// AddDevice はテスト用にデバイスを追加する
func (m *MockInspector) AddDevice(num int, tag string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tags[num] = tag
}

// RemoveDevice はテスト用にデバイスを削除する
func (m *MockInspector) RemoveDevice(num int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tags, num)
}

// SetQueryError はテスト用にタグの問い合わせを失敗させる。nilで解除する
func (m *MockInspector) SetQueryError(num int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err == nil {
		delete(m.failures, num)
		return
	}
	m.failures[num] = err
}

// SetListError はテスト用にデバイス一覧の取得を失敗させる
func (m *MockInspector) SetListError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listErr = err
}

// Queries はこれまでに問い合わせたデバイス番号を返す
func (m *MockInspector) Queries() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]int, len(m.queries))
	copy(result, m.queries)
	return result
}
