package camera

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

// writeFakeTool は外部コマンドの代わりになるシェルスクリプトを作成する
func writeFakeTool(t *testing.T, body string) string {
	t.Helper()

	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh が見つかりません")
	}

	path := filepath.Join(t.TempDir(), "tool")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("failed to write fake tool: %v", err)
	}
	return path
}

func touchDevices(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatalf("failed to create %s: %v", name, err)
		}
	}
}

func TestExtractDeviceNumber(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   int
		wantOK bool
	}{
		{name: "1桁", input: "video0", want: 0, wantOK: true},
		{name: "2桁", input: "video12", want: 12, wantOK: true},
		{name: "数字でない接尾辞", input: "video-loopback", wantOK: false},
		{name: "接尾辞なし", input: "video", wantOK: false},
		{name: "別のプレフィックス", input: "media0", wantOK: false},
		{name: "数字の後に文字", input: "video1a", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := extractDeviceNumber(tt.input, "video")
			if ok != tt.wantOK {
				t.Fatalf("extractDeviceNumber(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("extractDeviceNumber(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseProperty(t *testing.T) {
	output := []byte("DEVPATH=/devices/pci0000:00/video4linux/video0\n" +
		"ID_PATH=pci-0000:00:14.0-usb-0:1:1.0\n" +
		"ID_PATH_TAG=pci-0000_00_14_0-usb-0_1_1_0\n" +
		"ID_PATH_TAG_EXTRA=other\n")

	t.Run("キーが一致する値を返す", func(t *testing.T) {
		got, ok := parseProperty(output, "ID_PATH_TAG")
		if !ok {
			t.Fatal("expected ID_PATH_TAG to be found")
		}
		if got != "pci-0000_00_14_0-usb-0_1_1_0" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("前方一致のキーには一致しない", func(t *testing.T) {
		if _, ok := parseProperty(output, "ID_PATH_T"); ok {
			t.Error("expected partial key not to match")
		}
	})

	t.Run("存在しないキー", func(t *testing.T) {
		if _, ok := parseProperty(output, "ID_SERIAL"); ok {
			t.Error("expected missing key not to match")
		}
	})

	t.Run("空の値は見つからない扱い", func(t *testing.T) {
		if _, ok := parseProperty([]byte("ID_PATH_TAG=\n"), "ID_PATH_TAG"); ok {
			t.Error("expected empty value not to match")
		}
	})
}

func TestLinuxInspector_ListDevices(t *testing.T) {
	dir := t.TempDir()
	touchDevices(t, dir, "video2", "video0", "video10", "video-loopback", "media0")

	inspector := NewLinuxInspector(dir, "video", "ID_PATH_TAG", "udevadm")

	got, err := inspector.ListDevices()
	if err != nil {
		t.Fatalf("ListDevices failed: %v", err)
	}

	want := []int{0, 2, 10}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ListDevices() = %v, want %v", got, want)
	}
}

func TestLinuxInspector_Exists(t *testing.T) {
	dir := t.TempDir()
	touchDevices(t, dir, "video1")

	inspector := NewLinuxInspector(dir, "video", "ID_PATH_TAG", "udevadm")

	if !inspector.Exists(1) {
		t.Error("expected video1 to exist")
	}
	if inspector.Exists(0) {
		t.Error("expected video0 not to exist")
	}
	if inspector.DevicePath(3) != filepath.Join(dir, "video3") {
		t.Errorf("unexpected device path: %s", inspector.DevicePath(3))
	}
}

func TestLinuxInspector_ResolveHardwareTag(t *testing.T) {
	ctx := context.Background()

	t.Run("プロパティからタグを取得", func(t *testing.T) {
		tool := writeFakeTool(t, `echo "DEVNAME=/dev/video0"
echo "ID_PATH_TAG=pci-0000_00_14_0-usb-0_1_1_0"`)
		inspector := NewLinuxInspector(t.TempDir(), "video", "ID_PATH_TAG", tool)

		tag, err := inspector.ResolveHardwareTag(ctx, 0)
		if err != nil {
			t.Fatalf("ResolveHardwareTag failed: %v", err)
		}
		if tag != "pci-0000_00_14_0-usb-0_1_1_0" {
			t.Errorf("unexpected tag: %s", tag)
		}
	})

	t.Run("キーがない場合は問い合わせエラー", func(t *testing.T) {
		tool := writeFakeTool(t, `echo "DEVNAME=/dev/video0"`)
		inspector := NewLinuxInspector(t.TempDir(), "video", "ID_PATH_TAG", tool)

		_, err := inspector.ResolveHardwareTag(ctx, 0)
		if !errors.Is(err, ErrDeviceQuery) {
			t.Fatalf("expected ErrDeviceQuery, got %v", err)
		}

		var qerr *DeviceQueryError
		if !errors.As(err, &qerr) || qerr.Device != 0 {
			t.Errorf("expected DeviceQueryError for device 0, got %v", err)
		}
	})

	t.Run("ツールが失敗した場合は問い合わせエラー", func(t *testing.T) {
		tool := writeFakeTool(t, `echo "Unknown device" >&2
exit 1`)
		inspector := NewLinuxInspector(t.TempDir(), "video", "ID_PATH_TAG", tool)

		if _, err := inspector.ResolveHardwareTag(ctx, 5); !errors.Is(err, ErrDeviceQuery) {
			t.Fatalf("expected ErrDeviceQuery, got %v", err)
		}
	})
}

func TestMockInspector(t *testing.T) {
	ctx := context.Background()
	inspector := NewMockInspector(map[int]string{0: "T0", 1: "T1"})

	if !inspector.Exists(0) || inspector.Exists(2) {
		t.Fatal("unexpected initial device set")
	}

	// デバイスの抜き差し
	inspector.RemoveDevice(0)
	inspector.AddDevice(3, "T0")

	nums, err := inspector.ListDevices()
	if err != nil {
		t.Fatalf("ListDevices failed: %v", err)
	}
	if !reflect.DeepEqual(nums, []int{1, 3}) {
		t.Errorf("ListDevices() = %v", nums)
	}

	tag, err := inspector.ResolveHardwareTag(ctx, 3)
	if err != nil || tag != "T0" {
		t.Errorf("ResolveHardwareTag(3) = %q, %v", tag, err)
	}

	// 問い合わせ失敗
	inspector.SetQueryError(1, errors.New("busy"))
	if _, err := inspector.ResolveHardwareTag(ctx, 1); !errors.Is(err, ErrDeviceQuery) {
		t.Errorf("expected ErrDeviceQuery, got %v", err)
	}

	if got := inspector.Queries(); !reflect.DeepEqual(got, []int{3, 1}) {
		t.Errorf("Queries() = %v", got)
	}
}
