package camera

import (
	"context"
	"reflect"
	"strings"
	"testing"
)

func TestPipeline_Args(t *testing.T) {
	p := Pipeline{Binary: "gst-launch-1.0", Width: 320, Height: 240, FrameRate: 30, Bitrate: 512}

	got := strings.Join(p.Args("/dev/video1", "10.1.14.5", 5809), " ")
	want := "-v v4l2src device=/dev/video1 ! video/x-raw,width=320,height=240,framerate=30/1 ! " +
		"x264enc speed-preset=1 tune=zerolatency bitrate=512 ! rtph264pay ! udpsink host=10.1.14.5 port=5809"

	if got != want {
		t.Errorf("Args() =\n%s\nwant\n%s", got, want)
	}
}

func TestV4L2Configurator_Args(t *testing.T) {
	c := NewV4L2Configurator("v4l2-ctl", map[string]int{
		"exposure_absolute": 300,
		"exposure_auto":     1,
	})

	got := c.Args("/dev/video0")
	want := []string{"-d", "/dev/video0", "-c", "exposure_absolute=300", "-c", "exposure_auto=1"}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("Args() = %v, want %v", got, want)
	}
}

func TestV4L2Configurator_Configure(t *testing.T) {
	ctx := context.Background()

	t.Run("コントロールがなければ何もしない", func(t *testing.T) {
		c := NewV4L2Configurator("/nonexistent/v4l2-ctl", nil)
		if err := c.Configure(ctx, "/dev/video0"); err != nil {
			t.Errorf("expected no error, got %v", err)
		}
	})

	t.Run("ツールの失敗はエラー", func(t *testing.T) {
		tool := writeFakeTool(t, `echo "VIDIOC_S_EXT_CTRLS: failed" >&2
exit 1`)
		c := NewV4L2Configurator(tool, map[string]int{"exposure_auto": 1})

		err := c.Configure(ctx, "/dev/video0")
		if err == nil {
			t.Fatal("expected error")
		}
		if !strings.Contains(err.Error(), "VIDIOC_S_EXT_CTRLS") {
			t.Errorf("expected stderr in error, got %v", err)
		}
	})

	t.Run("成功", func(t *testing.T) {
		tool := writeFakeTool(t, "exit 0")
		c := NewV4L2Configurator(tool, map[string]int{"exposure_auto": 1})

		if err := c.Configure(ctx, "/dev/video0"); err != nil {
			t.Errorf("expected no error, got %v", err)
		}
	})
}

func TestParseCardType(t *testing.T) {
	output := []byte(`Driver Info:
	Driver name      : uvcvideo
	Card type        : HD Pro Webcam C920
	Bus info         : usb-0000:00:14.0-1
`)

	if got := parseCardType(output); got != "HD Pro Webcam C920" {
		t.Errorf("parseCardType() = %q", got)
	}
	if got := parseCardType([]byte("Driver name : uvcvideo\n")); got != "" {
		t.Errorf("expected empty name, got %q", got)
	}
}

func TestV4L2Configurator_CardName(t *testing.T) {
	tool := writeFakeTool(t, `echo "Card type        : Microsoft LifeCam HD-3000"`)
	c := NewV4L2Configurator(tool, nil)

	if got := c.CardName(context.Background(), "/dev/video0"); got != "Microsoft LifeCam HD-3000" {
		t.Errorf("CardName() = %q", got)
	}

	missing := NewV4L2Configurator("/nonexistent/v4l2-ctl", nil)
	if got := missing.CardName(context.Background(), "/dev/video0"); got != "" {
		t.Errorf("expected empty name, got %q", got)
	}
}
