package camera

import (
	"fmt"
	"strconv"
)

// Pipeline はgst-launchで起動するストリーミングパイプラインの設定
type Pipeline struct {
	Binary    string // gst-launch-1.0
	Width     int
	Height    int
	FrameRate int
	Bitrate   int // kbit/s
}

// Args はデバイスと送信先からgst-launchの引数を組み立てる
// v4l2src → x264enc → rtph264pay → udpsink の構成でH.264をRTP/UDPで送出する
func (p Pipeline) Args(devicePath, host string, port int) []string {
	return []string{
		"-v",
		"v4l2src", "device=" + devicePath,
		"!",
		fmt.Sprintf("video/x-raw,width=%d,height=%d,framerate=%d/1", p.Width, p.Height, p.FrameRate),
		"!",
		"x264enc", "speed-preset=1", "tune=zerolatency", "bitrate=" + strconv.Itoa(p.Bitrate),
		"!",
		"rtph264pay",
		"!",
		"udpsink", "host=" + host, "port=" + strconv.Itoa(port),
	}
}
