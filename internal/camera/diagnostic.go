package camera

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	// drainChunk は1回の読み取りで使うバッファサイズ
	drainChunk = 32 * 1024
	// maxLineLength を超えて改行が来ない場合は、そこで区切って1行として返す
	maxLineLength = 64 * 1024
	// maxDrainBytes は1回のDrainで読む上限。残りは次回に回す
	maxDrainBytes = 1024 * 1024
)

// Diagnostic は子プロセスの診断出力を受け取る書き込み・読み取りハンドルの組
//
// カメラごとに一度だけ開き、再起動をまたいで同じハンドルを使い回す。
// 子プロセスはファイルへ書き込み、監視ループは読み取りハンドルから
// その時点までに書かれた分だけを読む。通常ファイルなのでEOFで即座に戻り、読み取りはブロックしない。
type Diagnostic struct {
	path    string
	w       *os.File
	r       *os.File
	pending []byte // 改行がまだ届いていない末尾の断片
}

// OpenDiagnostic はカメラ用の診断出力ファイルを作成して開く
// nameはファイル名としてそのまま使うため、パス区切りや . / .. は受け付けない
func OpenDiagnostic(dir, name string) (*Diagnostic, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("診断出力のファイル名に使えないカメラ名です: %q", name)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("診断出力ディレクトリの作成に失敗: %w", err)
	}

	path := filepath.Join(dir, name+".log")
	w, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("診断出力ファイルを書き込み用に開けません: %w", err)
	}

	r, err := os.Open(path)
	if err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("診断出力ファイルを読み取り用に開けません: %w", err)
	}

	return &Diagnostic{path: path, w: w, r: r}, nil
}

// Path は診断出力ファイルのパスを返す
func (d *Diagnostic) Path() string {
	return d.path
}

// Writer は子プロセスに渡す書き込みハンドルを返す
func (d *Diagnostic) Writer() *os.File {
	return d.w
}

// Drain はこれまでに書き込まれた完全な行を書き込み順に返す
// 改行で終わっていない末尾は次回まで保持する。ただしmaxLineLengthに達した断片は
// その長さで区切って返す。1回に読むのはmaxDrainBytesまでで、残りは次回に読む
func (d *Diagnostic) Drain() ([]string, error) {
	var lines []string
	buf := make([]byte, drainChunk)
	for total := 0; total < maxDrainBytes; {
		n, err := d.r.Read(buf)
		if n > 0 {
			total += n
			d.pending = append(d.pending, buf[:n]...)
			lines = append(lines, d.splitLines()...)
		}
		if errors.Is(err, io.EOF) || (err == nil && n == 0) {
			break
		}
		if err != nil {
			return lines, fmt.Errorf("診断出力の読み取りに失敗: %w", err)
		}
	}

	return lines, nil
}

// splitLines は保留中のバッファから完全な行を取り出す
func (d *Diagnostic) splitLines() []string {
	var lines []string
	for {
		idx := bytes.IndexByte(d.pending, '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimRight(d.pending[:idx], "\r")
		lines = append(lines, string(line))
		d.pending = d.pending[idx+1:]
	}

	for len(d.pending) >= maxLineLength {
		lines = append(lines, string(d.pending[:maxLineLength]))
		d.pending = d.pending[maxLineLength:]
	}

	// 取り出し済みの領域を解放する
	if len(d.pending) == 0 {
		d.pending = nil
	} else {
		d.pending = append([]byte(nil), d.pending...)
	}

	return lines
}

// Close は両方のハンドルを閉じる。監視を終了するときだけ呼ぶ
func (d *Diagnostic) Close() error {
	return errors.Join(d.w.Close(), d.r.Close())
}
