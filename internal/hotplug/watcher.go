// Package hotplug はデバイスディレクトリの変化を監視し、監視ループを早めに起こす
//
// 通知は「次のチェックを前倒ししてよい」というヒントにすぎない。
// 通知を取りこぼしても、監視ループは一定間隔のポーリングで変化を拾う。
package hotplug

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
)

// Watcher はfsnotifyでデバイスノードの追加・削除を検知する
type Watcher struct {
	dir     string
	prefix  string
	watcher *fsnotify.Watcher
	wake    chan struct{}
	logger  zerolog.Logger
}

// New はdir直下のprefixで始まるノードを監視するWatcherを作成する
func New(dir, prefix string, logger zerolog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotifyの初期化に失敗: %w", err)
	}

	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("%s を監視できません: %w", dir, err)
	}

	return &Watcher{
		dir:     dir,
		prefix:  prefix,
		watcher: fw,
		wake:    make(chan struct{}, 1),
		logger:  logger,
	}, nil
}

// C は変化があったときに値が届くチャンネルを返す
// 複数の変化はまとめて1回の通知になる
func (w *Watcher) C() <-chan struct{} {
	return w.wake
}

// Serve はイベントを監視する。suture.Serviceを実装する
func (w *Watcher) Serve(ctx context.Context) error {
	defer func() { _ = w.watcher.Close() }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return suture.ErrDoNotRestart
			}
			if !w.matches(event) {
				continue
			}

			w.logger.Debug().Str("path", event.Name).Str("op", event.Op.String()).Msg("デバイスノードの変化を検知しました")
			w.notify()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return suture.ErrDoNotRestart
			}
			// イベントが溢れた場合も含め、念のため一度起こしておく
			w.logger.Warn().Err(err).Msg("fsnotifyでエラーが発生しました")
			w.notify()
		}
	}
}

// matches はデバイスノードの追加・削除・改名かどうかを返す
func (w *Watcher) matches(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	return strings.HasPrefix(filepath.Base(event.Name), w.prefix)
}

// notify はブロックせずに通知する。未読の通知があれば捨てる
func (w *Watcher) notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Close は監視を止める。Serveを一度も呼ばなかった場合に使う
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

// String はsutureのログで使う名前を返す
func (w *Watcher) String() string {
	return "hotplug-watcher(" + w.dir + ")"
}
