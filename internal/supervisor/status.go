package supervisor

import (
	"sync"

	"camsitter/internal/camera"
)

// StatusBoard は監視ループが公開するカメラ状態のスナップショット置き場
// 監視ループ以外のゴルーチン（ステータスサーバー）と共有するのはこれだけ
type StatusBoard struct {
	mu    sync.RWMutex
	order []string
	snaps map[string]camera.Snapshot
}

// NewStatusBoard は設定順のカメラ名で新しいStatusBoardを作成する
func NewStatusBoard(names []string) *StatusBoard {
	order := make([]string, len(names))
	copy(order, names)

	return &StatusBoard{
		order: order,
		snaps: make(map[string]camera.Snapshot, len(names)),
	}
}

// Publish はスナップショットを更新する
func (b *StatusBoard) Publish(s camera.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, known := b.snaps[s.Name]; !known && !b.contains(s.Name) {
		b.order = append(b.order, s.Name)
	}
	b.snaps[s.Name] = s
}

// List は公開済みのスナップショットを設定順に返す
func (b *StatusBoard) List() []camera.Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]camera.Snapshot, 0, len(b.snaps))
	for _, name := range b.order {
		if s, ok := b.snaps[name]; ok {
			result = append(result, s)
		}
	}
	return result
}

// Get は指定カメラのスナップショットを返す
func (b *StatusBoard) Get(name string) (camera.Snapshot, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s, ok := b.snaps[name]
	return s, ok
}

func (b *StatusBoard) contains(name string) bool {
	for _, n := range b.order {
		if n == name {
			return true
		}
	}
	return false
}
