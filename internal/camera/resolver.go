package camera

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Resolver はデバイスが消えたカメラを、同じハードウェアタグを持つデバイスへ付け替える
type Resolver struct {
	inspector      Inspector
	controller     *Controller
	observer       Observer
	logger         zerolog.Logger
	excludeClaimed bool
}

// NewResolver は新しいResolverを作成する
// excludeClaimedがtrueなら、他のカメラが使用中のデバイスを候補から外す
func NewResolver(inspector Inspector, controller *Controller, observer Observer, logger zerolog.Logger, excludeClaimed bool) *Resolver {
	if observer == nil {
		observer = NopObserver{}
	}
	return &Resolver{
		inspector:      inspector,
		controller:     controller,
		observer:       observer,
		logger:         logger,
		excludeClaimed: excludeClaimed,
	}
}

// Resolve は現在のデバイスを走査し、タグが一致した最初のデバイスへ付け替える
// 一致するデバイスがなければfalseを返し、Recordは探索中のまま変更しない。
// claimedはデバイス番号から使用中のカメラ名への対応
func (r *Resolver) Resolve(ctx context.Context, rec *Record, claimed map[int]string) (bool, error) {
	if rec.State != StateSearching {
		r.logger.Warn().
			Str("camera", rec.Name()).
			Int("device", rec.DeviceNumber).
			Str("tag", rec.HardwareTag).
			Msg("デバイスが見つかりません。同じハードウェアを探索します")
		rec.State = StateSearching
	}

	nums, err := r.inspector.ListDevices()
	if err != nil {
		return false, fmt.Errorf("カメラ %s の探索に失敗: %w", rec.Name(), err)
	}

	for _, num := range nums {
		if r.excludeClaimed {
			if owner, ok := claimed[num]; ok && owner != rec.Name() {
				continue
			}
		}

		tag, err := r.inspector.ResolveHardwareTag(ctx, num)
		if err != nil {
			// 列挙と問い合わせの間に消えたデバイスなどは一致しなかったものとして扱う
			r.logger.Debug().Err(err).Str("camera", rec.Name()).Int("candidate", num).Msg("候補デバイスの問い合わせに失敗しました")
			continue
		}
		if tag != rec.HardwareTag {
			continue
		}

		return true, r.rebind(ctx, rec, num)
	}

	return false, nil
}

// rebind は既存プロセスを止めてから新しいデバイス番号でプロセスを起動する
func (r *Resolver) rebind(ctx context.Context, rec *Record, num int) error {
	from := rec.DeviceNumber

	if err := r.controller.Terminate(rec); err != nil {
		return fmt.Errorf("カメラ %s の再バインド前の終了に失敗: %w", rec.Name(), err)
	}

	rec.DeviceNumber = num
	rec.Rebinds++
	r.observer.DeviceRebound(rec.Name(), from, num)

	r.logger.Info().
		Str("camera", rec.Name()).
		Str("tag", rec.HardwareTag).
		Int("from", from).
		Int("to", num).
		Msg("デバイスを再バインドしました")

	return r.controller.Start(ctx, rec, ReasonRebind)
}
