// Package server は、カメラ監視の状態を公開する読み取り専用のHTTPサーバーを提供します。
//
// 責務:
//   - ヘルスチェック
//   - カメラごとの状態（デバイス番号、PID、再起動回数など）の公開
//   - Prometheusメトリクスの公開
//
// 仕様:
//   - ginを使用
//   - 状態は監視ループが公開したスナップショットを読むだけで、プロセスの操作はしない
//   - suture.Serviceとして監視ツリーに組み込む
//   - グレースフルシャットダウンに対応
package server
