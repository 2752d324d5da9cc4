// Package camera カメラごとのストリーミングプロセスの管理を担う
//
// # 責務
// - V4L2デバイスの存在確認とハードウェアタグの解決
// - gst-launchによるストリーミングプロセスの起動・終了
// - v4l2-ctlによるデバイス設定（露出など）の適用
// - 子プロセスの診断出力の受け取り
// - ホットプラグでデバイス番号が変わったカメラの再バインド
//
// # 使い分け
// このパッケージは以下の場合に使用する：
// - 固定のカメラ群をUDPで配信し続けたい
// - USBの抜き差しでデバイス番号が変わってもカメラを追従させたい
//
// # 仕様
// - Inspector: /dev/videoN の存在確認とudevプロパティの取得
// - Record: 1台の論理カメラの実行時状態。ハードウェアタグは起動時に一度だけ決まる
// - Controller: SIGTERM → 猶予期間 → SIGKILL の順でプロセスを終了させる
// - Resolver: タグが一致する最初のデバイスへ付け替える
// - Diagnostic: 再起動をまたいで使い回す診断出力ファイル
// - Recordは監視ループだけが変更する。このパッケージの型はスレッドセーフではない
//
// # 前提要件
//   - systemd-udev: udevadmでハードウェアタグを取得する
//   - v4l-utils: デバイス設定に使用
//     Ubuntu/Debian: sudo apt install v4l-utils
//     Red Hat/Fedora: sudo dnf install v4l-utils
//   - GStreamer: gst-launch-1.0 と x264enc を含むプラグイン
//     Ubuntu/Debian: sudo apt install gstreamer1.0-tools gstreamer1.0-plugins-ugly
//   - videoグループへの参加: デバイスアクセス権限
//     sudo usermod -a -G video $USER
package camera
