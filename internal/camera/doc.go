// Package camera キャプチャデバイスの抽象化を担う
//
// # 責務
// - デバイスとフォーマット（寸法・フレームレート範囲・ピクセル形式）の表現
// - フレームレートとピクセル形式に合うフォーマットの選択と適用
// - V4L2デバイスの検出と実名取得
// - ネイティブ形式からBGRAへの画素変換
//
// # 仕様
// - Device: 排他ロック下でフォーマットとフレーム間隔を設定する
// - Provider: 既定デバイスの取得。バックエンドはProviderFactoryに登録する
//   - v4l2: blackjack/webcamによるV4L2ストリーミング（Linuxのみ）
//   - synthetic: テストパターンを生成するMockDevice
// - フォーマット選択はデバイスの列挙順で最初に一致したものを採る
//
// # 前提要件
//   - v4l-utils: カメラ名の取得に使用（無くても動作する）
//     Ubuntu/Debian: sudo apt install v4l-utils
//   - videoグループへの参加: デバイスアクセス権限
//     sudo usermod -a -G video $USER
package camera
