// Package server は、キャプチャセッションの状態を公開するHTTPサーバーを提供します。
//
// 責務:
//   - ginによるHTTPサーバーの起動と管理
//   - セッションの状態とフォーマット一覧の提供
//   - WebSocketによるフレーム通知の配信
//
// 仕様:
//   - 画像データは配信しない（タイムスタンプと寸法のみ）
//   - WebSocketはgorilla/websocketを使用
//   - グレースフルシャットダウンに対応
//   - 複数クライアントの同時接続をサポート
package server
