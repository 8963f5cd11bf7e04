// Package notification はマーケットプレイスのリアルタイム通知を配信する。
//
// ドメインイベント（メッセージ、購入完了、認証審査、フォロー、プロジェクト更新）を
// 通知に変換し、ユーザーごとの上限付きログに保存したうえで、
// そのユーザーの全てのライブ接続へ WebSocket で配信する。
// オフラインのユーザーは次回の join 時に notifications:load で履歴を受け取る。
//
// 構成要素は次の通り。
//
//   - Registry: 接続IDとユーザーの対応
//   - Store: ユーザーごとの上限付き通知ログ
//   - Router: イベントを通知に変換して保存・配信する
//   - Gateway: join / 既読 / 全削除 / 切断の処理
//   - Hub: WebSocket接続を管理し Pusher を実装する
//   - Journal: 任意のSQLiteジャーナル
//   - Consumer: 任意のKafka購読
package notification
