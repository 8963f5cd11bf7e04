// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// JWT認証トークンの検証、リクエストログ、パニックリカバリ、
// CORS設定を含む。WebSocketのハンドシェイクでも同じトークン検証と
// オリジン判定を使えるよう、判定ロジックは関数として公開している。
package middleware
