// Package httpclient はサービス間通信用のHTTPクライアントを提供する。
//
// 通知サービスではアカウントサービスへのユーザー存在確認に使う。
// 2xx以外のレスポンスは *StatusError として返すため、呼び出し側は
// errors.As でステータスコードを判定できる。
package httpclient
