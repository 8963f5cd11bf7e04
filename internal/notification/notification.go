package notification

import "time"

// Kind は通知の種類。
type Kind string

const (
	// KindMessage はメッセージ受信の通知。
	KindMessage Kind = "message"
	// KindProjectUpdate はプロジェクト更新の通知。
	KindProjectUpdate Kind = "project_update"
	// KindPurchase は購入完了の通知。
	KindPurchase Kind = "purchase"
	// KindVerification は認証審査の通知。
	KindVerification Kind = "verification"
	// KindFollow はフォローされた通知。
	KindFollow Kind = "follow"
)

// idPrefix は種類ごとの通知IDのプレフィックスを返す。
func (k Kind) idPrefix() string {
	switch k {
	case KindMessage:
		return "msg"
	case KindProjectUpdate:
		return "proj"
	case KindPurchase:
		return "purchase"
	case KindVerification:
		return "verify"
	case KindFollow:
		return "follow"
	default:
		return string(k)
	}
}

// Notification はユーザー1人に宛てた通知。
// 作成後に変化するのは Read だけで、それ以外は不変。
type Notification struct {
	// ID は通知の一意識別子（{種類プレフィックス}-{UUID}）。
	ID string `json:"id"`
	// Type は通知の種類。
	Type Kind `json:"type"`
	// UserID は通知の所有者。
	UserID string `json:"userId"`
	// Title は通知のタイトル。
	Title string `json:"title"`
	// Content は通知の本文。
	Content string `json:"content"`
	// RelatedID は関連エンティティのID。
	RelatedID string `json:"relatedId,omitempty"`
	// RelatedType は関連エンティティの種類（user, order, project）。
	RelatedType string `json:"relatedType,omitempty"`
	// Timestamp は作成日時。
	Timestamp time.Time `json:"timestamp"`
	// Read は既読かどうか。
	Read bool `json:"read"`
}
