package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Type はドメインイベントの種類を表す。
type Type string

const (
	// TypeMessageSent はユーザー間でメッセージが送信されたことを表す。
	TypeMessageSent Type = "MessageSent"
	// TypePurchaseCompleted は購入が完了したことを表す。
	TypePurchaseCompleted Type = "PurchaseCompleted"
	// TypeVerificationStatusChanged はアーティスト認証の審査状態が変わったことを表す。
	TypeVerificationStatusChanged Type = "VerificationStatusChanged"
	// TypeUserFollowed はユーザーがフォローされたことを表す。
	TypeUserFollowed Type = "UserFollowed"
	// TypeProjectUpdated はコラボプロジェクトに更新があったことを表す。
	TypeProjectUpdated Type = "ProjectUpdated"
)

var (
	// ErrUnknownType は未知のイベント種別を受け取ったことを表す。
	ErrUnknownType = errors.New("未知のイベント種別です")
	// ErrMissingField はイベントの必須フィールドが欠けていることを表す。
	ErrMissingField = errors.New("必須フィールドが不足しています")
)

// ID はユーザーやプロジェクトの識別子。
// クライアントによっては数値で送ってくるため、JSONの文字列・数値どちらも受け付ける。
type ID string

// String はIDを文字列として返す。
func (id ID) String() string {
	return string(id)
}

// UnmarshalJSON は文字列または数値のJSONをIDにデコードする。
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("IDは文字列か数値である必要があります: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// Event は通知の発生源となるドメインイベント。
// 実装はこのパッケージ内のバリアントに限られる。
type Event interface {
	// Type はイベントの種類を返す。
	Type() Type
	// Targets は通知先ユーザーのIDを返す。
	Targets() []ID
	// Validate は通知先以外の必須フィールドを検証する。
	Validate() error

	sealed()
}

// MessageSent はメッセージ送信イベント。
type MessageSent struct {
	// FromUserID は送信者のユーザーID。
	FromUserID ID `json:"fromUserId"`
	// ToUserID は受信者のユーザーID。通知先になる。
	ToUserID ID `json:"toUserId"`
	// Content はメッセージ本文。
	Content string `json:"content"`
}

// Type はイベントの種類を返す。
func (MessageSent) Type() Type { return TypeMessageSent }

// Targets は受信者を返す。
func (e MessageSent) Targets() []ID { return []ID{e.ToUserID} }

// Validate はMessageSentの必須フィールドを検証する。
func (MessageSent) Validate() error { return nil }

func (MessageSent) sealed() {}

// PurchaseCompleted は購入完了イベント。
type PurchaseCompleted struct {
	// UserID は購入者のユーザーID。通知先になる。
	UserID ID `json:"userId"`
	// ProductName は購入した商品名。
	ProductName string `json:"productName"`
	// Amount は支払金額。
	Amount decimal.Decimal `json:"amount"`
	// OrderID は注文ID。任意。
	OrderID ID `json:"orderId,omitempty"`
}

// Type はイベントの種類を返す。
func (PurchaseCompleted) Type() Type { return TypePurchaseCompleted }

// Targets は購入者を返す。
func (e PurchaseCompleted) Targets() []ID { return []ID{e.UserID} }

// Validate はPurchaseCompletedの必須フィールドを検証する。
func (e PurchaseCompleted) Validate() error {
	if e.Amount.IsNegative() {
		return fmt.Errorf("amountが負の値です: %s", e.Amount.String())
	}
	return nil
}

func (PurchaseCompleted) sealed() {}

// VerificationStatus はアーティスト認証の審査状態。
type VerificationStatus string

const (
	// VerificationApproved は承認済みを表す。
	VerificationApproved VerificationStatus = "approved"
	// VerificationRejected は却下を表す。
	VerificationRejected VerificationStatus = "rejected"
	// VerificationPending は審査中を表す。
	VerificationPending VerificationStatus = "pending"
)

// Valid は定義済みの審査状態かどうかを返す。
func (s VerificationStatus) Valid() bool {
	switch s {
	case VerificationApproved, VerificationRejected, VerificationPending:
		return true
	default:
		return false
	}
}

// VerificationStatusChanged は認証審査状態の変更イベント。
type VerificationStatusChanged struct {
	// UserID は審査対象のユーザーID。通知先になる。
	UserID ID `json:"userId"`
	// Status は新しい審査状態。
	Status VerificationStatus `json:"status"`
	// Message は審査担当者からのメッセージ。
	Message string `json:"message"`
}

// Type はイベントの種類を返す。
func (VerificationStatusChanged) Type() Type { return TypeVerificationStatusChanged }

// Targets は審査対象ユーザーを返す。
func (e VerificationStatusChanged) Targets() []ID { return []ID{e.UserID} }

// Validate は審査状態が定義済みの値であることを検証する。
func (e VerificationStatusChanged) Validate() error {
	if e.Status == "" {
		return fmt.Errorf("status: %w", ErrMissingField)
	}
	if !e.Status.Valid() {
		return fmt.Errorf("statusが不正です: %q", e.Status)
	}
	return nil
}

func (VerificationStatusChanged) sealed() {}

// UserFollowed はフォローイベント。
type UserFollowed struct {
	// FollowerID はフォローしたユーザーのID。
	FollowerID ID `json:"followerId"`
	// FollowedUserID はフォローされたユーザーのID。通知先になる。
	FollowedUserID ID `json:"followedUserId"`
	// FollowerName はフォローしたユーザーの表示名。
	FollowerName string `json:"followerName"`
}

// Type はイベントの種類を返す。
func (UserFollowed) Type() Type { return TypeUserFollowed }

// Targets はフォローされたユーザーを返す。
func (e UserFollowed) Targets() []ID { return []ID{e.FollowedUserID} }

// Validate はUserFollowedの必須フィールドを検証する。
func (UserFollowed) Validate() error { return nil }

func (UserFollowed) sealed() {}

// ProjectUpdated はコラボプロジェクトの更新イベント。
// 出資者など複数ユーザーに配信される。
type ProjectUpdated struct {
	// ProjectID は更新されたプロジェクトのID。
	ProjectID ID `json:"projectId"`
	// Title は更新のタイトル。
	Title string `json:"title"`
	// Content は更新内容。
	Content string `json:"content"`
	// AffectedUsers は通知先ユーザーのID一覧。
	AffectedUsers []ID `json:"affectedUsers"`
}

// Type はイベントの種類を返す。
func (ProjectUpdated) Type() Type { return TypeProjectUpdated }

// Targets は影響を受けるユーザー一覧を返す。
func (e ProjectUpdated) Targets() []ID { return e.AffectedUsers }

// Validate はProjectUpdatedの必須フィールドを検証する。
func (ProjectUpdated) Validate() error { return nil }

func (ProjectUpdated) sealed() {}
