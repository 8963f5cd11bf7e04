package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nao1215/beatnotify/pkg/event"
)

// クライアントへ送るイベント名。
const (
	// EventLoad はjoin直後に一度だけ送る通知履歴。
	EventLoad = "notifications:load"
	// EventNew は新しい通知1件。
	EventNew = "notification:new"
	// EventCleared は全削除の完了。ペイロードは無い。
	EventCleared = "notifications:cleared"
)

// ErrUnresolvableTarget はイベントの通知先ユーザーを解決できなかったことを表す。
// この場合通知は1件も保存されない。
var ErrUnresolvableTarget = errors.New("通知先ユーザーを解決できません")

// ErrInvalidEvent はイベントの必須フィールドが不正なことを表す。
var ErrInvalidEvent = errors.New("イベントが不正です")

// Message はクライアントへ送る1フレーム。
type Message struct {
	// Event はイベント名。
	Event string `json:"event"`
	// Data はペイロード。無い場合は省略される。
	Data any `json:"data,omitempty"`
}

// Pusher は接続IDを指定してメッセージを送る。
// 送信はベストエフォートで、失敗しても呼び出し元には伝えない。
type Pusher interface {
	Push(connID string, msg Message)
}

// Directory はユーザーの存在を確認する。
type Directory interface {
	// UserExists はユーザーが存在すればtrueを返す。
	UserExists(ctx context.Context, userID string) (bool, error)
}

// RouterOption はRouterの生成オプション。
type RouterOption func(*Router)

// WithClock は作成日時に使う時計を設定する。
func WithClock(now func() time.Time) RouterOption {
	return func(r *Router) {
		r.now = now
	}
}

// WithIDGenerator は通知IDの接尾辞の生成関数を設定する。
func WithIDGenerator(gen func() string) RouterOption {
	return func(r *Router) {
		r.newID = gen
	}
}

// WithDirectory は通知先の存在確認に使うDirectoryを設定する。
func WithDirectory(d Directory) RouterOption {
	return func(r *Router) {
		r.directory = d
	}
}

// WithRouterLogger はロガーを設定する。
func WithRouterLogger(l *slog.Logger) RouterOption {
	return func(r *Router) {
		r.logger = l
	}
}

// WithRouterMetrics は指標の記録先を設定する。
func WithRouterMetrics(m *Metrics) RouterOption {
	return func(r *Router) {
		r.metrics = m
	}
}

// Router はドメインイベントを通知に変換し、保存してから配信する。
type Router struct {
	store     *Store
	registry  *Registry
	pusher    Pusher
	directory Directory
	now       func() time.Time
	newID     func() string
	logger    *slog.Logger
	metrics   *Metrics
}

// NewRouter は新しいRouterを生成する。
func NewRouter(store *Store, registry *Registry, pusher Pusher, opts ...RouterOption) *Router {
	r := &Router{
		store:    store,
		registry: registry,
		pusher:   pusher,
		now:      time.Now,
		newID:    uuid.NewString,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Publish はイベントから通知を作り、通知先ごとに保存してライブ接続へ送る。
// 通知先が1人でも解決できない場合は ErrUnresolvableTarget を返し、何も保存しない。
// 接続が無いユーザーにも通知は保存される。
func (r *Router) Publish(ctx context.Context, e event.Event) ([]Notification, error) {
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}

	targets, err := r.resolveTargets(ctx, e.Targets())
	if err != nil {
		if errors.Is(err, ErrUnresolvableTarget) {
			r.metrics.rejected(string(e.Type()))
		}
		return nil, err
	}

	created := make([]Notification, 0, len(targets))
	for _, userID := range targets {
		n := r.build(e, userID)
		r.metrics.evicted(r.store.Append(n))
		r.metrics.created(n.Type)
		created = append(created, n)

		deliver(r.registry, r.pusher, r.metrics, userID, Message{Event: EventNew, Data: n})
	}

	r.logger.Debug("通知を作成しました", "event_type", e.Type(), "count", len(created))
	return created, nil
}

// resolveTargets は通知先を正規化して全員の存在を確認する。
// 空のIDや存在しないユーザーが含まれていれば ErrUnresolvableTarget を返す。
// 重複したIDは1つにまとめ、最初に現れた順序を保つ。
func (r *Router) resolveTargets(ctx context.Context, ids []event.ID) ([]string, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("通知先がありません: %w", ErrUnresolvableTarget)
	}

	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		userID := strings.TrimSpace(id.String())
		if userID == "" {
			return nil, fmt.Errorf("空のユーザーID: %w", ErrUnresolvableTarget)
		}
		if _, dup := seen[userID]; dup {
			continue
		}
		seen[userID] = struct{}{}
		out = append(out, userID)
	}

	if r.directory == nil {
		return out, nil
	}
	for _, userID := range out {
		ok, err := r.directory.UserExists(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("ユーザー %s の存在確認に失敗: %w", userID, err)
		}
		if !ok {
			return nil, fmt.Errorf("ユーザー %s: %w", userID, ErrUnresolvableTarget)
		}
	}
	return out, nil
}

// build はイベントの種類に応じたテンプレートで通知を1件作る。
func (r *Router) build(e event.Event, userID string) Notification {
	n := Notification{
		UserID:    userID,
		Timestamp: r.now(),
	}

	switch ev := e.(type) {
	case event.MessageSent:
		n.Type = KindMessage
		n.Title = "New Message"
		n.Content = ev.Content
		n.RelatedID, n.RelatedType = related(ev.FromUserID, "user")
	case event.PurchaseCompleted:
		n.Type = KindPurchase
		n.Title = "Purchase Confirmed"
		n.Content = fmt.Sprintf(`Your purchase of "%s" for $%s has been confirmed.`, ev.ProductName, ev.Amount.StringFixed(2))
		n.RelatedID, n.RelatedType = related(ev.OrderID, "order")
	case event.VerificationStatusChanged:
		n.Type = KindVerification
		n.Title = "Verification " + capitalize(string(ev.Status))
		n.Content = ev.Message
	case event.UserFollowed:
		n.Type = KindFollow
		n.Title = "New Follower"
		n.Content = ev.FollowerName + " started following you"
		n.RelatedID, n.RelatedType = related(ev.FollowerID, "user")
	case event.ProjectUpdated:
		n.Type = KindProjectUpdate
		n.Title = ev.Title
		n.Content = ev.Content
		n.RelatedID, n.RelatedType = related(ev.ProjectID, "project")
	}

	n.ID = n.Type.idPrefix() + "-" + r.newID()
	return n
}

// related はIDが空でなければ関連エンティティの組を返す。
func related(id event.ID, kind string) (string, string) {
	if id == "" {
		return "", ""
	}
	return id.String(), kind
}

// capitalize は先頭の1文字を大文字にする。
func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// deliver はユーザーの全ての接続にメッセージを送る。
func deliver(registry *Registry, pusher Pusher, metrics *Metrics, userID string, msg Message) {
	if pusher == nil {
		return
	}
	for _, connID := range registry.ConnectionsFor(userID) {
		pusher.Push(connID, msg)
		metrics.pushed(msg.Event)
	}
}
