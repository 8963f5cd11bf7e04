package notification

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

var (
	// ErrEmptyUserID はユーザーIDが空であることを表す。
	ErrEmptyUserID = errors.New("ユーザーIDが空です")
	// ErrAlreadyBound は接続が既に別のユーザーに紐付いていることを表す。
	ErrAlreadyBound = errors.New("接続は既に別のユーザーに紐付いています")
)

// Gateway はクライアント操作（join、既読、全削除、切断）を処理する。
type Gateway struct {
	registry *Registry
	store    *Store
	pusher   Pusher
	logger   *slog.Logger
	metrics  *Metrics
}

// NewGateway は新しいGatewayを生成する。loggerとmetricsはnilでもよい。
func NewGateway(registry *Registry, store *Store, pusher Pusher, logger *slog.Logger, metrics *Metrics) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		registry: registry,
		store:    store,
		pusher:   pusher,
		logger:   logger,
		metrics:  metrics,
	}
}

// Join は接続をユーザーに紐付け、その接続にだけ通知履歴を送る。
// 同じユーザーでの再joinは履歴を送り直す。
func (g *Gateway) Join(connID, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrEmptyUserID
	}
	if !g.registry.Bind(connID, userID) {
		current, _ := g.registry.UserOf(connID)
		return fmt.Errorf("接続 %s はユーザー %s に紐付いています: %w", connID, current, ErrAlreadyBound)
	}

	history := g.store.ListFor(userID)
	if g.pusher != nil {
		g.pusher.Push(connID, Message{Event: EventLoad, Data: history})
		g.metrics.pushed(EventLoad)
	}
	g.logger.Debug("ユーザーが接続しました", "conn_id", connID, "user_id", userID, "history", len(history))
	return nil
}

// MarkRead は通知を既読にする。通知が存在すればtrueを返す。
// 既読状態はユーザーの他の接続へは送らない。
func (g *Gateway) MarkRead(userID, notificationID string) bool {
	return g.store.MarkRead(userID, notificationID)
}

// Clear はユーザーの通知を全て削除し、そのユーザーの全ての接続に完了を通知する。
func (g *Gateway) Clear(userID string) int {
	n := g.store.Clear(userID)
	deliver(g.registry, g.pusher, g.metrics, userID, Message{Event: EventCleared})
	g.logger.Debug("通知を全削除しました", "user_id", userID, "count", n)
	return n
}

// UserOf は接続に紐付くユーザーIDを返す。
func (g *Gateway) UserOf(connID string) (string, bool) {
	return g.registry.UserOf(connID)
}

// Disconnect は接続の紐付けを解除する。未知の接続なら何もしない。
func (g *Gateway) Disconnect(connID string) {
	if userID, ok := g.registry.Unbind(connID); ok {
		g.logger.Debug("ユーザーが切断しました", "conn_id", connID, "user_id", userID)
	}
}
