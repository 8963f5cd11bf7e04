package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nao1215/beatnotify/pkg/event"
	"github.com/nao1215/beatnotify/pkg/middleware"
)

const (
	// writeWait は1フレームの書き込みに許す時間。
	writeWait = 10 * time.Second
	// pongWait はpongを待つ時間。過ぎたら接続を切る。
	pongWait = 60 * time.Second
	// pingPeriod はpingの送信間隔。pongWaitより短くする。
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize はクライアントから受け取るフレームの上限。
	maxMessageSize = 64 * 1024
)

// クライアントから受け取るイベント名。
const (
	inJoin     = "join"
	inRead     = "notification:read"
	inClear    = "notifications:clear"
	inMessage  = "message:send"
	inFollow   = "user:follow"
	inPurchase = "purchase:complete"
	inVerify   = "verification:status"
	inProject  = "project:update"
)

// EventError は処理できなかったフレームに対してクライアントへ返すイベント名。
const EventError = "error"

var (
	// ErrNotJoined はjoin前の接続から操作を受け取ったことを表す。
	ErrNotJoined = errors.New("joinしていない接続です")
	// ErrForbidden は接続のユーザーと異なるユーザーへの操作を表す。
	ErrForbidden = errors.New("他のユーザーへの操作はできません")
	// ErrClientEventDisabled はクライアントからの送信が許可されていないイベントを表す。
	ErrClientEventDisabled = errors.New("このイベントはクライアントから送信できません")
	// ErrUnknownClientEvent は未知のイベント名を表す。
	ErrUnknownClientEvent = errors.New("未知のイベントです")
)

// serverOnlyEvents は通常サーバー側で発生するため、許可した場合だけクライアントから受け付けるイベント。
var serverOnlyEvents = map[string]event.Type{
	inPurchase: event.TypePurchaseCompleted,
	inVerify:   event.TypeVerificationStatusChanged,
	inProject:  event.TypeProjectUpdated,
}

// SocketOptions はWebSocketエンドポイントの設定。
type SocketOptions struct {
	// RequireAuth がtrueならハンドシェイクでJWTを要求し、joinをトークンのユーザーに限る。
	RequireAuth bool
	// JWTSecret はトークン検証の秘密鍵。
	JWTSecret string
	// AllowedOrigins は許可するOrigin。空なら全て許可する。
	AllowedOrigins []string
	// AllowClientEvents がtrueなら購入・審査・プロジェクト更新もクライアントから受け付ける。
	AllowClientEvents bool
}

// inboundFrame はクライアントから受け取る1フレーム。
type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// readRequest は notification:read のペイロード。
type readRequest struct {
	UserID         event.ID `json:"userId"`
	NotificationID string   `json:"notificationId"`
}

// SocketHandler は /ws のWebSocket接続を受け付け、フレームをGatewayとRouterに渡す。
type SocketHandler struct {
	hub      *Hub
	gateway  *Gateway
	router   *Router
	opts     SocketOptions
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewSocketHandler は新しいSocketHandlerを生成する。
func NewSocketHandler(hub *Hub, gateway *Gateway, router *Router, opts SocketOptions, logger *slog.Logger) *SocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &SocketHandler{
		hub:     hub,
		gateway: gateway,
		router:  router,
		opts:    opts,
		logger:  logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || middleware.OriginAllowed(opts.AllowedOrigins, origin)
		},
	}
	return h
}

// ServeHTTP はWebSocketへのアップグレードを行い、接続が閉じるまで受信を続ける。
func (h *SocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var authUser string
	if h.opts.RequireAuth {
		token, err := middleware.TokenFromRequest(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		claims, err := middleware.ParseToken(h.opts.JWTSecret, token)
		if err != nil {
			http.Error(w, "トークンが無効です", http.StatusUnauthorized)
			return
		}
		authUser = claims.UserID
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgradeがエラーレスポンスを書き込み済み
		h.logger.Warn("WebSocketへのアップグレードに失敗", "error", err)
		return
	}

	connID := uuid.NewString()
	send := h.hub.Attach(connID)
	h.logger.Debug("WebSocket接続を受け付けました", "conn_id", connID, "remote", r.RemoteAddr)

	go h.writePump(conn, send)
	h.readPump(r.Context(), conn, connID, authUser)

	h.gateway.Disconnect(connID)
	h.hub.Detach(connID)
}

// readPump はフレームを読み続け、1件ずつ処理する。接続が閉じたら戻る。
func (h *SocketHandler) readPump(ctx context.Context, conn *websocket.Conn, connID, authUser string) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("WebSocketの受信エラー", "conn_id", connID, "error", err)
			}
			return
		}
		if err := h.dispatch(ctx, connID, authUser, raw); err != nil {
			h.logger.Warn("フレームの処理に失敗", "conn_id", connID, "error", err)
			h.hub.Push(connID, Message{Event: EventError, Data: map[string]string{"error": err.Error()}})
		}
	}
}

// writePump は送信キューの内容とpingを接続に書き込む。
// キューが閉じられるか書き込みに失敗したら接続を閉じて戻る。
func (h *SocketHandler) writePump(conn *websocket.Conn, send <-chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case b, ok := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch はフレーム1件をイベント名に応じて処理する。
func (h *SocketHandler) dispatch(ctx context.Context, connID, authUser string, raw []byte) error {
	var in inboundFrame
	if err := json.Unmarshal(raw, &in); err != nil {
		return fmt.Errorf("フレームのデシリアライズに失敗: %w", err)
	}

	switch in.Event {
	case inJoin:
		userID, err := decodeUserID(in.Data)
		if err != nil {
			return err
		}
		if authUser != "" && userID != authUser {
			return fmt.Errorf("join %s: %w", userID, ErrForbidden)
		}
		return h.gateway.Join(connID, userID)

	case inRead:
		var req readRequest
		if err := json.Unmarshal(in.Data, &req); err != nil {
			return fmt.Errorf("%sのデシリアライズに失敗: %w", inRead, err)
		}
		userID, err := h.boundUser(connID, req.UserID.String())
		if err != nil {
			return err
		}
		h.gateway.MarkRead(userID, req.NotificationID)
		return nil

	case inClear:
		requested, err := decodeUserID(in.Data)
		if err != nil {
			return err
		}
		userID, err := h.boundUser(connID, requested)
		if err != nil {
			return err
		}
		h.gateway.Clear(userID)
		return nil

	case inMessage, inFollow:
		sender, err := h.boundUser(connID, "")
		if err != nil {
			return err
		}
		t := event.TypeMessageSent
		if in.Event == inFollow {
			t = event.TypeUserFollowed
		}
		e, err := event.DecodeEnvelope(event.Envelope{Type: t, Data: in.Data})
		if err != nil {
			return err
		}
		switch ev := e.(type) {
		case event.MessageSent:
			ev.FromUserID = event.ID(sender)
			e = ev
		case event.UserFollowed:
			ev.FollowerID = event.ID(sender)
			e = ev
		}
		_, err = h.router.Publish(ctx, e)
		return err

	case inPurchase, inVerify, inProject:
		if !h.opts.AllowClientEvents {
			return fmt.Errorf("%s: %w", in.Event, ErrClientEventDisabled)
		}
		e, err := event.DecodeEnvelope(event.Envelope{Type: serverOnlyEvents[in.Event], Data: in.Data})
		if err != nil {
			return err
		}
		_, err = h.router.Publish(ctx, e)
		return err

	default:
		return fmt.Errorf("%q: %w", in.Event, ErrUnknownClientEvent)
	}
}

// boundUser は接続に紐付くユーザーを返す。
// requestedが空でなく紐付くユーザーと異なる場合は ErrForbidden を返す。
func (h *SocketHandler) boundUser(connID, requested string) (string, error) {
	userID, ok := h.gateway.UserOf(connID)
	if !ok {
		return "", ErrNotJoined
	}
	if requested != "" && requested != userID {
		return "", fmt.Errorf("ユーザー %s: %w", requested, ErrForbidden)
	}
	return userID, nil
}

// decodeUserID はユーザーIDのペイロードを読む。
// 文字列・数値のほか {"userId": ...} の形も受け付ける。
func decodeUserID(data json.RawMessage) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyUserID
	}
	var id event.ID
	if err := json.Unmarshal(data, &id); err == nil {
		if id == "" {
			return "", ErrEmptyUserID
		}
		return id.String(), nil
	}
	var obj struct {
		UserID event.ID `json:"userId"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", fmt.Errorf("ユーザーIDのデシリアライズに失敗: %w", err)
	}
	if obj.UserID == "" {
		return "", ErrEmptyUserID
	}
	return obj.UserID.String(), nil
}
