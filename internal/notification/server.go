package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/beatnotify/pkg/event"
	"github.com/nao1215/beatnotify/pkg/middleware"
)

// shutdownTimeout はグレースフルシャットダウンを待つ時間。
const shutdownTimeout = 10 * time.Second

// ServerOptions はHTTPサーバーの設定。
type ServerOptions struct {
	// Port はリッスンポート。
	Port string
	// JWTSecret はREST APIのJWT検証に使う秘密鍵。
	JWTSecret string
	// AllowedOrigins はCORSで許可するオリジン。空なら全て許可する。
	AllowedOrigins []string
	// Metrics がnilでなければ /metrics を公開する。
	Metrics *Metrics
	// Logger はリクエストログとエラーログの出力先。
	Logger *slog.Logger
}

// Server は通知サービスのHTTPサーバー。
type Server struct {
	// engine はGinのHTTPルーター。
	engine *gin.Engine
	// httpServer はRunで起動するHTTPサーバー。
	httpServer *http.Server
	store      *Store
	gateway    *Gateway
	router     *Router
	// socket は /ws のハンドラ。
	socket  http.Handler
	metrics *Metrics
	logger  *slog.Logger
}

// NewServer は新しい通知サーバーを生成する。
func NewServer(opts ServerOptions, store *Store, gateway *Gateway, router *Router, socket http.Handler) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	engine := gin.New()
	engine.Use(middleware.Recovery(logger))
	engine.Use(middleware.RequestLogger(logger))
	engine.Use(middleware.CORS(opts.AllowedOrigins))

	s := &Server{
		engine:  engine,
		store:   store,
		gateway: gateway,
		router:  router,
		socket:  socket,
		metrics: opts.Metrics,
		logger:  logger,
	}
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%s", opts.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.setupRoutes(middleware.JWTAuth(opts.JWTSecret))
	return s
}

// Handler はテストや組み込み用にHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.engine
}

// RegisterOnShutdown はシャットダウン開始時に呼ぶ関数を登録する。
func (s *Server) RegisterOnShutdown(f func()) {
	s.httpServer.RegisterOnShutdown(f)
}

// Run はctxがキャンセルされるまでHTTPサーバーを動かし、その後グレースフルに停止する。
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTPサーバーを起動します", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTPサーバーの停止に失敗: %w", err)
	}
	s.logger.Info("HTTPサーバーを停止しました")
	return nil
}

// setupRoutes はAPIルーティングを設定する。authはユーザーIDをコンテキストに設定するミドルウェア。
func (s *Server) setupRoutes(auth gin.HandlerFunc) {
	api := s.engine.Group("/api/v1")
	api.Use(auth)
	{
		notifications := api.Group("/notifications")
		{
			// 通知一覧取得
			notifications.GET("", s.handleList())
			// 未読通知一覧取得
			notifications.GET("/unread", s.handleListUnread())
			// 通知を既読にする
			notifications.PUT("/:id/read", s.handleMarkAsRead())
			// 全通知を削除する
			notifications.DELETE("", s.handleClear())
		}

		// ドメインイベントの受け付け（内部API - 各サービスから呼び出される）
		internal := api.Group("/internal")
		{
			internal.POST("/events", s.handlePublish())
		}
	}

	if s.socket != nil {
		s.engine.GET("/ws", gin.WrapH(s.socket))
	}
	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	// ヘルスチェック
	s.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "notification"})
	})
}

// requireUser は認証済みユーザーIDを返す。取得できなければ401を返してfalseになる。
func requireUser(c *gin.Context) (string, bool) {
	userID := middleware.GetUserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
		return "", false
	}
	return userID, true
}

// handleList は認証済みユーザーの通知一覧を古い順に返すハンドラ。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, s.store.ListFor(userID))
	}
}

// handleListUnread は認証済みユーザーの未読通知一覧を返すハンドラ。
func (s *Server) handleListUnread() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}

		all := s.store.ListFor(userID)
		unread := make([]Notification, 0, len(all))
		for _, n := range all {
			if !n.Read {
				unread = append(unread, n)
			}
		}
		c.JSON(http.StatusOK, unread)
	}
}

// handleMarkAsRead は指定された通知を既読にするハンドラ。
// 他のユーザーの通知は自分のログに無いため404になる。
func (s *Server) handleMarkAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}

		notificationID := c.Param("id")
		if notificationID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "通知IDが必要です"})
			return
		}

		if !s.gateway.MarkRead(userID, notificationID) {
			c.JSON(http.StatusNotFound, gin.H{"error": "通知が見つかりません"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "通知を既読にしました"})
	}
}

// handleClear は認証済みユーザーの全通知を削除し、全ての接続に通知するハンドラ。
func (s *Server) handleClear() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}

		n := s.gateway.Clear(userID)
		c.JSON(http.StatusOK, gin.H{"message": "全通知を削除しました", "deleted": n})
	}
}

// handlePublish はドメインイベントを受け取り通知を作成するハンドラ。
func (s *Server) handlePublish() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストの読み込みに失敗しました: %v", err)})
			return
		}

		e, err := event.Decode(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		created, err := s.router.Publish(c.Request.Context(), e)
		switch {
		case errors.Is(err, ErrInvalidEvent):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		case errors.Is(err, ErrUnresolvableTarget):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		case err != nil:
			s.logger.Error("通知の作成に失敗", "event_type", e.Type(), "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "通知先の確認に失敗しました"})
			return
		}

		ids := make([]string, 0, len(created))
		for _, n := range created {
			ids = append(ids, n.ID)
		}
		c.JSON(http.StatusAccepted, gin.H{"ids": ids})
	}
}
