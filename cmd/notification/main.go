// 通知サービスのエントリポイント。
// ドメインイベントを通知に変換し、オンラインのユーザーへWebSocketで配信する。
// オフラインのユーザーには次回接続時に履歴として届ける。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nao1215/beatnotify/internal/notification"
	"github.com/nao1215/beatnotify/pkg/config"
	"github.com/nao1215/beatnotify/pkg/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "通知サービスが異常終了しました: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	logger := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := notification.NewService(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("通知サービスの初期化に失敗: %w", err)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Error("終了処理に失敗", "error", err)
		}
	}()

	logger.Info("通知サービスを起動します",
		"port", cfg.Port,
		"journal", cfg.JournalPath != "",
		"kafka", cfg.KafkaEnabled(),
		"require_auth", cfg.RequireAuth,
	)
	if err := svc.Run(ctx); err != nil {
		return fmt.Errorf("通知サービスの実行に失敗: %w", err)
	}
	logger.Info("通知サービスを停止しました")
	return nil
}
