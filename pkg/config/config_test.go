package config

import (
	"testing"
)

// TestLoad は環境変数から設定を読み込めることを検証する。
// t.Setenvを使うため並列実行しない。
func TestLoad(t *testing.T) {
	t.Run("未設定の場合はデフォルト値になること", func(t *testing.T) {
		c, err := Load()
		if err != nil {
			t.Fatalf("Load()でエラーが発生: %v", err)
		}
		if c.Port != "8086" {
			t.Errorf("Port = %q, want %q", c.Port, "8086")
		}
		if c.HistoryLimit != 50 {
			t.Errorf("HistoryLimit = %d, want 50", c.HistoryLimit)
		}
		if c.SendBuffer != 32 {
			t.Errorf("SendBuffer = %d, want 32", c.SendBuffer)
		}
		if c.KafkaEnabled() {
			t.Error("KafkaEnabled() = true, want false")
		}
		if c.KafkaTopic != "marketplace.domain-events" {
			t.Errorf("KafkaTopic = %q, want %q", c.KafkaTopic, "marketplace.domain-events")
		}
		if c.LogLevel != "info" || c.LogFormat != "json" {
			t.Errorf("Log = %q/%q, want info/json", c.LogLevel, c.LogFormat)
		}
		if !c.MetricsEnabled {
			t.Error("MetricsEnabled = false, want true")
		}
	})

	t.Run("プレフィックス付きの環境変数を読み込めること", func(t *testing.T) {
		t.Setenv("NOTIFICATION_PORT", "9000")
		t.Setenv("NOTIFICATION_HISTORY_LIMIT", "10")
		t.Setenv("NOTIFICATION_KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
		t.Setenv("NOTIFICATION_ALLOWED_ORIGINS", "http://localhost:3000")

		c, err := Load()
		if err != nil {
			t.Fatalf("Load()でエラーが発生: %v", err)
		}
		if c.Port != "9000" {
			t.Errorf("Port = %q, want %q", c.Port, "9000")
		}
		if c.HistoryLimit != 10 {
			t.Errorf("HistoryLimit = %d, want 10", c.HistoryLimit)
		}
		if len(c.KafkaBrokers) != 2 || c.KafkaBrokers[1] != "kafka-2:9092" {
			t.Errorf("KafkaBrokers = %v", c.KafkaBrokers)
		}
		if !c.KafkaEnabled() {
			t.Error("KafkaEnabled() = false, want true")
		}
		if len(c.AllowedOrigins) != 1 || c.AllowedOrigins[0] != "http://localhost:3000" {
			t.Errorf("AllowedOrigins = %v", c.AllowedOrigins)
		}
	})

	t.Run("プレフィックス無しの環境変数も読み込めること", func(t *testing.T) {
		t.Setenv("PORT", "8088")
		t.Setenv("JWT_SECRET", "from-env")

		c, err := Load()
		if err != nil {
			t.Fatalf("Load()でエラーが発生: %v", err)
		}
		if c.Port != "8088" {
			t.Errorf("Port = %q, want %q", c.Port, "8088")
		}
		if c.JWTSecret != "from-env" {
			t.Errorf("JWTSecret = %q, want %q", c.JWTSecret, "from-env")
		}
	})

	t.Run("履歴上限が0以下の場合はエラーになること", func(t *testing.T) {
		t.Setenv("NOTIFICATION_HISTORY_LIMIT", "0")

		if _, err := Load(); err == nil {
			t.Fatal("Load()がエラーを返すべきだが、nilが返った")
		}
	})

	t.Run("認証必須なのに秘密鍵が空の場合はエラーになること", func(t *testing.T) {
		t.Setenv("NOTIFICATION_REQUIRE_AUTH", "true")
		t.Setenv("NOTIFICATION_JWT_SECRET", "")

		if _, err := Load(); err == nil {
			t.Fatal("Load()がエラーを返すべきだが、nilが返った")
		}
	})
}
