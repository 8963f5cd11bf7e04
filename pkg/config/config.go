// Package config は環境変数からサービスの設定を読み込む。
//
// カレントディレクトリに .env があれば先に読み込んでから、
// NOTIFICATION_ プレフィックス付き（または無し）の環境変数を構造体に展開する。
package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// prefix は環境変数のプレフィックス。
const prefix = "notification"

// Config は通知サービスの設定。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string `envconfig:"PORT" default:"8086"`
	// JWTSecret はJWT検証用の秘密鍵。
	JWTSecret string `envconfig:"JWT_SECRET" default:"dev-secret-key"`
	// RequireAuth がtrueの場合、WebSocket接続にJWTを要求する。
	RequireAuth bool `envconfig:"REQUIRE_AUTH" default:"false"`
	// AllowedOrigins はCORSとWebSocketで許可するオリジン。空なら全て許可する。
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS"`
	// HistoryLimit はユーザーごとに保持する通知の上限。
	HistoryLimit int `envconfig:"HISTORY_LIMIT" default:"50"`
	// SendBuffer は接続ごとの送信バッファの長さ。
	SendBuffer int `envconfig:"SEND_BUFFER" default:"32"`
	// AllowClientEvents がtrueの場合、購入・審査・プロジェクト更新イベントをクライアントからも受け付ける。
	AllowClientEvents bool `envconfig:"ALLOW_CLIENT_EVENTS" default:"false"`
	// JournalPath は通知ジャーナル（SQLite）のパス。空ならジャーナルを使わない。
	JournalPath string `envconfig:"JOURNAL_PATH"`
	// AccountURL はユーザー存在確認に使うアカウントサービスのURL。空なら確認しない。
	AccountURL string `envconfig:"ACCOUNT_URL"`
	// MetricsEnabled がtrueの場合、/metrics を公開する。
	MetricsEnabled bool `envconfig:"METRICS_ENABLED" default:"true"`

	// KafkaConfig はドメインイベント購読の設定。
	KafkaConfig
	// LogConfig はログ出力の設定。
	LogConfig
}

// KafkaConfig はKafkaコンシューマーの設定。
type KafkaConfig struct {
	// KafkaBrokers はブローカーのアドレス一覧。空ならKafkaを使わない。
	KafkaBrokers []string `envconfig:"KAFKA_BROKERS"`
	// KafkaTopic はドメインイベントのトピック名。
	KafkaTopic string `envconfig:"KAFKA_TOPIC" default:"marketplace.domain-events"`
	// KafkaGroupID はコンシューマーグループID。
	KafkaGroupID string `envconfig:"KAFKA_GROUP_ID" default:"notification"`
}

// KafkaEnabled はKafkaの購読が有効かどうかを返す。
func (k KafkaConfig) KafkaEnabled() bool {
	return len(k.KafkaBrokers) > 0
}

// LogConfig はログ出力の設定。
type LogConfig struct {
	// LogLevel はログレベル（debug, info, warn, error）。
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	// LogFormat は出力形式（json, text）。
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
	// LogFile はログファイルのパス。空なら標準出力に出す。
	LogFile string `envconfig:"LOG_FILE"`
}

// Load は .env と環境変数から設定を読み込む。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf(".envの読み込みに失敗: %w", err)
	}

	c := &Config{}
	if err := envconfig.Process(prefix, c); err != nil {
		return nil, fmt.Errorf("環境変数の読み込みに失敗: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// validate は設定値の整合性を検証する。
func (c *Config) validate() error {
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("HISTORY_LIMITは1以上である必要があります: %d", c.HistoryLimit)
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("SEND_BUFFERは1以上である必要があります: %d", c.SendBuffer)
	}
	if c.RequireAuth && c.JWTSecret == "" {
		return errors.New("REQUIRE_AUTHが有効な場合はJWT_SECRETが必要です")
	}
	return nil
}
