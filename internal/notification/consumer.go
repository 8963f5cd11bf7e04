package notification

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nao1215/beatnotify/pkg/event"
	kafkago "github.com/segmentio/kafka-go"
)

// fetchRetryWait は取得エラー後に待つ時間。
const fetchRetryWait = time.Second

// messageReader はConsumerが使うKafkaリーダーの機能。
type messageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// ConsumerConfig はKafkaコンシューマーの設定。
type ConsumerConfig struct {
	// Brokers はブローカーのアドレス一覧。
	Brokers []string
	// Topic はドメインイベントのトピック名。
	Topic string
	// GroupID はコンシューマーグループID。
	GroupID string
}

// Consumer はKafkaトピックからドメインイベントを読み、Routerに渡す。
// 壊れたメッセージや通知先を解決できないイベントはログに残して読み飛ばす。
type Consumer struct {
	reader messageReader
	router *Router
	logger *slog.Logger
}

// NewConsumer はKafkaに接続するConsumerを生成する。
func NewConsumer(cfg ConsumerConfig, router *Router, logger *slog.Logger) *Consumer {
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		StartOffset:    kafkago.LastOffset,
		MaxBytes:       10e6,
		CommitInterval: 0,
	})
	return newConsumer(reader, router, logger)
}

func newConsumer(reader messageReader, router *Router, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{reader: reader, router: router, logger: logger}
}

// Run はctxがキャンセルされるまでメッセージを処理する。
// 処理の成否に関わらずメッセージはコミットする。
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Kafkaメッセージの取得に失敗", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(fetchRetryWait):
			}
			continue
		}

		c.handle(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("オフセットのコミットに失敗", "offset", msg.Offset, "error", err)
		}
	}
}

// handle はメッセージ1件をデコードして配信する。
func (c *Consumer) handle(ctx context.Context, msg kafkago.Message) {
	e, err := event.Decode(msg.Value)
	if err != nil {
		c.logger.Warn("ドメインイベントのデコードに失敗したため読み飛ばします",
			"partition", msg.Partition, "offset", msg.Offset, "error", err)
		return
	}

	created, err := c.router.Publish(ctx, e)
	switch {
	case errors.Is(err, ErrUnresolvableTarget):
		c.logger.Warn("通知先を解決できないため読み飛ばします",
			"event_type", e.Type(), "offset", msg.Offset, "error", err)
	case err != nil:
		c.logger.Error("通知の作成に失敗", "event_type", e.Type(), "offset", msg.Offset, "error", err)
	default:
		c.logger.Debug("ドメインイベントを処理しました", "event_type", e.Type(), "count", len(created))
	}
}

// Close はKafkaリーダーを閉じる。
func (c *Consumer) Close() error {
	return c.reader.Close()
}
