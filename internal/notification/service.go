package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nao1215/beatnotify/pkg/config"
	"github.com/nao1215/beatnotify/pkg/httpclient"
	"golang.org/x/sync/errgroup"
)

// directoryTimeout はアカウントサービスへの問い合わせのタイムアウト。
const directoryTimeout = 3 * time.Second

// Service は設定から組み立てた通知サービス全体。
type Service struct {
	Registry *Registry
	Store    *Store
	Hub      *Hub
	Router   *Router
	Gateway  *Gateway
	Server   *Server
	Metrics  *Metrics

	journal  *Journal
	consumer *Consumer
	logger   *slog.Logger
}

// NewService は設定に従ってサービスの構成要素を生成し、相互に接続する。
// ジャーナルが有効な場合は保存済みの通知をStoreに読み込む。
func NewService(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{logger: logger}

	if cfg.MetricsEnabled {
		s.Metrics = NewMetrics()
	}

	var storeOpts []StoreOption
	if cfg.JournalPath != "" {
		j, err := OpenJournal(ctx, cfg.JournalPath, cfg.HistoryLimit, logger)
		if err != nil {
			return nil, fmt.Errorf("ジャーナルの初期化に失敗: %w", err)
		}
		s.journal = j
		storeOpts = append(storeOpts, WithRecorder(j))
	}
	s.Store = NewStore(cfg.HistoryLimit, storeOpts...)

	if s.journal != nil {
		saved, err := s.journal.Load(ctx)
		if err != nil {
			_ = s.journal.Close()
			return nil, fmt.Errorf("ジャーナルの読み込みに失敗: %w", err)
		}
		s.Store.Warm(saved)
		logger.Info("ジャーナルから通知を読み込みました", "count", len(saved))
	}

	s.Registry = NewRegistry()
	s.Hub = NewHub(cfg.SendBuffer, logger, s.Metrics)

	routerOpts := []RouterOption{WithRouterLogger(logger), WithRouterMetrics(s.Metrics)}
	if cfg.AccountURL != "" {
		client := httpclient.New(cfg.AccountURL, httpclient.WithTimeout(directoryTimeout))
		routerOpts = append(routerOpts, WithDirectory(NewRemoteDirectory(client)))
	}
	s.Router = NewRouter(s.Store, s.Registry, s.Hub, routerOpts...)
	s.Gateway = NewGateway(s.Registry, s.Store, s.Hub, logger, s.Metrics)

	socket := NewSocketHandler(s.Hub, s.Gateway, s.Router, SocketOptions{
		RequireAuth:       cfg.RequireAuth,
		JWTSecret:         cfg.JWTSecret,
		AllowedOrigins:    cfg.AllowedOrigins,
		AllowClientEvents: cfg.AllowClientEvents,
	}, logger)

	s.Server = NewServer(ServerOptions{
		Port:           cfg.Port,
		JWTSecret:      cfg.JWTSecret,
		AllowedOrigins: cfg.AllowedOrigins,
		Metrics:        s.Metrics,
		Logger:         logger,
	}, s.Store, s.Gateway, s.Router, socket)
	// ハイジャック済みのWebSocket接続はShutdownの対象外なので自分で閉じる
	s.Server.RegisterOnShutdown(s.Hub.CloseAll)

	if cfg.KafkaEnabled() {
		s.consumer = NewConsumer(ConsumerConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			GroupID: cfg.KafkaGroupID,
		}, s.Router, logger)
	}
	return s, nil
}

// Run はctxがキャンセルされるまでHTTPサーバーとKafka購読を動かす。
// ジャーナルはそれらが止まった後に残りを書き切ってから止める。
func (s *Service) Run(ctx context.Context) error {
	journalCtx, stopJournal := context.WithCancel(context.WithoutCancel(ctx))
	defer stopJournal()
	journalDone := make(chan error, 1)
	if s.journal != nil {
		go func() { journalDone <- s.journal.Run(journalCtx) }()
	} else {
		journalDone <- nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.Server.Run(gctx)
	})
	if s.consumer != nil {
		g.Go(func() error {
			s.logger.Info("Kafkaの購読を開始します")
			return s.consumer.Run(gctx)
		})
	}

	err := g.Wait()
	stopJournal()
	return errors.Join(err, <-journalDone)
}

// Close はKafkaリーダーとジャーナルを閉じる。Run が戻った後に呼ぶこと。
func (s *Service) Close() error {
	var errs []error
	if s.consumer != nil {
		if err := s.consumer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("Kafkaリーダーのクローズに失敗: %w", err))
		}
	}
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("ジャーナルのクローズに失敗: %w", err))
		}
	}
	return errors.Join(errs...)
}
