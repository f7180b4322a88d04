// Package app は設定から各コンポーネントを組み立てます
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/uma-arai/sbcntr-asset-notifier/internal/common/config"
	"github.com/uma-arai/sbcntr-asset-notifier/internal/common/database"
	"github.com/uma-arai/sbcntr-asset-notifier/internal/dispatch"
	"github.com/uma-arai/sbcntr-asset-notifier/internal/guard"
	"github.com/uma-arai/sbcntr-asset-notifier/internal/mail"
	"github.com/uma-arai/sbcntr-asset-notifier/internal/metrics"
	"github.com/uma-arai/sbcntr-asset-notifier/internal/policy"
	"github.com/uma-arai/sbcntr-asset-notifier/internal/repository"
	"github.com/uma-arai/sbcntr-asset-notifier/internal/server"
	"github.com/uma-arai/sbcntr-asset-notifier/internal/service/batch"
	"github.com/uma-arai/sbcntr-asset-notifier/internal/source/assetbots"
)

// Options は組み立てる範囲の指定です
type Options struct {
	// WithPoller がfalseの場合、AssetBotsやロックを使わない(マイグレーションや履歴参照のみ)
	WithPoller bool
	// Source を指定した場合はAssetBotsの代わりに使います
	Source batch.SnapshotSource
}

// App はプロセスが使う依存をまとめたものです
type App struct {
	Config     *config.Config
	Logger     *zap.Logger
	DB         *database.DB
	Registry   *prometheus.Registry
	Metrics    *metrics.Metrics
	Ledger     *repository.LedgerRepositoryImpl
	Tracker    *repository.ActiveCheckoutRepositoryImpl
	Dispatches *repository.DispatchRepositoryImpl
	Dispatcher *dispatch.Service
	Poller     *batch.Poller

	redis *redis.Client
}

// New はDBに接続してマイグレーションを適用し、各コンポーネントを作成します
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.WithPoller {
		if err := cfg.RequireNotifier(); err != nil {
			return nil, err
		}
	}

	conn, err := database.NewDB(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}
	a := &App{
		Config: cfg,
		Logger: logger,
		DB:     conn,
	}

	if err := database.Migrate(conn); err != nil {
		a.Close()
		return nil, err
	}

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = metrics.New(a.Registry)

	db := repository.NewDB(conn)
	a.Ledger = repository.NewLedgerRepository(db)
	a.Tracker = repository.NewActiveCheckoutRepository(db)
	a.Dispatches = repository.NewDispatchRepository(db)

	renderer, err := mail.NewRenderer(cfg.Location())
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Dispatcher = dispatch.NewService(a.Dispatches, newSender(cfg, logger), renderer, cfg.AdminEmails(), a.Metrics, logger)

	if !opts.WithPoller {
		return a, nil
	}

	g, err := a.newGuard(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	var (
		source = opts.Source
		lookup batch.CheckoutLookup
	)
	if source == nil {
		client := assetbots.New(assetbots.Config{
			BaseURL:           cfg.AssetBots.APIURL,
			APIKey:            cfg.AssetBots.APIKey,
			PageSize:          cfg.AssetBots.PageSize,
			MaxPages:          cfg.AssetBots.MaxPages,
			RequestsPerSecond: cfg.AssetBots.RequestsPerSecond,
		}, nil, logger)
		source, lookup = client, client
	}

	a.Poller, err = batch.NewPoller(batch.Deps{
		Source:     source,
		Lookup:     lookup,
		Ledger:     a.Ledger,
		Tracker:    a.Tracker,
		Dispatcher: a.Dispatcher,
		Policy: policy.Policy{
			AutoSendWindow:     cfg.Poller.AutoSendWindow,
			LateGrace:          cfg.Poller.LateGrace,
			NotifyLocationOnly: cfg.Poller.NotifyLocationOnly,
		},
		Guard:        g,
		Metrics:      a.Metrics,
		Logger:       logger,
		FetchTimeout: cfg.Poller.FetchTimeout,
		TraceName:    pollTraceName(cfg),
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Handler はHTTPのルーティングを返します。ポーラーがない場合は作れません
func (a *App) Handler() (http.Handler, error) {
	if a.Poller == nil {
		return nil, errors.New("app: poller is not configured")
	}
	h := server.NewHandler(a.Poller, a.Dispatcher, a.Ledger, a.Logger)
	return server.NewRouter(h, a.Registry, a.Config.EnableTracing), nil
}

// Close は接続を閉じます
func (a *App) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}

// newGuard はREDIS_ADDRがあれば分散ロック、なければプロセス内のガードを返します
func (a *App) newGuard(ctx context.Context) (guard.Guard, error) {
	cfg := a.Config.Redis
	if cfg.Addr == "" {
		return guard.NewLocalGuard(), nil
	}

	a.redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
	})
	if err := a.redis.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis %s: %w", cfg.Addr, err)
	}
	return guard.NewRedisGuard(a.redis, cfg.LockKey, cfg.LockTTL, a.Logger)
}

func newSender(cfg *config.Config, logger *zap.Logger) mail.Sender {
	if cfg.SMTP.Host == "" {
		logger.Warn("SMTP_HOST is not set, emails will only be logged")
		return mail.NewNoOpSender(logger)
	}
	return mail.NewSMTPSender(mail.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.FromEmail,
		FromName: cfg.SMTP.FromName,
	}, cfg.Poller.SendTimeout)
}

// pollTraceName はタイマー起動のポーリングに付けるセグメント名です。トレースが無効なら空です
func pollTraceName(cfg *config.Config) string {
	if !cfg.EnableTracing {
		return ""
	}
	return "asset-notifier-poll"
}
