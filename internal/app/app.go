package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"cdnmon/internal/alerts"
	"cdnmon/internal/config"
	"cdnmon/internal/db"
	"cdnmon/internal/monitor"
	"cdnmon/internal/notifier"
	"cdnmon/internal/probe"
	"cdnmon/internal/retention"
	"cdnmon/internal/stats"
	"cdnmon/internal/web"
)

type App struct {
	cfg config.Config
	log *slog.Logger

	db     *db.Repository
	probes *probe.Registry

	monitor   *monitor.Service
	retention *retention.Service
	web       *web.Server

	httpSrv *http.Server
}

func New(cfg config.Config, logger *slog.Logger) (*App, error) {
	sqldb, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(sqldb); err != nil {
		return nil, err
	}
	repo := db.NewRepository(sqldb)
	probes := probe.NewRegistry(&http.Client{})

	var channels []notifier.Notifier
	if cfg.SendgridAPIKey != "" && cfg.AlertEmailFrom != "" && cfg.AlertEmailTo != "" {
		channels = append(channels, notifier.NewEmail(cfg.SendgridAPIKey, cfg.AlertEmailFrom, cfg.AlertEmailTo))
	}
	if cfg.AlertWebhook != "" {
		channels = append(channels, notifier.NewWebhook(cfg.AlertWebhook))
	}
	fanout := notifier.NewFanout(logger.With("module", "notifier"), channels...)

	engine := alerts.NewEngine(cfg.Thresholds)
	mon := monitor.NewService(repo, probes, engine, fanout,
		logger.With("module", "monitor"), cfg.PollTimeout, cfg.MaxConcurrent)
	builder := stats.NewBuilder(repo)
	w := web.NewServer(repo, builder, mon, probes, logger.With("module", "web"))

	app := &App{
		cfg:       cfg,
		log:       logger,
		db:        repo,
		probes:    probes,
		monitor:   mon,
		retention: retention.NewService(repo, cfg.RetentionDays, logger.With("module", "retention")),
		web:       w,
	}
	app.httpSrv = &http.Server{Addr: cfg.Addr, Handler: w.Handler()}
	return app, nil
}

func (a *App) Run(ctx context.Context) error {
	go func() {
		a.log.Info("http server listening", "addr", a.cfg.Addr)
		if err := a.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Error("http server failed", "err", err)
		}
	}()

	pollTicker := time.NewTicker(a.cfg.PollInterval)
	retentionTicker := time.NewTicker(6 * time.Hour)
	defer pollTicker.Stop()
	defer retentionTicker.Stop()

	// Immediate first run
	a.monitor.Tick(ctx)
	a.retention.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = a.httpSrv.Shutdown(shutdownCtx)
			return a.db.DB().Close()
		case <-pollTicker.C:
			a.monitor.Tick(ctx)
		case <-retentionTicker.C:
			a.retention.Run(ctx)
		}
	}
}
