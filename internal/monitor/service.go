package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"cdnmon/internal/alerts"
	"cdnmon/internal/db"
	"cdnmon/internal/health"
	"cdnmon/internal/models"
	"cdnmon/internal/probe"
)

// AdapterRegistry resolves the protocol adapter for a server's API type.
type AdapterRegistry interface {
	For(apiType string) probe.Adapter
}

// Notifier receives persisted alerts for best-effort delivery.
type Notifier interface {
	Send(ctx context.Context, alert models.Alert, server models.Server)
}

// Service drives polling cycles across all registered servers. Each cycle
// fans out one goroutine per server, bounded by a concurrency cap and a
// per-server timeout, so one slow or unreachable server never delays the
// others: the cycle's wall clock is bounded by the per-server timeout, not
// the sum across servers.
type Service struct {
	repo      *db.Repository
	adapters  AdapterRegistry
	evaluator *health.Evaluator
	engine    *alerts.Engine
	notify    Notifier
	log       *slog.Logger

	pollTimeout   time.Duration
	maxConcurrent int

	mu      sync.Mutex
	running bool
	lastRun time.Time
}

func NewService(repo *db.Repository, adapters AdapterRegistry, engine *alerts.Engine, notify Notifier, logger *slog.Logger, pollTimeout time.Duration, maxConcurrent int) *Service {
	if pollTimeout <= 0 {
		pollTimeout = 10 * time.Second
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	return &Service{
		repo:          repo,
		adapters:      adapters,
		evaluator:     health.NewEvaluator(),
		engine:        engine,
		notify:        notify,
		log:           logger,
		pollTimeout:   pollTimeout,
		maxConcurrent: maxConcurrent,
	}
}

// Tick executes one complete polling cycle. If the previous cycle is still
// running the tick is skipped, never queued, so a sustained slowdown cannot
// build a backlog of overlapping cycles.
func (s *Service) Tick(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Warn("previous cycle still running, skipping tick")
		return
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.lastRun = time.Now().UTC()
		s.mu.Unlock()
	}()

	cycleID := uuid.NewString()
	start := time.Now()
	servers, err := s.repo.ListServers(ctx)
	if err != nil {
		s.log.Error("list servers", "cycle", cycleID, "err", err)
		return
	}

	sem := make(chan struct{}, s.maxConcurrent)
	var wg sync.WaitGroup
	for _, server := range servers {
		wg.Add(1)
		go func(server models.Server) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			s.pollOne(ctx, cycleID, server)
		}(server)
	}
	wg.Wait()

	s.log.Info("cycle complete",
		"cycle", cycleID,
		"servers", len(servers),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// PollServer runs the per-server pipeline once, outside the periodic
// schedule, for user-triggered refreshes. It returns the appended sample,
// the resulting status, and the poll failure if there was one.
func (s *Service) PollServer(ctx context.Context, id int64) (models.Metric, string, error) {
	server, err := s.repo.GetServer(ctx, id)
	if err != nil {
		return models.Metric{}, "", err
	}
	metric, status, pollErr := s.pollOne(ctx, "manual", server)
	return metric, status, pollErr
}

// Stats reports the scheduler's process-scoped state: whether a cycle is in
// flight and when the last one finished. Unset at startup.
func (s *Service) Stats() (running bool, lastRun time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running, s.lastRun
}

// pollOne is the per-server pipeline: poll with a bounded timeout, evaluate
// health, record status and exactly one metric sample, then evaluate and
// deliver alerts. Every failure is absorbed here; nothing propagates to
// sibling servers or the cycle.
func (s *Service) pollOne(ctx context.Context, cycleID string, server models.Server) (models.Metric, string, error) {
	pollCtx, cancel := context.WithTimeout(ctx, s.pollTimeout)
	defer cancel()

	metric, pollErr := safePoll(pollCtx, s.adapters.For(server.APIType), server)
	now := time.Now().UTC()

	res := s.evaluator.Evaluate(server, pollErr)
	if res.Transitioned {
		if err := s.repo.SetStatus(ctx, server.ID, res.Status, now); err != nil {
			s.log.Error("set status", "cycle", cycleID, "server", server.Hostname, "err", err)
		}
	}

	if pollErr != nil {
		// Failed attempts still append a sample so the series has no gaps.
		metric = models.Metric{ServerID: server.ID, TS: now, ErrorCount: 1}
		s.log.Warn("poll failed",
			"cycle", cycleID,
			"server", server.Hostname,
			"status", res.Status,
			"err", pollErr,
		)
	}
	if _, err := s.repo.AppendMetric(ctx, metric); err != nil {
		s.log.Error("append metric", "cycle", cycleID, "server", server.Hostname, "err", err)
	}

	open, err := s.repo.ListOpenAlerts(ctx, &server.ID, "")
	if err != nil {
		s.log.Error("list open alerts", "cycle", cycleID, "server", server.Hostname, "err", err)
	}
	newAlerts := s.engine.Evaluate(server, metric, pollErr, open)
	if res.DownAlert != nil {
		newAlerts = append([]models.Alert{*res.DownAlert}, newAlerts...)
	}
	for _, alert := range newAlerts {
		id, err := s.repo.AppendAlert(ctx, alert)
		if err != nil {
			s.log.Error("append alert", "cycle", cycleID, "server", server.Hostname, "type", alert.AlertType, "err", err)
			continue
		}
		alert.ID = id
		s.notify.Send(ctx, alert, server)
	}

	return metric, res.Status, pollErr
}

// safePoll keeps a misbehaving adapter inside the per-server boundary.
func safePoll(ctx context.Context, adapter probe.Adapter, server models.Server) (m models.Metric, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("adapter panic: %v", r)
		}
	}()
	return adapter.Poll(ctx, server)
}
