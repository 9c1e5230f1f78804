// Package worker provides async activity processing and the periodic
// sweeps.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-trust/harrier/internal/activity"
	"github.com/opensource-trust/harrier/internal/domain"
	"github.com/opensource-trust/harrier/internal/escalation"
	"github.com/opensource-trust/harrier/internal/rules"
)

// Worker consumes recorded activity from the EventBus and runs the
// periodic sweeps (escalation checks, profile refresh, activity
// cleanup). Each sweep is single-flight: a tick is skipped while the
// previous run is still in flight, so a slow pass never stacks.
type Worker struct {
	bus       domain.EventBus
	repo      domain.Repository
	cache     domain.Cache
	detector  *rules.Service
	scheduler *escalation.Scheduler
	profiles  *activity.Service

	engineCfg domain.EngineConfig
	sweepCfg  domain.SweepConfig

	escalationMu sync.Mutex
	profileMu    sync.Mutex
	cleanupMu    sync.Mutex

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new worker.
func NewWorker(
	bus domain.EventBus,
	repo domain.Repository,
	cache domain.Cache,
	detector *rules.Service,
	scheduler *escalation.Scheduler,
	profiles *activity.Service,
	engineCfg domain.EngineConfig,
	sweepCfg domain.SweepConfig,
) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		repo:      repo,
		cache:     cache,
		detector:  detector,
		scheduler: scheduler,
		profiles:  profiles,
		engineCfg: engineCfg,
		sweepCfg:  sweepCfg,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to the activity topic and launches the sweep loops.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicActivityRecorded, w.handleActivity)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	w.startSweep("escalation", w.sweepCfg.EscalationInterval, w.runEscalationSweep)
	w.startSweep("profile", w.sweepCfg.ProfileInterval, w.runProfileSweep)
	w.startSweep("cleanup", w.sweepCfg.CleanupInterval, w.runCleanupSweep)

	slog.Info("worker started",
		"topic", domain.TopicActivityRecorded,
		"escalation_interval", w.sweepCfg.EscalationInterval,
		"profile_interval", w.sweepCfg.ProfileInterval,
		"cleanup_interval", w.sweepCfg.CleanupInterval,
	)
	return nil
}

// handleActivity runs detection for an activity announced on the bus.
// The record was already persisted by the ingest path, so a nil
// recorder service is used here and failures only affect detection.
func (w *Worker) handleActivity(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var rec domain.ActivityRecord
	if err := json.Unmarshal(msg.Payload, &rec); err != nil {
		slog.Error("failed to parse activity message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	cases, err := w.detector.EvaluateRecorded(ctx, &rec)
	if err != nil {
		slog.Error("activity evaluation failed",
			"activity_id", rec.ID,
			"actor_id", rec.ActorID,
			"error", err,
		)
		return err
	}

	slog.Debug("activity evaluated",
		"activity_id", rec.ID,
		"actor_id", rec.ActorID,
		"cases_opened", len(cases),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// startSweep launches a ticker loop calling fn every interval.
func (w *Worker) startSweep(name string, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		slog.Warn("sweep disabled", "sweep", name)
		return
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-w.ctx.Done():
				return
			case <-ticker.C:
				fn(w.ctx)
			}
		}
	}()
}

// runEscalationSweep checks every open case for deadline or trigger
// escalation.
func (w *Worker) runEscalationSweep(ctx context.Context) {
	if !w.escalationMu.TryLock() {
		slog.Debug("escalation sweep still running, skipping tick")
		return
	}
	defer w.escalationMu.Unlock()

	start := time.Now()
	escalated, err := w.scheduler.Sweep(ctx)
	if err != nil {
		slog.Error("escalation sweep failed", "error", err)
		return
	}

	if escalated > 0 {
		slog.Info("escalation sweep finished",
			"escalated", escalated,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// runProfileSweep rebuilds cached risk profiles for recently active
// actors.
func (w *Worker) runProfileSweep(ctx context.Context) {
	if !w.profileMu.TryLock() {
		slog.Debug("profile sweep still running, skipping tick")
		return
	}
	defer w.profileMu.Unlock()

	start := time.Now()
	since := start.Add(-24 * time.Hour)

	actors, err := w.repo.ListActiveActors(ctx, since)
	if err != nil {
		slog.Error("profile sweep failed to list actors", "error", err)
		return
	}

	refreshed := 0
	for _, actorID := range actors {
		profile, err := w.profiles.BuildProfile(ctx, actorID)
		if err != nil {
			slog.Warn("failed to build profile",
				"actor_id", actorID,
				"error", err,
			)
			continue
		}

		if err := w.cache.SetProfile(ctx, actorID, profile, 2*w.sweepCfg.ProfileInterval); err != nil {
			slog.Warn("failed to cache profile",
				"actor_id", actorID,
				"error", err,
			)
			continue
		}
		refreshed++
	}

	slog.Debug("profile sweep finished",
		"actors", len(actors),
		"refreshed", refreshed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// runCleanupSweep removes activity records past the retention window.
func (w *Worker) runCleanupSweep(ctx context.Context) {
	if !w.cleanupMu.TryLock() {
		slog.Debug("cleanup sweep still running, skipping tick")
		return
	}
	defer w.cleanupMu.Unlock()

	if w.engineCfg.ActivityRetention <= 0 {
		return
	}

	cutoff := time.Now().Add(-w.engineCfg.ActivityRetention)
	deleted, err := w.repo.DeleteActivitiesBefore(ctx, cutoff)
	if err != nil {
		slog.Error("cleanup sweep failed", "error", err)
		return
	}

	if deleted > 0 {
		slog.Info("cleanup sweep finished",
			"deleted", deleted,
			"cutoff", cutoff,
		)
	}
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()
	slog.Info("worker stopped")
	return nil
}
