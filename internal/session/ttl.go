package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/tripdesk/internal/shared"
	"github.com/ashureev/tripdesk/internal/store"
)

const (
	DefaultSweepInterval     = 5 * time.Minute
	DefaultCustomerRetention = 90 * 24 * time.Hour
)

// CleanupCallback is called for every session the TTL worker evicts or closes.
type CleanupCallback func(key Key)

// TTLConfig controls the TTL worker.
type TTLConfig struct {
	Interval          time.Duration
	SessionTTL        time.Duration
	CustomerRetention time.Duration
	OnCleanup         CleanupCallback
	// AfterSweep runs at the end of every sweep.
	AfterSweep func()
}

// StartTTLWorker runs a background goroutine that periodically evicts idle
// sessions and prunes customers that have not been seen for a long time.
func StartTTLWorker(ctx context.Context, repo store.Repository, reg *Registry, cfg TTLConfig) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweepInterval
	}
	if cfg.CustomerRetention <= 0 {
		cfg.CustomerRetention = DefaultCustomerRetention
	}

	ticker := time.NewTicker(cfg.Interval)
	go func() {
		defer ticker.Stop()
		slog.Info("TTL worker started", "interval", cfg.Interval, "session_ttl", cfg.SessionTTL)

		for {
			select {
			case <-ticker.C:
				sweep(ctx, repo, reg, cfg)
			case <-ctx.Done():
				slog.Info("TTL worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweep(ctx context.Context, repo store.Repository, reg *Registry, cfg TTLConfig) {
	if cfg.SessionTTL > 0 {
		evicted := reg.EvictIdle(cfg.SessionTTL)
		if len(evicted) > 0 {
			slog.Info("TTL worker evicted idle sessions", "count", len(evicted), "remaining", reg.Len())
		}
		if cfg.OnCleanup != nil {
			for _, k := range evicted {
				cfg.OnCleanup(k)
			}
		}
	}

	var deleted []string
	err := shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "delete inactive customers", func() error {
		ids, err := repo.DeleteInactiveCustomers(ctx, cfg.CustomerRetention)
		deleted = ids
		return err
	})
	switch {
	case err != nil && ctx.Err() != nil:
		slog.Debug("TTL worker: context canceled during customer cleanup", "error", err)
	case err != nil:
		slog.Error("TTL worker failed to prune inactive customers", "error", err)
	case len(deleted) > 0:
		slog.Info("TTL worker pruned inactive customers", "count", len(deleted))
	}

	// Sessions of a pruned customer would otherwise keep a deleted id alive.
	for _, id := range deleted {
		for _, k := range reg.CloseCustomer(id) {
			if cfg.OnCleanup != nil {
				cfg.OnCleanup(k)
			}
		}
	}

	if cfg.AfterSweep != nil {
		cfg.AfterSweep()
	}
}
