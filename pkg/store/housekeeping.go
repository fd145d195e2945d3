package store

import (
	"context"
	"log/slog"
	"time"
)

// Housekeeper periodically removes expired credentials so long-running
// clients do not accumulate stale entries.
type Housekeeper struct {
	Store    CredentialStore
	Logger   *slog.Logger
	Interval time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeeper creates a housekeeper. If interval is 0 or negative, it
// defaults to 10 minutes.
func NewHousekeeper(s CredentialStore, logger *slog.Logger, interval time.Duration) *Housekeeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Housekeeper{
		Store:    s,
		Logger:   logger,
		Interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs the cleanup loop in the background. Call Stop to end it.
func (h *Housekeeper) Start() {
	go h.run()
	h.Logger.Debug("credential housekeeping started", "interval", h.Interval)
}

// Stop ends the loop and waits for an in-progress cleanup to finish.
func (h *Housekeeper) Stop() {
	close(h.stopCh)
	<-h.doneCh
	h.Logger.Debug("credential housekeeping stopped")
}

func (h *Housekeeper) run() {
	defer close(h.doneCh)

	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()

	h.Cleanup(context.Background())

	for {
		select {
		case <-ticker.C:
			h.Cleanup(context.Background())
		case <-h.stopCh:
			return
		}
	}
}

// Cleanup performs one pass and returns the number of removed credentials.
func (h *Housekeeper) Cleanup(ctx context.Context) int64 {
	n, err := h.Store.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		h.Logger.Error("failed to delete expired credentials", "error", err)
		return 0
	}

	if n > 0 {
		h.Logger.Info("deleted expired credentials", "count", n)
	}
	return n
}
