package resync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/uznikturbo/service/internal/collection"
	"github.com/uznikturbo/service/pkg/protocol"
)

// FetchFunc fetches the authoritative ticket list from the backend.
type FetchFunc func(ctx context.Context) ([]protocol.Ticket, error)

// Scheduler periodically reconciles the in-memory collection against a
// full fetch. The push channel has no delivery guarantee across
// reconnects, so a cron-driven full resync is the safety net — and the
// only data source left while the channel has given up.
type Scheduler struct {
	cron    *cron.Cron
	fetch   FetchFunc
	tickets *collection.Tickets
	logger  *slog.Logger
}

// New creates a scheduler. Schedule must be called to register the job.
func New(fetch FetchFunc, tickets *collection.Tickets, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:    cron.New(),
		fetch:   fetch,
		tickets: tickets,
		logger:  logger,
	}
}

// Schedule registers the resync job. The schedule is a standard cron
// expression or a predefined one like @every 10m.
func (s *Scheduler) Schedule(ctx context.Context, schedule string) error {
	_, err := s.cron.AddFunc(schedule, func() {
		runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := s.Now(runCtx); err != nil {
			s.logger.Warn("scheduled resync failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("resync: invalid schedule %q: %w", schedule, err)
	}
	s.logger.Info("resync scheduled", "schedule", schedule)
	return nil
}

// Start begins the cron loop. Blocks until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron.Start()
	<-ctx.Done()
	s.cron.Stop()
	return ctx.Err()
}

// Now fetches the full ticket list and merges it into the collection.
// Merging is upsert-by-id: a push applied moments ago is refreshed or
// left alone, never wiped by a wholesale replace.
func (s *Scheduler) Now(ctx context.Context) error {
	tickets, err := s.fetch(ctx)
	if err != nil {
		return fmt.Errorf("resync: fetch: %w", err)
	}
	for _, t := range tickets {
		s.tickets.Upsert(t)
	}
	s.logger.Debug("resync complete", "tickets", len(tickets))
	return nil
}
