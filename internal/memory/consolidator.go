package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"
)

// Consolidator periodically asks the memory service to reflect over every
// bank that has seen traffic since startup. Banks register themselves on
// first use; a missed tick is skipped, not replayed.
type Consolidator struct {
	client   *Client
	schedule string

	mu    sync.Mutex
	banks map[string]struct{}
}

// NewConsolidator creates a consolidator with a cron schedule
// (e.g. "0 */6 * * *" for every six hours).
func NewConsolidator(client *Client, schedule string) *Consolidator {
	return &Consolidator{
		client:   client,
		schedule: schedule,
		banks:    make(map[string]struct{}),
	}
}

// Track marks a bank as active so the next due tick consolidates it.
func (c *Consolidator) Track(bankID string) {
	if bankID == "" {
		return
	}
	c.mu.Lock()
	c.banks[bankID] = struct{}{}
	c.mu.Unlock()
}

// Run blocks until ctx is cancelled, checking the schedule once a minute.
func (c *Consolidator) Run(ctx context.Context) {
	gron := gronx.New()
	if !gron.IsValid(c.schedule) {
		slog.Warn("memory: invalid consolidation schedule, consolidator disabled", "schedule", c.schedule)
		return
	}
	slog.Info("memory: consolidator started", "schedule", c.schedule)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			due, err := gron.IsDue(c.schedule, time.Now())
			if err != nil || !due {
				continue
			}
			c.consolidateAll(ctx)
		}
	}
}

func (c *Consolidator) consolidateAll(ctx context.Context) {
	c.mu.Lock()
	banks := make([]string, 0, len(c.banks))
	for b := range c.banks {
		banks = append(banks, b)
	}
	c.mu.Unlock()

	for _, bank := range banks {
		if ctx.Err() != nil {
			return
		}
		if err := c.client.Reflect(ctx, bank); err != nil {
			slog.Warn("memory: consolidation failed", "bank", bank, "error", err)
			continue
		}
		slog.Debug("memory: bank consolidated", "bank", bank)
	}
}
