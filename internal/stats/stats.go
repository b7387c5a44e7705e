// Package stats computes rolling fraud rate statistics over a reporting window.
package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/leadwatch/internal/domain"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidDays is returned when the reporting window is not positive.
var ErrInvalidDays = errors.New("reporting window must be at least one day")

// Aggregator computes StatsSummary records from the activity store.
type Aggregator struct {
	store domain.ActivityStore

	// Now defaults to time.Now.
	Now func() time.Time
}

// NewAggregator creates a new statistics aggregator.
func NewAggregator(store domain.ActivityStore) *Aggregator {
	return &Aggregator{
		store: store,
		Now:   time.Now,
	}
}

// Summary counts activity created in the last days days and derives the
// four rates. The three store queries run concurrently; any failure fails
// the whole summary.
func (a *Aggregator) Summary(ctx context.Context, days int) (*domain.StatsSummary, error) {
	if days <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidDays, days)
	}

	now := a.now()
	since := now.Add(-time.Duration(days) * 24 * time.Hour)

	var (
		clicks     *domain.ClickCounts
		leads      *domain.LeadCounts
		fraudUsers int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		clicks, err = a.store.ClickCounts(gctx, since, now)
		return err
	})
	g.Go(func() error {
		var err error
		leads, err = a.store.LeadCounts(gctx, since, now)
		return err
	})
	g.Go(func() error {
		var err error
		fraudUsers, err = a.store.FraudUserCount(gctx, since, now)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to compute stats: %w", err)
	}

	return &domain.StatsSummary{
		WindowDays:        days,
		TotalClicks:       clicks.Total,
		TotalLeads:        leads.Total,
		FraudClicks:       clicks.Fraud,
		BotClicks:         clicks.Bot,
		VPNClicks:         clicks.VPN,
		DuplicateLeads:    leads.Duplicate,
		FraudUsers:        fraudUsers,
		FraudClickRate:    Rate(clicks.Fraud, clicks.Total),
		BotClickRate:      Rate(clicks.Bot, clicks.Total),
		VPNClickRate:      Rate(clicks.VPN, clicks.Total),
		DuplicateLeadRate: Rate(leads.Duplicate, leads.Total),
		GeneratedAt:       now.UTC(),
	}, nil
}

func (a *Aggregator) now() time.Time {
	if a.Now == nil {
		return time.Now()
	}
	return a.Now()
}

// Rate returns flagged as a percentage of total, or 0 when total is 0.
func Rate(flagged, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(flagged) * 100 / float64(total)
}
