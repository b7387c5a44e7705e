package stats

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/leadwatch/internal/domain"
)

// countStore serves fixed reporting aggregates and records the thresholds it saw.
type countStore struct {
	clicks     domain.ClickCounts
	leads      domain.LeadCounts
	fraudUsers int64
	err        error

	calls     atomic.Int32
	lastSince atomic.Int64
	lastUntil atomic.Int64
}

func (s *countStore) seen(since, until time.Time) {
	s.calls.Add(1)
	s.lastSince.Store(since.UnixMilli())
	s.lastUntil.Store(until.UnixMilli())
}

func (s *countStore) ClickCounts(ctx context.Context, since, until time.Time) (*domain.ClickCounts, error) {
	s.seen(since, until)
	if s.err != nil {
		return nil, s.err
	}
	c := s.clicks
	return &c, nil
}

func (s *countStore) LeadCounts(ctx context.Context, since, until time.Time) (*domain.LeadCounts, error) {
	s.seen(since, until)
	c := s.leads
	return &c, nil
}

func (s *countStore) FraudUserCount(ctx context.Context, since, until time.Time) (int64, error) {
	s.seen(since, until)
	return s.fraudUsers, nil
}

func (s *countStore) LeadsByIP(context.Context, time.Time, time.Time) ([]domain.IPLeadGroup, error) {
	return nil, nil
}

func (s *countStore) LeadsByUser(context.Context, time.Time, time.Time) ([]domain.UserLeadGroup, error) {
	return nil, nil
}

func (s *countStore) VPNClicks(context.Context, time.Time, time.Time, int) ([]domain.VPNClick, error) {
	return nil, nil
}

func (s *countStore) BotClicks(context.Context, time.Time, time.Time, int) ([]domain.BotClick, error) {
	return nil, nil
}

func (s *countStore) LeadsByCampaign(context.Context, time.Time, time.Time) ([]domain.CampaignLeadGroup, error) {
	return nil, nil
}

func TestSummary(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("Rates", func(t *testing.T) {
		store := &countStore{
			clicks:     domain.ClickCounts{Total: 200, Fraud: 10, Bot: 50, VPN: 20},
			leads:      domain.LeadCounts{Total: 40, Duplicate: 10},
			fraudUsers: 3,
		}
		agg := NewAggregator(store)
		agg.Now = func() time.Time { return now }

		summary, err := agg.Summary(context.Background(), 7)
		if err != nil {
			t.Fatalf("Summary failed: %v", err)
		}

		if summary.WindowDays != 7 {
			t.Errorf("expected window 7, got %d", summary.WindowDays)
		}
		if summary.FraudClickRate != 5 {
			t.Errorf("expected fraud rate 5, got %v", summary.FraudClickRate)
		}
		if summary.BotClickRate != 25 {
			t.Errorf("expected bot rate 25, got %v", summary.BotClickRate)
		}
		if summary.VPNClickRate != 10 {
			t.Errorf("expected vpn rate 10, got %v", summary.VPNClickRate)
		}
		if summary.DuplicateLeadRate != 25 {
			t.Errorf("expected duplicate rate 25, got %v", summary.DuplicateLeadRate)
		}
		if summary.FraudUsers != 3 {
			t.Errorf("expected 3 fraud users, got %d", summary.FraudUsers)
		}
		if !summary.GeneratedAt.Equal(now) {
			t.Errorf("expected generatedAt %v, got %v", now, summary.GeneratedAt)
		}

		if store.calls.Load() != 3 {
			t.Errorf("expected 3 store queries, got %d", store.calls.Load())
		}
		wantSince := now.Add(-7 * 24 * time.Hour).UnixMilli()
		if store.lastSince.Load() != wantSince {
			t.Errorf("expected since %d, got %d", wantSince, store.lastSince.Load())
		}
		if store.lastUntil.Load() != now.UnixMilli() {
			t.Errorf("expected until %d, got %d", now.UnixMilli(), store.lastUntil.Load())
		}
	})

	t.Run("ZeroTotals", func(t *testing.T) {
		agg := NewAggregator(&countStore{})

		summary, err := agg.Summary(context.Background(), 1)
		if err != nil {
			t.Fatalf("Summary failed: %v", err)
		}

		for name, rate := range map[string]float64{
			"fraud":     summary.FraudClickRate,
			"bot":       summary.BotClickRate,
			"vpn":       summary.VPNClickRate,
			"duplicate": summary.DuplicateLeadRate,
		} {
			if rate != 0 || math.IsNaN(rate) {
				t.Errorf("%s rate: expected 0, got %v", name, rate)
			}
		}
	})

	t.Run("InvalidDays", func(t *testing.T) {
		agg := NewAggregator(&countStore{})

		for _, days := range []int{0, -3} {
			if _, err := agg.Summary(context.Background(), days); !errors.Is(err, ErrInvalidDays) {
				t.Errorf("days=%d: expected ErrInvalidDays, got %v", days, err)
			}
		}
	})

	t.Run("StoreFailure", func(t *testing.T) {
		boom := errors.New("connection reset")
		agg := NewAggregator(&countStore{err: boom})

		summary, err := agg.Summary(context.Background(), 7)
		if !errors.Is(err, boom) {
			t.Errorf("expected wrapped store error, got %v", err)
		}
		if summary != nil {
			t.Error("expected no partial summary")
		}
	})
}

func TestRate(t *testing.T) {
	tests := []struct {
		flagged, total int64
		want           float64
	}{
		{0, 0, 0},
		{5, 0, 0},
		{1, 4, 25},
		{3, 3, 100},
	}

	for _, tt := range tests {
		if got := Rate(tt.flagged, tt.total); got != tt.want {
			t.Errorf("Rate(%d, %d) = %v, want %v", tt.flagged, tt.total, got, tt.want)
		}
	}
}
