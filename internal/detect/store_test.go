package detect

import (
	"context"
	"sync"
	"time"

	"github.com/opensource-finance/leadwatch/internal/domain"
)

// fakeStore serves canned aggregate rows and records the query bounds.
type fakeStore struct {
	mu sync.Mutex

	ipGroups       []domain.IPLeadGroup
	userGroups     []domain.UserLeadGroup
	vpnClicks      []domain.VPNClick
	botClicks      []domain.BotClick
	campaignGroups []domain.CampaignLeadGroup
	clickCounts    domain.ClickCounts
	leadCounts     domain.LeadCounts
	fraudUsers     int64

	// errs fails the named method.
	errs map[string]error

	// block makes the named method wait for cancellation.
	block map[string]bool

	since     map[string]time.Time
	until     map[string]time.Time
	limits    map[string]int
	cancelled map[string]bool
}

func (s *fakeStore) enter(ctx context.Context, method string, since, until time.Time) error {
	s.mu.Lock()
	if s.since == nil {
		s.since = make(map[string]time.Time)
		s.until = make(map[string]time.Time)
	}
	s.since[method] = since
	s.until[method] = until
	blocked := s.block[method]
	err := s.errs[method]
	s.mu.Unlock()

	if blocked {
		<-ctx.Done()
		s.mu.Lock()
		if s.cancelled == nil {
			s.cancelled = make(map[string]bool)
		}
		s.cancelled[method] = true
		s.mu.Unlock()
		return ctx.Err()
	}
	return err
}

func (s *fakeStore) recordLimit(method string, limit int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.limits == nil {
		s.limits = make(map[string]int)
	}
	s.limits[method] = limit
}

func (s *fakeStore) sinceOf(method string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.since[method]
}

func (s *fakeStore) untilOf(method string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.until[method]
}

func (s *fakeStore) wasCancelled(method string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled[method]
}

func (s *fakeStore) LeadsByIP(ctx context.Context, since, until time.Time) ([]domain.IPLeadGroup, error) {
	if err := s.enter(ctx, "LeadsByIP", since, until); err != nil {
		return nil, err
	}
	return s.ipGroups, nil
}

func (s *fakeStore) LeadsByUser(ctx context.Context, since, until time.Time) ([]domain.UserLeadGroup, error) {
	if err := s.enter(ctx, "LeadsByUser", since, until); err != nil {
		return nil, err
	}
	return s.userGroups, nil
}

// VPNClicks applies the limit like the SQL store does.
func (s *fakeStore) VPNClicks(ctx context.Context, since, until time.Time, limit int) ([]domain.VPNClick, error) {
	s.recordLimit("VPNClicks", limit)
	if err := s.enter(ctx, "VPNClicks", since, until); err != nil {
		return nil, err
	}
	if len(s.vpnClicks) > limit {
		return s.vpnClicks[:limit], nil
	}
	return s.vpnClicks, nil
}

func (s *fakeStore) BotClicks(ctx context.Context, since, until time.Time, limit int) ([]domain.BotClick, error) {
	s.recordLimit("BotClicks", limit)
	if err := s.enter(ctx, "BotClicks", since, until); err != nil {
		return nil, err
	}
	if len(s.botClicks) > limit {
		return s.botClicks[:limit], nil
	}
	return s.botClicks, nil
}

func (s *fakeStore) LeadsByCampaign(ctx context.Context, since, until time.Time) ([]domain.CampaignLeadGroup, error) {
	if err := s.enter(ctx, "LeadsByCampaign", since, until); err != nil {
		return nil, err
	}
	return s.campaignGroups, nil
}

func (s *fakeStore) ClickCounts(ctx context.Context, since, until time.Time) (*domain.ClickCounts, error) {
	if err := s.enter(ctx, "ClickCounts", since, until); err != nil {
		return nil, err
	}
	c := s.clickCounts
	return &c, nil
}

func (s *fakeStore) LeadCounts(ctx context.Context, since, until time.Time) (*domain.LeadCounts, error) {
	if err := s.enter(ctx, "LeadCounts", since, until); err != nil {
		return nil, err
	}
	c := s.leadCounts
	return &c, nil
}

func (s *fakeStore) FraudUserCount(ctx context.Context, since, until time.Time) (int64, error) {
	if err := s.enter(ctx, "FraudUserCount", since, until); err != nil {
		return 0, err
	}
	return s.fraudUsers, nil
}

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestEngine(store *fakeStore, opts ...Option) *Engine {
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	e, err := NewEngine(store, domain.DefaultDetectionConfig(), opts...)
	if err != nil {
		panic(err)
	}
	return e
}

func strPtr(s string) *string { return &s }
