package detect

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/leadwatch/internal/domain"
	"github.com/opensource-finance/leadwatch/internal/stats"
)

// DetectIPSpam scans leads with an IP created within window.
// It emits IP_SPAM per IP over the lead threshold and EMAIL_SPAM per IP
// cycling through many email addresses. Leads without an email only count
// toward IP_SPAM.
func (e *Engine) DetectIPSpam(ctx context.Context, window time.Duration) ([]domain.FraudAlert, error) {
	if window <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidWindow, window)
	}

	now := e.now()
	groups, err := e.store.LeadsByIP(ctx, now.Add(-window), now)
	if err != nil {
		return nil, err
	}

	var alerts []domain.FraudAlert
	for _, g := range groups {
		if sev, ok := ipSpamSeverity(g.LeadCount); ok {
			alerts = append(alerts, newAlert(domain.AlertIPSpam, g.IP, sev, now,
				"High lead volume from single IP",
				fmt.Sprintf("IP %s submitted %d leads in the last %s", g.IP, g.LeadCount, windowLabel(window)),
				map[string]any{
					"ip":     g.IP,
					"count":  g.LeadCount,
					"window": windowLabel(window),
				},
			))
		}

		if sev, ok := emailSpamSeverity(g.DistinctEmails, g.EmailLeadCount); ok {
			alerts = append(alerts, newAlert(domain.AlertEmailSpam, g.IP, sev, now,
				"Multiple emails from single IP",
				fmt.Sprintf("IP %s used %d distinct emails across %d leads in the last %s",
					g.IP, g.DistinctEmails, g.EmailLeadCount, windowLabel(window)),
				map[string]any{
					"ip":             g.IP,
					"distinctEmails": g.DistinctEmails,
					"count":          g.EmailLeadCount,
					"window":         windowLabel(window),
				},
			))
		}
	}

	return alerts, nil
}

// DetectRapidFire flags identified users submitting many leads within window,
// regardless of how many IPs they used.
func (e *Engine) DetectRapidFire(ctx context.Context, window time.Duration) ([]domain.FraudAlert, error) {
	if window <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidWindow, window)
	}

	now := e.now()
	groups, err := e.store.LeadsByUser(ctx, now.Add(-window), now)
	if err != nil {
		return nil, err
	}

	var alerts []domain.FraudAlert
	for _, g := range groups {
		sev, ok := rapidFireSeverity(g.LeadCount)
		if !ok {
			continue
		}
		alerts = append(alerts, newAlert(domain.AlertRapidFire, g.UserID, sev, now,
			"Rapid-fire lead submissions",
			fmt.Sprintf("User %s submitted %d leads in the last %s", g.UserID, g.LeadCount, windowLabel(window)),
			map[string]any{
				"userId": g.UserID,
				"count":  g.LeadCount,
				"window": windowLabel(window),
			},
		))
	}

	return alerts, nil
}

// DetectVPN samples at most limit VPN clicks from window, then groups the
// sample by IP. The cap applies before grouping, so busy IPs outside the
// newest limit clicks are not seen.
func (e *Engine) DetectVPN(ctx context.Context, window time.Duration, limit int) ([]domain.FraudAlert, error) {
	if window <= 0 || limit <= 0 {
		return nil, fmt.Errorf("%w: window %s, limit %d", ErrInvalidWindow, window, limit)
	}

	now := e.now()
	clicks, err := e.store.VPNClicks(ctx, now.Add(-window), now, limit)
	if err != nil {
		return nil, err
	}

	byIP := newBuckets()
	for _, c := range clicks {
		b := byIP.get(c.IP)
		b.count++
		if c.UserID != nil && *c.UserID != "" {
			b.members.add(*c.UserID)
		}
	}

	var alerts []domain.FraudAlert
	for _, b := range byIP.ordered() {
		sev, ok := vpnSeverity(b.count)
		if !ok {
			continue
		}
		alerts = append(alerts, newAlert(domain.AlertVPNDetected, b.key, sev, now,
			"Repeated VPN traffic",
			fmt.Sprintf("IP %s made %d VPN clicks linked to %d users", b.key, b.count, len(b.members.values)),
			map[string]any{
				"ip":      b.key,
				"count":   b.count,
				"userIds": b.members.list(),
				"sampled": len(clicks),
			},
		))
	}

	return alerts, nil
}

// DetectBots samples at most limit bot clicks from window and groups them by
// user agent. Small samples are ignored as noise.
func (e *Engine) DetectBots(ctx context.Context, window time.Duration, limit int) ([]domain.FraudAlert, error) {
	if window <= 0 || limit <= 0 {
		return nil, fmt.Errorf("%w: window %s, limit %d", ErrInvalidWindow, window, limit)
	}

	now := e.now()
	clicks, err := e.store.BotClicks(ctx, now.Add(-window), now, limit)
	if err != nil {
		return nil, err
	}
	if len(clicks) <= botMinSample {
		return nil, nil
	}

	byAgent := newBuckets()
	for _, c := range clicks {
		ua := unknownUserAgent
		if c.UserAgent != nil && *c.UserAgent != "" {
			ua = *c.UserAgent
		}
		b := byAgent.get(ua)
		b.count++
		b.members.add(c.Campaign)
	}

	var alerts []domain.FraudAlert
	for _, b := range byAgent.ordered() {
		sev, ok := botSeverity(b.count)
		if !ok {
			continue
		}
		alerts = append(alerts, newAlert(domain.AlertBotDetected, b.key, sev, now,
			"Bot traffic concentration",
			fmt.Sprintf("User agent %q made %d bot clicks across %d campaigns", b.key, b.count, len(b.members.values)),
			map[string]any{
				"userAgent": b.key,
				"count":     b.count,
				"campaigns": b.members.list(),
				"sampled":   len(clicks),
			},
		))
	}

	return alerts, nil
}

// DetectDuplicateBursts flags campaigns where most recent leads are duplicates.
func (e *Engine) DetectDuplicateBursts(ctx context.Context, window time.Duration) ([]domain.FraudAlert, error) {
	if window <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidWindow, window)
	}

	now := e.now()
	groups, err := e.store.LeadsByCampaign(ctx, now.Add(-window), now)
	if err != nil {
		return nil, err
	}

	var alerts []domain.FraudAlert
	for _, g := range groups {
		rate := stats.Rate(g.DuplicateCount, g.TotalCount)
		sev, ok := duplicateSeverity(g.TotalCount, rate)
		if !ok {
			continue
		}
		alerts = append(alerts, newAlert(domain.AlertDuplicateBurst, g.Campaign, sev, now,
			"Duplicate lead burst",
			fmt.Sprintf("Campaign %s received %d duplicates out of %d leads (%.1f%%) in the last %s",
				g.Campaign, g.DuplicateCount, g.TotalCount, rate, windowLabel(window)),
			map[string]any{
				"campaign":      g.Campaign,
				"total":         g.TotalCount,
				"duplicates":    g.DuplicateCount,
				"duplicateRate": rate,
				"window":        windowLabel(window),
			},
		))
	}

	return alerts, nil
}

// bucket counts sampled clicks under one key and the distinct related values seen.
type bucket struct {
	key     string
	count   int
	members distinct
}

// buckets groups sampled clicks, preserving first-seen key order.
type buckets struct {
	index map[string]*bucket
	order []*bucket
}

func newBuckets() *buckets {
	return &buckets{index: make(map[string]*bucket)}
}

func (bs *buckets) get(key string) *bucket {
	if b, ok := bs.index[key]; ok {
		return b
	}
	b := &bucket{key: key}
	bs.index[key] = b
	bs.order = append(bs.order, b)
	return b
}

func (bs *buckets) ordered() []*bucket {
	return bs.order
}

// distinct is an insertion-ordered string set.
type distinct struct {
	seen   map[string]struct{}
	values []string
}

func (d *distinct) add(v string) {
	if d.seen == nil {
		d.seen = make(map[string]struct{})
	}
	if _, ok := d.seen[v]; ok {
		return
	}
	d.seen[v] = struct{}{}
	d.values = append(d.values, v)
}

func (d *distinct) list() []string {
	if d.values == nil {
		return []string{}
	}
	return d.values
}
