// Package detect implements the fraud signal detectors and the ranked alert feed.
//
// Each detector runs one aggregate query over a recent window of CRM activity
// and classifies the rows against a fixed threshold table. GenerateAlerts runs
// all detectors concurrently and merges their output by severity, then recency.
// Every call recomputes from the store; alerts are never persisted, so two
// passes over unchanged data report the same conditions under new ids.
package detect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/leadwatch/internal/domain"
	"github.com/opensource-finance/leadwatch/internal/stats"
	"github.com/opensource-finance/leadwatch/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidWindow is returned for a non-positive window or fetch limit.
var ErrInvalidWindow = errors.New("detection window must be positive")

var tracer = otel.Tracer("leadwatch-detect")

// Detector names, used in errors, spans and metrics.
const (
	DetectorIPSpam    = "ip_spam"
	DetectorRapidFire = "rapid_fire"
	DetectorVPN       = "vpn"
	DetectorBot       = "bot"
	DetectorDuplicate = "duplicate_burst"
	detectorStats     = "stats"
)

// Engine runs the detectors against an activity store.
type Engine struct {
	store   domain.ActivityStore
	cfg     domain.DetectionConfig
	stats   *stats.Aggregator
	metrics *telemetry.Metrics
	now     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics records detector timings and alert counts.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock replaces time.Now for window bounds and alert timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a detection engine with the given windowing policy.
func NewEngine(store domain.ActivityStore, cfg domain.DetectionConfig, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("activity store is required")
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	e := &Engine{
		store: store,
		cfg:   cfg,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.stats = stats.NewAggregator(store)
	e.stats.Now = e.now

	return e, nil
}

// Config returns the engine's default windowing policy.
func (e *Engine) Config() domain.DetectionConfig {
	return e.cfg
}

// RunOptions overrides detector windows for a single pass.
// Zero fields fall back to the engine configuration.
type RunOptions struct {
	IPSpamWindow    time.Duration
	RapidFireWindow time.Duration
	VPNWindow       time.Duration
	BotWindow       time.Duration
	DuplicateWindow time.Duration
}

// Resolve returns the windowing policy a pass with opts would use.
func (e *Engine) Resolve(opts RunOptions) (domain.DetectionConfig, error) {
	cfg := e.cfg
	overrides := []struct {
		value  time.Duration
		target *time.Duration
		name   string
	}{
		{opts.IPSpamWindow, &cfg.IPSpamWindow, "ip spam"},
		{opts.RapidFireWindow, &cfg.RapidFireWindow, "rapid fire"},
		{opts.VPNWindow, &cfg.VPNWindow, "vpn"},
		{opts.BotWindow, &cfg.BotWindow, "bot"},
		{opts.DuplicateWindow, &cfg.DuplicateWindow, "duplicate"},
	}
	for _, o := range overrides {
		if o.value < 0 {
			return cfg, fmt.Errorf("%w: %s window %s", ErrInvalidWindow, o.name, o.value)
		}
		if o.value > 0 {
			*o.target = o.value
		}
	}
	return cfg, nil
}

// GenerateAlerts runs every detector with the configured windows and returns
// the merged feed. If any detector fails the whole call fails.
func (e *Engine) GenerateAlerts(ctx context.Context) ([]domain.FraudAlert, error) {
	return e.GenerateAlertsWith(ctx, RunOptions{})
}

// GenerateAlertsWith is GenerateAlerts with per-call window overrides.
func (e *Engine) GenerateAlertsWith(ctx context.Context, opts RunOptions) ([]domain.FraudAlert, error) {
	cfg, err := e.Resolve(opts)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "detect.GenerateAlerts")
	defer span.End()

	g, gctx := errgroup.WithContext(ctx)
	results := e.launch(gctx, g, cfg)
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	alerts := Merge(results...)
	span.SetAttributes(attribute.Int("alerts", len(alerts)))
	e.metrics.RecordAlerts(alerts)

	return alerts, nil
}

// Scan runs the detectors and the statistics aggregator in one fan-out.
// days of zero uses the configured reporting window.
func (e *Engine) Scan(ctx context.Context, days int) (*domain.Report, error) {
	return e.ScanWith(ctx, days, RunOptions{})
}

// ScanWith is Scan with per-call window overrides.
func (e *Engine) ScanWith(ctx context.Context, days int, opts RunOptions) (*domain.Report, error) {
	if days == 0 {
		days = e.cfg.StatsDays
	}
	if days < 0 {
		return nil, fmt.Errorf("%w: got %d", stats.ErrInvalidDays, days)
	}

	cfg, err := e.Resolve(opts)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "detect.Scan")
	defer span.End()
	span.SetAttributes(attribute.Int("stats_days", days))

	g, gctx := errgroup.WithContext(ctx)
	results := e.launch(gctx, g, cfg)

	var summary *domain.StatsSummary
	g.Go(func() error {
		start := time.Now()
		s, err := e.stats.Summary(gctx, days)
		e.metrics.ObserveDetector(detectorStats, time.Since(start), err)
		if err != nil {
			return fmt.Errorf("%s: %w", detectorStats, err)
		}
		summary = s
		return nil
	})

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	alerts := Merge(results...)
	span.SetAttributes(attribute.Int("alerts", len(alerts)))
	e.metrics.RecordAlerts(alerts)

	return &domain.Report{
		Alerts:      alerts,
		Stats:       summary,
		GeneratedAt: e.now().UTC(),
	}, nil
}

// Summary computes the rate statistics alone.
func (e *Engine) Summary(ctx context.Context, days int) (*domain.StatsSummary, error) {
	if days == 0 {
		days = e.cfg.StatsDays
	}
	return e.stats.Summary(ctx, days)
}

type detector struct {
	name string
	run  func(ctx context.Context) ([]domain.FraudAlert, error)
}

func (e *Engine) detectors(cfg domain.DetectionConfig) []detector {
	return []detector{
		{DetectorIPSpam, func(ctx context.Context) ([]domain.FraudAlert, error) {
			return e.DetectIPSpam(ctx, cfg.IPSpamWindow)
		}},
		{DetectorRapidFire, func(ctx context.Context) ([]domain.FraudAlert, error) {
			return e.DetectRapidFire(ctx, cfg.RapidFireWindow)
		}},
		{DetectorVPN, func(ctx context.Context) ([]domain.FraudAlert, error) {
			return e.DetectVPN(ctx, cfg.VPNWindow, cfg.VPNFetchLimit)
		}},
		{DetectorBot, func(ctx context.Context) ([]domain.FraudAlert, error) {
			return e.DetectBots(ctx, cfg.BotWindow, cfg.BotFetchLimit)
		}},
		{DetectorDuplicate, func(ctx context.Context) ([]domain.FraudAlert, error) {
			return e.DetectDuplicateBursts(ctx, cfg.DuplicateWindow)
		}},
	}
}

// launch starts every detector on g. Each goroutine writes only its own
// slot, so the results are safe to read once g.Wait returns.
func (e *Engine) launch(ctx context.Context, g *errgroup.Group, cfg domain.DetectionConfig) [][]domain.FraudAlert {
	ds := e.detectors(cfg)
	results := make([][]domain.FraudAlert, len(ds))

	for i, d := range ds {
		g.Go(func() error {
			alerts, err := e.observe(ctx, d)
			if err != nil {
				return fmt.Errorf("%s detector: %w", d.name, err)
			}
			results[i] = alerts
			return nil
		})
	}

	return results
}

func (e *Engine) observe(ctx context.Context, d detector) ([]domain.FraudAlert, error) {
	ctx, span := tracer.Start(ctx, "detect."+d.name)
	defer span.End()
	span.SetAttributes(attribute.String("detector", d.name))

	start := time.Now()
	alerts, err := d.run(ctx)
	elapsed := time.Since(start)
	e.metrics.ObserveDetector(d.name, elapsed, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("alerts", len(alerts)))
	slog.Debug("detector finished",
		"detector", d.name,
		"alerts", len(alerts),
		"duration_ms", elapsed.Milliseconds(),
	)

	return alerts, nil
}

func validate(cfg domain.DetectionConfig) error {
	windows := map[string]time.Duration{
		"ip spam":    cfg.IPSpamWindow,
		"rapid fire": cfg.RapidFireWindow,
		"vpn":        cfg.VPNWindow,
		"bot":        cfg.BotWindow,
		"duplicate":  cfg.DuplicateWindow,
	}
	for name, w := range windows {
		if w <= 0 {
			return fmt.Errorf("%w: %s window %s", ErrInvalidWindow, name, w)
		}
	}
	if cfg.VPNFetchLimit <= 0 || cfg.BotFetchLimit <= 0 {
		return fmt.Errorf("%w: fetch limits must be positive", ErrInvalidWindow)
	}
	if cfg.StatsDays <= 0 {
		return fmt.Errorf("%w: got %d", stats.ErrInvalidDays, cfg.StatsDays)
	}
	return nil
}
