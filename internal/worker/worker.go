// Package worker runs detection passes off the request path. It scans on
// request from the event bus and, optionally, on a fixed interval.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/leadwatch/internal/domain"
	"github.com/opensource-finance/leadwatch/internal/filter"
	"github.com/opensource-finance/leadwatch/internal/telemetry"
)

// Scan triggers.
const (
	TriggerRequest  = "request"
	TriggerInterval = "interval"
)

// Scanner runs one detection pass. *detect.Engine satisfies it.
type Scanner interface {
	Scan(ctx context.Context, days int) (*domain.Report, error)
}

// Worker consumes scan requests and publishes the results.
type Worker struct {
	bus     domain.EventBus
	scanner Scanner
	cfg     domain.WorkerConfig
	filter  *filter.Filter
	metrics *telemetry.Metrics
	now     func() time.Time

	// scanMu serializes passes so interval and requested scans never overlap.
	scanMu sync.Mutex

	subMu         sync.Mutex
	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc

	scans     atomic.Int64
	failures  atomic.Int64
	published atomic.Int64
}

// Option configures a Worker.
type Option func(*Worker)

// WithMetrics records scan outcomes on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithClock overrides the clock used to age alerts for the publish filter.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

// NewWorker creates a worker. An invalid publish filter is an error.
func NewWorker(bus domain.EventBus, scanner Scanner, cfg domain.WorkerConfig, opts ...Option) (*Worker, error) {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		bus:     bus,
		scanner: scanner,
		cfg:     cfg,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(w)
	}

	if cfg.PublishFilter != "" {
		compiler, err := filter.NewCompiler(1)
		if err != nil {
			cancel()
			return nil, err
		}
		f, err := compiler.Compile(cfg.PublishFilter)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("worker publish filter: %w", err)
		}
		w.filter = f
	}

	return w, nil
}

// Start subscribes to scan requests and starts the interval loop if configured.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicScanRequested, w.handleScanRequest)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicScanRequested, err)
	}
	w.subMu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.subMu.Unlock()

	if w.cfg.Interval > 0 {
		w.wg.Add(1)
		go w.loop(w.cfg.Interval)
	}

	slog.Info("scan worker started",
		"topic", domain.TopicScanRequested,
		"interval", w.cfg.Interval.String(),
		"publish_filter", w.cfg.PublishFilter,
	)
	return nil
}

func (w *Worker) loop(interval time.Duration) {
	defer w.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			_ = w.run(w.ctx, TriggerInterval, domain.ScanRequest{})
		}
	}
}

func (w *Worker) handleScanRequest(ctx context.Context, msg *domain.Message) error {
	var req domain.ScanRequest
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			slog.Error("failed to parse scan request",
				"message_id", msg.ID,
				"error", err,
			)
			return err
		}
	}
	if req.RequestID == "" {
		req.RequestID = msg.ID
	}
	return w.run(ctx, TriggerRequest, req)
}

// run performs one pass and publishes its alerts and report.
func (w *Worker) run(ctx context.Context, trigger string, req domain.ScanRequest) error {
	w.scanMu.Lock()
	defer w.scanMu.Unlock()

	start := time.Now()
	w.scans.Add(1)

	report, err := w.scanner.Scan(ctx, req.StatsDays)
	w.metrics.RecordScan(trigger, err)
	if err != nil {
		w.failures.Add(1)
		slog.Error("scan failed",
			"trigger", trigger,
			"request_id", req.RequestID,
			"error", err,
		)
		return err
	}

	alerts := report.Alerts
	if w.filter != nil {
		alerts = w.filter.Apply(alerts, w.now())
	}

	published := 0
	for _, alert := range alerts {
		payload, err := json.Marshal(alert)
		if err != nil {
			slog.Error("failed to marshal alert", "alert_id", alert.ID, "error", err)
			continue
		}
		if err := w.bus.Publish(ctx, domain.TopicAlert, payload); err != nil {
			slog.Error("failed to publish alert", "alert_id", alert.ID, "error", err)
			continue
		}
		published++
	}
	w.published.Add(int64(published))

	payload, err := json.Marshal(domain.ScanCompleted{
		RequestID:       req.RequestID,
		Trigger:         trigger,
		AlertsPublished: published,
		Report:          report,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal scan report: %w", err)
	}
	if err := w.bus.Publish(ctx, domain.TopicScanCompleted, payload); err != nil {
		slog.Error("failed to publish scan report",
			"request_id", req.RequestID,
			"error", err,
		)
	}

	slog.Info("scan completed",
		"trigger", trigger,
		"request_id", req.RequestID,
		"alerts", len(report.Alerts),
		"published", published,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Stop gracefully stops the worker and waits for the interval loop.
func (w *Worker) Stop() error {
	w.cancel()

	w.subMu.Lock()
	subs := w.subscriptions
	w.subscriptions = nil
	w.subMu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	w.wg.Wait()

	slog.Info("scan worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Scans             int64    `json:"scans"`
	Failures          int64    `json:"failures"`
	AlertsPublished   int64    `json:"alertsPublished"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.subMu.Lock()
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	w.subMu.Unlock()

	return Stats{
		SubscriptionCount: len(topics),
		Topics:            topics,
		Scans:             w.scans.Load(),
		Failures:          w.failures.Load(),
		AlertsPublished:   w.published.Load(),
	}
}
