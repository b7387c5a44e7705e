package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/leadwatch/internal/cache"
	"github.com/opensource-finance/leadwatch/internal/detect"
	"github.com/opensource-finance/leadwatch/internal/domain"
	"github.com/opensource-finance/leadwatch/internal/filter"
	"github.com/opensource-finance/leadwatch/internal/repository"
	"github.com/opensource-finance/leadwatch/internal/stats"
	"github.com/opensource-finance/leadwatch/internal/telemetry"
)

// CacheHeader reports whether a response was served from the boundary cache.
const CacheHeader = "X-Cache"

// Deps are the collaborators of the HTTP handlers. Cache, Bus and Metrics
// may be nil.
type Deps struct {
	Repo    domain.Repository
	Engine  *detect.Engine
	Filters *filter.Compiler
	Cache   domain.Cache
	Bus     domain.EventBus
	Metrics *telemetry.Metrics

	// AlertTTL and StatsTTL bound the staleness of cached feeds.
	AlertTTL time.Duration
	StatsTTL time.Duration

	Version string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	Deps
	now func() time.Time
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	if deps.Filters == nil {
		deps.Filters, _ = filter.NewCompiler(0)
	}
	return &Handler{Deps: deps, now: time.Now}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	checks := map[string]string{}

	check := func(name string, ping func() error) {
		if err := ping(); err != nil {
			status = "degraded"
			checks[name] = err.Error()
			return
		}
		checks[name] = "ok"
	}

	if h.Repo != nil {
		check("repository", func() error { return h.Repo.Ping(r.Context()) })
	}
	if h.Cache != nil {
		check("cache", func() error { return h.Cache.Ping(r.Context()) })
	}
	if h.Bus != nil {
		check("event_bus", func() error { return h.Bus.Ping(r.Context()) })
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": h.Version,
		"checks":  checks,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.Repo != nil {
		if err := h.Repo.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"ready": "false",
				"error": "repository unavailable",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// AlertsResponse is the response for GET /alerts.
type AlertsResponse struct {
	Alerts []domain.FraudAlert `json:"alerts"`
	Count  int                 `json:"count"`

	// Total is the feed size before severity, type, filter and limit.
	Total int `json:"total"`
}

// alertQuery holds the parsed GET /alerts parameters.
type alertQuery struct {
	minSeverity domain.Severity
	alertType   domain.AlertType
	filter      *filter.Filter
	limit       int
	opts        detect.RunOptions
}

// ListAlerts handles GET /alerts. The unfiltered feed is cached per window
// set; selection is applied on every request.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q, err := h.parseAlertQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resolved, err := h.Engine.Resolve(q.opts)
	if err != nil {
		h.writeEngineError(w, "failed to generate alerts", err)
		return
	}

	feed, hit, err := cache.FetchJSON(r.Context(), h.Cache, alertsCacheKey(resolved), h.AlertTTL, func(ctx context.Context) ([]domain.FraudAlert, error) {
		return h.Engine.GenerateAlertsWith(ctx, q.opts)
	})
	if err != nil {
		h.writeEngineError(w, "failed to generate alerts", err)
		return
	}
	setCacheHeader(w, hit)

	selected := q.apply(feed, h.now())
	writeJSON(w, http.StatusOK, AlertsResponse{
		Alerts: selected,
		Count:  len(selected),
		Total:  len(feed),
	})
}

func (h *Handler) parseAlertQuery(v url.Values) (*alertQuery, error) {
	q := &alertQuery{}

	if s := v.Get("severity"); s != "" {
		sev, ok := domain.ParseSeverity(s)
		if !ok {
			return nil, fmt.Errorf("unknown severity %q", s)
		}
		q.minSeverity = sev
	}

	if t := v.Get("type"); t != "" {
		q.alertType = domain.AlertType(t)
		if !q.alertType.Valid() {
			return nil, fmt.Errorf("unknown alert type %q", t)
		}
	}

	if expr := v.Get("filter"); expr != "" {
		f, err := h.Filters.Compile(expr)
		if err != nil {
			return nil, err
		}
		q.filter = f
	}

	if l := v.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("limit must be a non-negative integer")
		}
		q.limit = n
	}

	opts, err := parseRunOptions(v)
	if err != nil {
		return nil, err
	}
	q.opts = opts

	return q, nil
}

func (q *alertQuery) apply(feed []domain.FraudAlert, now time.Time) []domain.FraudAlert {
	selected := make([]domain.FraudAlert, 0, len(feed))
	for _, a := range feed {
		if q.minSeverity != "" && a.Severity.Rank() < q.minSeverity.Rank() {
			continue
		}
		if q.alertType != "" && a.Type != q.alertType {
			continue
		}
		selected = append(selected, a)
	}

	if q.filter != nil {
		selected = q.filter.Apply(selected, now)
	}
	if q.limit > 0 && len(selected) > q.limit {
		selected = selected[:q.limit]
	}
	return selected
}

// GetStats handles GET /stats?days=N.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	days, err := parseDays(r.URL.Query(), h.Engine.Config().StatsDays)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	summary, hit, err := cache.FetchJSON(r.Context(), h.Cache, "stats:"+strconv.Itoa(days), h.StatsTTL, func(ctx context.Context) (*domain.StatsSummary, error) {
		return h.Engine.Summary(ctx, days)
	})
	if err != nil {
		h.writeEngineError(w, "failed to compute stats", err)
		return
	}
	setCacheHeader(w, hit)

	writeJSON(w, http.StatusOK, summary)
}

// GetReport handles GET /report. It is never cached.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query()
	days, err := parseDays(v, h.Engine.Config().StatsDays)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts, err := parseRunOptions(v)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.Engine.ScanWith(r.Context(), days, opts)
	if err != nil {
		h.writeEngineError(w, "failed to build report", err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// ScanResponse is the response for POST /scan.
type ScanResponse struct {
	RequestID string `json:"requestId"`
	Topic     string `json:"topic"`
}

// RequestScan handles POST /scan by handing the pass to the scan worker.
func (h *Handler) RequestScan(w http.ResponseWriter, r *http.Request) {
	if h.Bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event bus not available")
		return
	}

	var req domain.ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if req.StatsDays < 0 {
		writeError(w, http.StatusBadRequest, stats.ErrInvalidDays.Error())
		return
	}
	req.RequestID = GetRequestID(r.Context())
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	payload, _ := json.Marshal(req)
	if err := h.Bus.Publish(r.Context(), domain.TopicScanRequested, payload); err != nil {
		slog.Error("failed to publish scan request", "request_id", req.RequestID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "failed to queue scan")
		return
	}

	writeJSON(w, http.StatusAccepted, ScanResponse{
		RequestID: req.RequestID,
		Topic:     domain.TopicScanRequested,
	})
}

// RecordClick handles POST /clicks.
func (h *Handler) RecordClick(w http.ResponseWriter, r *http.Request) {
	var click domain.Click
	if err := json.NewDecoder(r.Body).Decode(&click); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if click.ID == "" {
		click.ID = uuid.NewString()
	}

	if err := h.Repo.SaveClick(r.Context(), &click); err != nil {
		h.writeStoreError(w, "failed to save click", err)
		return
	}

	writeJSON(w, http.StatusCreated, click)
}

// RecordLead handles POST /leads.
func (h *Handler) RecordLead(w http.ResponseWriter, r *http.Request) {
	var lead domain.Lead
	if err := json.NewDecoder(r.Body).Decode(&lead); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}

	if err := h.Repo.SaveLead(r.Context(), &lead); err != nil {
		h.writeStoreError(w, "failed to save lead", err)
		return
	}

	writeJSON(w, http.StatusCreated, lead)
}

// PutUser handles PUT /users/{id}.
func (h *Handler) PutUser(w http.ResponseWriter, r *http.Request) {
	var user domain.User
	if err := json.NewDecoder(r.Body).Decode(&user); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	user.ID = chi.URLParam(r, "id")
	user.UpdatedAt = time.Time{}

	if err := h.Repo.SaveUser(r.Context(), &user); err != nil {
		h.writeStoreError(w, "failed to save user", err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// GetUser handles GET /users/{id}.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.Repo.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, "failed to get user", err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// runOptionParams maps query parameters to detector window overrides.
var runOptionParams = []struct {
	name   string
	target func(*detect.RunOptions) *time.Duration
}{
	{"ip_spam_window", func(o *detect.RunOptions) *time.Duration { return &o.IPSpamWindow }},
	{"rapid_fire_window", func(o *detect.RunOptions) *time.Duration { return &o.RapidFireWindow }},
	{"vpn_window", func(o *detect.RunOptions) *time.Duration { return &o.VPNWindow }},
	{"bot_window", func(o *detect.RunOptions) *time.Duration { return &o.BotWindow }},
	{"duplicate_window", func(o *detect.RunOptions) *time.Duration { return &o.DuplicateWindow }},
}

func parseRunOptions(v url.Values) (detect.RunOptions, error) {
	var opts detect.RunOptions
	for _, p := range runOptionParams {
		raw := v.Get(p.name)
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return opts, fmt.Errorf("%s: invalid duration %q", p.name, raw)
		}
		*p.target(&opts) = d
	}
	return opts, nil
}

// alertsCacheKey identifies a feed by the windows it was generated with, so
// an explicit default shares the entry of an omitted one.
func alertsCacheKey(c domain.DetectionConfig) string {
	return fmt.Sprintf("alerts:%d:%d:%d:%d:%d:%d:%d",
		c.IPSpamWindow, c.RapidFireWindow, c.VPNWindow, c.VPNFetchLimit,
		c.BotWindow, c.BotFetchLimit, c.DuplicateWindow)
}

func parseDays(v url.Values, fallback int) (int, error) {
	raw := v.Get("days")
	if raw == "" {
		return fallback, nil
	}
	days, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("days must be an integer")
	}
	if days == 0 {
		return fallback, nil
	}
	if days < 0 {
		return 0, fmt.Errorf("%w: got %d", stats.ErrInvalidDays, days)
	}
	return days, nil
}

func setCacheHeader(w http.ResponseWriter, hit bool) {
	if hit {
		w.Header().Set(CacheHeader, "HIT")
		return
	}
	w.Header().Set(CacheHeader, "MISS")
}

// writeEngineError maps detection failures to 400 for caller mistakes and
// 500 for store failures.
func (h *Handler) writeEngineError(w http.ResponseWriter, msg string, err error) {
	if errors.Is(err, detect.ErrInvalidWindow) || errors.Is(err, stats.ErrInvalidDays) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	slog.Error(msg, "error", err)
	writeError(w, http.StatusInternalServerError, msg)
}

func (h *Handler) writeStoreError(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, repository.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		slog.Error(msg, "error", err)
		writeError(w, http.StatusInternalServerError, msg)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
