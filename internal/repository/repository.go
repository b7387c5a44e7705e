// Package repository provides the SQL activity store.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/opensource-finance/leadwatch/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

var _ domain.Repository = (*SQLRepository)(nil)

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveClick records a click. A zero CreatedAt is stamped with the current time.
func (r *SQLRepository) SaveClick(ctx context.Context, click *domain.Click) error {
	if click == nil || click.ID == "" || click.IP == "" || click.Campaign == "" {
		return fmt.Errorf("%w: click id, ip and campaign are required", ErrInvalidInput)
	}
	if click.CreatedAt.IsZero() {
		click.CreatedAt = time.Now().UTC()
	}
	click.UserAgent = blankToNil(click.UserAgent)
	click.UserID = blankToNil(click.UserID)

	query := `
		INSERT INTO clicks (
			id, ip, campaign, user_agent, is_bot, is_vpn, is_fraud, user_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		click.ID, click.IP, click.Campaign, nullable(click.UserAgent),
		flag(click.IsBot), flag(click.IsVPN), flag(click.IsFraud),
		nullable(click.UserID), click.CreatedAt.UnixMilli(),
	)
	return err
}

// SaveLead records a lead. A zero CreatedAt is stamped with the current time
// and blank optional fields are stored as NULL.
func (r *SQLRepository) SaveLead(ctx context.Context, lead *domain.Lead) error {
	if lead == nil || lead.ID == "" {
		return fmt.Errorf("%w: lead id is required", ErrInvalidInput)
	}
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = time.Now().UTC()
	}
	lead.Email = blankToNil(lead.Email)
	lead.IP = blankToNil(lead.IP)
	lead.Campaign = blankToNil(lead.Campaign)
	lead.UserID = blankToNil(lead.UserID)

	query := `
		INSERT INTO leads (
			id, email, ip, campaign, is_duplicate, user_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		lead.ID, nullable(lead.Email), nullable(lead.IP), nullable(lead.Campaign),
		flag(lead.IsDuplicate), nullable(lead.UserID), lead.CreatedAt.UnixMilli(),
	)
	return err
}

// SaveUser inserts or replaces a user profile.
func (r *SQLRepository) SaveUser(ctx context.Context, user *domain.User) error {
	if user == nil || user.ID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO users (id, is_fraud, lead_count, click_count, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			is_fraud = excluded.is_fraud,
			lead_count = excluded.lead_count,
			click_count = excluded.click_count,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		user.ID, flag(user.IsFraud), user.LeadCount, user.ClickCount, user.UpdatedAt.UnixMilli(),
	)
	return err
}

// GetUser retrieves a user profile by ID.
func (r *SQLRepository) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}

	query := `
		SELECT id, is_fraud, lead_count, click_count, updated_at
		FROM users
		WHERE id = ?
	`

	var u domain.User
	var isFraud int
	var updatedAt int64

	err := r.db.QueryRowContext(ctx, r.rebind(query), userID).Scan(
		&u.ID, &isFraud, &u.LeadCount, &u.ClickCount, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	u.IsFraud = isFraud == 1
	u.UpdatedAt = fromMillis(updatedAt)
	return &u, nil
}

// LeadsByIP groups leads with a non-null IP created within the window.
// COUNT(email) and COUNT(DISTINCT email) skip null emails, so the email
// columns only reflect leads that carry one.
func (r *SQLRepository) LeadsByIP(ctx context.Context, since, until time.Time) ([]domain.IPLeadGroup, error) {
	query := `
		SELECT ip, COUNT(*), COUNT(email), COUNT(DISTINCT email)
		FROM leads
		WHERE ip IS NOT NULL AND created_at >= ? AND created_at <= ?
		GROUP BY ip
		ORDER BY COUNT(*) DESC, ip
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), since.UnixMilli(), until.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to group leads by ip: %w", err)
	}
	defer rows.Close()

	var groups []domain.IPLeadGroup
	for rows.Next() {
		var g domain.IPLeadGroup
		if err := rows.Scan(&g.IP, &g.LeadCount, &g.EmailLeadCount, &g.DistinctEmails); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}

	return groups, rows.Err()
}

// LeadsByUser groups leads with a linked user created within the window.
func (r *SQLRepository) LeadsByUser(ctx context.Context, since, until time.Time) ([]domain.UserLeadGroup, error) {
	query := `
		SELECT user_id, COUNT(*)
		FROM leads
		WHERE user_id IS NOT NULL AND created_at >= ? AND created_at <= ?
		GROUP BY user_id
		ORDER BY COUNT(*) DESC, user_id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), since.UnixMilli(), until.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to group leads by user: %w", err)
	}
	defer rows.Close()

	var groups []domain.UserLeadGroup
	for rows.Next() {
		var g domain.UserLeadGroup
		if err := rows.Scan(&g.UserID, &g.LeadCount); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}

	return groups, rows.Err()
}

// VPNClicks fetches the newest VPN-flagged clicks, at most limit rows.
func (r *SQLRepository) VPNClicks(ctx context.Context, since, until time.Time, limit int) ([]domain.VPNClick, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", ErrInvalidInput)
	}

	query := `
		SELECT ip, user_id, created_at
		FROM clicks
		WHERE is_vpn = 1 AND created_at >= ? AND created_at <= ?
		ORDER BY created_at DESC, id
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), since.UnixMilli(), until.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch vpn clicks: %w", err)
	}
	defer rows.Close()

	var clicks []domain.VPNClick
	for rows.Next() {
		var c domain.VPNClick
		var userID sql.NullString
		var createdAt int64
		if err := rows.Scan(&c.IP, &userID, &createdAt); err != nil {
			return nil, err
		}
		c.UserID = fromNull(userID)
		c.CreatedAt = fromMillis(createdAt)
		clicks = append(clicks, c)
	}

	return clicks, rows.Err()
}

// BotClicks fetches the newest bot-flagged clicks, at most limit rows.
func (r *SQLRepository) BotClicks(ctx context.Context, since, until time.Time, limit int) ([]domain.BotClick, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", ErrInvalidInput)
	}

	query := `
		SELECT ip, user_agent, campaign, created_at
		FROM clicks
		WHERE is_bot = 1 AND created_at >= ? AND created_at <= ?
		ORDER BY created_at DESC, id
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), since.UnixMilli(), until.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch bot clicks: %w", err)
	}
	defer rows.Close()

	var clicks []domain.BotClick
	for rows.Next() {
		var c domain.BotClick
		var userAgent sql.NullString
		var createdAt int64
		if err := rows.Scan(&c.IP, &userAgent, &c.Campaign, &createdAt); err != nil {
			return nil, err
		}
		c.UserAgent = fromNull(userAgent)
		c.CreatedAt = fromMillis(createdAt)
		clicks = append(clicks, c)
	}

	return clicks, rows.Err()
}

// LeadsByCampaign groups leads with a campaign, counting duplicates.
func (r *SQLRepository) LeadsByCampaign(ctx context.Context, since, until time.Time) ([]domain.CampaignLeadGroup, error) {
	query := `
		SELECT campaign, COUNT(*), COALESCE(SUM(is_duplicate), 0)
		FROM leads
		WHERE campaign IS NOT NULL AND created_at >= ? AND created_at <= ?
		GROUP BY campaign
		ORDER BY campaign
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), since.UnixMilli(), until.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to group leads by campaign: %w", err)
	}
	defer rows.Close()

	var groups []domain.CampaignLeadGroup
	for rows.Next() {
		var g domain.CampaignLeadGroup
		if err := rows.Scan(&g.Campaign, &g.TotalCount, &g.DuplicateCount); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}

	return groups, rows.Err()
}

// ClickCounts returns click totals created within the window.
func (r *SQLRepository) ClickCounts(ctx context.Context, since, until time.Time) (*domain.ClickCounts, error) {
	query := `
		SELECT COUNT(*),
			   COALESCE(SUM(is_fraud), 0),
			   COALESCE(SUM(is_bot), 0),
			   COALESCE(SUM(is_vpn), 0)
		FROM clicks
		WHERE created_at >= ? AND created_at <= ?
	`

	var c domain.ClickCounts
	err := r.db.QueryRowContext(ctx, r.rebind(query), since.UnixMilli(), until.UnixMilli()).Scan(
		&c.Total, &c.Fraud, &c.Bot, &c.VPN,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count clicks: %w", err)
	}
	return &c, nil
}

// LeadCounts returns lead totals created within the window.
func (r *SQLRepository) LeadCounts(ctx context.Context, since, until time.Time) (*domain.LeadCounts, error) {
	query := `
		SELECT COUNT(*), COALESCE(SUM(is_duplicate), 0)
		FROM leads
		WHERE created_at >= ? AND created_at <= ?
	`

	var c domain.LeadCounts
	err := r.db.QueryRowContext(ctx, r.rebind(query), since.UnixMilli(), until.UnixMilli()).Scan(&c.Total, &c.Duplicate)
	if err != nil {
		return nil, fmt.Errorf("failed to count leads: %w", err)
	}
	return &c, nil
}

// FraudUserCount counts fraud-flagged users updated within the window.
func (r *SQLRepository) FraudUserCount(ctx context.Context, since, until time.Time) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM users
		WHERE is_fraud = 1 AND updated_at >= ? AND updated_at <= ?
	`

	var count int64
	if err := r.db.QueryRowContext(ctx, r.rebind(query), since.UnixMilli(), until.UnixMilli()).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count fraud users: %w", err)
	}
	return count, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	result := make([]byte, 0, len(query)+8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = strconv.AppendInt(result, int64(n), 10)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

func flag(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// blankToNil maps a pointer to an empty string to nil.
func blankToNil(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

func fromNull(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
