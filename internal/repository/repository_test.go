package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/leadwatch/internal/domain"
)

func strPtr(s string) *string { return &s }

func newTestRepo(t *testing.T) *SQLRepository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "leadwatch-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()
	since := now.Add(-time.Hour)
	until := now.Add(time.Minute)

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("LeadsByIP", func(t *testing.T) {
		// 6 leads from one IP, 3 distinct emails, 1 without email.
		emails := []string{"a@x.io", "a@x.io", "b@x.io", "c@x.io", "c@x.io"}
		for i, email := range emails {
			lead := &domain.Lead{
				ID:        fmt.Sprintf("ip-lead-%d", i),
				Email:     strPtr(email),
				IP:        strPtr("192.0.2.1"),
				CreatedAt: now.Add(-time.Duration(i) * time.Minute),
			}
			if err := repo.SaveLead(ctx, lead); err != nil {
				t.Fatalf("SaveLead failed: %v", err)
			}
		}
		if err := repo.SaveLead(ctx, &domain.Lead{ID: "ip-lead-noemail", IP: strPtr("192.0.2.1"), CreatedAt: now}); err != nil {
			t.Fatalf("SaveLead failed: %v", err)
		}
		// Outside the window.
		if err := repo.SaveLead(ctx, &domain.Lead{ID: "ip-lead-old", IP: strPtr("192.0.2.1"), CreatedAt: now.Add(-2 * time.Hour)}); err != nil {
			t.Fatalf("SaveLead failed: %v", err)
		}
		// No IP, never grouped.
		if err := repo.SaveLead(ctx, &domain.Lead{ID: "ip-lead-noip", Email: strPtr("z@x.io"), CreatedAt: now}); err != nil {
			t.Fatalf("SaveLead failed: %v", err)
		}

		groups, err := repo.LeadsByIP(ctx, since, until)
		if err != nil {
			t.Fatalf("LeadsByIP failed: %v", err)
		}
		if len(groups) != 1 {
			t.Fatalf("expected 1 group, got %d: %+v", len(groups), groups)
		}

		g := groups[0]
		if g.IP != "192.0.2.1" {
			t.Errorf("expected ip 192.0.2.1, got %s", g.IP)
		}
		if g.LeadCount != 6 {
			t.Errorf("expected 6 leads, got %d", g.LeadCount)
		}
		if g.EmailLeadCount != 5 {
			t.Errorf("expected 5 email leads, got %d", g.EmailLeadCount)
		}
		if g.DistinctEmails != 3 {
			t.Errorf("expected 3 distinct emails, got %d", g.DistinctEmails)
		}
	})

	t.Run("LeadsByUser", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			lead := &domain.Lead{
				ID:        fmt.Sprintf("user-lead-%d", i),
				UserID:    strPtr("user-001"),
				IP:        strPtr(fmt.Sprintf("198.51.100.%d", i)),
				CreatedAt: now,
			}
			if err := repo.SaveLead(ctx, lead); err != nil {
				t.Fatalf("SaveLead failed: %v", err)
			}
		}

		groups, err := repo.LeadsByUser(ctx, since, until)
		if err != nil {
			t.Fatalf("LeadsByUser failed: %v", err)
		}
		if len(groups) != 1 || groups[0].UserID != "user-001" || groups[0].LeadCount != 3 {
			t.Errorf("unexpected groups: %+v", groups)
		}
	})

	t.Run("LeadsByCampaign", func(t *testing.T) {
		for i := 0; i < 4; i++ {
			lead := &domain.Lead{
				ID:          fmt.Sprintf("camp-lead-%d", i),
				Campaign:    strPtr("spring-giveaway"),
				IsDuplicate: i%2 == 0,
				CreatedAt:   now,
			}
			if err := repo.SaveLead(ctx, lead); err != nil {
				t.Fatalf("SaveLead failed: %v", err)
			}
		}

		groups, err := repo.LeadsByCampaign(ctx, since, until)
		if err != nil {
			t.Fatalf("LeadsByCampaign failed: %v", err)
		}
		if len(groups) != 1 {
			t.Fatalf("expected 1 group, got %d", len(groups))
		}
		if groups[0].TotalCount != 4 || groups[0].DuplicateCount != 2 {
			t.Errorf("expected 4 total / 2 duplicates, got %+v", groups[0])
		}
	})

	t.Run("VPNClicksRespectLimit", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			click := &domain.Click{
				ID:        fmt.Sprintf("vpn-click-%d", i),
				IP:        "203.0.113.7",
				Campaign:  "spring-giveaway",
				IsVPN:     true,
				UserID:    strPtr(fmt.Sprintf("user-%d", i%2)),
				CreatedAt: now.Add(-time.Duration(i) * time.Second),
			}
			if err := repo.SaveClick(ctx, click); err != nil {
				t.Fatalf("SaveClick failed: %v", err)
			}
		}

		clicks, err := repo.VPNClicks(ctx, since, until, 3)
		if err != nil {
			t.Fatalf("VPNClicks failed: %v", err)
		}
		if len(clicks) != 3 {
			t.Fatalf("expected 3 clicks, got %d", len(clicks))
		}
		if !clicks[0].CreatedAt.After(clicks[2].CreatedAt) {
			t.Error("expected newest clicks first")
		}
		if clicks[0].UserID == nil {
			t.Error("expected linked user id")
		}
	})

	t.Run("BotClicksNullUserAgent", func(t *testing.T) {
		click := &domain.Click{
			ID:        "bot-click-1",
			IP:        "203.0.113.9",
			Campaign:  "summer-sweeps",
			IsBot:     true,
			CreatedAt: now,
		}
		if err := repo.SaveClick(ctx, click); err != nil {
			t.Fatalf("SaveClick failed: %v", err)
		}

		clicks, err := repo.BotClicks(ctx, since, until, 100)
		if err != nil {
			t.Fatalf("BotClicks failed: %v", err)
		}
		if len(clicks) != 1 {
			t.Fatalf("expected 1 bot click, got %d", len(clicks))
		}
		if clicks[0].UserAgent != nil {
			t.Errorf("expected nil user agent, got %q", *clicks[0].UserAgent)
		}
		if clicks[0].Campaign != "summer-sweeps" {
			t.Errorf("expected campaign summer-sweeps, got %s", clicks[0].Campaign)
		}
	})

	t.Run("ClickAndLeadCounts", func(t *testing.T) {
		clicks, err := repo.ClickCounts(ctx, since, until)
		if err != nil {
			t.Fatalf("ClickCounts failed: %v", err)
		}
		if clicks.Total != 6 || clicks.VPN != 5 || clicks.Bot != 1 || clicks.Fraud != 0 {
			t.Errorf("unexpected click counts: %+v", clicks)
		}

		leads, err := repo.LeadCounts(ctx, since, until)
		if err != nil {
			t.Fatalf("LeadCounts failed: %v", err)
		}
		// 6 ip leads + 1 no-ip + 3 user leads + 4 campaign leads; the old one is excluded.
		if leads.Total != 14 || leads.Duplicate != 2 {
			t.Errorf("unexpected lead counts: %+v", leads)
		}
	})

	t.Run("UsersAndFraudCount", func(t *testing.T) {
		users := []*domain.User{
			{ID: "user-fraud-1", IsFraud: true, UpdatedAt: now},
			{ID: "user-fraud-old", IsFraud: true, UpdatedAt: now.Add(-48 * time.Hour)},
			{ID: "user-clean", IsFraud: false, UpdatedAt: now},
		}
		for _, u := range users {
			if err := repo.SaveUser(ctx, u); err != nil {
				t.Fatalf("SaveUser failed: %v", err)
			}
		}

		count, err := repo.FraudUserCount(ctx, since, until)
		if err != nil {
			t.Fatalf("FraudUserCount failed: %v", err)
		}
		if count != 1 {
			t.Errorf("expected 1 fraud user, got %d", count)
		}

		// Upsert flips the flag.
		if err := repo.SaveUser(ctx, &domain.User{ID: "user-clean", IsFraud: true, LeadCount: 4, UpdatedAt: now}); err != nil {
			t.Fatalf("SaveUser upsert failed: %v", err)
		}
		u, err := repo.GetUser(ctx, "user-clean")
		if err != nil {
			t.Fatalf("GetUser failed: %v", err)
		}
		if !u.IsFraud || u.LeadCount != 4 {
			t.Errorf("expected upserted user, got %+v", u)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := repo.GetUser(ctx, "nonexistent")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("InvalidInput", func(t *testing.T) {
		if err := repo.SaveClick(ctx, &domain.Click{ID: "no-ip"}); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for click, got: %v", err)
		}
		if err := repo.SaveLead(ctx, &domain.Lead{}); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for lead, got: %v", err)
		}
		if _, err := repo.VPNClicks(ctx, since, until, 0); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for zero limit, got: %v", err)
		}
	})
}

func TestMemoryRepository(t *testing.T) {
	repo, err := New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	if err := repo.SaveLead(ctx, &domain.Lead{ID: "mem-1", IP: strPtr("10.0.0.1")}); err != nil {
		t.Fatalf("SaveLead failed: %v", err)
	}

	groups, err := repo.LeadsByIP(ctx, time.Now().Add(-time.Minute), time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("LeadsByIP failed: %v", err)
	}
	if len(groups) != 1 {
		t.Errorf("expected 1 group from in-memory db, got %d", len(groups))
	}
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "mysql",
	}

	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}

	sqlite := &SQLRepository{driver: "sqlite"}
	if got := sqlite.rebind("SELECT ?"); got != "SELECT ?" {
		t.Errorf("sqlite rebind changed query: %q", got)
	}
}

func TestPostgresDSN(t *testing.T) {
	dsn := postgresDSN(domain.RepositoryConfig{
		PostgresUser:     "crm",
		PostgresPassword: "it's secret",
	})

	for _, want := range []string{
		"host=localhost",
		"port=5432",
		"dbname=leadwatch",
		"sslmode=disable",
		"user=crm",
		`password='it\'s secret'`,
	} {
		if !strings.Contains(dsn, want) {
			t.Errorf("dsn %q missing %q", dsn, want)
		}
	}
}

func TestWindowUpperBound(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()
	since := now.Add(-24 * time.Hour)

	// Future-dated activity from a client clock that runs ahead.
	for i := 0; i < 12; i++ {
		lead := &domain.Lead{
			ID:          fmt.Sprintf("future-lead-%d", i),
			Email:       strPtr(fmt.Sprintf("f%d@x.io", i%4)),
			IP:          strPtr("9.9.9.9"),
			Campaign:    strPtr("future-campaign"),
			UserID:      strPtr("future-user"),
			IsDuplicate: true,
			CreatedAt:   now.Add(2 * time.Hour),
		}
		if err := repo.SaveLead(ctx, lead); err != nil {
			t.Fatalf("SaveLead failed: %v", err)
		}
	}
	for i := 0; i < 60; i++ {
		click := &domain.Click{
			ID:        fmt.Sprintf("future-click-%d", i),
			IP:        "198.51.100.1",
			Campaign:  "future-campaign",
			IsVPN:     true,
			IsBot:     true,
			CreatedAt: now.Add(48 * time.Hour),
		}
		if err := repo.SaveClick(ctx, click); err != nil {
			t.Fatalf("SaveClick failed: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		click := &domain.Click{
			ID:        fmt.Sprintf("real-vpn-%d", i),
			IP:        "203.0.113.50",
			Campaign:  "spring-giveaway",
			IsVPN:     true,
			CreatedAt: now.Add(-time.Duration(i+1) * time.Minute),
		}
		if err := repo.SaveClick(ctx, click); err != nil {
			t.Fatalf("SaveClick failed: %v", err)
		}
	}
	if err := repo.SaveUser(ctx, &domain.User{ID: "future-fraud", IsFraud: true, UpdatedAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("SaveUser failed: %v", err)
	}

	t.Run("Groups", func(t *testing.T) {
		byIP, err := repo.LeadsByIP(ctx, since, now)
		if err != nil || len(byIP) != 0 {
			t.Errorf("expected no ip groups, got %+v, %v", byIP, err)
		}
		byUser, err := repo.LeadsByUser(ctx, since, now)
		if err != nil || len(byUser) != 0 {
			t.Errorf("expected no user groups, got %+v, %v", byUser, err)
		}
		byCampaign, err := repo.LeadsByCampaign(ctx, since, now)
		if err != nil || len(byCampaign) != 0 {
			t.Errorf("expected no campaign groups, got %+v, %v", byCampaign, err)
		}
	})

	t.Run("SamplesKeepRealClicks", func(t *testing.T) {
		vpn, err := repo.VPNClicks(ctx, since, now, 50)
		if err != nil {
			t.Fatalf("VPNClicks failed: %v", err)
		}
		if len(vpn) != 3 {
			t.Fatalf("expected the 3 in-window vpn clicks, got %d", len(vpn))
		}
		for _, c := range vpn {
			if c.IP != "203.0.113.50" {
				t.Errorf("unexpected vpn click from %s", c.IP)
			}
		}

		bots, err := repo.BotClicks(ctx, since, now, 100)
		if err != nil || len(bots) != 0 {
			t.Errorf("expected no bot clicks, got %d, %v", len(bots), err)
		}
	})

	t.Run("Counts", func(t *testing.T) {
		clicks, err := repo.ClickCounts(ctx, since, now)
		if err != nil {
			t.Fatalf("ClickCounts failed: %v", err)
		}
		if clicks.Total != 3 || clicks.VPN != 3 || clicks.Bot != 0 {
			t.Errorf("unexpected click counts: %+v", clicks)
		}

		leads, err := repo.LeadCounts(ctx, since, now)
		if err != nil || leads.Total != 0 || leads.Duplicate != 0 {
			t.Errorf("expected no leads, got %+v, %v", leads, err)
		}

		fraud, err := repo.FraudUserCount(ctx, since, now)
		if err != nil || fraud != 0 {
			t.Errorf("expected no fraud users, got %d, %v", fraud, err)
		}
	})

	t.Run("InclusiveUntil", func(t *testing.T) {
		later := now.Add(2 * time.Hour)
		byIP, err := repo.LeadsByIP(ctx, since, later)
		if err != nil {
			t.Fatalf("LeadsByIP failed: %v", err)
		}
		if len(byIP) != 1 || byIP[0].LeadCount != 12 {
			t.Errorf("expected leads at until to count, got %+v", byIP)
		}
	})
}

func TestBlankOptionalFields(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()
	since, until := now.Add(-time.Hour), now.Add(time.Minute)

	for i := 0; i < 6; i++ {
		lead := &domain.Lead{
			ID:        fmt.Sprintf("blank-%d", i),
			Email:     strPtr(""),
			IP:        strPtr(""),
			Campaign:  strPtr(""),
			UserID:    strPtr(""),
			CreatedAt: now,
		}
		if err := repo.SaveLead(ctx, lead); err != nil {
			t.Fatalf("SaveLead failed: %v", err)
		}
		if lead.Email != nil || lead.IP != nil || lead.Campaign != nil || lead.UserID != nil {
			t.Fatalf("expected blank fields to be cleared, got %+v", lead)
		}
	}
	for i := 0; i < 3; i++ {
		lead := &domain.Lead{
			ID:        fmt.Sprintf("mixed-%d", i),
			Email:     strPtr([]string{"", "a@x.io", "b@x.io"}[i]),
			IP:        strPtr("192.0.2.77"),
			CreatedAt: now,
		}
		if err := repo.SaveLead(ctx, lead); err != nil {
			t.Fatalf("SaveLead failed: %v", err)
		}
	}

	byIP, err := repo.LeadsByIP(ctx, since, until)
	if err != nil {
		t.Fatalf("LeadsByIP failed: %v", err)
	}
	if len(byIP) != 1 || byIP[0].IP != "192.0.2.77" {
		t.Fatalf("expected only the real ip bucket, got %+v", byIP)
	}
	if byIP[0].EmailLeadCount != 2 || byIP[0].DistinctEmails != 2 {
		t.Errorf("expected blank email to be ignored, got %+v", byIP[0])
	}

	if groups, _ := repo.LeadsByUser(ctx, since, until); len(groups) != 0 {
		t.Errorf("expected no user groups, got %+v", groups)
	}
	if groups, _ := repo.LeadsByCampaign(ctx, since, until); len(groups) != 0 {
		t.Errorf("expected no campaign groups, got %+v", groups)
	}

	click := &domain.Click{ID: "blank-ua", IP: "203.0.113.1", Campaign: "c", UserAgent: strPtr(""), UserID: strPtr(""), IsBot: true, CreatedAt: now}
	if err := repo.SaveClick(ctx, click); err != nil {
		t.Fatalf("SaveClick failed: %v", err)
	}
	bots, err := repo.BotClicks(ctx, since, until, 10)
	if err != nil || len(bots) != 1 || bots[0].UserAgent != nil {
		t.Errorf("expected NULL user agent, got %+v, %v", bots, err)
	}
}
