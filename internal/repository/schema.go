package repository

// Schema definitions for the activity store.
// Compatible with both SQLite and PostgreSQL. Timestamps are stored as
// unix milliseconds and booleans as 0/1 integers so range filters and
// flag sums behave the same on both drivers.

const schemaClicks = `
CREATE TABLE IF NOT EXISTS clicks (
    id TEXT PRIMARY KEY,
    ip TEXT NOT NULL,
    campaign TEXT NOT NULL,
    user_agent TEXT,
    is_bot INTEGER NOT NULL DEFAULT 0,
    is_vpn INTEGER NOT NULL DEFAULT 0,
    is_fraud INTEGER NOT NULL DEFAULT 0,
    user_id TEXT,
    created_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_clicks_created ON clicks(created_at);
CREATE INDEX IF NOT EXISTS idx_clicks_vpn ON clicks(is_vpn, created_at);
CREATE INDEX IF NOT EXISTS idx_clicks_bot ON clicks(is_bot, created_at);
`

const schemaLeads = `
CREATE TABLE IF NOT EXISTS leads (
    id TEXT PRIMARY KEY,
    email TEXT,
    ip TEXT,
    campaign TEXT,
    is_duplicate INTEGER NOT NULL DEFAULT 0,
    user_id TEXT,
    created_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_leads_created ON leads(created_at);
CREATE INDEX IF NOT EXISTS idx_leads_ip ON leads(ip, created_at);
CREATE INDEX IF NOT EXISTS idx_leads_user ON leads(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_leads_campaign ON leads(campaign, created_at);
`

const schemaUsers = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    is_fraud INTEGER NOT NULL DEFAULT 0,
    lead_count BIGINT NOT NULL DEFAULT 0,
    click_count BIGINT NOT NULL DEFAULT 0,
    updated_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_users_fraud ON users(is_fraud, updated_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaClicks,
		schemaLeads,
		schemaUsers,
	}
}
