package domain

import (
	"time"
)

// Click is a single ad or link interaction recorded by the CRM.
type Click struct {
	ID        string  `json:"id"`
	IP        string  `json:"ip"`
	Campaign  string  `json:"campaign"`
	UserAgent *string `json:"userAgent,omitempty"`

	IsBot   bool `json:"isBot"`
	IsVPN   bool `json:"isVpn"`
	IsFraud bool `json:"isFraud"`

	UserID    *string   `json:"userId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Lead is a form submission. IP, email, campaign and user are optional and
// leads missing a field are left out of any grouping on that field.
type Lead struct {
	ID          string    `json:"id"`
	Email       *string   `json:"email,omitempty"`
	IP          *string   `json:"ip,omitempty"`
	Campaign    *string   `json:"campaign,omitempty"`
	IsDuplicate bool      `json:"isDuplicate"`
	UserID      *string   `json:"userId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// User is the aggregate customer profile.
type User struct {
	ID         string    `json:"id"`
	IsFraud    bool      `json:"isFraud"`
	LeadCount  int64     `json:"leadCount"`
	ClickCount int64     `json:"clickCount"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// IPLeadGroup is one row of the leads-by-IP aggregate.
type IPLeadGroup struct {
	IP string

	// LeadCount counts every lead from the IP.
	LeadCount int64

	// EmailLeadCount counts only leads that carry an email.
	EmailLeadCount int64

	// DistinctEmails counts distinct non-null emails.
	DistinctEmails int64
}

// UserLeadGroup is one row of the leads-by-user aggregate.
type UserLeadGroup struct {
	UserID    string
	LeadCount int64
}

// CampaignLeadGroup is one row of the leads-by-campaign aggregate.
type CampaignLeadGroup struct {
	Campaign       string
	TotalCount     int64
	DuplicateCount int64
}

// VPNClick is the projection fetched by the VPN detector.
type VPNClick struct {
	IP        string
	UserID    *string
	CreatedAt time.Time
}

// BotClick is the projection fetched by the bot detector.
type BotClick struct {
	IP        string
	UserAgent *string
	Campaign  string
	CreatedAt time.Time
}

// ClickCounts holds click totals for a reporting window.
type ClickCounts struct {
	Total int64
	Fraud int64
	Bot   int64
	VPN   int64
}

// LeadCounts holds lead totals for a reporting window.
type LeadCounts struct {
	Total     int64
	Duplicate int64
}
