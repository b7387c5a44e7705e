package domain

import (
	"time"
)

// AlertType identifies the detector signal behind an alert.
type AlertType string

const (
	AlertIPSpam         AlertType = "IP_SPAM"
	AlertEmailSpam      AlertType = "EMAIL_SPAM"
	AlertPhoneSpam      AlertType = "PHONE_SPAM"
	AlertVPNDetected    AlertType = "VPN_DETECTED"
	AlertBotDetected    AlertType = "BOT_DETECTED"
	AlertRapidFire      AlertType = "RAPID_FIRE"
	AlertDuplicateBurst AlertType = "DUPLICATE_BURST"
)

// AlertTypes lists every alert type in declaration order.
var AlertTypes = []AlertType{
	AlertIPSpam,
	AlertEmailSpam,
	AlertPhoneSpam,
	AlertVPNDetected,
	AlertBotDetected,
	AlertRapidFire,
	AlertDuplicateBurst,
}

// Valid reports whether t is a known alert type.
func (t AlertType) Valid() bool {
	for _, known := range AlertTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Severity is the ordinal alert severity.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank orders severities: CRITICAL > HIGH > MEDIUM > LOW.
// Unknown values rank below LOW.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// ParseSeverity parses a severity name, case-sensitive.
func ParseSeverity(s string) (Severity, bool) {
	sev := Severity(s)
	return sev, sev.Rank() > 0
}

// FraudAlert is a derived, ephemeral alert. Alerts are rebuilt on every
// detection pass and are never persisted by the engine, so the ID only
// identifies an alert within a single result set.
type FraudAlert struct {
	ID               string         `json:"id"`
	Type             AlertType      `json:"type"`
	Severity         Severity       `json:"severity"`
	Title            string         `json:"title"`
	Description      string         `json:"description"`
	Data             map[string]any `json:"data"`
	AffectedEntities []string       `json:"affectedEntities"`
	CreatedAt        time.Time      `json:"createdAt"`
	Resolved         bool           `json:"resolved"`
}

// StatsSummary is the rolling rate summary over a reporting window.
type StatsSummary struct {
	WindowDays int `json:"windowDays"`

	TotalClicks    int64 `json:"totalClicks"`
	TotalLeads     int64 `json:"totalLeads"`
	FraudClicks    int64 `json:"fraudClicks"`
	BotClicks      int64 `json:"botClicks"`
	VPNClicks      int64 `json:"vpnClicks"`
	DuplicateLeads int64 `json:"duplicateLeads"`
	FraudUsers     int64 `json:"fraudUsers"`

	// Rates are percentages in [0, 100].
	FraudClickRate    float64 `json:"fraudClickRate"`
	BotClickRate      float64 `json:"botClickRate"`
	VPNClickRate      float64 `json:"vpnClickRate"`
	DuplicateLeadRate float64 `json:"duplicateLeadRate"`

	GeneratedAt time.Time `json:"generatedAt"`
}

// Report combines an alert feed and a stats summary computed in one pass.
type Report struct {
	Alerts      []FraudAlert  `json:"alerts"`
	Stats       *StatsSummary `json:"stats"`
	GeneratedAt time.Time     `json:"generatedAt"`
}
