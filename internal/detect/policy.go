package detect

import "github.com/opensource-finance/leadwatch/internal/domain"

// Detection thresholds. These are fixed so that a given window always
// classifies the same activity the same way.
const (
	ipSpamMinLeads      = 5
	ipSpamCriticalLeads = 10

	emailSpamMinDistinct = 3
	emailSpamMinLeads    = 5

	rapidFireMinLeads  = 3
	rapidFireHighLeads = 5

	vpnMinClicks = 3

	// botMinSample is exclusive: the sample must exceed it.
	botMinSample = 10
	botMinClicks = 5

	duplicateMinLeads     = 10
	duplicateMinRate      = 50.0
	duplicateCriticalRate = 80.0
)

const unknownUserAgent = "unknown"

// ipSpamSeverity classifies the lead count of one IP.
func ipSpamSeverity(leads int64) (domain.Severity, bool) {
	switch {
	case leads >= ipSpamCriticalLeads:
		return domain.SeverityCritical, true
	case leads >= ipSpamMinLeads:
		return domain.SeverityHigh, true
	default:
		return "", false
	}
}

// emailSpamSeverity classifies the email-bearing leads of one IP.
func emailSpamSeverity(distinct, leads int64) (domain.Severity, bool) {
	if distinct >= emailSpamMinDistinct && leads >= emailSpamMinLeads {
		return domain.SeverityHigh, true
	}
	return "", false
}

// rapidFireSeverity classifies the lead count of one user.
func rapidFireSeverity(leads int64) (domain.Severity, bool) {
	switch {
	case leads >= rapidFireHighLeads:
		return domain.SeverityHigh, true
	case leads >= rapidFireMinLeads:
		return domain.SeverityMedium, true
	default:
		return "", false
	}
}

// vpnSeverity classifies the sampled VPN clicks of one IP.
func vpnSeverity(clicks int) (domain.Severity, bool) {
	if clicks >= vpnMinClicks {
		return domain.SeverityMedium, true
	}
	return "", false
}

// botSeverity classifies the sampled bot clicks of one user agent.
func botSeverity(clicks int) (domain.Severity, bool) {
	if clicks >= botMinClicks {
		return domain.SeverityHigh, true
	}
	return "", false
}

// duplicateSeverity classifies campaign totals. rate is a percentage.
func duplicateSeverity(total int64, rate float64) (domain.Severity, bool) {
	if total < duplicateMinLeads || rate < duplicateMinRate {
		return "", false
	}
	if rate >= duplicateCriticalRate {
		return domain.SeverityCritical, true
	}
	return domain.SeverityHigh, true
}
