package detect

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/opensource-finance/leadwatch/internal/domain"
)

// newAlert builds an unresolved alert keyed on a single affected entity.
func newAlert(t domain.AlertType, key string, sev domain.Severity, at time.Time, title, description string, data map[string]any) domain.FraudAlert {
	return domain.FraudAlert{
		ID:               AlertID(t, key, at),
		Type:             t,
		Severity:         sev,
		Title:            title,
		Description:      description,
		Data:             data,
		AffectedEntities: []string{key},
		CreatedAt:        at.UTC(),
		Resolved:         false,
	}
}

// AlertID composes "<type>-<key>-<unix ms>". It is unique within one pass
// only; later passes over the same data produce new ids.
func AlertID(t domain.AlertType, key string, at time.Time) string {
	return fmt.Sprintf("%s-%s-%d", t, key, at.UnixMilli())
}

// Merge concatenates detector outputs and ranks them with SortAlerts.
// Alerts about the same entity from different detectors are all kept.
// The result is never nil.
func Merge(lists ...[]domain.FraudAlert) []domain.FraudAlert {
	n := 0
	for _, l := range lists {
		n += len(l)
	}

	merged := make([]domain.FraudAlert, 0, n)
	for _, l := range lists {
		merged = append(merged, l...)
	}

	SortAlerts(merged)
	return merged
}

// SortAlerts orders alerts by severity rank descending, then createdAt
// descending. Ties keep their input order.
func SortAlerts(alerts []domain.FraudAlert) {
	slices.SortStableFunc(alerts, func(a, b domain.FraudAlert) int {
		if c := cmp.Compare(b.Severity.Rank(), a.Severity.Rank()); c != 0 {
			return c
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
}

// windowLabel renders a window as "5m" or "24h" for descriptions.
func windowLabel(d time.Duration) string {
	switch {
	case d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute)
	default:
		return d.String()
	}
}
