package detect

import (
	"testing"

	"github.com/opensource-finance/leadwatch/internal/domain"
)

func TestIPSpamSeverity(t *testing.T) {
	tests := []struct {
		leads  int64
		want   domain.Severity
		alerts bool
	}{
		{4, "", false},
		{5, domain.SeverityHigh, true},
		{9, domain.SeverityHigh, true},
		{10, domain.SeverityCritical, true},
		{50, domain.SeverityCritical, true},
	}

	for _, tt := range tests {
		got, ok := ipSpamSeverity(tt.leads)
		if ok != tt.alerts || got != tt.want {
			t.Errorf("ipSpamSeverity(%d) = %q, %v; want %q, %v", tt.leads, got, ok, tt.want, tt.alerts)
		}
	}
}

func TestEmailSpamSeverity(t *testing.T) {
	tests := []struct {
		name     string
		distinct int64
		leads    int64
		alerts   bool
	}{
		{"two emails", 2, 8, false},
		{"three emails", 3, 5, true},
		{"too few leads", 4, 4, false},
		{"many emails", 12, 12, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := emailSpamSeverity(tt.distinct, tt.leads)
			if ok != tt.alerts {
				t.Fatalf("expected alert=%v, got %v", tt.alerts, ok)
			}
			if ok && got != domain.SeverityHigh {
				t.Errorf("expected HIGH, got %s", got)
			}
		})
	}
}

func TestRapidFireSeverity(t *testing.T) {
	tests := []struct {
		leads  int64
		want   domain.Severity
		alerts bool
	}{
		{2, "", false},
		{3, domain.SeverityMedium, true},
		{4, domain.SeverityMedium, true},
		{5, domain.SeverityHigh, true},
	}

	for _, tt := range tests {
		got, ok := rapidFireSeverity(tt.leads)
		if ok != tt.alerts || got != tt.want {
			t.Errorf("rapidFireSeverity(%d) = %q, %v; want %q, %v", tt.leads, got, ok, tt.want, tt.alerts)
		}
	}
}

func TestClickSeverity(t *testing.T) {
	if _, ok := vpnSeverity(2); ok {
		t.Error("2 vpn clicks should not alert")
	}
	if sev, ok := vpnSeverity(3); !ok || sev != domain.SeverityMedium {
		t.Errorf("3 vpn clicks: got %q, %v", sev, ok)
	}
	if _, ok := botSeverity(4); ok {
		t.Error("4 bot clicks should not alert")
	}
	if sev, ok := botSeverity(5); !ok || sev != domain.SeverityHigh {
		t.Errorf("5 bot clicks: got %q, %v", sev, ok)
	}
}

func TestDuplicateSeverity(t *testing.T) {
	tests := []struct {
		name   string
		total  int64
		rate   float64
		want   domain.Severity
		alerts bool
	}{
		{"nine leads all duplicate", 9, 100, "", false},
		{"below rate", 10, 40, "", false},
		{"exactly half", 10, 50, domain.SeverityHigh, true},
		{"just under critical", 20, 79.9, domain.SeverityHigh, true},
		{"exactly critical", 10, 80, domain.SeverityCritical, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := duplicateSeverity(tt.total, tt.rate)
			if ok != tt.alerts || got != tt.want {
				t.Errorf("got %q, %v; want %q, %v", got, ok, tt.want, tt.alerts)
			}
		})
	}
}
