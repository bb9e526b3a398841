package cmd

import (
	"testing"
)

func TestParseRange(t *testing.T) {
	rng, err := parseRange("2025-1-1", "2025-3-31")
	if err != nil {
		t.Fatalf("parseRange: %v", err)
	}
	if got := rng.String(); got != "2025-01-01..2025-03-31" {
		t.Errorf("range = %q", got)
	}

	if _, err := parseRange("2025-3-31", "2025-1-1"); err == nil {
		t.Error("inverted range should fail")
	}
	if _, err := parseRange("not-a-date", "2025-1-1"); err == nil {
		t.Error("malformed date should fail")
	}
}

func TestReportCurrency(t *testing.T) {
	if got := reportCurrency("eur"); got != "EUR" {
		t.Errorf("flag value = %q, want EUR", got)
	}

	t.Setenv("REPORT_CCY", "chf")
	if got := reportCurrency(""); got != "CHF" {
		t.Errorf("env value = %q, want CHF", got)
	}

	t.Setenv("REPORT_CCY", "")
	if got := reportCurrency(""); got != "USD" {
		t.Errorf("default = %q, want USD", got)
	}
}
