package date

import (
	"testing"
	"time"
)

func TestFromUnixMilli(t *testing.T) {
	// 2021-03-01 23:59:59.999 UTC
	ms := time.Date(2021, time.March, 1, 23, 59, 59, 999_000_000, time.UTC).UnixMilli()
	if got, want := FromUnixMilli(ms), New(2021, time.March, 1); got != want {
		t.Errorf("FromUnixMilli(%d) = %v want %v", ms, got, want)
	}

	// One millisecond later is the next day.
	if got, want := FromUnixMilli(ms+1), New(2021, time.March, 2); got != want {
		t.Errorf("FromUnixMilli(%d) = %v want %v", ms+1, got, want)
	}
}

func TestParse(t *testing.T) {
	d, err := Parse("2025-7-1")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if want := New(2025, time.July, 1); d != want {
		t.Errorf("Parse() = %v want %v", d, want)
	}

	if _, err := Parse("not-a-date"); err == nil {
		t.Errorf("Parse(invalid) expected an error")
	}
}

func TestAddNormalizes(t *testing.T) {
	d := New(2024, time.February, 28)
	if got, want := d.Add(2), New(2024, time.March, 1); got != want {
		t.Errorf("Add(2) = %v want %v (leap year)", got, want)
	}
}

func TestRangeDays(t *testing.T) {
	r := NewRange(New(2025, time.January, 30), New(2025, time.February, 2))

	var days []Date
	for d := range r.Days() {
		days = append(days, d)
	}

	if len(days) != 4 {
		t.Fatalf("Days() yielded %d days want 4: %v", len(days), days)
	}
	if days[0] != r.From || days[3] != r.To {
		t.Errorf("Days() boundaries = %v, %v want %v, %v", days[0], days[3], r.From, r.To)
	}
	if r.Len() != 4 {
		t.Errorf("Len() = %d want 4", r.Len())
	}
}

func TestRangeContains(t *testing.T) {
	r := NewRange(New(2025, time.January, 1), New(2025, time.January, 31))
	if !r.Contains(r.From) || !r.Contains(r.To) {
		t.Errorf("Contains() should include boundaries")
	}
	if r.Contains(New(2025, time.February, 1)) {
		t.Errorf("Contains() should exclude days after To")
	}
}
