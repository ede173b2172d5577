package cron

import (
	"testing"
	"time"
)

func TestValidateSchedule(t *testing.T) {
	valid := []string{
		"* * * * *",
		"0 3 * * *",
		"*/5 * * * *",
		"30 9 * * 1-5",
		"0 0 1 1 *",
	}
	for _, expr := range valid {
		if err := ValidateSchedule(expr); err != nil {
			t.Errorf("ValidateSchedule(%q) = %v, want nil", expr, err)
		}
	}

	invalid := []string{
		"",
		"not a schedule",
		"* * * *",        // 4 fields
		"* * * * * *",    // 6 fields
		"61 * * * *",     // minute out of range
		"* 25 * * *",     // hour out of range
		"@every 5x",      // malformed descriptor
	}
	for _, expr := range invalid {
		if err := ValidateSchedule(expr); err == nil {
			t.Errorf("ValidateSchedule(%q) = nil, want error", expr)
		}
	}
}

func TestNextRun(t *testing.T) {
	after := time.Date(2026, 8, 29, 2, 30, 0, 0, time.UTC)

	tests := []struct {
		expr string
		want time.Time
	}{
		{"0 3 * * *", time.Date(2026, 8, 29, 3, 0, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2026, 8, 29, 2, 45, 0, 0, time.UTC)},
		{"0 0 1 * *", time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := NextRun(tt.expr, after)
		if err != nil {
			t.Fatalf("NextRun(%q) failed: %v", tt.expr, err)
		}
		if !got.Equal(tt.want) {
			t.Errorf("NextRun(%q) = %v, want %v", tt.expr, got, tt.want)
		}
	}

	if _, err := NextRun("bogus", after); err == nil {
		t.Error("NextRun with invalid schedule should fail")
	}
}

// 2026-08-30 is a Sunday and the 30th: with both dom and dow restricted,
// either match triggers, matching crontab OR semantics.
func TestNextRunDomDowUnion(t *testing.T) {
	after := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC) // Friday the 28th

	got, err := NextRun("0 12 30 * 0", after)
	if err != nil {
		t.Fatalf("NextRun failed: %v", err)
	}
	want := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("NextRun = %v, want %v", got, want)
	}

	// From the 30th onward the next match is the following Sunday, not the
	// next 30th.
	got, err = NextRun("0 12 30 * 0", want)
	if err != nil {
		t.Fatalf("NextRun failed: %v", err)
	}
	want = time.Date(2026, 9, 6, 12, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("NextRun after first match = %v, want %v", got, want)
	}
}
