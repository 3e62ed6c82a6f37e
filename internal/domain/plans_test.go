package domain

import (
	"testing"
	"time"
)

func TestCycleDays(t *testing.T) {
	tests := []struct {
		name     string
		interval string
		want     int
	}{
		{name: "monthly", interval: IntervalEvery30Days, want: 30},
		{name: "annual", interval: IntervalAnnual, want: 365},
		{name: "unknown defaults to monthly", interval: "EVERY_7_DAYS", want: 30},
		{name: "empty defaults to monthly", interval: "", want: 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CycleDays(tt.interval); got != tt.want {
				t.Fatalf("expected %d days, got %d", tt.want, got)
			}
		})
	}
}

func TestAccrualDue(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	daysAgo := func(d int) *time.Time {
		ts := now.AddDate(0, 0, -d)
		return &ts
	}

	tests := []struct {
		name           string
		lastCreditedAt *time.Time
		interval       string
		want           bool
	}{
		{name: "never credited is due immediately", lastCreditedAt: nil, interval: IntervalEvery30Days, want: true},
		{name: "mid cycle is not due", lastCreditedAt: daysAgo(10), interval: IntervalEvery30Days, want: false},
		{name: "one day short is not due", lastCreditedAt: daysAgo(29), interval: IntervalEvery30Days, want: false},
		{name: "exactly one cycle is due", lastCreditedAt: daysAgo(30), interval: IntervalEvery30Days, want: true},
		{name: "overdue cycle is due", lastCreditedAt: daysAgo(45), interval: IntervalEvery30Days, want: true},
		{name: "annual mid cycle is not due", lastCreditedAt: daysAgo(200), interval: IntervalAnnual, want: false},
		{name: "annual elapsed is due", lastCreditedAt: daysAgo(365), interval: IntervalAnnual, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AccrualDue(tt.lastCreditedAt, tt.interval, now); got != tt.want {
				t.Fatalf("expected due=%v, got %v", tt.want, got)
			}
		})
	}
}

func TestAccrualDueIsIdempotentWithinCycle(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	credited := now // just accrued

	for _, offset := range []time.Duration{time.Minute, time.Hour, 24 * 29 * time.Hour} {
		if AccrualDue(&credited, IntervalEvery30Days, now.Add(offset)) {
			t.Fatalf("accrual became due again only %s after crediting", offset)
		}
	}
}

func TestPlanByKey(t *testing.T) {
	tests := []struct {
		name      string
		keyOrName string
		wantKey   string
		wantQuota int
	}{
		{name: "by key", keyOrName: "GROWTH", wantKey: "GROWTH", wantQuota: 200},
		{name: "by display name", keyOrName: "Growth", wantKey: "GROWTH", wantQuota: 200},
		{name: "largest plan", keyOrName: "ENTERPRISE", wantKey: "ENTERPRISE", wantQuota: 2600},
		{name: "unknown is zero plan", keyOrName: "FREE", wantKey: "", wantQuota: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := PlanByKey(tt.keyOrName)
			if plan.Key != tt.wantKey {
				t.Fatalf("expected key %q, got %q", tt.wantKey, plan.Key)
			}
			if plan.Quota != tt.wantQuota {
				t.Fatalf("expected quota %d, got %d", tt.wantQuota, plan.Quota)
			}
		})
	}
}
