package domain

import "time"

// Billing cycle descriptors as reported by the commerce platform.
const (
	IntervalEvery30Days = "EVERY_30_DAYS"
	IntervalAnnual      = "ANNUAL"
)

// Plan represents a subscription plan with its monthly try-on quota.
type Plan struct {
	Key          string   `json:"key"`
	Name         string   `json:"name"`
	Quota        int      `json:"quota"`  // try-ons per cycle
	AmountUSD    int      `json:"amount"` // price per cycle in whole USD
	CurrencyCode string   `json:"currencyCode"`
	Interval     string   `json:"interval"`
	Features     []string `json:"features"`
}

// AvailablePlans returns the plan catalog.
func AvailablePlans() []Plan {
	features := func(quota string) []string {
		return []string{
			quota + " try-ons per month",
			"Product-page Try On button",
			"Button styling",
			"Email support",
			"Usage statistics",
		}
	}
	return []Plan{
		{Key: "BASIC", Name: "Basic", Quota: 100, AmountUSD: 19, CurrencyCode: "USD", Interval: IntervalEvery30Days, Features: features("100")},
		{Key: "GROWTH", Name: "Growth", Quota: 200, AmountUSD: 36, CurrencyCode: "USD", Interval: IntervalEvery30Days, Features: features("200")},
		{Key: "ADVANCED", Name: "Advanced", Quota: 350, AmountUSD: 59, CurrencyCode: "USD", Interval: IntervalEvery30Days, Features: features("350")},
		{Key: "PRO", Name: "Pro", Quota: 650, AmountUSD: 113, CurrencyCode: "USD", Interval: IntervalEvery30Days, Features: features("650")},
		{Key: "BUSINESS", Name: "Business", Quota: 1300, AmountUSD: 226, CurrencyCode: "USD", Interval: IntervalEvery30Days, Features: features("1300")},
		{Key: "ENTERPRISE", Name: "Enterprise", Quota: 2600, AmountUSD: 450, CurrencyCode: "USD", Interval: IntervalEvery30Days, Features: features("2600")},
	}
}

// PlanByKey resolves a plan by its key or display name. The platform reports the
// display name in webhooks, so both forms are accepted. Returns a zero Plan when
// nothing matches.
func PlanByKey(keyOrName string) Plan {
	for _, p := range AvailablePlans() {
		if p.Key == keyOrName || p.Name == keyOrName {
			return p
		}
	}
	return Plan{}
}

// CycleDays resolves a billing interval descriptor into the number of days in
// one credit cycle. Unknown intervals default to 30 days.
func CycleDays(interval string) int {
	switch interval {
	case IntervalAnnual:
		return 365
	case IntervalEvery30Days:
		return 30
	default:
		return 30
	}
}

// AccrualDue reports whether a subscription's rolling credit cycle has elapsed.
// A subscription that has never been credited is due immediately.
func AccrualDue(lastCreditedAt *time.Time, interval string, now time.Time) bool {
	if lastCreditedAt == nil {
		return true
	}
	dueAt := lastCreditedAt.AddDate(0, 0, CycleDays(interval))
	return !now.Before(dueAt)
}
