package domain

import "time"

// Subscription statuses as reported by the commerce platform.
const (
	SubscriptionActive    = "ACTIVE"
	SubscriptionAccepted  = "ACCEPTED"
	SubscriptionCancelled = "CANCELLED"
	SubscriptionDeclined  = "DECLINED"
	SubscriptionExpired   = "EXPIRED"
	SubscriptionFrozen    = "FROZEN"
)

// Subscription mirrors one external app subscription. One row per external
// subscription id, upserted whenever billing state is checked or a webhook
// reports a change. LastCreditedAt only ever moves forward.
type Subscription struct {
	ID             string     `json:"id"`
	Shop           string     `json:"shop"`
	SubscriptionID string     `json:"subscriptionId"` // external id, unique
	PlanKey        string     `json:"planKey"`
	Quota          int        `json:"quota"`   // try-ons granted per cycle
	Credits        int        `json:"credits"` // lifetime credits granted through this subscription
	Status         string     `json:"status"`
	Interval       string     `json:"interval"`
	LastCreditedAt *time.Time `json:"lastCreditedAt"`
	StoreID        string     `json:"storeId"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// SubscriptionUpsert carries the fields extracted from a billing check or an
// app_subscriptions/update webhook payload.
type SubscriptionUpsert struct {
	SubscriptionID string
	PlanKey        string
	Quota          int
	Status         string
	Interval       string
}

// UsageAuthorization authorizes one job against usage-based (overage) billing
// instead of a credit reservation. The two paths are mutually exclusive.
type UsageAuthorization struct {
	SubscriptionID string
	LineItemID     string
	AccessToken    string
}
