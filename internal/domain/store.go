package domain

import "time"

// Store is a merchant tenant. Credits is the single concurrently-written balance
// in the system; it never goes negative (enforced by conditional SQL updates).
type Store struct {
	ID         string    `json:"id"`
	Shop       string    `json:"shop"`
	OwnerEmail string    `json:"ownerEmail"`
	Credits    int       `json:"credits"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// PlatformSession holds the offline commerce-platform access token for a shop.
// The token is stored AES-GCM encrypted; this struct carries the plaintext.
type PlatformSession struct {
	Shop        string    `json:"shop"`
	AccessToken string    `json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
