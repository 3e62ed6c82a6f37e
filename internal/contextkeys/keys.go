package contextkeys

// contextKey is a private type to avoid collisions in context values.
type contextKey string

// Context keys for request-scoped tenant identity.
const (
	// ShopDomain is the verified shop (tenant) domain set by the auth middlewares.
	ShopDomain contextKey = "shopDomain"
)
