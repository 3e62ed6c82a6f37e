package service

import "testing"

func TestUsageIdempotencyKey(t *testing.T) {
	a := UsageIdempotencyKey("demo.example-shop.com", "session-1")
	b := UsageIdempotencyKey("demo.example-shop.com", "session-1")
	if a != b {
		t.Fatalf("key must be stable for the same shop and session: %s != %s", a, b)
	}

	if UsageIdempotencyKey("demo.example-shop.com", "session-2") == a {
		t.Fatal("different sessions must map to different keys")
	}
	if UsageIdempotencyKey("other.example-shop.com", "session-1") == a {
		t.Fatal("different shops must map to different keys")
	}

	// A replayed terminal event charges the same key, and the platform
	// collapses it into one charge. The key must therefore be a valid UUID.
	if len(a) != 36 {
		t.Fatalf("expected a UUID-shaped key, got %q", a)
	}
}
