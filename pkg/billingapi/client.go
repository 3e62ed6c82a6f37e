package billingapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Overage pricing for try-ons beyond the plan quota, billed as usage records.
const (
	OverageTryOnAmount   = "0.25"
	OverageTryOnCurrency = "USD"
	OverageTryOnTerms    = "Extra try-ons beyond the plan quota"
)

// LineItem is one pricing component of an app subscription.
type LineItem struct {
	ID         string
	UsageBased bool
}

// Subscription is an app subscription as reported by the commerce platform's
// admin API.
type Subscription struct {
	ID        string
	Name      string
	Status    string
	LineItems []LineItem
}

// UsageLineItem returns the first usage-priced line item, or nil.
func (s *Subscription) UsageLineItem() *LineItem {
	for i := range s.LineItems {
		if s.LineItems[i].UsageBased {
			return &s.LineItems[i]
		}
	}
	return nil
}

// UsageCharge describes one usage record to create against a subscription
// line item. The idempotency key makes retried submissions collapse into a
// single charge on the platform side.
type UsageCharge struct {
	LineItemID     string
	Description    string
	Amount         string
	CurrencyCode   string
	IdempotencyKey string
}

// Client talks to the commerce platform's admin GraphQL API using the
// per-shop offline access token.
type Client struct {
	httpc      *http.Client
	baseURL    string // optional override, mainly for tests
	apiVersion string
}

// New creates a billing API client. baseURL is normally empty, in which case
// requests go to the shop's own admin endpoint.
func New(baseURL string) *Client {
	return &Client{
		httpc:      &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiVersion: "2024-07",
	}
}

const activeSubscriptionsQuery = `
query {
  currentAppInstallation {
    activeSubscriptions {
      id
      name
      status
      lineItems {
        id
        plan {
          pricingDetails {
            __typename
          }
        }
      }
    }
  }
}`

const usageRecordMutation = `
mutation($lineItemId: ID!, $description: String!, $price: AppUsagePricingInput!, $idempotencyKey: String) {
  appUsageRecordCreate(subscriptionLineItemId: $lineItemId, description: $description, price: $price, idempotencyKey: $idempotencyKey) {
    appUsageRecord {
      id
    }
    userErrors {
      field
      message
    }
  }
}`

// Check returns the shop's active app subscriptions.
func (c *Client) Check(ctx context.Context, shop, accessToken string) ([]Subscription, error) {
	var out struct {
		Data struct {
			CurrentAppInstallation struct {
				ActiveSubscriptions []struct {
					ID        string `json:"id"`
					Name      string `json:"name"`
					Status    string `json:"status"`
					LineItems []struct {
						ID   string `json:"id"`
						Plan struct {
							PricingDetails struct {
								TypeName string `json:"__typename"`
							} `json:"pricingDetails"`
						} `json:"plan"`
					} `json:"lineItems"`
				} `json:"activeSubscriptions"`
			} `json:"currentAppInstallation"`
		} `json:"data"`
	}

	if err := c.graphql(ctx, shop, accessToken, activeSubscriptionsQuery, nil, &out); err != nil {
		return nil, fmt.Errorf("billing check failed: %w", err)
	}

	var subs []Subscription
	for _, raw := range out.Data.CurrentAppInstallation.ActiveSubscriptions {
		sub := Subscription{ID: raw.ID, Name: raw.Name, Status: raw.Status}
		for _, li := range raw.LineItems {
			sub.LineItems = append(sub.LineItems, LineItem{
				ID:         li.ID,
				UsageBased: li.Plan.PricingDetails.TypeName == "AppUsagePricing",
			})
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// CreateUsageCharge records one usage charge against a subscription line item.
func (c *Client) CreateUsageCharge(ctx context.Context, shop, accessToken string, charge UsageCharge) error {
	vars := map[string]any{
		"lineItemId":  charge.LineItemID,
		"description": charge.Description,
		"price": map[string]any{
			"amount":       charge.Amount,
			"currencyCode": charge.CurrencyCode,
		},
		"idempotencyKey": charge.IdempotencyKey,
	}

	var out struct {
		Data struct {
			AppUsageRecordCreate struct {
				AppUsageRecord struct {
					ID string `json:"id"`
				} `json:"appUsageRecord"`
				UserErrors []struct {
					Message string `json:"message"`
				} `json:"userErrors"`
			} `json:"appUsageRecordCreate"`
		} `json:"data"`
	}

	if err := c.graphql(ctx, shop, accessToken, usageRecordMutation, vars, &out); err != nil {
		return fmt.Errorf("usage charge failed: %w", err)
	}
	if errs := out.Data.AppUsageRecordCreate.UserErrors; len(errs) > 0 {
		return fmt.Errorf("usage charge rejected: %s", errs[0].Message)
	}
	return nil
}

func (c *Client) endpoint(shop string) string {
	if c.baseURL != "" {
		return c.baseURL + "/graphql.json"
	}
	return fmt.Sprintf("https://%s/admin/api/%s/graphql.json", shop, c.apiVersion)
}

func (c *Client) graphql(ctx context.Context, shop, accessToken, query string, vars map[string]any, out any) error {
	body, err := json.Marshal(map[string]any{"query": query, "variables": vars})
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(shop), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Platform-Access-Token", accessToken)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("admin API returned status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
