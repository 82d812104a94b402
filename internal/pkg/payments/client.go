package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mkessels/paybridge/internal/pkg/config"
)

const defaultAPIBaseURL = "https://api.stripe.com"

// APIError is a non-2xx response from the payment provider.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("payment api error: status=%d body=%s", e.Status, e.Body)
}

// Customer is the profile behind a payment's customer reference. Country
// drives the domestic/export tax split.
type Customer struct {
	ID      string
	Name    string
	Email   string
	Country string
}

type Client struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		APIKey:  cfg.PaymentAPIKey,
		BaseURL: defaultAPIBaseURL,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// GetCustomer fetches the customer profile referenced by a payment event.
func (c *Client) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	id := strings.TrimSpace(customerID)
	if id == "" {
		return nil, fmt.Errorf("customer id is required")
	}

	u := strings.TrimRight(c.BaseURL, "/") + "/v1/customers/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("customer lookup failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}

	var raw struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Email   string `json:"email"`
		Address *struct {
			Country string `json:"country"`
		} `json:"address"`
		Shipping *struct {
			Address *struct {
				Country string `json:"country"`
			} `json:"address"`
		} `json:"shipping"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("invalid customer response: %w", err)
	}
	if raw.ID == "" {
		return nil, fmt.Errorf("customer response missing id")
	}

	country := ""
	if raw.Address != nil {
		country = raw.Address.Country
	}
	if country == "" && raw.Shipping != nil && raw.Shipping.Address != nil {
		country = raw.Shipping.Address.Country
	}

	return &Customer{
		ID:      raw.ID,
		Name:    strings.TrimSpace(raw.Name),
		Email:   strings.TrimSpace(raw.Email),
		Country: strings.TrimSpace(country),
	}, nil
}
