package ledger

import (
	"bytes"
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

// APIError is a non-2xx response from the ledger service. 4xx statuses are
// permanent for the delivery; transport layers may retry 5xx on redelivery.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ledger api error: status=%d body=%s", e.Status, e.Body)
}

// IsPermanent reports whether retrying the identical call can ever succeed.
func (e *APIError) IsPermanent() bool {
	return e.Status >= 400 && e.Status < 500
}

// ContactProfile is the customer identity pushed into the ledger. Reference
// carries the payment-provider customer id so repeat purchases reuse the
// same contact.
type ContactProfile struct {
	Reference string
	Name      string
	Email     string
	Country   string
}

// InvoiceLine is one invoice position. UnitPriceCents is in minor units,
// scaled exactly once at this boundary.
type InvoiceLine struct {
	Description    string `json:"description"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"price_cents"`
	TaxRateID      string `json:"tax_rate_id"`
}

// CombinedInvoiceRequest joins stored order items with the resolved contact.
// Reference carries the order identifier for external-reference idempotency
// on the ledger side.
type CombinedInvoiceRequest struct {
	ContactID string
	Reference string
	Currency  string
	IssueDate time.Time
	DueDate   time.Time
	Lines     []InvoiceLine
}

type Client struct {
	BaseURL          string
	Token            string
	AdministrationID string
	BankAccountID    string

	HTTPClient *http.Client
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		BaseURL:          strings.TrimRight(cfg.LedgerAPIURL, "/"),
		Token:            cfg.LedgerAPIToken,
		AdministrationID: cfg.LedgerAdministrationID,
		BankAccountID:    cfg.LedgerBankAccountID,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (c *Client) endpoint(path string) string {
	return fmt.Sprintf("%s/administrations/%s%s", c.BaseURL, c.AdministrationID, path)
}

func (c *Client) do(ctx context.Context, method, rawURL string, payload interface{}) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ledger request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Status: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}

type contactResponse struct {
	ID string `json:"id"`
}

// FindContactByReference resolves a customer reference to an existing ledger
// contact id. An empty id with nil error means no contact exists yet.
func (c *Client) FindContactByReference(ctx context.Context, reference string) (string, error) {
	ref := strings.TrimSpace(reference)
	if ref == "" {
		return "", fmt.Errorf("contact reference is required")
	}

	u := c.endpoint("/contacts") + "?query=" + url.QueryEscape(ref)
	body, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}

	var contacts []contactResponse
	if err := json.Unmarshal(body, &contacts); err != nil {
		return "", fmt.Errorf("invalid contact search response: %w", err)
	}
	if len(contacts) == 0 {
		return "", nil
	}
	return contacts[0].ID, nil
}

func (c *Client) CreateContact(ctx context.Context, profile ContactProfile) (string, error) {
	if strings.TrimSpace(profile.Reference) == "" {
		return "", fmt.Errorf("contact reference is required")
	}

	payload := map[string]interface{}{
		"contact": map[string]interface{}{
			"company_name":     profile.Name,
			"send_invoices_to": profile.Email,
			"country":          profile.Country,
			"customer_id":      profile.Reference,
		},
	}

	body, err := c.do(ctx, http.MethodPost, c.endpoint("/contacts"), payload)
	if err != nil {
		return "", err
	}

	var contact contactResponse
	if err := json.Unmarshal(body, &contact); err != nil {
		return "", fmt.Errorf("invalid contact response: %w", err)
	}
	if contact.ID == "" {
		return "", fmt.Errorf("ledger returned contact without id")
	}
	return contact.ID, nil
}

// EnsureContact finds the contact for a customer reference or creates it.
func (c *Client) EnsureContact(ctx context.Context, profile ContactProfile) (string, error) {
	id, err := c.FindContactByReference(ctx, profile.Reference)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}
	return c.CreateContact(ctx, profile)
}

type invoiceResponse struct {
	ID string `json:"id"`
}

func (c *Client) CreateInvoice(ctx context.Context, req CombinedInvoiceRequest) (string, error) {
	if req.ContactID == "" {
		return "", fmt.Errorf("invoice contact id is required")
	}
	if len(req.Lines) == 0 {
		return "", fmt.Errorf("invoice needs at least one line")
	}

	lines := make([]map[string]interface{}, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, map[string]interface{}{
			"description": l.Description,
			"amount":      fmt.Sprintf("%d x", l.Quantity),
			"price_cents": l.UnitPriceCents,
			"tax_rate_id": l.TaxRateID,
		})
	}

	payload := map[string]interface{}{
		"sales_invoice": map[string]interface{}{
			"contact_id":         req.ContactID,
			"reference":          req.Reference,
			"currency":           strings.ToUpper(req.Currency),
			"invoice_date":       req.IssueDate.Format("2006-01-02"),
			"due_date":           req.DueDate.Format("2006-01-02"),
			"bank_account_id":    c.BankAccountID,
			"details_attributes": lines,
		},
	}

	body, err := c.do(ctx, http.MethodPost, c.endpoint("/sales_invoices"), payload)
	if err != nil {
		return "", err
	}

	var invoice invoiceResponse
	if err := json.Unmarshal(body, &invoice); err != nil {
		return "", fmt.Errorf("invalid invoice response: %w", err)
	}
	if invoice.ID == "" {
		return "", fmt.Errorf("ledger returned invoice without id")
	}
	return invoice.ID, nil
}

// SendInvoice asks the ledger to deliver the invoice to the contact's
// invoice address.
func (c *Client) SendInvoice(ctx context.Context, invoiceID, message string) error {
	if invoiceID == "" {
		return fmt.Errorf("invoice id is required")
	}

	payload := map[string]interface{}{
		"sales_invoice_sending": map[string]interface{}{
			"delivery_method": "Email",
			"email_message":   message,
		},
	}

	_, err := c.do(ctx, http.MethodPatch, c.endpoint("/sales_invoices/"+url.PathEscape(invoiceID)+"/send_invoice"), payload)
	return err
}
