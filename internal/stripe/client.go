// Package stripe is a thin client for the handful of Stripe endpoints the
// billing flow needs: checkout sessions, billing portal sessions, and
// webhook event verification.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"scholar/backend/internal/config"
)

const maxErrorBodyBytes = 8 * 1024

var ErrMissingSecretKey = errors.New("stripe secret key is not configured")

type APIError struct {
	StatusCode int
	Body       string
}

func (e APIError) Error() string {
	return fmt.Sprintf("stripe returned %d: %s", e.StatusCode, e.Body)
}

type Client struct {
	secretKey  string
	baseURL    string
	httpClient *http.Client
}

func NewClient(cfg config.Config, httpClient *http.Client) Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return Client{
		secretKey:  strings.TrimSpace(cfg.StripeSecretKey),
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.StripeBaseURL), "/"),
		httpClient: httpClient,
	}
}

// CheckoutSession is the subset of Stripe's checkout session object the
// API surfaces to the frontend.
type CheckoutSession struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	Customer string `json:"customer"`
	Status   string `json:"status"`
}

// PortalSession points the customer at Stripe's self-serve billing portal.
type PortalSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Subscription mirrors the fields the webhook handler persists.
type Subscription struct {
	ID                 string `json:"id"`
	Customer           string `json:"customer"`
	Status             string `json:"status"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	Items              struct {
		Data []struct {
			Quantity int `json:"quantity"`
			Price    struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// PriceID returns the first line item's price, the subscription's plan.
func (s Subscription) PriceID() string {
	if len(s.Items.Data) == 0 {
		return ""
	}
	return s.Items.Data[0].Price.ID
}

// Quantity returns the first line item's quantity, defaulting to one.
func (s Subscription) Quantity() int {
	if len(s.Items.Data) == 0 || s.Items.Data[0].Quantity <= 0 {
		return 1
	}
	return s.Items.Data[0].Quantity
}

// Customer mirrors the fields the billing store keeps.
type Customer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// CreateCheckoutSession starts a subscription checkout for the account.
// clientReferenceID carries the account id back on the completion webhook.
func (c Client) CreateCheckoutSession(ctx context.Context, priceID, clientReferenceID, customerEmail, successURL, cancelURL string) (CheckoutSession, error) {
	form := url.Values{}
	form.Set("mode", "subscription")
	form.Set("line_items[0][price]", priceID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("client_reference_id", clientReferenceID)
	form.Set("success_url", successURL)
	form.Set("cancel_url", cancelURL)
	if strings.TrimSpace(customerEmail) != "" {
		form.Set("customer_email", customerEmail)
	}

	var session CheckoutSession
	if err := c.postForm(ctx, "/checkout/sessions", form, &session); err != nil {
		return CheckoutSession{}, err
	}
	return session, nil
}

// CreatePortalSession opens the billing portal for an existing customer.
func (c Client) CreatePortalSession(ctx context.Context, customerID, returnURL string) (PortalSession, error) {
	form := url.Values{}
	form.Set("customer", customerID)
	form.Set("return_url", returnURL)

	var session PortalSession
	if err := c.postForm(ctx, "/billing_portal/sessions", form, &session); err != nil {
		return PortalSession{}, err
	}
	return session, nil
}

// GetSubscription fetches one subscription by id.
func (c Client) GetSubscription(ctx context.Context, id string) (Subscription, error) {
	var sub Subscription
	if err := c.get(ctx, "/subscriptions/"+url.PathEscape(id), &sub); err != nil {
		return Subscription{}, err
	}
	return sub, nil
}

// GetCustomer fetches one customer by id.
func (c Client) GetCustomer(ctx context.Context, id string) (Customer, error) {
	var customer Customer
	if err := c.get(ctx, "/customers/"+url.PathEscape(id), &customer); err != nil {
		return Customer{}, err
	}
	return customer, nil
}

func (c Client) postForm(ctx context.Context, path string, form url.Values, out any) error {
	if c.secretKey == "" {
		return ErrMissingSecretKey
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build stripe request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, out)
}

func (c Client) get(ctx context.Context, path string, out any) error {
	if c.secretKey == "" {
		return ErrMissingSecretKey
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build stripe request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	return c.do(req, out)
}

func (c Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request stripe: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode stripe response: %w", err)
	}
	return nil
}
