package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"scholar/backend/internal/store"
	"scholar/backend/internal/stripe"
)

const maxWebhookBodyBytes = 256 * 1024

// errMalformedEvent marks webhook payloads that can never succeed; they are
// answered 400 so Stripe does not retry them.
var errMalformedEvent = errors.New("malformed webhook event")

type billingStatusResponse struct {
	Tier         string                     `json:"tier"`
	RunsUsed     int                        `json:"runs_used"`
	RunsLimit    int                        `json:"runs_limit"`
	Subscription *store.BillingSubscription `json:"subscription,omitempty"`
}

func (h Handler) BillingStatus(w http.ResponseWriter, r *http.Request) {
	account, ok := sessionAccountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
		return
	}
	used, limit, tier, err := h.quota.Usage(r.Context(), account.ID)
	if err != nil {
		log.Printf("billing status failed account=%s err=%v", account.ID, err)
		writeError(w, http.StatusInternalServerError, "db_error", "failed to load billing status")
		return
	}
	resp := billingStatusResponse{Tier: string(tier), RunsUsed: used, RunsLimit: limit}
	if sub, err := h.billing.ActiveSubscription(r.Context(), account.ID); err == nil {
		resp.Subscription = &sub
	}
	writeJSON(w, http.StatusOK, resp)
}

type checkoutRequest struct {
	Tier string `json:"tier"`
}

func (h Handler) BillingCheckout(w http.ResponseWriter, r *http.Request) {
	account, ok := sessionAccountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
		return
	}
	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	priceID := h.priceForTier(req.Tier)
	if priceID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "unknown tier")
		return
	}
	session, err := h.stripe.CreateCheckoutSession(r.Context(), priceID, account.ID, account.Email, h.cfg.CheckoutSuccessURL, h.cfg.CheckoutCancelURL)
	if err != nil {
		log.Printf("checkout session failed account=%s tier=%s err=%v", account.ID, req.Tier, err)
		writeError(w, http.StatusBadGateway, "billing_error", "failed to start checkout")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": session.URL})
}

func (h Handler) BillingPortal(w http.ResponseWriter, r *http.Request) {
	account, ok := sessionAccountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
		return
	}
	customer, err := h.billing.CustomerForAccount(r.Context(), account.ID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "no billing customer for account")
		return
	}
	if err != nil {
		log.Printf("billing portal lookup failed account=%s err=%v", account.ID, err)
		writeError(w, http.StatusInternalServerError, "db_error", "failed to load billing customer")
		return
	}
	session, err := h.stripe.CreatePortalSession(r.Context(), customer.ID, h.cfg.PortalReturnURL)
	if err != nil {
		log.Printf("portal session failed account=%s err=%v", account.ID, err)
		writeError(w, http.StatusBadGateway, "billing_error", "failed to open billing portal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": session.URL})
}

// BillingWebhook mirrors Stripe subscription state into the local tables.
// It is authenticated by the webhook signature, not a session.
func (h Handler) BillingWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "failed to read payload")
		return
	}

	event, err := stripe.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), h.cfg.StripeWebhookSecret, time.Now())
	if err != nil {
		log.Printf("webhook signature rejected err=%v", err)
		writeError(w, http.StatusBadRequest, "invalid_signature", "webhook signature verification failed")
		return
	}

	switch event.Type {
	case stripe.EventCheckoutCompleted:
		err = h.handleCheckoutCompleted(r, event)
	case stripe.EventSubscriptionUpdated:
		err = h.handleSubscriptionUpdated(r, event)
	case stripe.EventSubscriptionDeleted:
		err = h.handleSubscriptionDeleted(r, event)
	default:
		// Unhandled event types are acknowledged so Stripe stops retrying.
	}
	if errors.Is(err, errMalformedEvent) {
		log.Printf("webhook event malformed type=%s id=%s err=%v", event.Type, event.ID, err)
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed event payload")
		return
	}
	if err != nil {
		log.Printf("webhook handling failed type=%s id=%s err=%v", event.Type, event.ID, err)
		writeError(w, http.StatusInternalServerError, "webhook_error", "failed to process event")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h Handler) handleCheckoutCompleted(r *http.Request, event stripe.Event) error {
	var session stripe.CheckoutSessionCompleted
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		return fmt.Errorf("%w: %v", errMalformedEvent, err)
	}
	if session.Customer == "" || session.ClientReferenceID == "" {
		return fmt.Errorf("%w: checkout session missing customer or client_reference_id", errMalformedEvent)
	}
	if err := h.billing.UpsertCustomer(r.Context(), store.BillingCustomer{
		ID:        session.Customer,
		AccountID: session.ClientReferenceID,
		Email:     session.Email(),
	}); err != nil {
		return err
	}
	if session.Subscription == "" {
		return nil
	}
	sub, err := h.stripe.GetSubscription(r.Context(), session.Subscription)
	if err != nil {
		return err
	}
	return h.billing.UpsertSubscription(r.Context(), store.BillingSubscription{
		ID:                 sub.ID,
		BillingCustomerID:  session.Customer,
		Status:             sub.Status,
		PriceID:            sub.PriceID(),
		Quantity:           sub.Quantity(),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		CurrentPeriodStart: unixToRFC3339(sub.CurrentPeriodStart),
		CurrentPeriodEnd:   unixToRFC3339(sub.CurrentPeriodEnd),
	})
}

func (h Handler) handleSubscriptionUpdated(r *http.Request, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		return fmt.Errorf("%w: %v", errMalformedEvent, err)
	}
	if sub.ID == "" || sub.Customer == "" {
		return fmt.Errorf("%w: subscription missing id or customer", errMalformedEvent)
	}
	err := h.billing.UpdateSubscriptionStatus(r.Context(), sub.ID, sub.Status, sub.PriceID(), sub.Quantity(),
		sub.CancelAtPeriodEnd, unixToRFC3339(sub.CurrentPeriodStart), unixToRFC3339(sub.CurrentPeriodEnd))
	if errors.Is(err, store.ErrNotFound) {
		// First sight of this subscription, usually when the update event
		// outran checkout.session.completed.
		return h.billing.UpsertSubscription(r.Context(), store.BillingSubscription{
			ID:                 sub.ID,
			BillingCustomerID:  sub.Customer,
			Status:             sub.Status,
			PriceID:            sub.PriceID(),
			Quantity:           sub.Quantity(),
			CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
			CurrentPeriodStart: unixToRFC3339(sub.CurrentPeriodStart),
			CurrentPeriodEnd:   unixToRFC3339(sub.CurrentPeriodEnd),
		})
	}
	return err
}

func (h Handler) handleSubscriptionDeleted(r *http.Request, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		return fmt.Errorf("%w: %v", errMalformedEvent, err)
	}
	if sub.ID == "" {
		return fmt.Errorf("%w: subscription missing id", errMalformedEvent)
	}
	err := h.billing.MarkSubscriptionCanceled(r.Context(), sub.ID, time.Now())
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

func (h Handler) priceForTier(tier string) string {
	switch strings.ToLower(strings.TrimSpace(tier)) {
	case "plus":
		return h.cfg.StripePricePlus
	case "pro":
		return h.cfg.StripePricePro
	case "ultra":
		return h.cfg.StripePriceUltra
	}
	return ""
}

func unixToRFC3339(ts int64) string {
	if ts <= 0 {
		return ""
	}
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}
