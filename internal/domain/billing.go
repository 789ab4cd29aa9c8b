// Package domain contains core business types and interfaces.
//
// This file defines the billing event types consumed by the event processor.
// The event ledger row's EventID is the sole de-duplication key: inserting it
// is the atomic decision point for at-most-once processing.
package domain

import (
	"encoding/json"
	"time"
)

// BillingEventType is the closed set of provider event types the processor
// understands. Dispatch happens on these constants; payloads are decoded
// into typed structs, never re-inspected as raw strings downstream.
type BillingEventType string

const (
	EventCheckoutCompleted       BillingEventType = "checkout.session.completed"
	EventSubscriptionUpdated     BillingEventType = "customer.subscription.updated"
	EventSubscriptionDeleted     BillingEventType = "customer.subscription.deleted"
	EventInvoicePaymentFailed    BillingEventType = "invoice.payment_failed"
	EventInvoicePaymentSucceeded BillingEventType = "invoice.payment_succeeded"
)

// Recognized returns true if the event type has a registered mutation.
func (t BillingEventType) Recognized() bool {
	switch t {
	case EventCheckoutCompleted,
		EventSubscriptionUpdated,
		EventSubscriptionDeleted,
		EventInvoicePaymentFailed,
		EventInvoicePaymentSucceeded:
		return true
	}
	return false
}

// BillingEvent is an inbound provider event after signature verification.
// Payload is the provider's raw object payload; it is stored verbatim in the
// ledger and decoded per event type by the processor.
type BillingEvent struct {
	EventID string // globally unique provider event ID
	Type    BillingEventType
	Payload json.RawMessage
}

// CheckoutPayload is the decoded payload of checkout.session.completed.
// Our checkout sessions carry the purchased price ID in metadata, so the
// completed event alone determines the tier to grant.
type CheckoutPayload struct {
	Customer     string            `json:"customer"`
	Subscription string            `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

// PriceID returns the purchased price recorded at checkout creation.
func (p CheckoutPayload) PriceID() string {
	return p.Metadata["price_id"]
}

// SubscriptionPayload is the decoded payload of customer.subscription.*
// events.
type SubscriptionPayload struct {
	ID               string `json:"id"`
	Customer         string `json:"customer"`
	Status           string `json:"status"`
	CurrentPeriodEnd int64  `json:"current_period_end"`
	Items            struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
			Quantity int64 `json:"quantity"`
		} `json:"data"`
	} `json:"items"`
}

// PriceID returns the price of the first subscription item, if any.
func (p SubscriptionPayload) PriceID() string {
	if len(p.Items.Data) == 0 {
		return ""
	}
	return p.Items.Data[0].Price.ID
}

// PeriodEnd converts the provider's unix timestamp to a time pointer,
// or nil when absent.
func (p SubscriptionPayload) PeriodEnd() *time.Time {
	if p.CurrentPeriodEnd == 0 {
		return nil
	}
	t := time.Unix(p.CurrentPeriodEnd, 0).UTC()
	return &t
}

// InvoicePayload is the decoded payload of invoice.* events.
type InvoicePayload struct {
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
}

// EventOutcome describes how the processor disposed of a delivery.
type EventOutcome string

const (
	// OutcomeProcessed means the event was novel and its mutation applied.
	OutcomeProcessed EventOutcome = "processed"
	// OutcomeDuplicate means the ledger already held the event ID.
	// Not an error: the provider receives a success response.
	OutcomeDuplicate EventOutcome = "duplicate"
	// OutcomeUnhandled means the type is unrecognized. The ledger row is
	// still committed so the provider stops redelivering.
	OutcomeUnhandled EventOutcome = "unhandled"
)
