// Package billing provides Stripe billing integration for subscription management.
//
// The webhook signature check here is the only authentication on the billing
// webhook route: nothing touches the database before VerifyWebhookSignature
// succeeds.
package billing

import (
	"fmt"

	"github.com/stripe/stripe-go/v79"
	billingportalsession "github.com/stripe/stripe-go/v79/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/customer"
	"github.com/stripe/stripe-go/v79/subscription"
	"github.com/stripe/stripe-go/v79/webhook"
)

// PriceScope distinguishes individual plans from seat-based department plans.
type PriceScope string

const (
	ScopeUser       PriceScope = "user"
	ScopeDepartment PriceScope = "department"
)

// Plan identifies what a Stripe price ID purchases.
type Plan struct {
	Scope PriceScope
	Tier  string // "pro"/"enterprise" for users, "starter"/"professional"/"enterprise" for departments
}

// Service defines the interface for billing operations.
type Service interface {
	// CreateCustomer creates a new Stripe customer for the given email.
	CreateCustomer(email, name string) (string, error)

	// CreateCheckoutSession creates a Stripe Checkout session for subscribing.
	// quantity is the seat count for department plans, 1 for individual plans.
	// Returns the checkout URL to redirect the user to.
	CreateCheckoutSession(customerID, priceID string, quantity int64, successURL, cancelURL string) (string, error)

	// CreatePortalSession creates a Stripe Customer Portal session.
	// Returns the portal URL to redirect the user to.
	CreatePortalSession(customerID, returnURL string) (string, error)

	// CancelSubscription sets a subscription to cancel at period end.
	CancelSubscription(subscriptionID string) error

	// VerifyWebhookSignature verifies the Stripe webhook signature and returns the event.
	VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error)

	// PlanForPriceID returns the plan a Stripe price ID purchases,
	// or false when the price is unknown.
	PlanForPriceID(priceID string) (Plan, bool)
}

// PriceConfig holds the Stripe price IDs for each plan.
type PriceConfig struct {
	ProMonthlyPriceID        string
	ProYearlyPriceID         string
	EnterpriseMonthlyPriceID string
	EnterpriseYearlyPriceID  string

	DeptStarterPriceID      string
	DeptProfessionalPriceID string
	DeptEnterprisePriceID   string
}

// stripeService is the concrete implementation of Service.
type stripeService struct {
	webhookSecret string
	priceToPlan   map[string]Plan
}

// NewStripeService creates a new Stripe billing service.
//
// The secretKey is used to authenticate Stripe API calls.
// The webhookSecret is used to verify incoming webhook signatures.
// The prices configure which Stripe price IDs map to which plans.
func NewStripeService(secretKey, webhookSecret string, prices PriceConfig) Service {
	stripe.Key = secretKey

	priceToPlan := make(map[string]Plan)
	add := func(priceID string, scope PriceScope, tier string) {
		if priceID != "" {
			priceToPlan[priceID] = Plan{Scope: scope, Tier: tier}
		}
	}
	add(prices.ProMonthlyPriceID, ScopeUser, "pro")
	add(prices.ProYearlyPriceID, ScopeUser, "pro")
	add(prices.EnterpriseMonthlyPriceID, ScopeUser, "enterprise")
	add(prices.EnterpriseYearlyPriceID, ScopeUser, "enterprise")
	add(prices.DeptStarterPriceID, ScopeDepartment, "starter")
	add(prices.DeptProfessionalPriceID, ScopeDepartment, "professional")
	add(prices.DeptEnterprisePriceID, ScopeDepartment, "enterprise")

	return &stripeService{
		webhookSecret: webhookSecret,
		priceToPlan:   priceToPlan,
	}
}

func (s *stripeService) CreateCustomer(email, name string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Name:  stripe.String(name),
	}
	c, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe create customer: %w", err)
	}
	return c.ID, nil
}

func (s *stripeService) CreateCheckoutSession(customerID, priceID string, quantity int64, successURL, cancelURL string) (string, error) {
	if quantity < 1 {
		quantity = 1
	}
	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(customerID),
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(quantity),
			},
		},
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
	}
	// The completed-checkout webhook reads the price back from metadata to
	// decide which tier to grant.
	params.AddMetadata("price_id", priceID)
	sess, err := checkoutsession.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe create checkout session: %w", err)
	}
	return sess.URL, nil
}

func (s *stripeService) CreatePortalSession(customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	sess, err := billingportalsession.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe create portal session: %w", err)
	}
	return sess.URL, nil
}

func (s *stripeService) CancelSubscription(subscriptionID string) error {
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	}
	_, err := subscription.Update(subscriptionID, params)
	if err != nil {
		return fmt.Errorf("stripe cancel subscription: %w", err)
	}
	return nil
}

func (s *stripeService) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, s.webhookSecret)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("stripe webhook signature verification failed: %w", err)
	}
	return event, nil
}

func (s *stripeService) PlanForPriceID(priceID string) (Plan, bool) {
	plan, ok := s.priceToPlan[priceID]
	return plan, ok
}
