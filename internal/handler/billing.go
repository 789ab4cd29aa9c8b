// This file implements billing self-service endpoints backed by Stripe.
//
// Routes:
//   - POST /billing/checkout -> CreateCheckout
//   - POST /billing/portal   -> OpenPortal
package handler

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/titlescout/titlescout/internal/auth"
	"github.com/titlescout/titlescout/internal/billing"
	"github.com/titlescout/titlescout/internal/domain"
	"github.com/titlescout/titlescout/internal/service"
)

// BillingHandler handles checkout and customer portal requests.
type BillingHandler struct {
	billing     billing.Service
	users       service.UserService
	memberships service.MembershipService
	baseURL     string
	logger      *slog.Logger
}

// NewBillingHandler creates a new BillingHandler.
// billingService may be nil when Stripe is not configured (development mode).
func NewBillingHandler(billingService billing.Service, users service.UserService, memberships service.MembershipService, baseURL string, logger *slog.Logger) *BillingHandler {
	return &BillingHandler{
		billing:     billingService,
		users:       users,
		memberships: memberships,
		baseURL:     baseURL,
		logger:      logger,
	}
}

// RegisterRoutes registers billing routes on the provided mux.
func (h *BillingHandler) RegisterRoutes(mux *http.ServeMux, requireUser func(http.Handler) http.Handler) {
	mux.Handle("POST /billing/checkout", requireUser(http.HandlerFunc(h.CreateCheckout)))
	mux.Handle("POST /billing/portal", requireUser(http.HandlerFunc(h.OpenPortal)))
}

type checkoutRequest struct {
	PriceID      string `json:"price_id"`
	DepartmentID string `json:"department_id"` // required for seat-based plans
	Quantity     int64  `json:"quantity"`      // seat count for department plans, defaults to max_seats
}

// CreateCheckout starts a Stripe Checkout session and returns the redirect
// URL. Personal plans bill the caller's own customer; seat-based plans bill
// the department's customer, which is created and stored on first checkout.
// A price is only ever sold to a customer of its own scope — the webhook
// processor refuses mismatches, so they must be impossible to create here.
func (h *BillingHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	if h.billing == nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("", "Billing is not configured"))
		return
	}
	user := auth.GetUserFromRequest(r)

	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	plan, ok := h.billing.PlanForPriceID(req.PriceID)
	if !ok {
		ErrorResponse(w, r, h.logger, domain.Invalid("", "Unknown price"))
		return
	}

	var customerID string
	var quantity int64
	var err error
	switch plan.Scope {
	case billing.ScopeUser:
		if req.DepartmentID != "" {
			ErrorResponse(w, r, h.logger, domain.Invalid("", "This price is a personal plan, not a department plan"))
			return
		}
		quantity = 1
		customerID, err = h.ensureCustomer(r, user)

	case billing.ScopeDepartment:
		customerID, quantity, err = h.departmentCheckout(r, user, req)
	}
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	checkoutURL, err := h.billing.CreateCheckoutSession(
		customerID,
		req.PriceID,
		quantity,
		h.baseURL+"/billing/success",
		h.baseURL+"/billing/cancel",
	)
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Internal(err, "", "Failed to create checkout session"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": checkoutURL})
}

// departmentCheckout resolves the billing customer and seat quantity for a
// seat-based checkout. The caller must be the department's owner or an
// admin; the department's Stripe customer is created on first use and
// stored, so later webhook deliveries can find the department by it.
func (h *BillingHandler) departmentCheckout(r *http.Request, user *domain.User, req checkoutRequest) (string, int64, error) {
	if req.DepartmentID == "" {
		return "", 0, domain.Invalid("", "A department_id is required for seat-based plans")
	}
	departmentID, err := uuid.Parse(req.DepartmentID)
	if err != nil {
		return "", 0, domain.Invalid("", "Invalid department_id")
	}

	dept, err := h.memberships.DepartmentForBilling(r.Context(), departmentID, user.ID)
	if err != nil {
		return "", 0, err
	}

	customerID := dept.StripeCustomerID
	if customerID == "" {
		customerID, err = h.billing.CreateCustomer(user.Email, dept.Name)
		if err != nil {
			return "", 0, domain.Internal(err, "", "Failed to create billing customer")
		}
		if err := h.memberships.SetStripeCustomer(r.Context(), dept.ID, customerID); err != nil {
			return "", 0, err
		}
	}

	quantity := req.Quantity
	if quantity < 1 {
		quantity = int64(dept.MaxSeats)
	}
	return customerID, quantity, nil
}

// OpenPortal returns a Stripe Customer Portal URL for the caller.
func (h *BillingHandler) OpenPortal(w http.ResponseWriter, r *http.Request) {
	if h.billing == nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("", "Billing is not configured"))
		return
	}
	user := auth.GetUserFromRequest(r)

	if user.StripeCustomerID == "" {
		ErrorResponse(w, r, h.logger, domain.Invalid("", "No billing account yet"))
		return
	}

	portalURL, err := h.billing.CreatePortalSession(user.StripeCustomerID, h.baseURL+"/billing")
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Internal(err, "", "Failed to create portal session"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": portalURL})
}

// ensureCustomer returns the user's Stripe customer ID, creating the
// customer on first use.
func (h *BillingHandler) ensureCustomer(r *http.Request, user *domain.User) (string, error) {
	if user.StripeCustomerID != "" {
		return user.StripeCustomerID, nil
	}

	customerID, err := h.billing.CreateCustomer(user.Email, user.Name)
	if err != nil {
		return "", domain.Internal(err, "", "Failed to create billing customer")
	}
	if err := h.users.UpdateStripeCustomer(r.Context(), user.ID, customerID); err != nil {
		return "", err
	}
	return customerID, nil
}
