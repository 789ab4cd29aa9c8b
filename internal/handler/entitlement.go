// This file implements the quota and entitlement endpoints.
//
// Routes:
//   - POST /internal/quota/consume
//   - GET  /internal/entitlements
//
// Both require an authenticated session. The consume endpoint is the write
// path the search service calls before running a query; the entitlements
// endpoint is read-only display data.
package handler

import (
	"log/slog"
	"net/http"

	"github.com/titlescout/titlescout/internal/auth"
	"github.com/titlescout/titlescout/internal/domain"
	"github.com/titlescout/titlescout/internal/service"
)

// EntitlementHandler serves quota consumption and entitlement lookups.
type EntitlementHandler struct {
	quota        service.QuotaService
	entitlements service.EntitlementService
	resources    service.ResourceService
	logger       *slog.Logger
}

// NewEntitlementHandler creates a new EntitlementHandler.
func NewEntitlementHandler(quota service.QuotaService, entitlements service.EntitlementService, resources service.ResourceService, logger *slog.Logger) *EntitlementHandler {
	return &EntitlementHandler{
		quota:        quota,
		entitlements: entitlements,
		resources:    resources,
		logger:       logger,
	}
}

// RegisterRoutes registers entitlement routes on the provided mux.
func (h *EntitlementHandler) RegisterRoutes(mux *http.ServeMux, requireUser func(http.Handler) http.Handler) {
	mux.Handle("POST /internal/quota/consume", requireUser(http.HandlerFunc(h.ConsumeQuota)))
	mux.Handle("GET /internal/entitlements", requireUser(http.HandlerFunc(h.GetEntitlements)))
}

// quotaDecisionResponse is the wire form of a quota decision.
type quotaDecisionResponse struct {
	Allowed   bool `json:"allowed"`
	Remaining int  `json:"remaining"`
	Limit     int  `json:"limit"`
}

// ConsumeQuota consumes one daily query if the user has headroom.
//
// A denial is a successful response with allowed=false, not an error status:
// the caller made a well-formed request and got a definitive answer.
func (h *EntitlementHandler) ConsumeQuota(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromRequest(r)

	decision, err := h.quota.TryConsumeQuery(r.Context(), user.ID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, quotaDecisionResponse{
		Allowed:   decision.Allowed,
		Remaining: decision.Remaining,
		Limit:     decision.Limit,
	})
}

// entitlementResponse is the wire form of a resolved entitlement plus the
// user's current headroom against it.
type entitlementResponse struct {
	MaxCounties     int `json:"max_counties"`
	MaxBookmarks    int `json:"max_bookmarks"`
	MaxHistoryDays  int `json:"max_history_days"`
	DailyQueryLimit int `json:"daily_query_limit"`

	BookmarksUsed    int64 `json:"bookmarks_used"`
	CountiesUsed     int64 `json:"counties_used"`
	QueriesUsedToday int   `json:"queries_used_today"`
}

// GetEntitlements returns the caller's resolved entitlement and usage.
func (h *EntitlementHandler) GetEntitlements(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromRequest(r)

	ent, _, err := h.entitlements.Resolve(r.Context(), user.ID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	bookmarks, counties, err := h.resources.UsageCounts(r.Context(), user.ID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	usage, err := h.quota.GetUsage(r.Context(), user.ID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	queriesUsed := 0
	if usage.Limit != domain.Unlimited {
		queriesUsed = usage.Limit - usage.Remaining
	}

	writeJSON(w, http.StatusOK, entitlementResponse{
		MaxCounties:      ent.MaxCounties,
		MaxBookmarks:     ent.MaxBookmarks,
		MaxHistoryDays:   ent.MaxHistoryDays,
		DailyQueryLimit:  ent.DailyQueryLimit,
		BookmarksUsed:    bookmarks,
		CountiesUsed:     counties,
		QueriesUsedToday: queriesUsed,
	})
}
