// This file implements the entitlement-gated resource endpoints.
//
// Routes:
//   - POST   /internal/bookmarks
//   - GET    /internal/bookmarks
//   - DELETE /internal/bookmarks/{documentID}
//   - POST   /internal/counties
//   - GET    /internal/counties
//   - DELETE /internal/counties
//   - POST   /internal/searches
//   - GET    /internal/searches
package handler

import (
	"log/slog"
	"net/http"

	"github.com/titlescout/titlescout/internal/auth"
	"github.com/titlescout/titlescout/internal/domain"
	"github.com/titlescout/titlescout/internal/service"
)

// ResourceHandler serves bookmark, county, and search history operations.
type ResourceHandler struct {
	resources service.ResourceService
	quota     service.QuotaService
	logger    *slog.Logger
}

// NewResourceHandler creates a new ResourceHandler.
func NewResourceHandler(resources service.ResourceService, quota service.QuotaService, logger *slog.Logger) *ResourceHandler {
	return &ResourceHandler{
		resources: resources,
		quota:     quota,
		logger:    logger,
	}
}

// RegisterRoutes registers resource routes on the provided mux.
func (h *ResourceHandler) RegisterRoutes(mux *http.ServeMux, requireUser func(http.Handler) http.Handler) {
	mux.Handle("POST /internal/bookmarks", requireUser(http.HandlerFunc(h.CreateBookmark)))
	mux.Handle("GET /internal/bookmarks", requireUser(http.HandlerFunc(h.ListBookmarks)))
	mux.Handle("DELETE /internal/bookmarks/{documentID}", requireUser(http.HandlerFunc(h.DeleteBookmark)))
	mux.Handle("POST /internal/counties", requireUser(http.HandlerFunc(h.AddCounty)))
	mux.Handle("GET /internal/counties", requireUser(http.HandlerFunc(h.ListCounties)))
	mux.Handle("DELETE /internal/counties", requireUser(http.HandlerFunc(h.RemoveCounties)))
	mux.Handle("POST /internal/searches", requireUser(http.HandlerFunc(h.RecordSearch)))
	mux.Handle("GET /internal/searches", requireUser(http.HandlerFunc(h.ListHistory)))
}

type createBookmarkRequest struct {
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
}

type bookmarkResponse struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
	CreatedAt  string `json:"created_at"`
}

// CreateBookmark adds a bookmark within the resolved entitlement.
func (h *ResourceHandler) CreateBookmark(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromRequest(r)

	var req createBookmarkRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	bookmark, err := h.resources.CreateBookmark(r.Context(), user.ID, req.DocumentID, req.Title)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, bookmarkResponse{
		ID:         bookmark.ID.String(),
		DocumentID: bookmark.DocumentID,
		Title:      bookmark.Title,
		CreatedAt:  bookmark.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

// ListBookmarks returns all of the caller's bookmarks.
func (h *ResourceHandler) ListBookmarks(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromRequest(r)

	bookmarks, err := h.resources.ListBookmarks(r.Context(), user.ID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	out := make([]bookmarkResponse, 0, len(bookmarks))
	for _, b := range bookmarks {
		out = append(out, bookmarkResponse{
			ID:         b.ID.String(),
			DocumentID: b.DocumentID,
			Title:      b.Title,
			CreatedAt:  b.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// DeleteBookmark removes a bookmark. Idempotent.
func (h *ResourceHandler) DeleteBookmark(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromRequest(r)

	documentID := r.PathValue("documentID")
	if err := h.resources.DeleteBookmark(r.Context(), user.ID, documentID); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type countyRequest struct {
	CountyFIPS string `json:"county_fips"`
}

// AddCounty adds a monitored county within the resolved entitlement.
func (h *ResourceHandler) AddCounty(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromRequest(r)

	var req countyRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	if err := h.resources.AddCounty(r.Context(), user.ID, req.CountyFIPS); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// ListCounties returns the caller's monitored counties.
func (h *ResourceHandler) ListCounties(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromRequest(r)

	counties, err := h.resources.ListCounties(r.Context(), user.ID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	out := make([]string, 0, len(counties))
	for _, c := range counties {
		out = append(out, c.CountyFIPS)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"counties": out})
}

type removeCountiesRequest struct {
	CountyFIPS []string `json:"county_fips"`
}

// RemoveCounties removes a batch of monitored counties.
func (h *ResourceHandler) RemoveCounties(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromRequest(r)

	var req removeCountiesRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	if err := h.resources.RemoveCounties(r.Context(), user.ID, req.CountyFIPS); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type recordSearchRequest struct {
	Query string `json:"query"`
}

// RecordSearch consumes one daily query and records the search. The quota
// denial surfaces as allowed=false with 402, matching the consume endpoint's
// contract for clients that skip the separate consume call.
func (h *ResourceHandler) RecordSearch(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromRequest(r)

	var req recordSearchRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	decision, err := h.quota.TryConsumeQuery(r.Context(), user.ID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	if !decision.Allowed {
		ErrorResponse(w, r, h.logger,
			domain.QuotaExceeded("", "daily_queries", decision.Limit, decision.Limit))
		return
	}

	if err := h.resources.RecordSearch(r.Context(), user.ID, req.Query); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, quotaDecisionResponse{
		Allowed:   decision.Allowed,
		Remaining: decision.Remaining,
		Limit:     decision.Limit,
	})
}

type historyEntryResponse struct {
	Query     string `json:"query"`
	CreatedAt string `json:"created_at"`
}

// ListHistory returns searches within the caller's retention window.
func (h *ResourceHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromRequest(r)

	entries, err := h.resources.ListHistory(r.Context(), user.ID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	out := make([]historyEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyEntryResponse{
			Query:     e.Query,
			CreatedAt: e.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	writeJSON(w, http.StatusOK, out)
}
