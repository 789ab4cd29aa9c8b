package service

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/titlescout/titlescout/internal/domain"
	"github.com/titlescout/titlescout/internal/metrics"
	"github.com/titlescout/titlescout/internal/repository"
)

const (
	// historyListLimit caps a single history page.
	historyListLimit = 200

	// narrowestHistoryRetention is the smallest MaxHistoryDays any tier
	// grants. Rows younger than this are reclaimable for nobody, so the
	// cleanup job's candidate scan uses it as the cutoff; the real per-user
	// window is resolved individually.
	narrowestHistoryRetention = 7 * 24 * time.Hour

	// pruneUserBatch bounds how many users one cleanup run visits.
	pruneUserBatch = 500
)

// ResourceService manages the entitlement-bounded resources: bookmarks,
// county selections, and search history.
//
// Count limits are checked against the entitlement resolved at write time,
// inside the same transaction as the insert. A downgrade never deletes
// existing rows; it only blocks new ones (and, for history, hides rows past
// the shorter retention window at read time).
type ResourceService interface {
	// CreateBookmark adds a bookmark, enforcing the resolved MaxBookmarks.
	// Returns domain.EQUOTA at the cap and domain.ECONFLICT for an existing
	// bookmark on the same document.
	CreateBookmark(ctx context.Context, userID uuid.UUID, documentID, title string) (*domain.Bookmark, error)

	// DeleteBookmark removes a bookmark. Idempotent.
	DeleteBookmark(ctx context.Context, userID uuid.UUID, documentID string) error

	// ListBookmarks returns all bookmarks for a user, newest first.
	ListBookmarks(ctx context.Context, userID uuid.UUID) ([]domain.Bookmark, error)

	// BookmarkedDocumentIDs reports which of the given documents the user
	// has bookmarked, for badging search results in one query.
	BookmarkedDocumentIDs(ctx context.Context, userID uuid.UUID, documentIDs []string) ([]string, error)

	// AddCounty adds a monitored county, enforcing the resolved MaxCounties.
	// Returns domain.EQUOTA at the cap.
	AddCounty(ctx context.Context, userID uuid.UUID, countyFIPS string) error

	// RemoveCounties removes a batch of monitored counties.
	RemoveCounties(ctx context.Context, userID uuid.UUID, countyFIPS []string) error

	// ListCounties returns the user's monitored counties.
	ListCounties(ctx context.Context, userID uuid.UUID) ([]domain.UserCounty, error)

	// RecordSearch appends a search to the user's history. Quota consumption
	// is the quota counter's job; this only records what ran.
	RecordSearch(ctx context.Context, userID uuid.UUID, query string) error

	// ListHistory returns history within the resolved retention window.
	// Rows older than MaxHistoryDays are invisible even before the cleanup
	// job reclaims them.
	ListHistory(ctx context.Context, userID uuid.UUID) ([]domain.SearchHistoryEntry, error)

	// PruneHistory reclaims history rows past their owner's retention
	// window, in bounded batches. Returns the number of rows deleted.
	PruneHistory(ctx context.Context, batchSize int32) (int64, error)

	// UsageCounts reports how many bookmarks and counties a user holds,
	// for headroom display against the resolved entitlement.
	UsageCounts(ctx context.Context, userID uuid.UUID) (bookmarks, counties int64, err error)
}

type resourceService struct {
	db           *sql.DB
	queries      *repository.Queries
	entitlements EntitlementService
	logger       *slog.Logger
	now          func() time.Time
}

// NewResourceService creates a new ResourceService.
func NewResourceService(db *sql.DB, queries *repository.Queries, entitlements EntitlementService, logger *slog.Logger) ResourceService {
	return &resourceService{
		db:           db,
		queries:      queries,
		entitlements: entitlements,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *resourceService) CreateBookmark(ctx context.Context, userID uuid.UUID, documentID, title string) (*domain.Bookmark, error) {
	const op = "resources.create_bookmark"

	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return nil, domain.Invalid(op, "Document ID is required")
	}

	ent, _, err := s.entitlements.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to begin transaction")
	}
	defer tx.Rollback()
	qtx := s.queries.WithTx(tx)

	if ent.MaxBookmarks != domain.Unlimited {
		count, err := qtx.CountBookmarks(ctx, userID)
		if err != nil {
			return nil, domain.Internal(err, op, "Failed to count bookmarks")
		}
		if count >= int64(ent.MaxBookmarks) {
			metrics.ResourceLimitDenials.WithLabelValues("bookmarks").Inc()
			return nil, domain.QuotaExceeded(op, "bookmarks", int(count), ent.MaxBookmarks)
		}
	}

	bookmark, err := qtx.InsertBookmark(ctx, repository.InsertBookmarkParams{
		ID:         uuid.New(),
		UserID:     userID,
		DocumentID: documentID,
		Title:      strings.TrimSpace(title),
	})
	if err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, domain.Conflict(op, "Document is already bookmarked")
		}
		return nil, domain.Internal(err, op, "Failed to create bookmark")
	}

	if err := tx.Commit(); err != nil {
		return nil, domain.Internal(err, op, "Failed to commit bookmark")
	}

	return &domain.Bookmark{
		ID:         bookmark.ID,
		UserID:     bookmark.UserID,
		DocumentID: bookmark.DocumentID,
		Title:      bookmark.Title,
		CreatedAt:  bookmark.CreatedAt,
	}, nil
}

func (s *resourceService) DeleteBookmark(ctx context.Context, userID uuid.UUID, documentID string) error {
	const op = "resources.delete_bookmark"

	if _, err := s.queries.DeleteBookmark(ctx, userID, documentID); err != nil {
		return domain.Internal(err, op, "Failed to delete bookmark")
	}
	return nil
}

func (s *resourceService) ListBookmarks(ctx context.Context, userID uuid.UUID) ([]domain.Bookmark, error) {
	const op = "resources.list_bookmarks"

	rows, err := s.queries.ListBookmarks(ctx, userID)
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to list bookmarks")
	}

	bookmarks := make([]domain.Bookmark, 0, len(rows))
	for _, b := range rows {
		bookmarks = append(bookmarks, domain.Bookmark{
			ID:         b.ID,
			UserID:     b.UserID,
			DocumentID: b.DocumentID,
			Title:      b.Title,
			CreatedAt:  b.CreatedAt,
		})
	}
	return bookmarks, nil
}

func (s *resourceService) BookmarkedDocumentIDs(ctx context.Context, userID uuid.UUID, documentIDs []string) ([]string, error) {
	const op = "resources.bookmarked_document_ids"

	if len(documentIDs) == 0 {
		return nil, nil
	}
	ids, err := s.queries.ListBookmarkedDocumentIDs(ctx, userID, documentIDs)
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to check bookmarks")
	}
	return ids, nil
}

func (s *resourceService) AddCounty(ctx context.Context, userID uuid.UUID, countyFIPS string) error {
	const op = "resources.add_county"

	countyFIPS = strings.TrimSpace(countyFIPS)
	if len(countyFIPS) != 5 {
		return domain.Invalid(op, "County FIPS code must be 5 digits")
	}

	ent, _, err := s.entitlements.Resolve(ctx, userID)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Internal(err, op, "Failed to begin transaction")
	}
	defer tx.Rollback()
	qtx := s.queries.WithTx(tx)

	if ent.MaxCounties != domain.Unlimited {
		count, err := qtx.CountUserCounties(ctx, userID)
		if err != nil {
			return domain.Internal(err, op, "Failed to count counties")
		}
		if count >= int64(ent.MaxCounties) {
			metrics.ResourceLimitDenials.WithLabelValues("counties").Inc()
			return domain.QuotaExceeded(op, "counties", int(count), ent.MaxCounties)
		}
	}

	if err := qtx.InsertUserCounty(ctx, userID, countyFIPS); err != nil {
		if repository.IsUniqueViolation(err) {
			return domain.Conflict(op, "County is already selected")
		}
		return domain.Internal(err, op, "Failed to add county")
	}

	if err := tx.Commit(); err != nil {
		return domain.Internal(err, op, "Failed to commit county selection")
	}
	return nil
}

func (s *resourceService) RemoveCounties(ctx context.Context, userID uuid.UUID, countyFIPS []string) error {
	const op = "resources.remove_counties"

	if len(countyFIPS) == 0 {
		return nil
	}
	if _, err := s.queries.DeleteUserCounties(ctx, userID, countyFIPS); err != nil {
		return domain.Internal(err, op, "Failed to remove counties")
	}
	return nil
}

func (s *resourceService) ListCounties(ctx context.Context, userID uuid.UUID) ([]domain.UserCounty, error) {
	const op = "resources.list_counties"

	rows, err := s.queries.ListUserCounties(ctx, userID)
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to list counties")
	}

	counties := make([]domain.UserCounty, 0, len(rows))
	for _, c := range rows {
		counties = append(counties, domain.UserCounty{
			UserID:     c.UserID,
			CountyFIPS: c.CountyFIPS,
			CreatedAt:  c.CreatedAt,
		})
	}
	return counties, nil
}

func (s *resourceService) RecordSearch(ctx context.Context, userID uuid.UUID, query string) error {
	const op = "resources.record_search"

	query = strings.TrimSpace(query)
	if query == "" {
		return domain.Invalid(op, "Search query is required")
	}

	if err := s.queries.InsertSearchHistory(ctx, uuid.New(), userID, query); err != nil {
		return domain.Internal(err, op, "Failed to record search")
	}
	return nil
}

func (s *resourceService) ListHistory(ctx context.Context, userID uuid.UUID) ([]domain.SearchHistoryEntry, error) {
	const op = "resources.list_history"

	ent, _, err := s.entitlements.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}

	since := time.Unix(0, 0).UTC()
	if ent.MaxHistoryDays != domain.Unlimited {
		since = s.now().AddDate(0, 0, -ent.MaxHistoryDays)
	}

	rows, err := s.queries.ListSearchHistorySince(ctx, userID, since, historyListLimit)
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to list search history")
	}

	entries := make([]domain.SearchHistoryEntry, 0, len(rows))
	for _, h := range rows {
		entries = append(entries, domain.SearchHistoryEntry{
			ID:        h.ID,
			UserID:    h.UserID,
			Query:     h.Query,
			CreatedAt: h.CreatedAt,
		})
	}
	return entries, nil
}

func (s *resourceService) UsageCounts(ctx context.Context, userID uuid.UUID) (int64, int64, error) {
	const op = "resources.usage_counts"

	bookmarks, err := s.queries.CountBookmarks(ctx, userID)
	if err != nil {
		return 0, 0, domain.Internal(err, op, "Failed to count bookmarks")
	}
	counties, err := s.queries.CountUserCounties(ctx, userID)
	if err != nil {
		return 0, 0, domain.Internal(err, op, "Failed to count counties")
	}
	return bookmarks, counties, nil
}

// PruneHistory visits users who may hold reclaimable rows, resolves each
// one's retention window fresh, and deletes past-window rows in bounded
// batches. A user whose entitlement grew since the rows were written simply
// keeps them.
func (s *resourceService) PruneHistory(ctx context.Context, batchSize int32) (int64, error) {
	const op = "resources.prune_history"

	if batchSize < 1 {
		batchSize = 1000
	}

	candidateCutoff := s.now().Add(-narrowestHistoryRetention)
	userIDs, err := s.queries.ListUserIDsWithHistoryBefore(ctx, candidateCutoff, pruneUserBatch)
	if err != nil {
		return 0, domain.Internal(err, op, "Failed to find prune candidates")
	}

	var total int64
	for _, userID := range userIDs {
		ent, _, err := s.entitlements.Resolve(ctx, userID)
		if err != nil {
			s.logger.Error("failed to resolve entitlement for prune", "error", err, "user_id", userID)
			continue
		}
		if ent.MaxHistoryDays == domain.Unlimited {
			continue
		}

		cutoff := s.now().AddDate(0, 0, -ent.MaxHistoryDays)
		deleted, err := s.queries.DeleteSearchHistoryBefore(ctx, userID, cutoff, batchSize)
		if err != nil {
			s.logger.Error("failed to prune search history", "error", err, "user_id", userID)
			continue
		}
		if deleted > 0 {
			metrics.HistoryRowsReclaimed.Add(float64(deleted))
			total += deleted
		}
	}

	if total > 0 {
		s.logger.Info("search history pruned", "rows", total, "users", len(userIDs))
	}
	return total, nil
}
