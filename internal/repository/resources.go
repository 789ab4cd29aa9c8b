package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Bookmark is the bookmarks table row.
type Bookmark struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	DocumentID string
	Title      string
	CreatedAt  time.Time
}

// UserCounty is the user_counties table row.
type UserCounty struct {
	UserID     uuid.UUID
	CountyFIPS string
	CreatedAt  time.Time
}

// SearchHistory is the search_history table row.
type SearchHistory struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Query     string
	CreatedAt time.Time
}

// =============================================================================
// Bookmarks
// =============================================================================

const countBookmarks = `SELECT count(*) FROM bookmarks WHERE user_id = $1`

func (q *Queries) CountBookmarks(ctx context.Context, userID uuid.UUID) (int64, error) {
	var count int64
	err := q.db.QueryRowContext(ctx, countBookmarks, userID).Scan(&count)
	return count, err
}

const insertBookmark = `INSERT INTO bookmarks (id, user_id, document_id, title)
VALUES ($1, $2, $3, $4)
RETURNING id, user_id, document_id, title, created_at`

// InsertBookmarkParams are the parameters for InsertBookmark.
type InsertBookmarkParams struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	DocumentID string
	Title      string
}

func (q *Queries) InsertBookmark(ctx context.Context, arg InsertBookmarkParams) (Bookmark, error) {
	var b Bookmark
	err := q.db.QueryRowContext(ctx, insertBookmark,
		arg.ID, arg.UserID, arg.DocumentID, arg.Title).
		Scan(&b.ID, &b.UserID, &b.DocumentID, &b.Title, &b.CreatedAt)
	return b, err
}

const listBookmarks = `SELECT id, user_id, document_id, title, created_at
FROM bookmarks WHERE user_id = $1 ORDER BY created_at DESC`

func (q *Queries) ListBookmarks(ctx context.Context, userID uuid.UUID) ([]Bookmark, error) {
	rows, err := q.db.QueryContext(ctx, listBookmarks, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookmarks []Bookmark
	for rows.Next() {
		var b Bookmark
		if err := rows.Scan(&b.ID, &b.UserID, &b.DocumentID, &b.Title, &b.CreatedAt); err != nil {
			return nil, err
		}
		bookmarks = append(bookmarks, b)
	}
	return bookmarks, rows.Err()
}

const listBookmarkedDocumentIDs = `SELECT document_id FROM bookmarks
WHERE user_id = $1 AND document_id = ANY($2)`

// ListBookmarkedDocumentIDs returns which of the given documents the user has
// bookmarked. Used to badge search results without N queries.
func (q *Queries) ListBookmarkedDocumentIDs(ctx context.Context, userID uuid.UUID, documentIDs []string) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listBookmarkedDocumentIDs, userID, pq.Array(documentIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const deleteBookmark = `DELETE FROM bookmarks WHERE user_id = $1 AND document_id = $2`

func (q *Queries) DeleteBookmark(ctx context.Context, userID uuid.UUID, documentID string) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteBookmark, userID, documentID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// =============================================================================
// Counties
// =============================================================================

const countUserCounties = `SELECT count(*) FROM user_counties WHERE user_id = $1`

func (q *Queries) CountUserCounties(ctx context.Context, userID uuid.UUID) (int64, error) {
	var count int64
	err := q.db.QueryRowContext(ctx, countUserCounties, userID).Scan(&count)
	return count, err
}

const insertUserCounty = `INSERT INTO user_counties (user_id, county_fips)
VALUES ($1, $2)`

func (q *Queries) InsertUserCounty(ctx context.Context, userID uuid.UUID, countyFIPS string) error {
	_, err := q.db.ExecContext(ctx, insertUserCounty, userID, countyFIPS)
	return err
}

const listUserCounties = `SELECT user_id, county_fips, created_at
FROM user_counties WHERE user_id = $1 ORDER BY county_fips`

func (q *Queries) ListUserCounties(ctx context.Context, userID uuid.UUID) ([]UserCounty, error) {
	rows, err := q.db.QueryContext(ctx, listUserCounties, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counties []UserCounty
	for rows.Next() {
		var c UserCounty
		if err := rows.Scan(&c.UserID, &c.CountyFIPS, &c.CreatedAt); err != nil {
			return nil, err
		}
		counties = append(counties, c)
	}
	return counties, rows.Err()
}

const deleteUserCounties = `DELETE FROM user_counties
WHERE user_id = $1 AND county_fips = ANY($2)`

// DeleteUserCounties removes a batch of county selections in one statement.
func (q *Queries) DeleteUserCounties(ctx context.Context, userID uuid.UUID, countyFIPS []string) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteUserCounties, userID, pq.Array(countyFIPS))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// =============================================================================
// Search history
// =============================================================================

const insertSearchHistory = `INSERT INTO search_history (id, user_id, query)
VALUES ($1, $2, $3)`

func (q *Queries) InsertSearchHistory(ctx context.Context, id, userID uuid.UUID, query string) error {
	_, err := q.db.ExecContext(ctx, insertSearchHistory, id, userID, query)
	return err
}

const listSearchHistorySince = `SELECT id, user_id, query, created_at
FROM search_history
WHERE user_id = $1 AND created_at >= $2
ORDER BY created_at DESC
LIMIT $3`

// ListSearchHistorySince returns history newer than the cutoff. Retention is
// a read-time filter: rows older than the caller's entitlement are invisible
// even before the cleanup job reclaims them.
func (q *Queries) ListSearchHistorySince(ctx context.Context, userID uuid.UUID, since time.Time, limit int32) ([]SearchHistory, error) {
	rows, err := q.db.QueryContext(ctx, listSearchHistorySince, userID, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []SearchHistory
	for rows.Next() {
		var h SearchHistory
		if err := rows.Scan(&h.ID, &h.UserID, &h.Query, &h.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, h)
	}
	return entries, rows.Err()
}

const deleteSearchHistoryBefore = `DELETE FROM search_history
WHERE id IN (
	SELECT id FROM search_history
	WHERE user_id = $1 AND created_at < $2
	LIMIT $3
)`

// DeleteSearchHistoryBefore reclaims expired history in bounded batches so
// the cleanup job never holds a long transaction.
func (q *Queries) DeleteSearchHistoryBefore(ctx context.Context, userID uuid.UUID, cutoff time.Time, batchSize int32) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteSearchHistoryBefore, userID, cutoff, batchSize)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const listUserIDsWithHistoryBefore = `SELECT DISTINCT user_id FROM search_history
WHERE created_at < $1
LIMIT $2`

// ListUserIDsWithHistoryBefore finds users who may have reclaimable history.
// Callers pass the narrowest retention window as the cutoff and resolve each
// user's real window afterwards.
func (q *Queries) ListUserIDsWithHistoryBefore(ctx context.Context, cutoff time.Time, limit int32) ([]uuid.UUID, error) {
	rows, err := q.db.QueryContext(ctx, listUserIDsWithHistoryBefore, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
