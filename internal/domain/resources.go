// Package domain contains core business types and interfaces.
//
// This file defines the entitlement-gated resources: bookmarks, county
// selections, and search history. Their counts are bounded by the resolved
// entitlement at write time, not by schema constraints, because limits vary
// by tier.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Bookmark marks a recorded document (protocol) a user wants to keep.
type Bookmark struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	DocumentID string
	Title      string
	CreatedAt  time.Time
}

// UserCounty is a county a user monitors, identified by its FIPS code.
type UserCounty struct {
	UserID     uuid.UUID
	CountyFIPS string
	CreatedAt  time.Time
}

// SearchHistoryEntry records one executed search query.
// Retention is enforced at read time by filtering on the resolved
// MaxHistoryDays, and reclaimed opportunistically by the cleanup job.
type SearchHistoryEntry struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Query     string
	CreatedAt time.Time
}
