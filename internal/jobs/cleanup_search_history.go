package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/titlescout/titlescout/internal/service"
	"github.com/titlescout/titlescout/internal/worker"
)

// CleanupSearchHistoryHandler reclaims search history rows that have aged
// past their owner's retention window. Retention is already enforced at read
// time; this job only frees storage.
type CleanupSearchHistoryHandler struct {
	resources service.ResourceService
	logger    *slog.Logger
}

// NewCleanupSearchHistoryHandler creates a new handler for history cleanup jobs.
func NewCleanupSearchHistoryHandler(resources service.ResourceService, logger *slog.Logger) *CleanupSearchHistoryHandler {
	return &CleanupSearchHistoryHandler{
		resources: resources,
		logger:    logger,
	}
}

// Type returns the job type identifier.
func (h *CleanupSearchHistoryHandler) Type() string {
	return worker.JobTypeCleanupSearchHistory
}

// Handle runs one bounded retention sweep.
func (h *CleanupSearchHistoryHandler) Handle(ctx context.Context, payload []byte) error {
	var p worker.CleanupSearchHistoryPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return worker.NewPermanentError(fmt.Errorf("invalid payload: %w", err))
	}

	deleted, err := h.resources.PruneHistory(ctx, p.BatchSize)
	if err != nil {
		return fmt.Errorf("prune history: %w", err)
	}

	h.logger.Info("search history cleanup finished", "rows_deleted", deleted)
	return nil
}
