package persistence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vishnuvardhanburri/Geospatial-AI-Analysis-Pipeline-SAM-PostGIS/internal/pipeline"
	"github.com/vishnuvardhanburri/Geospatial-AI-Analysis-Pipeline-SAM-PostGIS/internal/scheduler"
)

// RequestReview queues masks for manual review. A task holds at most one
// request; redelivery replaces its masks and keeps its queue position.
func (s *SQLiteStore) RequestReview(ctx context.Context, task scheduler.TaskRef, masks []pipeline.RawMask) error {
	if masks == nil {
		masks = []pipeline.RawMask{}
	}
	data, err := json.Marshal(masks)
	if err != nil {
		return fmt.Errorf("failed to encode masks: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO review_requests (task_id, source_id, tenant_id, masks)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			source_id = excluded.source_id,
			tenant_id = excluded.tenant_id,
			masks = excluded.masks
	`, task.TaskID, task.SourceID, task.TenantID, string(data))
	if err != nil {
		return fmt.Errorf("failed to upsert review request: %w", err)
	}

	return nil
}

// ListReviewRequests returns a tenant's review requests, oldest first.
func (s *SQLiteStore) ListReviewRequests(ctx context.Context, tenantID string) ([]ReviewRequest, error) {
	// Double sort: created_at ASC, id ASC keeps same-second inserts in order
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, source_id, tenant_id, masks, created_at
		FROM review_requests
		WHERE tenant_id = ?
		ORDER BY created_at ASC, id ASC
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query review requests: %w", err)
	}
	defer rows.Close()

	var requests []ReviewRequest
	for rows.Next() {
		var (
			req   ReviewRequest
			masks string
		)
		if err := rows.Scan(&req.ID, &req.Task.TaskID, &req.Task.SourceID, &req.Task.TenantID, &masks, &req.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan review request: %w", err)
		}
		if err := json.Unmarshal([]byte(masks), &req.Masks); err != nil {
			return nil, fmt.Errorf("failed to decode masks of review request %d: %w", req.ID, err)
		}
		requests = append(requests, req)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating review requests: %w", err)
	}

	return requests, nil
}
