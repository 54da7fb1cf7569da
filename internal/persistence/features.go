package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb/geojson"

	"github.com/vishnuvardhanburri/Geospatial-AI-Analysis-Pipeline-SAM-PostGIS/internal/pipeline"
	"github.com/vishnuvardhanburri/Geospatial-AI-Analysis-Pipeline-SAM-PostGIS/internal/scheduler"
)

// SaveFeatures replaces the stored features of a task. Features that older
// tasks stored for the same source and tenant are removed in the same
// transaction, so a source only ever holds its latest measurement.
func (s *SQLiteStore) SaveFeatures(ctx context.Context, task scheduler.TaskRef, features []pipeline.MeasuredFeature) error {
	// Encode outside the transaction so a bad geometry never holds the write lock
	geometries := make([]string, len(features))
	for i, f := range features {
		data, err := geojson.NewGeometry(f.Geometry.Orb()).MarshalJSON()
		if err != nil {
			return fmt.Errorf("failed to encode geometry of feature %d: %w", i, err)
		}
		geometries[i] = string(data)
	}

	// Begin transaction with serializable isolation (BEGIN IMMEDIATE)
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM features WHERE task_id = ?`, task.TaskID); err != nil {
		return fmt.Errorf("failed to delete previous features: %w", err)
	}

	if task.SourceID != "" {
		_, err = tx.ExecContext(ctx, `
			DELETE FROM features
			WHERE source_id = ? AND tenant_id = ? AND task_id <> ?
		`, task.SourceID, task.TenantID, task.TaskID)
		if err != nil {
			return fmt.Errorf("failed to delete superseded features: %w", err)
		}
	}

	for i, f := range features {
		var metadata sql.NullString
		if len(f.RawMetadata) > 0 {
			metadata = sql.NullString{String: string(f.RawMetadata), Valid: true}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO features (task_id, source_id, tenant_id, position, feature_type, confidence, geometry, area_sq_ft, raw_metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, task.TaskID, task.SourceID, task.TenantID, i, f.FeatureType, f.ConfidenceScore, geometries[i], f.AreaSqFt, metadata)
		if err != nil {
			return fmt.Errorf("failed to insert feature %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetFeaturesByTask returns a task's features in delivery order. Only rows
// belonging to tenantID are visible.
func (s *SQLiteStore) GetFeaturesByTask(ctx context.Context, taskID, tenantID string) ([]pipeline.MeasuredFeature, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT feature_type, confidence, geometry, area_sq_ft, raw_metadata
		FROM features
		WHERE task_id = ? AND tenant_id = ?
		ORDER BY position ASC
	`, taskID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query features: %w", err)
	}
	defer rows.Close()

	var features []pipeline.MeasuredFeature
	for rows.Next() {
		var (
			f        pipeline.MeasuredFeature
			geometry string
			metadata sql.NullString
		)
		if err := rows.Scan(&f.FeatureType, &f.ConfidenceScore, &geometry, &f.AreaSqFt, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan feature: %w", err)
		}

		g, err := geojson.UnmarshalGeometry([]byte(geometry))
		if err != nil {
			return nil, fmt.Errorf("failed to decode geometry: %w", err)
		}
		if f.Geometry, err = pipeline.PolygonFromGeoJSON(g); err != nil {
			return nil, fmt.Errorf("stored geometry for task %s: %w", taskID, err)
		}
		if metadata.Valid {
			f.RawMetadata = json.RawMessage(metadata.String)
		}

		features = append(features, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating features: %w", err)
	}

	return features, nil
}
