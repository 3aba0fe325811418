package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"fleetguard-alert/internal/models"

	"go.uber.org/zap"
)

// SignalsRepository 安全信号仓库
type SignalsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSignalsRepository 创建安全信号仓库
func NewSignalsRepository(db *sql.DB, logger *zap.Logger) *SignalsRepository {
	return &SignalsRepository{
		db:     db,
		logger: logger,
	}
}

// CreateSignal 创建信号（需验证 tenant_id；source_event_id 租户内唯一）
func (r *SignalsRepository) CreateSignal(ctx context.Context, tenantID string, signal *models.Signal) error {
	if tenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if signal == nil {
		return fmt.Errorf("signal is required")
	}
	if signal.TenantID != tenantID {
		return fmt.Errorf("signal.tenant_id must match tenant_id parameter")
	}

	labelsJSON, err := json.Marshal(signal.BehaviorLabels)
	if err != nil {
		return fmt.Errorf("failed to marshal behavior labels: %w", err)
	}

	query := `
		INSERT INTO safety_signals (
			signal_id,
			tenant_id,
			source_event_id,
			primary_label,
			behavior_labels,
			severity,
			occurred_at,
			vehicle_id,
			driver_id,
			needs_review,
			dismissed,
			created_at,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
	`

	_, err = r.db.ExecContext(ctx, query,
		signal.SignalID,
		signal.TenantID,
		signal.SourceEventID,
		signal.PrimaryLabel,
		labelsJSON,
		signal.Severity,
		signal.OccurredAt,
		signal.VehicleID,
		signal.DriverID,
		signal.NeedsReview,
		signal.Dismissed,
		signal.CreatedAt,
		signal.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create signal: %w", err)
	}

	return nil
}

// GetSignalBySourceEventID 按外部事件ID查询（用于入流幂等去重）
// 未找到返回 nil, nil
func (r *SignalsRepository) GetSignalBySourceEventID(ctx context.Context, tenantID, sourceEventID string) (*models.Signal, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	if sourceEventID == "" {
		return nil, fmt.Errorf("source_event_id is required")
	}

	query := `
		SELECT
			signal_id,
			tenant_id,
			source_event_id,
			primary_label,
			behavior_labels,
			severity,
			occurred_at,
			vehicle_id,
			driver_id,
			needs_review,
			dismissed,
			created_at,
			updated_at
		FROM safety_signals
		WHERE tenant_id = $1
		  AND source_event_id = $2
	`

	signal, err := r.scanSignal(r.db.QueryRowContext(ctx, query, tenantID, sourceEventID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query signal by source_event_id: %w", err)
	}
	return signal, nil
}

// UpdateSignalEventState 更新事件状态字段（上游源更新时调用，支持部分更新）
// 信号本体不可变，仅 needs_review / dismissed 等事件状态字段允许更新
func (r *SignalsRepository) UpdateSignalEventState(ctx context.Context, tenantID, signalID string, updates map[string]interface{}) error {
	if tenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if signalID == "" {
		return fmt.Errorf("signal_id is required")
	}
	if len(updates) == 0 {
		return fmt.Errorf("updates cannot be empty")
	}

	// 允许更新的字段
	allowedFields := map[string]bool{
		"needs_review": true,
		"dismissed":    true,
	}

	setParts := []string{}
	args := []interface{}{}
	argN := 1

	for field, value := range updates {
		if !allowedFields[field] {
			return fmt.Errorf("field '%s' is not allowed to update", field)
		}
		setParts = append(setParts, fmt.Sprintf("%s = $%d", field, argN))
		args = append(args, value)
		argN++
	}

	setParts = append(setParts, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, signalID, tenantID)

	query := fmt.Sprintf(`
		UPDATE safety_signals
		SET %s
		WHERE signal_id = $%d AND tenant_id = $%d
	`, strings.Join(setParts, ", "), argN, argN+1)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update signal event state: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("signal not found: signal_id=%s, tenant_id=%s", signalID, tenantID)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *SignalsRepository) scanSignal(row rowScanner) (*models.Signal, error) {
	var signal models.Signal
	var vehicleID, driverID sql.NullString
	var labels []byte

	err := row.Scan(
		&signal.SignalID,
		&signal.TenantID,
		&signal.SourceEventID,
		&signal.PrimaryLabel,
		&labels,
		&signal.Severity,
		&signal.OccurredAt,
		&vehicleID,
		&driverID,
		&signal.NeedsReview,
		&signal.Dismissed,
		&signal.CreatedAt,
		&signal.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if vehicleID.Valid {
		signal.VehicleID = &vehicleID.String
	}
	if driverID.Valid {
		signal.DriverID = &driverID.String
	}
	if len(labels) > 0 {
		if err := json.Unmarshal(labels, &signal.BehaviorLabels); err != nil {
			return nil, fmt.Errorf("failed to unmarshal behavior labels: %w", err)
		}
	}

	return &signal, nil
}
