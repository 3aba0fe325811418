package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"fleetguard-alert/internal/models"

	"go.uber.org/zap"
)

// ActivityRepository 活动日志与评论仓库（alert_activity / alert_comments，只追加）
type ActivityRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewActivityRepository 创建活动日志仓库
func NewActivityRepository(db *sql.DB, logger *zap.Logger) *ActivityRepository {
	return &ActivityRepository{
		db:     db,
		logger: logger,
	}
}

// RecordActivity 追加活动日志条目（review.ActivityStore 实现）
func (r *ActivityRepository) RecordActivity(ctx context.Context, tenantID string, entry *models.ActivityEntry) error {
	if tenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if entry == nil {
		return fmt.Errorf("entry is required")
	}
	if entry.TenantID != tenantID {
		return fmt.Errorf("entry.tenant_id must match tenant_id parameter")
	}

	metadata := entry.Metadata
	if len(metadata) == 0 {
		metadata = json.RawMessage("{}")
	}

	query := `
		INSERT INTO alert_activity (
			activity_id,
			tenant_id,
			alert_id,
			activity_type,
			actor_user_id,
			metadata,
			created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		entry.ActivityID,
		entry.TenantID,
		entry.AlertID,
		entry.ActivityType,
		entry.ActorUserID,
		[]byte(metadata),
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record activity: %w", err)
	}
	return nil
}

// CreateComment 追加评论（review.ActivityStore 实现）
func (r *ActivityRepository) CreateComment(ctx context.Context, tenantID string, comment *models.AlertComment) error {
	if tenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if comment == nil {
		return fmt.Errorf("comment is required")
	}
	if comment.TenantID != tenantID {
		return fmt.Errorf("comment.tenant_id must match tenant_id parameter")
	}

	query := `
		INSERT INTO alert_comments (
			comment_id,
			tenant_id,
			alert_id,
			user_id,
			content,
			created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		comment.CommentID,
		comment.TenantID,
		comment.AlertID,
		comment.UserID,
		comment.Content,
		comment.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create comment: %w", err)
	}
	return nil
}

// ListActivity 按告警查询活动日志（时间升序）
func (r *ActivityRepository) ListActivity(ctx context.Context, tenantID, alertID string) ([]*models.ActivityEntry, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	if alertID == "" {
		return nil, fmt.Errorf("alert_id is required")
	}

	query := `
		SELECT
			activity_id,
			tenant_id,
			alert_id,
			activity_type,
			actor_user_id,
			metadata,
			created_at
		FROM alert_activity
		WHERE tenant_id = $1
		  AND alert_id = $2
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID, alertID)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity: %w", err)
	}
	defer rows.Close()

	entries := []*models.ActivityEntry{}
	for rows.Next() {
		var entry models.ActivityEntry
		var actorUserID sql.NullString
		var metadata []byte

		err := rows.Scan(
			&entry.ActivityID,
			&entry.TenantID,
			&entry.AlertID,
			&entry.ActivityType,
			&actorUserID,
			&metadata,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity entry: %w", err)
		}

		if actorUserID.Valid {
			entry.ActorUserID = &actorUserID.String
		}
		if len(metadata) > 0 {
			entry.Metadata = metadata
		} else {
			entry.Metadata = json.RawMessage("{}")
		}

		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate activity entries: %w", err)
	}

	return entries, nil
}
