package models

import (
	"encoding/json"
	"time"
)

// ActivityEntry 告警活动日志（对应 alert_activity 表，只追加）
type ActivityEntry struct {
	ActivityID   string          `json:"activity_id" db:"activity_id"`
	TenantID     string          `json:"tenant_id" db:"tenant_id"`
	AlertID      string          `json:"alert_id" db:"alert_id"`
	ActivityType string          `json:"activity_type" db:"activity_type"` // human_status_changed, comment_added
	ActorUserID  *string         `json:"actor_user_id,omitempty" db:"actor_user_id"`
	Metadata     json.RawMessage `json:"metadata" db:"metadata"` // JSONB
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// AlertComment 告警评论（对应 alert_comments 表，只追加，无编辑/审核语义）
type AlertComment struct {
	CommentID string    `json:"comment_id" db:"comment_id"`
	TenantID  string    `json:"tenant_id" db:"tenant_id"`
	AlertID   string    `json:"alert_id" db:"alert_id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Content   string    `json:"content" db:"content"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
