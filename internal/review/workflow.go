package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fleetguard-alert/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrInvalidHumanStatus 不认识的人工审核状态（拒绝而非强转）
var ErrInvalidHumanStatus = errors.New("invalid human_status")

// 活动日志类型
const (
	ActivityHumanStatusChanged = "human_status_changed"
	ActivityCommentAdded       = "comment_added"
)

// AlertStore 工作流需要的告警持久化行为
// 状态更新与活动留痕必须作为一个原子单元写入（实现方负责事务）
type AlertStore interface {
	UpdateHumanStatusWithActivity(ctx context.Context, tenantID, alertID string, status models.HumanStatus, reviewedBy string, reviewedAt time.Time, entry *models.ActivityEntry) error
}

// ActivityStore 工作流需要的活动日志持久化行为
type ActivityStore interface {
	RecordActivity(ctx context.Context, tenantID string, entry *models.ActivityEntry) error
	CreateComment(ctx context.Context, tenantID string, comment *models.AlertComment) error
}

// Workflow 人工审核工作流
// 独立的5状态机：pending → {reviewed, flagged, resolved, false_positive}，
// 全部状态可从 pending 直达，状态间无强制顺序（flagged 可直接转 resolved），
// 与 AIStatus 解耦，AI到达终态后人工审核仍可继续推进
type Workflow struct {
	alerts   AlertStore
	activity ActivityStore
	logger   *zap.Logger
}

// NewWorkflow 创建人工审核工作流
func NewWorkflow(alerts AlertStore, activity ActivityStore, logger *zap.Logger) *Workflow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workflow{
		alerts:   alerts,
		activity: activity,
		logger:   logger,
	}
}

// SetHumanStatus 设置人工审核状态
// 未识别的状态值直接以参数错误拒绝，不发生任何写入；
// 成功时更新 human_status，盖章 reviewed_by_id/reviewed_at，
// 并记录一条 human_status_changed 活动（metadata 携带新旧状态）
func (w *Workflow) SetHumanStatus(ctx context.Context, alert *models.Alert, newStatus models.HumanStatus, actorUserID string, now time.Time) error {
	if !newStatus.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidHumanStatus, newStatus)
	}
	if actorUserID == "" {
		return fmt.Errorf("actor_user_id is required")
	}

	oldStatus := alert.HumanStatus

	metadata, err := json.Marshal(map[string]string{
		"old_status": string(oldStatus),
		"new_status": string(newStatus),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal activity metadata: %w", err)
	}

	entry := &models.ActivityEntry{
		ActivityID:   uuid.New().String(),
		TenantID:     alert.TenantID,
		AlertID:      alert.AlertID,
		ActivityType: ActivityHumanStatusChanged,
		ActorUserID:  &actorUserID,
		Metadata:     metadata,
		CreatedAt:    now,
	}

	// 状态与留痕同一事务落库，任一失败告警不发生任何变更
	if err := w.alerts.UpdateHumanStatusWithActivity(ctx, alert.TenantID, alert.AlertID, newStatus, actorUserID, now, entry); err != nil {
		return fmt.Errorf("failed to update human_status: %w", err)
	}

	alert.HumanStatus = newStatus
	alert.ReviewedByID = &actorUserID
	reviewedAt := now
	alert.ReviewedAt = &reviewedAt
	alert.UpdatedAt = now

	w.logger.Info("Human status changed",
		zap.String("alert_id", alert.AlertID),
		zap.String("old_status", string(oldStatus)),
		zap.String("new_status", string(newStatus)),
		zap.String("actor_user_id", actorUserID),
	)
	return nil
}

// AddComment 为告警追加评论并记录 comment_added 活动
// 只追加，无编辑/审核语义
func (w *Workflow) AddComment(ctx context.Context, alert *models.Alert, userID, content string, now time.Time) (*models.AlertComment, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}
	if content == "" {
		return nil, fmt.Errorf("content is required")
	}

	comment := &models.AlertComment{
		CommentID: uuid.New().String(),
		TenantID:  alert.TenantID,
		AlertID:   alert.AlertID,
		UserID:    userID,
		Content:   content,
		CreatedAt: now,
	}
	if err := w.activity.CreateComment(ctx, alert.TenantID, comment); err != nil {
		return nil, fmt.Errorf("failed to create comment: %w", err)
	}

	metadata, err := json.Marshal(map[string]string{
		"comment_id": comment.CommentID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal activity metadata: %w", err)
	}

	entry := &models.ActivityEntry{
		ActivityID:   uuid.New().String(),
		TenantID:     alert.TenantID,
		AlertID:      alert.AlertID,
		ActivityType: ActivityCommentAdded,
		ActorUserID:  &userID,
		Metadata:     metadata,
		CreatedAt:    now,
	}
	if err := w.activity.RecordActivity(ctx, alert.TenantID, entry); err != nil {
		return nil, fmt.Errorf("failed to record activity: %w", err)
	}

	return comment, nil
}

// IsProbableFalsePositive AI判定或人工判定任一给出误报信号即为 true
func IsProbableFalsePositive(alert *models.Alert) bool {
	if alert.Verdict != nil && *alert.Verdict == models.VerdictLikelyFalsePositive {
		return true
	}
	return alert.HumanStatus == models.HumanStatusFalsePositive
}
