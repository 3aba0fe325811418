package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"fleetguard-alert/internal/models"

	"go.uber.org/zap"
)

// NotificationsRepository 通知决策仓库（notification_decisions + notification_recipients）
// 决策是只追加的审计记录：没有任何 UPDATE 路径
type NotificationsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewNotificationsRepository 创建通知决策仓库
func NewNotificationsRepository(db *sql.DB, logger *zap.Logger) *NotificationsRepository {
	return &NotificationsRepository{
		db:     db,
		logger: logger,
	}
}

// CreateDecisionWithRecipients 唯一的决策构建入口
// 决策行与全部接收人在同一事务中写入：读取方永远不会观察到
// 没有接收人的决策或没有决策的接收人
func (r *NotificationsRepository) CreateDecisionWithRecipients(ctx context.Context, tenantID string, decision *models.NotificationDecision) error {
	if tenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if decision == nil {
		return fmt.Errorf("decision is required")
	}
	if decision.TenantID != tenantID {
		return fmt.Errorf("decision.tenant_id must match tenant_id parameter")
	}

	channelsJSON, err := json.Marshal(decision.Channels)
	if err != nil {
		return fmt.Errorf("failed to marshal channels: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO notification_decisions (
			decision_id,
			tenant_id,
			alert_id,
			should_notify,
			escalation_level,
			message_text,
			reason,
			channels,
			created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
	`

	_, err = tx.ExecContext(ctx, query,
		decision.DecisionID,
		decision.TenantID,
		decision.AlertID,
		decision.ShouldNotify,
		decision.EscalationLevel,
		decision.MessageText,
		decision.Reason,
		channelsJSON,
		decision.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create notification decision: %w", err)
	}

	recipientQuery := `
		INSERT INTO notification_recipients (
			recipient_id,
			decision_id,
			recipient_type,
			phone,
			whatsapp,
			priority,
			position
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
	`

	for _, recipient := range decision.Recipients {
		_, err = tx.ExecContext(ctx, recipientQuery,
			recipient.RecipientID,
			decision.DecisionID,
			recipient.RecipientType,
			recipient.Phone,
			recipient.WhatsApp,
			recipient.Priority,
			recipient.Position,
		)
		if err != nil {
			return fmt.Errorf("failed to create notification recipient: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit notification decision: %w", err)
	}

	r.logger.Info("Notification decision recorded",
		zap.String("decision_id", decision.DecisionID),
		zap.String("alert_id", decision.AlertID),
		zap.String("escalation_level", string(decision.EscalationLevel)),
		zap.Bool("should_notify", decision.ShouldNotify),
		zap.Int("recipient_count", len(decision.Recipients)),
	)
	return nil
}

// GetDecisionsByAlert 按告警查询全部决策（时间升序，审计视图）
// 每条决策的接收人按 priority 升序、同优先级按插入顺序返回
func (r *NotificationsRepository) GetDecisionsByAlert(ctx context.Context, tenantID, alertID string) ([]*models.NotificationDecision, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	if alertID == "" {
		return nil, fmt.Errorf("alert_id is required")
	}

	query := `
		SELECT
			decision_id,
			tenant_id,
			alert_id,
			should_notify,
			escalation_level,
			message_text,
			reason,
			channels,
			created_at
		FROM notification_decisions
		WHERE tenant_id = $1
		  AND alert_id = $2
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID, alertID)
	if err != nil {
		return nil, fmt.Errorf("failed to query notification decisions: %w", err)
	}
	defer rows.Close()

	decisions := []*models.NotificationDecision{}
	for rows.Next() {
		var decision models.NotificationDecision
		var channels []byte

		err := rows.Scan(
			&decision.DecisionID,
			&decision.TenantID,
			&decision.AlertID,
			&decision.ShouldNotify,
			&decision.EscalationLevel,
			&decision.MessageText,
			&decision.Reason,
			&channels,
			&decision.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification decision: %w", err)
		}

		if len(channels) > 0 {
			if err := json.Unmarshal(channels, &decision.Channels); err != nil {
				return nil, fmt.Errorf("failed to unmarshal channels: %w", err)
			}
		}

		decisions = append(decisions, &decision)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notification decisions: %w", err)
	}

	for _, decision := range decisions {
		recipients, err := r.getRecipients(ctx, decision.DecisionID)
		if err != nil {
			return nil, err
		}
		decision.Recipients = recipients
	}

	return decisions, nil
}

// getRecipients 查询决策的有序接收人列表
func (r *NotificationsRepository) getRecipients(ctx context.Context, decisionID string) ([]models.NotificationRecipient, error) {
	query := `
		SELECT
			recipient_id,
			decision_id,
			recipient_type,
			phone,
			whatsapp,
			priority,
			position
		FROM notification_recipients
		WHERE decision_id = $1
		ORDER BY priority ASC, position ASC
	`

	rows, err := r.db.QueryContext(ctx, query, decisionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query notification recipients: %w", err)
	}
	defer rows.Close()

	recipients := []models.NotificationRecipient{}
	for rows.Next() {
		var recipient models.NotificationRecipient
		err := rows.Scan(
			&recipient.RecipientID,
			&recipient.DecisionID,
			&recipient.RecipientType,
			&recipient.Phone,
			&recipient.WhatsApp,
			&recipient.Priority,
			&recipient.Position,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification recipient: %w", err)
		}
		recipients = append(recipients, recipient)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notification recipients: %w", err)
	}

	return recipients, nil
}
