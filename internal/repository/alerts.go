package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"fleetguard-alert/internal/models"

	"go.uber.org/zap"
)

// AlertsRepository 告警仓库（alerts 表 + alert_ai 1:1 子记录）
type AlertsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertsRepository 创建告警仓库
func NewAlertsRepository(db *sql.DB, logger *zap.Logger) *AlertsRepository {
	return &AlertsRepository{
		db:     db,
		logger: logger,
	}
}

const alertColumns = `
	alert_id,
	tenant_id,
	signal_id,
	ai_status,
	verdict,
	likelihood,
	confidence,
	severity,
	risk_escalation,
	alert_kind,
	escalation_level,
	human_status,
	attention_state,
	ack_status,
	ack_due_at,
	acked_at,
	resolve_due_at,
	proactive,
	dedupe_key,
	ai_message,
	owner_user_id,
	owner_contact_id,
	reviewed_by_id,
	reviewed_at,
	created_at,
	updated_at
`

// ============================================
// 基础 CRUD 操作
// ============================================

// CreateAlert 创建告警（需验证 tenant_id；携带 AI 子记录时一并写入）
func (r *AlertsRepository) CreateAlert(ctx context.Context, tenantID string, alert *models.Alert) error {
	if tenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if alert == nil {
		return fmt.Errorf("alert is required")
	}
	if alert.TenantID != tenantID {
		return fmt.Errorf("alert.tenant_id must match tenant_id parameter")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
		INSERT INTO alerts (%s) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26
		)
	`, alertColumns)

	_, err = tx.ExecContext(ctx, query,
		alert.AlertID,
		alert.TenantID,
		alert.SignalID,
		alert.AIStatus,
		alert.Verdict,
		alert.Likelihood,
		alert.Confidence,
		alert.Severity,
		alert.RiskEscalation,
		alert.AlertKind,
		alert.EscalationLevel,
		alert.HumanStatus,
		alert.AttentionState,
		alert.AckStatus,
		alert.AckDueAt,
		alert.AckedAt,
		alert.ResolveDueAt,
		alert.Proactive,
		alert.DedupeKey,
		alert.AIMessage,
		alert.OwnerUserID,
		alert.OwnerContactID,
		alert.ReviewedByID,
		alert.ReviewedAt,
		alert.CreatedAt,
		alert.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}

	if alert.AI != nil {
		if err := upsertAlertAI(ctx, tx, alert.AI); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit alert creation: %w", err)
	}
	return nil
}

// GetAlert 根据 alert_id 获取告警（含 AI 子记录，需验证 tenant_id）
func (r *AlertsRepository) GetAlert(ctx context.Context, tenantID, alertID string) (*models.Alert, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	if alertID == "" {
		return nil, fmt.Errorf("alert_id is required")
	}

	query := fmt.Sprintf(`
		SELECT %s FROM alerts
		WHERE alert_id = $1
		  AND tenant_id = $2
	`, alertColumns)

	alert, err := scanAlert(r.db.QueryRowContext(ctx, query, alertID, tenantID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("alert not found: alert_id=%s, tenant_id=%s", alertID, tenantID)
		}
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}

	ai, err := r.getAlertAI(ctx, alertID)
	if err != nil {
		return nil, err
	}
	alert.AI = ai

	return alert, nil
}

// SaveAlertState 持久化状态机产出（alerts 行 + alert_ai upsert，单事务）
// investigation_count / ai_status / investigation_history 的读改写必须以
// 告警为粒度原子提交
func (r *AlertsRepository) SaveAlertState(ctx context.Context, tenantID string, alert *models.Alert) error {
	if tenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if alert == nil {
		return fmt.Errorf("alert is required")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE alerts
		SET ai_status = $1,
		    verdict = $2,
		    likelihood = $3,
		    confidence = $4,
		    risk_escalation = $5,
		    dedupe_key = $6,
		    ai_message = $7,
		    updated_at = $8
		WHERE alert_id = $9
		  AND tenant_id = $10
	`

	result, err := tx.ExecContext(ctx, query,
		alert.AIStatus,
		alert.Verdict,
		alert.Likelihood,
		alert.Confidence,
		alert.RiskEscalation,
		alert.DedupeKey,
		alert.AIMessage,
		alert.UpdatedAt,
		alert.AlertID,
		tenantID,
	)
	if err != nil {
		return fmt.Errorf("failed to update alert state: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("alert not found: alert_id=%s, tenant_id=%s", alert.AlertID, tenantID)
	}

	if alert.AI != nil {
		if err := upsertAlertAI(ctx, tx, alert.AI); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit alert state: %w", err)
	}
	return nil
}

// UpdateAlert 部分更新（需验证 tenant_id）
// updates 是一个 map，包含要更新的字段
func (r *AlertsRepository) UpdateAlert(ctx context.Context, tenantID, alertID string, updates map[string]interface{}) error {
	if tenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if alertID == "" {
		return fmt.Errorf("alert_id is required")
	}
	if len(updates) == 0 {
		return fmt.Errorf("updates cannot be empty")
	}

	// 允许更新的字段
	allowedFields := map[string]bool{
		"attention_state":  true,
		"ack_status":       true,
		"ack_due_at":       true,
		"acked_at":         true,
		"resolve_due_at":   true,
		"owner_user_id":    true,
		"owner_contact_id": true,
		"human_status":     true,
		"reviewed_by_id":   true,
		"reviewed_at":      true,
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
	args = append(args, alertID, tenantID)

	query := fmt.Sprintf(`
		UPDATE alerts
		SET %s
		WHERE alert_id = $%d AND tenant_id = $%d
	`, strings.Join(setParts, ", "), argN, argN+1)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update alert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("alert not found: alert_id=%s, tenant_id=%s", alertID, tenantID)
	}

	return nil
}

// ============================================
// 查询操作
// ============================================

// ListInvestigatingAlerts 列出 investigating 状态的告警（重新评估扫描用）
func (r *AlertsRepository) ListInvestigatingAlerts(ctx context.Context, tenantID string, limit int) ([]*models.Alert, error) {
	if tenantID == "" {
		return []*models.Alert{}, nil
	}
	if limit <= 0 {
		limit = 25
	}

	query := fmt.Sprintf(`
		SELECT %s FROM alerts
		WHERE tenant_id = $1
		  AND ai_status = 'investigating'
		ORDER BY updated_at ASC
		LIMIT $2
	`, alertColumns)

	rows, err := r.db.QueryContext(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query investigating alerts: %w", err)
	}
	defer rows.Close()

	alerts := []*models.Alert{}
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alerts: %w", err)
	}

	// 附加 AI 子记录（ShouldRevalidate 需要 last_investigation_at / next_check_minutes）
	for _, alert := range alerts {
		ai, err := r.getAlertAI(ctx, alert.AlertID)
		if err != nil {
			return nil, err
		}
		alert.AI = ai
	}

	return alerts, nil
}

// ListTenantsWithInvestigatingAlerts 列出存在 investigating 告警的租户（扫描循环按租户分批处理）
func (r *AlertsRepository) ListTenantsWithInvestigatingAlerts(ctx context.Context) ([]string, error) {
	query := `
		SELECT DISTINCT tenant_id FROM alerts
		WHERE ai_status = 'investigating'
		ORDER BY tenant_id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query tenants with investigating alerts: %w", err)
	}
	defer rows.Close()

	tenantIDs := []string{}
	for rows.Next() {
		var tenantID string
		if err := rows.Scan(&tenantID); err != nil {
			return nil, fmt.Errorf("failed to scan tenant_id: %w", err)
		}
		tenantIDs = append(tenantIDs, tenantID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tenants: %w", err)
	}

	return tenantIDs, nil
}

// GetRecentAlertByDedupeKey 按去重键查询最近的非终态告警（告警抑制用）
// 检查最近 N 分钟内是否已有相同去重键的告警；未找到返回 nil, nil
func (r *AlertsRepository) GetRecentAlertByDedupeKey(ctx context.Context, tenantID, dedupeKey string, withinMinutes int) (*models.Alert, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	if dedupeKey == "" {
		return nil, fmt.Errorf("dedupe_key is required")
	}

	thresholdTime := time.Now().Add(-time.Duration(withinMinutes) * time.Minute)

	query := fmt.Sprintf(`
		SELECT %s FROM alerts
		WHERE tenant_id = $1
		  AND dedupe_key = $2
		  AND created_at > $3
		  AND ai_status NOT IN ('completed', 'failed')
		ORDER BY created_at DESC
		LIMIT 1
	`, alertColumns)

	alert, err := scanAlert(r.db.QueryRowContext(ctx, query, tenantID, dedupeKey, thresholdTime))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query recent alert: %w", err)
	}
	return alert, nil
}

// ============================================
// 状态管理
// ============================================

// AcknowledgeAlert 确认告警（更新 ack_status，盖章 acked_at）
func (r *AlertsRepository) AcknowledgeAlert(ctx context.Context, tenantID, alertID, userID string) error {
	if userID == "" {
		return fmt.Errorf("user_id is required")
	}

	updates := map[string]interface{}{
		"ack_status":    string(models.AckStatusAcknowledged),
		"acked_at":      time.Now(),
		"owner_user_id": userID,
	}
	return r.UpdateAlert(ctx, tenantID, alertID, updates)
}

// UpdateHumanStatusWithActivity 更新人工审核状态并盖章（review.AlertStore 实现）
// 状态更新与 human_status_changed 留痕在同一事务中写入：
// 读取方永远不会观察到改了状态却没有留痕的告警
func (r *AlertsRepository) UpdateHumanStatusWithActivity(ctx context.Context, tenantID, alertID string, status models.HumanStatus, reviewedBy string, reviewedAt time.Time, entry *models.ActivityEntry) error {
	if tenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if alertID == "" {
		return fmt.Errorf("alert_id is required")
	}
	if entry == nil {
		return fmt.Errorf("activity entry is required")
	}
	if entry.TenantID != tenantID {
		return fmt.Errorf("entry.tenant_id must match tenant_id parameter")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE alerts
		SET human_status = $1,
		    reviewed_by_id = $2,
		    reviewed_at = $3,
		    updated_at = CURRENT_TIMESTAMP
		WHERE alert_id = $4 AND tenant_id = $5
	`, string(status), reviewedBy, reviewedAt, alertID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to update human_status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("alert not found: alert_id=%s, tenant_id=%s", alertID, tenantID)
	}

	metadata := entry.Metadata
	if len(metadata) == 0 {
		metadata = json.RawMessage("{}")
	}

	_, err = tx.ExecContext(ctx, `
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
	`,
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

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit human_status update: %w", err)
	}
	return nil
}

// ============================================
// 内部辅助
// ============================================

// getAlertAI 获取 AI 子记录；不存在时返回 nil, nil
func (r *AlertsRepository) getAlertAI(ctx context.Context, alertID string) (*models.AlertAI, error) {
	query := `
		SELECT
			alert_id,
			investigation_count,
			last_investigation_at,
			next_check_minutes,
			investigation_history,
			ai_assessment,
			alert_context,
			execution,
			notification_decision,
			ai_error,
			updated_at
		FROM alert_ai
		WHERE alert_id = $1
	`

	var ai models.AlertAI
	var lastInvestigationAt sql.NullTime
	var aiError sql.NullString
	var history, assessment, alertContext, execution, notificationCache []byte

	err := r.db.QueryRowContext(ctx, query, alertID).Scan(
		&ai.AlertID,
		&ai.InvestigationCount,
		&lastInvestigationAt,
		&ai.NextCheckMinutes,
		&history,
		&assessment,
		&alertContext,
		&execution,
		&notificationCache,
		&aiError,
		&ai.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get alert_ai: %w", err)
	}

	if lastInvestigationAt.Valid {
		ai.LastInvestigationAt = &lastInvestigationAt.Time
	}
	if aiError.Valid {
		ai.AIError = &aiError.String
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &ai.History); err != nil {
			return nil, fmt.Errorf("failed to unmarshal investigation history: %w", err)
		}
	}
	ai.AIAssessment = assessment
	ai.AlertContext = alertContext
	ai.Execution = execution
	ai.NotificationCache = notificationCache

	return &ai, nil
}

// upsertAlertAI alert_ai 子记录 upsert（调用方持有事务）
func upsertAlertAI(ctx context.Context, tx *sql.Tx, ai *models.AlertAI) error {
	historyJSON, err := json.Marshal(ai.History)
	if err != nil {
		return fmt.Errorf("failed to marshal investigation history: %w", err)
	}

	query := `
		INSERT INTO alert_ai (
			alert_id,
			investigation_count,
			last_investigation_at,
			next_check_minutes,
			investigation_history,
			ai_assessment,
			alert_context,
			execution,
			notification_decision,
			ai_error,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
		ON CONFLICT (alert_id) DO UPDATE SET
			investigation_count = EXCLUDED.investigation_count,
			last_investigation_at = EXCLUDED.last_investigation_at,
			next_check_minutes = EXCLUDED.next_check_minutes,
			investigation_history = EXCLUDED.investigation_history,
			ai_assessment = EXCLUDED.ai_assessment,
			alert_context = EXCLUDED.alert_context,
			execution = EXCLUDED.execution,
			notification_decision = EXCLUDED.notification_decision,
			ai_error = EXCLUDED.ai_error,
			updated_at = EXCLUDED.updated_at
	`

	_, err = tx.ExecContext(ctx, query,
		ai.AlertID,
		ai.InvestigationCount,
		ai.LastInvestigationAt,
		ai.NextCheckMinutes,
		historyJSON,
		nullableJSON(ai.AIAssessment),
		nullableJSON(ai.AlertContext),
		nullableJSON(ai.Execution),
		nullableJSON(ai.NotificationCache),
		ai.AIError,
		ai.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert alert_ai: %w", err)
	}
	return nil
}

func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// scanAlert 扫描单行告警（不含 AI 子记录）
func scanAlert(row rowScanner) (*models.Alert, error) {
	var alert models.Alert
	var signalID, verdict, likelihood, dedupeKey, aiMessage sql.NullString
	var ownerUserID, ownerContactID, reviewedByID sql.NullString
	var confidence sql.NullFloat64
	var ackDueAt, ackedAt, resolveDueAt, reviewedAt sql.NullTime
	var attentionState sql.NullString

	err := row.Scan(
		&alert.AlertID,
		&alert.TenantID,
		&signalID,
		&alert.AIStatus,
		&verdict,
		&likelihood,
		&confidence,
		&alert.Severity,
		&alert.RiskEscalation,
		&alert.AlertKind,
		&alert.EscalationLevel,
		&alert.HumanStatus,
		&attentionState,
		&alert.AckStatus,
		&ackDueAt,
		&ackedAt,
		&resolveDueAt,
		&alert.Proactive,
		&dedupeKey,
		&aiMessage,
		&ownerUserID,
		&ownerContactID,
		&reviewedByID,
		&reviewedAt,
		&alert.CreatedAt,
		&alert.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if signalID.Valid {
		alert.SignalID = &signalID.String
	}
	if verdict.Valid {
		v := models.Verdict(verdict.String)
		alert.Verdict = &v
	}
	if likelihood.Valid {
		l := models.Likelihood(likelihood.String)
		alert.Likelihood = &l
	}
	if confidence.Valid {
		alert.Confidence = &confidence.Float64
	}
	if attentionState.Valid {
		alert.AttentionState = models.AttentionState(attentionState.String)
	}
	if ackDueAt.Valid {
		alert.AckDueAt = &ackDueAt.Time
	}
	if ackedAt.Valid {
		alert.AckedAt = &ackedAt.Time
	}
	if resolveDueAt.Valid {
		alert.ResolveDueAt = &resolveDueAt.Time
	}
	if dedupeKey.Valid {
		alert.DedupeKey = &dedupeKey.String
	}
	if aiMessage.Valid {
		alert.AIMessage = &aiMessage.String
	}
	if ownerUserID.Valid {
		alert.OwnerUserID = &ownerUserID.String
	}
	if ownerContactID.Valid {
		alert.OwnerContactID = &ownerContactID.String
	}
	if reviewedByID.Valid {
		alert.ReviewedByID = &reviewedByID.String
	}
	if reviewedAt.Valid {
		alert.ReviewedAt = &reviewedAt.Time
	}

	return &alert, nil
}
