package lifecycle

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fleetguard-alert/internal/config"
	"fleetguard-alert/internal/models"

	"go.uber.org/zap"
)

// DefaultMaxInvestigations 未配置时的最大重新评估次数
const DefaultMaxInvestigations = 3

// 状态机错误（调用方据此区分拒绝原因）
var (
	// ErrTerminalState 告警已到终态（completed/failed），拒绝一切后续迁移
	ErrTerminalState = errors.New("alert is in terminal state")
	// ErrInvalidTransition 非法状态迁移
	ErrInvalidTransition = errors.New("invalid ai_status transition")
	// ErrInvestigationLimit 调查次数已达上限
	ErrInvestigationLimit = errors.New("investigation limit reached")
)

// Machine 告警AI状态机
// 状态图：pending → processing → {completed, failed}
//
//	processing → investigating → {completed, failed}
//	investigating 期间经由 ShouldRevalidate 轮询驱动循环评估
//
// 同一告警的并发读改写互斥由调用方保证（行级锁或等价机制），
// 状态机本身只负责迁移合法性与字段写入的一致性
type Machine struct {
	maxInvestigations int
	logger            *zap.Logger
}

// NewMachine 创建状态机
// maxInvestigations <= 0 时使用默认值
func NewMachine(maxInvestigations int, logger *zap.Logger) *Machine {
	if maxInvestigations <= 0 {
		maxInvestigations = DefaultMaxInvestigations
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{
		maxInvestigations: maxInvestigations,
		logger:            logger,
	}
}

// MaxInvestigations 读取租户配置的最大重新评估次数
// 配置缺失或非法时回落到默认值 3
func MaxInvestigations(cfg *config.CompanyConfig) int {
	if cfg == nil || cfg.Monitoring.MaxRevalidations <= 0 {
		return DefaultMaxInvestigations
	}
	return cfg.Monitoring.MaxRevalidations
}

// CompletionExtras MarkAsCompleted 的可选载荷
type CompletionExtras struct {
	AlertContext json.RawMessage
	Execution    json.RawMessage
	// 通知决策缓存列，原样存储供后续读取；与审计表中的决策记录无关
	NotificationCache json.RawMessage
}

// MarkAsProcessing pending → processing
// 除状态写入外无任何副作用
func (m *Machine) MarkAsProcessing(alert *models.Alert, now time.Time) error {
	if alert.AIStatus.Terminal() {
		return fmt.Errorf("%w: %s", ErrTerminalState, alert.AIStatus)
	}
	if alert.AIStatus != models.AIStatusPending {
		return fmt.Errorf("%w: %s -> processing", ErrInvalidTransition, alert.AIStatus)
	}

	alert.AIStatus = models.AIStatusProcessing
	alert.UpdatedAt = now

	m.logger.Debug("Alert marked as processing",
		zap.String("alert_id", alert.AlertID),
	)
	return nil
}

// MarkAsCompleted 任意非终态 → completed
// 从 assessment 写入 verdict/likelihood/confidence/risk_escalation/dedupe_key，
// 并在 AlertAI 子记录中保留完整原始载荷与上下文
func (m *Machine) MarkAsCompleted(alert *models.Alert, assessment *models.Assessment, humanMessage string, extras *CompletionExtras, now time.Time) error {
	if alert.AIStatus.Terminal() {
		return fmt.Errorf("%w: %s", ErrTerminalState, alert.AIStatus)
	}
	if assessment == nil {
		return fmt.Errorf("assessment is required")
	}

	m.applyAssessment(alert, assessment, humanMessage, now)
	alert.AIStatus = models.AIStatusCompleted

	ai := m.ensureAI(alert, now)
	ai.AIAssessment = assessment.Raw
	if extras != nil {
		if len(extras.AlertContext) > 0 {
			ai.AlertContext = extras.AlertContext
		}
		if len(extras.Execution) > 0 {
			ai.Execution = extras.Execution
		}
		if len(extras.NotificationCache) > 0 {
			ai.NotificationCache = extras.NotificationCache
		}
	}
	ai.UpdatedAt = now

	m.logger.Info("Alert completed",
		zap.String("alert_id", alert.AlertID),
		zap.String("verdict", string(assessment.Verdict)),
		zap.Float64("confidence", assessment.Confidence),
	)
	return nil
}

// MarkAsInvestigating processing/investigating → investigating
// 递增 investigation_count，设置 next_check_minutes，盖章 last_investigation_at
// 调查是同一告警的子状态，不会创建新告警
func (m *Machine) MarkAsInvestigating(alert *models.Alert, assessment *models.Assessment, humanMessage string, nextCheckMinutes int, now time.Time) error {
	if alert.AIStatus.Terminal() {
		return fmt.Errorf("%w: %s", ErrTerminalState, alert.AIStatus)
	}
	if alert.AIStatus != models.AIStatusProcessing && alert.AIStatus != models.AIStatusInvestigating {
		return fmt.Errorf("%w: %s -> investigating", ErrInvalidTransition, alert.AIStatus)
	}

	ai := m.ensureAI(alert, now)
	if ai.InvestigationCount >= m.maxInvestigations {
		return fmt.Errorf("%w: count=%d max=%d", ErrInvestigationLimit, ai.InvestigationCount, m.maxInvestigations)
	}

	if assessment != nil {
		m.applyAssessment(alert, assessment, humanMessage, now)
		ai.AIAssessment = assessment.Raw
	} else if humanMessage != "" {
		alert.AIMessage = &humanMessage
	}

	alert.AIStatus = models.AIStatusInvestigating
	alert.UpdatedAt = now

	ai.InvestigationCount++
	ai.NextCheckMinutes = nextCheckMinutes
	investigatedAt := now
	ai.LastInvestigationAt = &investigatedAt
	ai.UpdatedAt = now

	m.logger.Info("Alert under investigation",
		zap.String("alert_id", alert.AlertID),
		zap.Int("investigation_count", ai.InvestigationCount),
		zap.Int("next_check_minutes", nextCheckMinutes),
	)
	return nil
}

// MarkAsFailed 任意非终态 → failed
// AlertAI 不存在时就地创建（仅为记录 ai_error）；已存在则只更新 ai_error，
// 保留既有调查数据
func (m *Machine) MarkAsFailed(alert *models.Alert, errorMessage string, now time.Time) error {
	if alert.AIStatus.Terminal() {
		return fmt.Errorf("%w: %s", ErrTerminalState, alert.AIStatus)
	}
	if errorMessage == "" {
		errorMessage = "unknown error"
	}

	alert.AIStatus = models.AIStatusFailed
	alert.UpdatedAt = now

	ai := m.ensureAI(alert, now)
	ai.AIError = &errorMessage
	ai.UpdatedAt = now

	m.logger.Warn("Alert failed",
		zap.String("alert_id", alert.AlertID),
		zap.String("ai_error", errorMessage),
	)
	return nil
}

// ShouldRevalidate 重新评估判定（纯时间比较，不是状态迁移）
// 仅 investigating 状态可能需要重新评估；调查子记录缺失或从未评估过时
// 立即符合条件；否则距上次评估已过 next_check_minutes 即符合
// （next_check_minutes 为 0 表示随时符合）
func (m *Machine) ShouldRevalidate(alert *models.Alert, now time.Time) bool {
	if alert.AIStatus != models.AIStatusInvestigating {
		return false
	}
	if alert.AI == nil || alert.AI.LastInvestigationAt == nil {
		return true
	}

	elapsed := now.Sub(*alert.AI.LastInvestigationAt)
	return elapsed >= time.Duration(alert.AI.NextCheckMinutes)*time.Minute
}

// AddInvestigationRecord 追加或修订调查历史
// 策略：最近一条历史的 investigation_number 与当前 investigation_count 相同时
// 就地修订该条（补记 ai_reason / ai_evaluated_at）；否则追加新条目。
// 由此覆盖「首次调用记录刚启动调查的结论」与「滞后调用另起新条目」两种时序，
// 且不会重复计数
// AlertAI 不存在时静默无操作（与 MarkAsFailed 的按需创建相反，此处不建立状态）
func (m *Machine) AddInvestigationRecord(alert *models.Alert, reason string, now time.Time) {
	ai := alert.AI
	if ai == nil {
		return
	}

	evaluatedAt := now
	if n := len(ai.History); n > 0 && ai.History[n-1].InvestigationNumber == ai.InvestigationCount {
		entry := &ai.History[n-1]
		entry.AIReason = &reason
		entry.AIEvaluatedAt = &evaluatedAt
	} else {
		ai.History = append(ai.History, models.InvestigationRecord{
			InvestigationNumber: ai.InvestigationCount,
			Timestamp:           now,
			Reason:              reason,
		})
	}
	ai.UpdatedAt = now
}

// applyAssessment 从评估载荷回填告警分类字段
func (m *Machine) applyAssessment(alert *models.Alert, assessment *models.Assessment, humanMessage string, now time.Time) {
	verdict := assessment.Verdict
	likelihood := assessment.Likelihood
	confidence := assessment.Confidence

	alert.Verdict = &verdict
	alert.Likelihood = &likelihood
	alert.Confidence = &confidence
	// 外部流水线的 risk_escalation 不可信：未识别值归一化为 call，
	// 绝不原样落库导致静默降级
	if risk := models.NormalizeRiskEscalation(assessment.RiskEscalation); risk != "" {
		alert.RiskEscalation = risk
	}
	if assessment.DedupeKey != "" {
		dedupeKey := assessment.DedupeKey
		alert.DedupeKey = &dedupeKey
	}
	if humanMessage != "" {
		alert.AIMessage = &humanMessage
	}
	alert.UpdatedAt = now
}

// ensureAI 确保 AlertAI 子记录存在（upsert 语义）
func (m *Machine) ensureAI(alert *models.Alert, now time.Time) *models.AlertAI {
	if alert.AI == nil {
		alert.AI = &models.AlertAI{
			AlertID:   alert.AlertID,
			UpdatedAt: now,
		}
	}
	return alert.AI
}
