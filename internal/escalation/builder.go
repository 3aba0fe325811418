package escalation

import (
	"sort"
	"strings"
	"time"

	"fleetguard-alert/internal/config"
	"fleetguard-alert/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NormalizeEscalationLevel 归一化升级级别
// 规范值（大小写/空白不敏感）原样通过；空值 → none；
// 其余未识别值一律归一化为 critical —— 故意的保守失效策略：
// 未知严重度宁可升级也不静默降级
func NormalizeEscalationLevel(raw string) models.DecisionLevel {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return models.DecisionLevelNone
	}

	level := models.DecisionLevel(trimmed)
	if level.Valid() {
		return level
	}
	return models.DecisionLevelCritical
}

// SortRecipients 按 priority 升序排序（数字越小越先联系）
// 同优先级保持插入顺序（稳定排序），Position 字段即插入序
func SortRecipients(recipients []models.NotificationRecipient) {
	sort.SliceStable(recipients, func(i, j int) bool {
		return recipients[i].Priority < recipients[j].Priority
	})
}

// Builder 通知决策构建器
// 将告警的 risk_escalation/severity 经租户升级矩阵映射为
// 渠道+接收人集合，产出一条不可变的决策记录
type Builder struct {
	logger *zap.Logger
}

// NewBuilder 创建决策构建器
func NewBuilder(logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{logger: logger}
}

// BuildDecision 为告警构建通知决策
// rule 非空时优先采用规则的渠道/接收人覆盖；覆盖缺失的部分回落到
// 升级矩阵中对应级别的默认配置
func (b *Builder) BuildDecision(
	alert *models.Alert,
	cfg *config.CompanyConfig,
	rule *config.NotifyRule,
	messageText string,
	reason string,
	now time.Time,
) *models.NotificationDecision {
	matrixKey := alert.EscalationMatrixKey()

	var channels []string
	var recipientCfgs []config.RecipientConfig

	if rule != nil && len(rule.Channels) > 0 {
		channels = rule.Channels
	}
	if rule != nil && len(rule.Recipients) > 0 {
		recipientCfgs = rule.Recipients
	}

	if target, ok := cfg.EscalationMatrix[matrixKey]; ok {
		if len(channels) == 0 {
			channels = target.Channels
		}
		if len(recipientCfgs) == 0 {
			recipientCfgs = target.Recipients
		}
	}

	level := decisionLevelFor(alert)
	decisionID := uuid.New().String()

	decision := &models.NotificationDecision{
		DecisionID:      decisionID,
		TenantID:        alert.TenantID,
		AlertID:         alert.AlertID,
		ShouldNotify:    level != models.DecisionLevelNone && len(channels) > 0,
		EscalationLevel: level,
		MessageText:     messageText,
		Reason:          reason,
		Channels:        channels,
		CreatedAt:       now,
	}

	for i, rc := range recipientCfgs {
		decision.Recipients = append(decision.Recipients, models.NotificationRecipient{
			RecipientID:   uuid.New().String(),
			DecisionID:    decisionID,
			RecipientType: rc.RecipientType,
			Phone:         rc.Phone,
			WhatsApp:      rc.WhatsApp,
			Priority:      rc.Priority,
			Position:      i,
		})
	}
	SortRecipients(decision.Recipients)

	b.logger.Debug("Notification decision built",
		zap.String("alert_id", alert.AlertID),
		zap.String("escalation_level", string(level)),
		zap.Bool("should_notify", decision.ShouldNotify),
		zap.Int("recipient_count", len(decision.Recipients)),
	)
	return decision
}

// decisionLevelFor 告警级别到决策级别的确定性映射
// emergency 矩阵键 → emergency；call → critical；
// warn 档内再按严重级别区分 high/low
func decisionLevelFor(alert *models.Alert) models.DecisionLevel {
	switch alert.EscalationMatrixKey() {
	case "emergency":
		return models.DecisionLevelEmergency
	case "call":
		return models.DecisionLevelCritical
	default:
		if alert.Severity == models.SeverityCritical {
			return models.DecisionLevelHigh
		}
		return models.DecisionLevelLow
	}
}
