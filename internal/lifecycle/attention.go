package lifecycle

import (
	"time"

	"fleetguard-alert/internal/models"
)

// NeedsAttention 派生布尔：告警是否需要人工关注
// 优先级（严格顺序）：
//  1. attention_state = closed → 永远 false
//  2. attention_state = needs_attention → 短路为 true
//  3. 人工已审核（human_status != pending）→ 永远 false，无视AI状态
//  4. 其余回落到 AI状态/严重级别/升级动作检查
func NeedsAttention(alert *models.Alert) bool {
	switch alert.AttentionState {
	case models.AttentionClosed:
		return false
	case models.AttentionNeedsAttention:
		return true
	}

	if alert.HumanStatus != models.HumanStatusPending {
		return false
	}

	if alert.AIStatus == models.AIStatusFailed || alert.AIStatus == models.AIStatusInvestigating {
		return true
	}
	if alert.Severity == models.SeverityCritical {
		return true
	}
	return alert.RiskEscalation.RequiresUrgentResponse()
}

// HumanUrgencyLevel 派生人工处理紧迫度（通信优先级）
// 与 NeedsAttention 不同，这里有意忽略 attention_state：
// attention_state 跟踪运维工作流，urgency 跟踪通信优先级，二者保持独立
func HumanUrgencyLevel(alert *models.Alert) models.UrgencyLevel {
	if alert.HumanStatus != models.HumanStatusPending {
		return models.UrgencyLow
	}

	if alert.AIStatus == models.AIStatusFailed ||
		alert.Severity == models.SeverityCritical ||
		alert.RiskEscalation.RequiresUrgentResponse() {
		return models.UrgencyHigh
	}

	if alert.AIStatus == models.AIStatusInvestigating {
		return models.UrgencyMedium
	}

	return models.UrgencyLow
}

// AckSLARemainingSeconds 确认时限剩余秒数（带符号，负数表示已超时）
// 未设置 ack_due_at 或已确认时返回 nil
func AckSLARemainingSeconds(alert *models.Alert, now time.Time) *int64 {
	if alert.AckDueAt == nil || alert.AckStatus == models.AckStatusAcknowledged {
		return nil
	}
	seconds := int64(alert.AckDueAt.Sub(now).Seconds())
	return &seconds
}

// IsOverdueForAck 确认是否超时
func IsOverdueForAck(alert *models.Alert, now time.Time) bool {
	return alert.AckStatus == models.AckStatusPending &&
		alert.AckDueAt != nil &&
		alert.AckDueAt.Before(now)
}

// ResolveSLARemainingSeconds 处置时限剩余秒数
// 未设置 resolve_due_at 或运维状态已关闭时返回 nil
func ResolveSLARemainingSeconds(alert *models.Alert, now time.Time) *int64 {
	if alert.ResolveDueAt == nil || alert.AttentionState == models.AttentionClosed {
		return nil
	}
	seconds := int64(alert.ResolveDueAt.Sub(now).Seconds())
	return &seconds
}

// IsOverdueForResolution 处置是否超时
func IsOverdueForResolution(alert *models.Alert, now time.Time) bool {
	if alert.AttentionState == models.AttentionClosed {
		return false
	}
	return alert.ResolveDueAt != nil && alert.ResolveDueAt.Before(now)
}
