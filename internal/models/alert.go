package models

import (
	"encoding/json"
	"time"
)

// Alert 告警（对应 alerts 表）
// 表示一次可能的安全/紧急事件，由AI流水线做分诊，人工审核独立推进
type Alert struct {
	AlertID         string         `json:"alert_id" db:"alert_id"`
	TenantID        string         `json:"tenant_id" db:"tenant_id"`
	SignalID        *string        `json:"signal_id,omitempty" db:"signal_id"` // 主动告警（proactive）可能没有触发信号
	AIStatus        AIStatus       `json:"ai_status" db:"ai_status"`
	Verdict         *Verdict       `json:"verdict,omitempty" db:"verdict"`
	Likelihood      *Likelihood    `json:"likelihood,omitempty" db:"likelihood"`
	Confidence      *float64       `json:"confidence,omitempty" db:"confidence"` // 0.0-1.0
	Severity        Severity       `json:"severity" db:"severity"`
	RiskEscalation  RiskEscalation `json:"risk_escalation" db:"risk_escalation"`
	AlertKind       AlertKind      `json:"alert_kind" db:"alert_kind"`
	EscalationLevel int            `json:"escalation_level" db:"escalation_level"` // 0-2
	HumanStatus     HumanStatus    `json:"human_status" db:"human_status"`
	AttentionState  AttentionState `json:"attention_state" db:"attention_state"`
	AckStatus       AckStatus      `json:"ack_status" db:"ack_status"`
	AckDueAt        *time.Time     `json:"ack_due_at,omitempty" db:"ack_due_at"`
	AckedAt         *time.Time     `json:"acked_at,omitempty" db:"acked_at"`
	ResolveDueAt    *time.Time     `json:"resolve_due_at,omitempty" db:"resolve_due_at"`
	Proactive       bool           `json:"proactive" db:"proactive"`
	DedupeKey       *string        `json:"dedupe_key,omitempty" db:"dedupe_key"`
	AIMessage       *string        `json:"ai_message,omitempty" db:"ai_message"`
	// 所有者（user 与 contact 互斥，均可为空）
	OwnerUserID    *string `json:"owner_user_id,omitempty" db:"owner_user_id"`
	OwnerContactID *string `json:"owner_contact_id,omitempty" db:"owner_contact_id"`
	// 人工审核盖章
	ReviewedByID *string    `json:"reviewed_by_id,omitempty" db:"reviewed_by_id"`
	ReviewedAt   *time.Time `json:"reviewed_at,omitempty" db:"reviewed_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`

	// 1:1 调查子记录（延迟创建，可能为 nil）
	AI *AlertAI `json:"ai,omitempty" db:"-"`
}

// AlertAI 告警的AI调查子记录（对应 alert_ai 表，与 alerts 1:1）
type AlertAI struct {
	AlertID             string                `json:"alert_id" db:"alert_id"`
	InvestigationCount  int                   `json:"investigation_count" db:"investigation_count"`
	LastInvestigationAt *time.Time            `json:"last_investigation_at,omitempty" db:"last_investigation_at"`
	NextCheckMinutes    int                   `json:"next_check_minutes" db:"next_check_minutes"`
	History             []InvestigationRecord `json:"investigation_history" db:"investigation_history"` // JSONB，有序
	AIAssessment        json.RawMessage       `json:"ai_assessment,omitempty" db:"ai_assessment"`       // 完整原始载荷
	AlertContext        json.RawMessage       `json:"alert_context,omitempty" db:"alert_context"`
	Execution           json.RawMessage       `json:"execution,omitempty" db:"execution"`
	NotificationCache   json.RawMessage       `json:"notification_decision,omitempty" db:"notification_decision"` // 轻量缓存列，与审计记录无关
	AIError             *string               `json:"ai_error,omitempty" db:"ai_error"`
	UpdatedAt           time.Time             `json:"updated_at" db:"updated_at"`
}

// InvestigationRecord 调查历史条目（按调查编号有序）
type InvestigationRecord struct {
	InvestigationNumber int        `json:"investigation_number"`
	Timestamp           time.Time  `json:"timestamp"`
	Reason              string     `json:"reason,omitempty"`
	AIReason            *string    `json:"ai_reason,omitempty"`
	AIEvaluatedAt       *time.Time `json:"ai_evaluated_at,omitempty"`
}

// Assessment AI流水线回传的评估载荷（透传，核心不校验其语义）
type Assessment struct {
	Verdict          Verdict         `json:"verdict"`
	Likelihood       Likelihood      `json:"likelihood"`
	Confidence       float64         `json:"confidence"`
	Reasoning        string          `json:"reasoning"`
	RiskEscalation   RiskEscalation  `json:"risk_escalation"`
	DedupeKey        string          `json:"dedupe_key"`
	MonitoringReason *string         `json:"monitoring_reason,omitempty"`
	Raw              json.RawMessage `json:"-"` // 入库用完整原始载荷
}

// EscalationMatrixKey 升级矩阵键的确定性映射
// 2→emergency，1→call，其余→warn
func (a *Alert) EscalationMatrixKey() string {
	switch a.EscalationLevel {
	case 2:
		return "emergency"
	case 1:
		return "call"
	default:
		return "warn"
	}
}
