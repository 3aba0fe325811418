package models

import "strings"

// 枚举类型定义（全部为封闭集合，入库前必须通过 Valid() 校验）
// 字符串底层类型与数据库 enum/text 列一一对应

// AIStatus AI处理状态
type AIStatus string

const (
	AIStatusPending       AIStatus = "pending"
	AIStatusProcessing    AIStatus = "processing"
	AIStatusInvestigating AIStatus = "investigating"
	AIStatusCompleted     AIStatus = "completed"
	AIStatusFailed        AIStatus = "failed"
)

// Valid 校验状态值是否合法
func (s AIStatus) Valid() bool {
	switch s {
	case AIStatusPending, AIStatusProcessing, AIStatusInvestigating,
		AIStatusCompleted, AIStatusFailed:
		return true
	}
	return false
}

// Terminal 是否为终态（completed/failed 之后禁止任何状态迁移）
func (s AIStatus) Terminal() bool {
	return s == AIStatusCompleted || s == AIStatusFailed
}

// Verdict AI判定结果（7种分类结果）
type Verdict string

const (
	VerdictConfirmedEmergency  Verdict = "confirmed_emergency"
	VerdictProbableEmergency   Verdict = "probable_emergency"
	VerdictSuspiciousActivity  Verdict = "suspicious_activity"
	VerdictNeedsHumanReview    Verdict = "needs_human_review"
	VerdictBenign              Verdict = "benign"
	VerdictLikelyFalsePositive Verdict = "likely_false_positive"
	VerdictInconclusive        Verdict = "inconclusive"
)

// Valid 校验判定结果是否合法
func (v Verdict) Valid() bool {
	switch v {
	case VerdictConfirmedEmergency, VerdictProbableEmergency,
		VerdictSuspiciousActivity, VerdictNeedsHumanReview, VerdictBenign,
		VerdictLikelyFalsePositive, VerdictInconclusive:
		return true
	}
	return false
}

// Likelihood 可能性等级
type Likelihood string

const (
	LikelihoodHigh   Likelihood = "high"
	LikelihoodMedium Likelihood = "medium"
	LikelihoodLow    Likelihood = "low"
)

// Severity 信号严重级别（由行为标签分类法确定性推导）
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// RiskEscalation 风险升级动作
type RiskEscalation string

const (
	RiskMonitor   RiskEscalation = "monitor"
	RiskWarn      RiskEscalation = "warn"
	RiskCall      RiskEscalation = "call"
	RiskEmergency RiskEscalation = "emergency"
)

// Valid 校验风险升级动作是否合法
func (r RiskEscalation) Valid() bool {
	switch r {
	case RiskMonitor, RiskWarn, RiskCall, RiskEmergency:
		return true
	}
	return false
}

// RequiresUrgentResponse 是否需要人工紧急响应（call/emergency）
func (r RiskEscalation) RequiresUrgentResponse() bool {
	return r == RiskCall || r == RiskEmergency
}

// NormalizeRiskEscalation 归一化外部载荷中的风险升级动作
// 规范值（大小写/空白不敏感）原样通过；空值原样返回（调用方据此跳过回填）；
// 未识别的非空值归一化为 call —— 未知动作宁可要求人工响应也不静默降级
func NormalizeRiskEscalation(raw RiskEscalation) RiskEscalation {
	normalized := RiskEscalation(strings.ToLower(strings.TrimSpace(string(raw))))
	if normalized == "" {
		return ""
	}
	if normalized.Valid() {
		return normalized
	}
	return RiskCall
}

// AlertKind 告警类别
type AlertKind string

const (
	AlertKindPanic        AlertKind = "panic"
	AlertKindSafety       AlertKind = "safety"
	AlertKindTampering    AlertKind = "tampering"
	AlertKindConnectivity AlertKind = "connectivity"
	AlertKindUnknown      AlertKind = "unknown"
)

// HumanStatus 人工审核状态（独立于 AIStatus 演进）
type HumanStatus string

const (
	HumanStatusPending       HumanStatus = "pending"
	HumanStatusReviewed      HumanStatus = "reviewed"
	HumanStatusFlagged       HumanStatus = "flagged"
	HumanStatusResolved      HumanStatus = "resolved"
	HumanStatusFalsePositive HumanStatus = "false_positive"
)

// Valid 校验人工审核状态是否合法
func (s HumanStatus) Valid() bool {
	switch s {
	case HumanStatusPending, HumanStatusReviewed, HumanStatusFlagged,
		HumanStatusResolved, HumanStatusFalsePositive:
		return true
	}
	return false
}

// AttentionState 运维关注状态（空字符串表示未设置）
type AttentionState string

const (
	AttentionNeedsAttention AttentionState = "needs_attention"
	AttentionInProgress     AttentionState = "in_progress"
	AttentionBlocked        AttentionState = "blocked"
	AttentionClosed         AttentionState = "closed"
	AttentionUnset          AttentionState = ""
)

// AckStatus 确认状态
type AckStatus string

const (
	AckStatusPending      AckStatus = "pending"
	AckStatusAcknowledged AckStatus = "acknowledged"
)

// UrgencyLevel 人工处理紧迫度（用于通信优先级，不用于运维工作流）
type UrgencyLevel string

const (
	UrgencyHigh   UrgencyLevel = "high"
	UrgencyMedium UrgencyLevel = "medium"
	UrgencyLow    UrgencyLevel = "low"
)

// DecisionLevel 通知决策升级级别（归一化后的封闭集合）
type DecisionLevel string

const (
	DecisionLevelEmergency DecisionLevel = "emergency"
	DecisionLevelCritical  DecisionLevel = "critical"
	DecisionLevelHigh      DecisionLevel = "high"
	DecisionLevelLow       DecisionLevel = "low"
	DecisionLevelNone      DecisionLevel = "none"
)

// Valid 校验决策级别是否为规范值
func (l DecisionLevel) Valid() bool {
	switch l {
	case DecisionLevelEmergency, DecisionLevelCritical, DecisionLevelHigh,
		DecisionLevelLow, DecisionLevelNone:
		return true
	}
	return false
}

// IncidentType 事故类型
type IncidentType string

const (
	IncidentTypeCollision       IncidentType = "collision"
	IncidentTypeEmergency       IncidentType = "emergency"
	IncidentTypePattern         IncidentType = "pattern"
	IncidentTypeSafetyViolation IncidentType = "safety_violation"
	IncidentTypeTampering       IncidentType = "tampering"
	IncidentTypeUnknown         IncidentType = "unknown"
)

// IncidentStatus 事故状态
type IncidentStatus string

const (
	IncidentStatusOpen          IncidentStatus = "open"
	IncidentStatusInvestigating IncidentStatus = "investigating"
	IncidentStatusPendingAction IncidentStatus = "pending_action"
	IncidentStatusResolved      IncidentStatus = "resolved"
	IncidentStatusFalsePositive IncidentStatus = "false_positive"
)

// Terminal 是否为终态
func (s IncidentStatus) Terminal() bool {
	return s == IncidentStatusResolved || s == IncidentStatusFalsePositive
}

// IncidentPriority 事故优先级（固定标签 P1-P4）
type IncidentPriority string

const (
	PriorityP1 IncidentPriority = "P1"
	PriorityP2 IncidentPriority = "P2"
	PriorityP3 IncidentPriority = "P3"
	PriorityP4 IncidentPriority = "P4"
)

// IncidentRole 事故关联角色（signal/alert 与 incident 的多对多关联）
type IncidentRole string

const (
	IncidentRolePrimary    IncidentRole = "primary"
	IncidentRoleSupporting IncidentRole = "supporting"
)

// RuleAction 规则匹配后的处置动作
type RuleAction string

const (
	ActionAIPipeline      RuleAction = "ai_pipeline"
	ActionImmediateNotify RuleAction = "immediate_notify"
	ActionBoth            RuleAction = "both"
)

// Valid 校验处置动作是否合法
func (a RuleAction) Valid() bool {
	switch a {
	case ActionAIPipeline, ActionImmediateNotify, ActionBoth:
		return true
	}
	return false
}
