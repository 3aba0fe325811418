package models

import "time"

// Incident 事故（对应 incidents 表）
// 将多个 signal/alert 归并到同一真实世界事件下，状态与告警状态相互独立
type Incident struct {
	IncidentID  string           `json:"incident_id" db:"incident_id"`
	TenantID    string           `json:"tenant_id" db:"tenant_id"`
	Type        IncidentType     `json:"incident_type" db:"incident_type"`
	Status      IncidentStatus   `json:"status" db:"status"`
	Priority    IncidentPriority `json:"priority" db:"priority"`
	SubjectType *string          `json:"subject_type,omitempty" db:"subject_type"` // driver / vehicle
	SubjectID   *string          `json:"subject_id,omitempty" db:"subject_id"`
	DedupeKey   string           `json:"dedupe_key" db:"dedupe_key"`
	AISummary   *string          `json:"ai_summary,omitempty" db:"ai_summary"`
	DetectedAt  time.Time        `json:"detected_at" db:"detected_at"`
	ResolvedAt  *time.Time       `json:"resolved_at,omitempty" db:"resolved_at"`
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at" db:"updated_at"`
}

// IncidentLink 事故与 signal/alert 的多对多关联（incident_signals / incident_alerts 表）
type IncidentLink struct {
	IncidentID string       `json:"incident_id" db:"incident_id"`
	TargetID   string       `json:"target_id" db:"target_id"`
	Role       IncidentRole `json:"role" db:"role"`
	CreatedAt  time.Time    `json:"created_at" db:"created_at"`
}
