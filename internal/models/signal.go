package models

import (
	"strings"
	"time"
)

// Signal 归一化的安全/遥测信号（对应 safety_signals 表）
// 由外部流采集方写入，除事件状态字段外不可变；永不删除
type Signal struct {
	SignalID       string          `json:"signal_id" db:"signal_id"`
	TenantID       string          `json:"tenant_id" db:"tenant_id"`
	SourceEventID  string          `json:"source_event_id" db:"source_event_id"` // 外部事件ID（租户内唯一）
	PrimaryLabel   string          `json:"primary_label" db:"primary_label"`
	BehaviorLabels []BehaviorLabel `json:"behavior_labels" db:"behavior_labels"` // JSONB
	Severity       Severity        `json:"severity" db:"severity"`
	OccurredAt     time.Time       `json:"occurred_at" db:"occurred_at"`
	VehicleID      *string         `json:"vehicle_id,omitempty" db:"vehicle_id"` // 软引用，源数据可能滞后
	DriverID       *string         `json:"driver_id,omitempty" db:"driver_id"`   // 软引用
	NeedsReview    bool            `json:"needs_review" db:"needs_review"`
	Dismissed      bool            `json:"dismissed" db:"dismissed"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// BehaviorLabel 行为标签（上游可能携带置信度等附加字段）
type BehaviorLabel struct {
	Name       string   `json:"name"`
	Source     string   `json:"source,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// criticalLabels / warningLabels 行为标签分类法
// 不在表中的标签一律视为 info
var criticalLabels = map[string]struct{}{
	"crash":          {},
	"collision":      {},
	"rollover":       {},
	"panic_button":   {},
	"near_collision": {},
}

var warningLabels = map[string]struct{}{
	"harsh_braking":       {},
	"harsh_acceleration":  {},
	"harsh_turn":          {},
	"drowsiness":          {},
	"distracted_driving":  {},
	"mobile_usage":        {},
	"seatbelt_violation":  {},
	"tailgating":          {},
	"speeding":            {},
	"camera_obstruction":  {},
	"device_disconnected": {},
}

// DeriveSeverity 由标签集合确定性推导严重级别
// 同一标签集合重复推导结果必须一致（幂等）
func DeriveSeverity(labels []string) Severity {
	severity := SeverityInfo
	for _, label := range labels {
		key := strings.ToLower(strings.TrimSpace(label))
		if _, ok := criticalLabels[key]; ok {
			return SeverityCritical
		}
		if _, ok := warningLabels[key]; ok {
			severity = SeverityWarning
		}
	}
	return severity
}

// LabelSet 返回信号的完整标签集合（主标签 + 行为标签，去重，保持出现顺序）
func (s *Signal) LabelSet() []string {
	seen := make(map[string]struct{})
	labels := make([]string, 0, len(s.BehaviorLabels)+1)

	add := func(label string) {
		label = strings.TrimSpace(label)
		if label == "" {
			return
		}
		key := strings.ToLower(label)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		labels = append(labels, label)
	}

	add(s.PrimaryLabel)
	for _, bl := range s.BehaviorLabels {
		add(bl.Name)
	}
	return labels
}

// RederiveSeverity 重新推导并回填严重级别
func (s *Signal) RederiveSeverity() {
	s.Severity = DeriveSeverity(s.LabelSet())
}
