package incident

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"fleetguard-alert/internal/models"
)

// DefaultBucketMinutes 去重时间桶默认宽度（分钟）
const DefaultBucketMinutes = 30

// ErrIllegalTransition 非法的事故状态迁移
var ErrIllegalTransition = errors.New("illegal incident status transition")

// legalTransitions 合法迁移表（只进不退）
// resolved / false_positive 为终态，不出现在表中
var legalTransitions = map[models.IncidentStatus][]models.IncidentStatus{
	models.IncidentStatusOpen: {
		models.IncidentStatusInvestigating,
		models.IncidentStatusPendingAction,
		models.IncidentStatusResolved,
		models.IncidentStatusFalsePositive,
	},
	models.IncidentStatusInvestigating: {
		models.IncidentStatusPendingAction,
		models.IncidentStatusResolved,
		models.IncidentStatusFalsePositive,
	},
	models.IncidentStatusPendingAction: {
		models.IncidentStatusResolved,
		models.IncidentStatusFalsePositive,
	},
}

// CanTransition 判断迁移是否合法
func CanTransition(from, to models.IncidentStatus) bool {
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition 执行状态迁移，非法迁移返回 ErrIllegalTransition
func Transition(incident *models.Incident, to models.IncidentStatus, now time.Time) error {
	if !CanTransition(incident.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, incident.Status, to)
	}
	incident.Status = to
	incident.UpdatedAt = now
	return nil
}

// GenerateDedupeKey 生成确定性去重键：type:subjectType:subjectId:flooredTimestamp
// 时间戳向下取整到 bucketMinutes 边界；subject 字段为空时直接省略
// （不用占位符替代），因此无主体的同类型事故在同一时间桶内仍然碰撞——
// 这是有意的：type+time 足以对无主体事故去重（如车队级连接异常）
func GenerateDedupeKey(incidentType models.IncidentType, subjectType, subjectID *string, detectedAt time.Time, bucketMinutes int) string {
	if bucketMinutes <= 0 {
		bucketMinutes = DefaultBucketMinutes
	}

	bucketSeconds := int64(bucketMinutes) * 60
	floored := detectedAt.Unix() - detectedAt.Unix()%bucketSeconds

	parts := []string{string(incidentType)}
	if subjectType != nil && *subjectType != "" {
		parts = append(parts, *subjectType)
	}
	if subjectID != nil && *subjectID != "" {
		parts = append(parts, *subjectID)
	}
	parts = append(parts, fmt.Sprintf("%d", floored))

	return strings.Join(parts, ":")
}

// MarkAsResolved 终态迁移：resolved
// summary 为 nil 时保留既有 ai_summary，绝不用 null 覆盖
func MarkAsResolved(incident *models.Incident, summary *string, now time.Time) error {
	if err := Transition(incident, models.IncidentStatusResolved, now); err != nil {
		return err
	}
	resolvedAt := now
	incident.ResolvedAt = &resolvedAt
	if summary != nil {
		incident.AISummary = summary
	}
	return nil
}

// MarkAsFalsePositive 终态迁移：false_positive
func MarkAsFalsePositive(incident *models.Incident, summary *string, now time.Time) error {
	if err := Transition(incident, models.IncidentStatusFalsePositive, now); err != nil {
		return err
	}
	resolvedAt := now
	incident.ResolvedAt = &resolvedAt
	if summary != nil {
		incident.AISummary = summary
	}
	return nil
}

// TypeForLabels 由行为标签推导事故类型
func TypeForLabels(labels []string) models.IncidentType {
	hasPattern := false
	for _, label := range labels {
		switch strings.ToLower(strings.TrimSpace(label)) {
		case "crash", "collision", "rollover", "near_collision":
			return models.IncidentTypeCollision
		case "panic_button":
			return models.IncidentTypeEmergency
		case "camera_obstruction", "tampering":
			return models.IncidentTypeTampering
		case "harsh_braking", "harsh_acceleration", "harsh_turn", "speeding",
			"tailgating", "drowsiness", "distracted_driving", "mobile_usage",
			"seatbelt_violation":
			hasPattern = true
		}
	}
	if hasPattern {
		return models.IncidentTypeSafetyViolation
	}
	return models.IncidentTypeUnknown
}

// PriorityForSeverity 由严重级别与升级动作推导事故优先级
func PriorityForSeverity(severity models.Severity, risk models.RiskEscalation) models.IncidentPriority {
	if risk == models.RiskEmergency {
		return models.PriorityP1
	}
	switch severity {
	case models.SeverityCritical:
		return models.PriorityP2
	case models.SeverityWarning:
		return models.PriorityP3
	default:
		return models.PriorityP4
	}
}
