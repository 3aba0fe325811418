package config

import (
	"encoding/json"
	"fmt"

	"fleetguard-alert/internal/models"
)

// CompanyConfig 租户级行为配置（硬编码默认值 + 租户覆盖逐字段合并后的结果）
// 核心逻辑只消费合并后的完整配置，缺失键永远回落到默认值，不会是 null
type CompanyConfig struct {
	// 调查时间窗（分钟），按调查次数递进选择
	InvestigationWindows []int

	Monitoring MonitoringConfig

	// 升级矩阵：键为 warn/call/emergency
	EscalationMatrix map[string]EscalationTarget

	SafetyStreamNotify SafetyStreamNotifyConfig

	StaleVehicleMonitor StaleVehicleMonitorConfig

	// 规范行为标签列表（大小写不敏感匹配，未识别标签原样透传）
	CanonicalLabels []string

	// 事故去重时间桶（分钟）
	IncidentBucketMinutes int

	SLA SLAConfig
}

// MonitoringConfig AI监控配置
type MonitoringConfig struct {
	ConfidenceThreshold float64
	CheckIntervals      []int // 重新评估间隔（分钟），按调查次数递进
	MaxRevalidations    int   // 单个告警的最大重新评估次数
}

// EscalationTarget 升级矩阵中单个级别的通知渠道与接收人
type EscalationTarget struct {
	Channels   []string          `json:"channels"`
	Recipients []RecipientConfig `json:"recipients"`
}

// RecipientConfig 配置中的接收人条目
type RecipientConfig struct {
	RecipientType string `json:"recipient_type"`
	Phone         string `json:"phone,omitempty"`
	WhatsApp      string `json:"whatsapp,omitempty"`
	Priority      int    `json:"priority"`
}

// SafetyStreamNotifyConfig 安全流通知规则配置
type SafetyStreamNotifyConfig struct {
	Enabled bool         `json:"enabled"`
	Rules   []NotifyRule `json:"rules"`
	// 废弃的扁平标签列表（迁移路径见 MigratedRules）
	Labels []string `json:"labels,omitempty"`
}

// NotifyRule 声明式通知规则（conditions 为 AND 语义）
type NotifyRule struct {
	ID         string            `json:"id"`
	Conditions []string          `json:"conditions"`
	Action     models.RuleAction `json:"action"`
	// 可选覆盖；为空时调用方回落到升级矩阵默认值
	Channels   []string          `json:"channels,omitempty"`
	Recipients []RecipientConfig `json:"recipients,omitempty"`
}

// StaleVehicleMonitorConfig 车辆失联监控配置
type StaleVehicleMonitorConfig struct {
	Enabled          bool `json:"enabled"`
	ThresholdMinutes int  `json:"threshold_minutes"`
}

// SLAConfig 确认/处置时限配置（分钟）
type SLAConfig struct {
	AckMinutes     int
	ResolveMinutes int
}

// DefaultCompanyConfig 硬编码默认配置
func DefaultCompanyConfig() CompanyConfig {
	return CompanyConfig{
		InvestigationWindows: []int{15, 30, 60},
		Monitoring: MonitoringConfig{
			ConfidenceThreshold: 0.7,
			CheckIntervals:      []int{15, 30, 60},
			MaxRevalidations:    3,
		},
		EscalationMatrix: map[string]EscalationTarget{
			"warn": {
				Channels: []string{"whatsapp"},
			},
			"call": {
				Channels: []string{"whatsapp", "sms"},
			},
			"emergency": {
				Channels: []string{"voice", "sms", "whatsapp"},
			},
		},
		SafetyStreamNotify: SafetyStreamNotifyConfig{
			Enabled: false,
		},
		StaleVehicleMonitor: StaleVehicleMonitorConfig{
			Enabled:          false,
			ThresholdMinutes: 120,
		},
		IncidentBucketMinutes: 30,
		SLA: SLAConfig{
			AckMinutes:     15,
			ResolveMinutes: 240,
		},
	}
}

// CompanyConfigPatch 租户覆盖（JSONB 存储的稀疏结构）
// nil 字段表示「未设置」，合并时保留默认值
type CompanyConfigPatch struct {
	InvestigationWindows []int `json:"investigation_windows,omitempty"`

	Monitoring *struct {
		ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
		CheckIntervals      []int    `json:"check_intervals,omitempty"`
		MaxRevalidations    *int     `json:"max_revalidations,omitempty"`
	} `json:"monitoring,omitempty"`

	EscalationMatrix map[string]EscalationTarget `json:"escalation_matrix,omitempty"`

	SafetyStreamNotify *SafetyStreamNotifyConfig `json:"safety_stream_notify,omitempty"`

	StaleVehicleMonitor *struct {
		Enabled          *bool `json:"enabled,omitempty"`
		ThresholdMinutes *int  `json:"threshold_minutes,omitempty"`
	} `json:"stale_vehicle_monitor,omitempty"`

	CanonicalLabels []string `json:"canonical_labels,omitempty"`

	IncidentBucketMinutes *int `json:"incident_bucket_minutes,omitempty"`

	SLA *struct {
		AckMinutes     *int `json:"ack_minutes,omitempty"`
		ResolveMinutes *int `json:"resolve_minutes,omitempty"`
	} `json:"sla,omitempty"`
}

// MergeCompanyConfig 将租户覆盖逐字段合并到默认配置之上
// 合并优先级：patch 中显式设置的字段 > 默认值；切片与映射整体替换，不做深合并
func MergeCompanyConfig(base CompanyConfig, patch *CompanyConfigPatch) CompanyConfig {
	if patch == nil {
		return base
	}

	merged := base

	if len(patch.InvestigationWindows) > 0 {
		merged.InvestigationWindows = patch.InvestigationWindows
	}

	if patch.Monitoring != nil {
		if patch.Monitoring.ConfidenceThreshold != nil {
			merged.Monitoring.ConfidenceThreshold = *patch.Monitoring.ConfidenceThreshold
		}
		if len(patch.Monitoring.CheckIntervals) > 0 {
			merged.Monitoring.CheckIntervals = patch.Monitoring.CheckIntervals
		}
		if patch.Monitoring.MaxRevalidations != nil {
			merged.Monitoring.MaxRevalidations = *patch.Monitoring.MaxRevalidations
		}
	}

	if len(patch.EscalationMatrix) > 0 {
		// 逐级别覆盖：未配置的级别保留默认
		matrix := make(map[string]EscalationTarget, len(base.EscalationMatrix))
		for key, target := range base.EscalationMatrix {
			matrix[key] = target
		}
		for key, target := range patch.EscalationMatrix {
			matrix[key] = target
		}
		merged.EscalationMatrix = matrix
	}

	if patch.SafetyStreamNotify != nil {
		merged.SafetyStreamNotify = *patch.SafetyStreamNotify
	}

	if patch.StaleVehicleMonitor != nil {
		if patch.StaleVehicleMonitor.Enabled != nil {
			merged.StaleVehicleMonitor.Enabled = *patch.StaleVehicleMonitor.Enabled
		}
		if patch.StaleVehicleMonitor.ThresholdMinutes != nil {
			merged.StaleVehicleMonitor.ThresholdMinutes = *patch.StaleVehicleMonitor.ThresholdMinutes
		}
	}

	if len(patch.CanonicalLabels) > 0 {
		merged.CanonicalLabels = patch.CanonicalLabels
	}

	if patch.IncidentBucketMinutes != nil {
		merged.IncidentBucketMinutes = *patch.IncidentBucketMinutes
	}

	if patch.SLA != nil {
		if patch.SLA.AckMinutes != nil {
			merged.SLA.AckMinutes = *patch.SLA.AckMinutes
		}
		if patch.SLA.ResolveMinutes != nil {
			merged.SLA.ResolveMinutes = *patch.SLA.ResolveMinutes
		}
	}

	return merged
}

// ParseCompanyConfig 解析租户覆盖 JSON 并合并到默认配置
// rawPatch 为空时直接返回默认配置
func ParseCompanyConfig(rawPatch json.RawMessage) (CompanyConfig, error) {
	base := DefaultCompanyConfig()
	if len(rawPatch) == 0 {
		return base, nil
	}

	var patch CompanyConfigPatch
	if err := json.Unmarshal(rawPatch, &patch); err != nil {
		return CompanyConfig{}, fmt.Errorf("failed to parse company config patch: %w", err)
	}

	return MergeCompanyConfig(base, &patch), nil
}

// CheckIntervalForCount 按调查次数选择下一次检查间隔（分钟）
// 次数越多间隔越长；超出配置范围时停留在最后一档
func (c *CompanyConfig) CheckIntervalForCount(investigationCount int) int {
	intervals := c.Monitoring.CheckIntervals
	if len(intervals) == 0 {
		return 15
	}
	idx := investigationCount - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(intervals) {
		idx = len(intervals) - 1
	}
	return intervals[idx]
}
