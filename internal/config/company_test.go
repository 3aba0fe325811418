package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCompanyConfig(t *testing.T) {
	cfg := DefaultCompanyConfig()

	assert.Equal(t, []int{15, 30, 60}, cfg.InvestigationWindows)
	assert.Equal(t, 0.7, cfg.Monitoring.ConfidenceThreshold)
	assert.Equal(t, 3, cfg.Monitoring.MaxRevalidations)
	assert.Equal(t, 30, cfg.IncidentBucketMinutes)
	assert.Equal(t, 15, cfg.SLA.AckMinutes)
	assert.False(t, cfg.SafetyStreamNotify.Enabled)

	// 升级矩阵三档齐全
	require.Contains(t, cfg.EscalationMatrix, "warn")
	require.Contains(t, cfg.EscalationMatrix, "call")
	require.Contains(t, cfg.EscalationMatrix, "emergency")
	assert.Equal(t, []string{"voice", "sms", "whatsapp"}, cfg.EscalationMatrix["emergency"].Channels)
}

func TestMergeCompanyConfig_NilPatchReturnsBase(t *testing.T) {
	base := DefaultCompanyConfig()

	merged := MergeCompanyConfig(base, nil)

	assert.Equal(t, base, merged)
}

func TestMergeCompanyConfig_PartialOverride(t *testing.T) {
	base := DefaultCompanyConfig()
	threshold := 0.9
	maxRevalidations := 5
	patch := &CompanyConfigPatch{
		Monitoring: &struct {
			ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
			CheckIntervals      []int    `json:"check_intervals,omitempty"`
			MaxRevalidations    *int     `json:"max_revalidations,omitempty"`
		}{
			ConfidenceThreshold: &threshold,
			MaxRevalidations:    &maxRevalidations,
		},
	}

	merged := MergeCompanyConfig(base, patch)

	// 显式设置的字段覆盖
	assert.Equal(t, 0.9, merged.Monitoring.ConfidenceThreshold)
	assert.Equal(t, 5, merged.Monitoring.MaxRevalidations)
	// 未设置的字段保留默认
	assert.Equal(t, []int{15, 30, 60}, merged.Monitoring.CheckIntervals)
	assert.Equal(t, base.SLA, merged.SLA)
}

func TestMergeCompanyConfig_MatrixMergedPerLevel(t *testing.T) {
	base := DefaultCompanyConfig()
	patch := &CompanyConfigPatch{
		EscalationMatrix: map[string]EscalationTarget{
			"emergency": {Channels: []string{"voice"}},
		},
	}

	merged := MergeCompanyConfig(base, patch)

	// 覆盖的级别生效
	assert.Equal(t, []string{"voice"}, merged.EscalationMatrix["emergency"].Channels)
	// 未覆盖的级别保留默认
	assert.Equal(t, base.EscalationMatrix["warn"].Channels, merged.EscalationMatrix["warn"].Channels)
	assert.Equal(t, base.EscalationMatrix["call"].Channels, merged.EscalationMatrix["call"].Channels)
	// base 不被就地修改
	assert.Equal(t, []string{"voice", "sms", "whatsapp"}, base.EscalationMatrix["emergency"].Channels)
}

func TestParseCompanyConfig_EmptyPatchReturnsDefaults(t *testing.T) {
	cfg, err := ParseCompanyConfig(nil)

	require.NoError(t, err)
	assert.Equal(t, DefaultCompanyConfig(), cfg)
}

func TestParseCompanyConfig_JSONOverlay(t *testing.T) {
	raw := json.RawMessage(`{
		"investigation_windows": [5, 10],
		"incident_bucket_minutes": 60,
		"safety_stream_notify": {
			"enabled": true,
			"rules": [
				{"id": "r1", "conditions": ["crash"], "action": "both"}
			]
		}
	}`)

	cfg, err := ParseCompanyConfig(raw)

	require.NoError(t, err)
	assert.Equal(t, []int{5, 10}, cfg.InvestigationWindows)
	assert.Equal(t, 60, cfg.IncidentBucketMinutes)
	assert.True(t, cfg.SafetyStreamNotify.Enabled)
	require.Len(t, cfg.SafetyStreamNotify.Rules, 1)
	assert.Equal(t, "r1", cfg.SafetyStreamNotify.Rules[0].ID)
	// 未覆盖的字段保留默认
	assert.Equal(t, 0.7, cfg.Monitoring.ConfidenceThreshold)
}

func TestParseCompanyConfig_InvalidJSON(t *testing.T) {
	_, err := ParseCompanyConfig(json.RawMessage(`{not json`))

	assert.Error(t, err)
}

func TestCheckIntervalForCount(t *testing.T) {
	cfg := DefaultCompanyConfig() // intervals: 15, 30, 60

	assert.Equal(t, 15, cfg.CheckIntervalForCount(0)) // 下界夹取
	assert.Equal(t, 15, cfg.CheckIntervalForCount(1))
	assert.Equal(t, 30, cfg.CheckIntervalForCount(2))
	assert.Equal(t, 60, cfg.CheckIntervalForCount(3))
	assert.Equal(t, 60, cfg.CheckIntervalForCount(9)) // 超出停留在最后一档

	cfg.Monitoring.CheckIntervals = nil
	assert.Equal(t, 15, cfg.CheckIntervalForCount(1)) // 空配置回落
}
