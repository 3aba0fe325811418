package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveSeverity_CriticalWins(t *testing.T) {
	// critical 标签一票否决，无论其他标签是什么
	severity := DeriveSeverity([]string{"speeding", "crash", "harsh_braking"})
	assert.Equal(t, SeverityCritical, severity)
}

func TestDeriveSeverity_WarningWithoutCritical(t *testing.T) {
	severity := DeriveSeverity([]string{"speeding", "tailgating"})
	assert.Equal(t, SeverityWarning, severity)
}

func TestDeriveSeverity_UnknownLabelsAreInfo(t *testing.T) {
	severity := DeriveSeverity([]string{"engine_idle", "route_deviation"})
	assert.Equal(t, SeverityInfo, severity)
}

func TestDeriveSeverity_Idempotent(t *testing.T) {
	labels := []string{"Harsh_Braking", "drowsiness"}

	first := DeriveSeverity(labels)
	second := DeriveSeverity(labels)

	assert.Equal(t, first, second)
	assert.Equal(t, SeverityWarning, first)
}

func TestDeriveSeverity_CaseInsensitive(t *testing.T) {
	assert.Equal(t, SeverityCritical, DeriveSeverity([]string{"  CRASH  "}))
}

func TestSignal_LabelSet_DeduplicatesAndKeepsOrder(t *testing.T) {
	signal := &Signal{
		PrimaryLabel: "harsh_braking",
		BehaviorLabels: []BehaviorLabel{
			{Name: "Harsh_Braking"}, // 与主标签只差大小写，应去重
			{Name: "speeding"},
			{Name: ""},
			{Name: "speeding"},
		},
	}

	labels := signal.LabelSet()

	assert.Equal(t, []string{"harsh_braking", "speeding"}, labels)
}

func TestSignal_RederiveSeverity(t *testing.T) {
	signal := &Signal{
		PrimaryLabel: "panic_button",
		Severity:     SeverityInfo, // 上游给错的严重级别
	}

	signal.RederiveSeverity()

	assert.Equal(t, SeverityCritical, signal.Severity)
}

func TestAlert_EscalationMatrixKey(t *testing.T) {
	assert.Equal(t, "emergency", (&Alert{EscalationLevel: 2}).EscalationMatrixKey())
	assert.Equal(t, "call", (&Alert{EscalationLevel: 1}).EscalationMatrixKey())
	assert.Equal(t, "warn", (&Alert{EscalationLevel: 0}).EscalationMatrixKey())
	assert.Equal(t, "warn", (&Alert{EscalationLevel: -1}).EscalationMatrixKey())
}

func TestAIStatus_Terminal(t *testing.T) {
	assert.True(t, AIStatusCompleted.Terminal())
	assert.True(t, AIStatusFailed.Terminal())
	assert.False(t, AIStatusPending.Terminal())
	assert.False(t, AIStatusProcessing.Terminal())
	assert.False(t, AIStatusInvestigating.Terminal())
}

func TestRiskEscalation_RequiresUrgentResponse(t *testing.T) {
	assert.True(t, RiskCall.RequiresUrgentResponse())
	assert.True(t, RiskEmergency.RequiresUrgentResponse())
	assert.False(t, RiskWarn.RequiresUrgentResponse())
	assert.False(t, RiskMonitor.RequiresUrgentResponse())
}

func TestNormalizeRiskEscalation(t *testing.T) {
	// 规范值大小写/空白不敏感
	assert.Equal(t, RiskMonitor, NormalizeRiskEscalation("monitor"))
	assert.Equal(t, RiskEmergency, NormalizeRiskEscalation("  EMERGENCY  "))

	// 空值原样通过，调用方据此跳过回填
	assert.Equal(t, RiskEscalation(""), NormalizeRiskEscalation(""))

	// 未识别值升格为 call，不允许静默降级
	assert.Equal(t, RiskCall, NormalizeRiskEscalation("URGENT!!"))
	assert.Equal(t, RiskCall, NormalizeRiskEscalation("escalate-now"))
}
