package service

import (
	"context"
	"encoding/json"
	"testing"

	"fleetguard-alert/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func triageAlert(severity models.Severity) *models.Alert {
	return &models.Alert{
		AlertID:  "alert-1",
		TenantID: "tenant-1",
		Severity: severity,
	}
}

func TestTriageEvaluate_Critical(t *testing.T) {
	pipeline := NewTriagePipeline(zap.NewNop())

	alert := triageAlert(models.SeverityCritical)
	assessment, err := pipeline.Evaluate(context.Background(), alert)

	require.NoError(t, err)
	assert.Equal(t, models.VerdictProbableEmergency, assessment.Verdict)
	assert.Equal(t, models.RiskCall, assessment.RiskEscalation)
	assert.Equal(t, 0.85, assessment.Confidence)
	assert.Equal(t, models.LikelihoodHigh, assessment.Likelihood)
	assert.Nil(t, assessment.MonitoringReason)
}

func TestTriageEvaluate_CriticalEscalated(t *testing.T) {
	pipeline := NewTriagePipeline(zap.NewNop())

	alert := triageAlert(models.SeverityCritical)
	alert.EscalationLevel = 2
	assessment, err := pipeline.Evaluate(context.Background(), alert)

	require.NoError(t, err)
	assert.Equal(t, models.VerdictConfirmedEmergency, assessment.Verdict)
	assert.Equal(t, models.RiskEmergency, assessment.RiskEscalation)
}

func TestTriageEvaluate_WarningFirstPassMonitors(t *testing.T) {
	pipeline := NewTriagePipeline(zap.NewNop())

	alert := triageAlert(models.SeverityWarning)
	assessment, err := pipeline.Evaluate(context.Background(), alert)

	require.NoError(t, err)
	// 首轮 warning 置信度 0.55 < 0.7：要求继续观察
	assert.Equal(t, models.VerdictSuspiciousActivity, assessment.Verdict)
	require.NotNil(t, assessment.MonitoringReason)
	assert.NotEmpty(t, *assessment.MonitoringReason)
	assert.Equal(t, models.RiskWarn, assessment.RiskEscalation)
	assert.Equal(t, models.LikelihoodMedium, assessment.Likelihood)
}

func TestTriageEvaluate_WarningConfidenceGrowsWithInvestigations(t *testing.T) {
	pipeline := NewTriagePipeline(zap.NewNop())

	alert := triageAlert(models.SeverityWarning)
	alert.AI = &models.AlertAI{InvestigationCount: 1}
	assessment, err := pipeline.Evaluate(context.Background(), alert)

	require.NoError(t, err)
	// 0.55 + 0.15 = 0.70：达到阈值后转人工复核
	assert.InDelta(t, 0.70, assessment.Confidence, 1e-9)
	assert.Equal(t, models.VerdictNeedsHumanReview, assessment.Verdict)
	assert.Nil(t, assessment.MonitoringReason)
}

func TestTriageEvaluate_ConfidenceCapped(t *testing.T) {
	pipeline := NewTriagePipeline(zap.NewNop())

	alert := triageAlert(models.SeverityCritical)
	alert.AI = &models.AlertAI{InvestigationCount: 5}
	assessment, err := pipeline.Evaluate(context.Background(), alert)

	require.NoError(t, err)
	assert.Equal(t, 0.95, assessment.Confidence)
}

func TestTriageEvaluate_InfoBenign(t *testing.T) {
	pipeline := NewTriagePipeline(zap.NewNop())

	assessment, err := pipeline.Evaluate(context.Background(), triageAlert(models.SeverityInfo))

	require.NoError(t, err)
	assert.Equal(t, models.VerdictBenign, assessment.Verdict)
	assert.Equal(t, models.RiskMonitor, assessment.RiskEscalation)
	assert.Equal(t, models.LikelihoodLow, assessment.Likelihood)
}

func TestTriageEvaluate_Deterministic(t *testing.T) {
	pipeline := NewTriagePipeline(zap.NewNop())
	alert := triageAlert(models.SeverityWarning)

	first, err := pipeline.Evaluate(context.Background(), alert)
	require.NoError(t, err)
	second, err := pipeline.Evaluate(context.Background(), alert)
	require.NoError(t, err)

	// 同一告警同一轮次：评估结果可复现
	assert.Equal(t, first.Verdict, second.Verdict)
	assert.Equal(t, first.Confidence, second.Confidence)
	assert.Equal(t, first.RiskEscalation, second.RiskEscalation)
}

func TestTriageEvaluate_RawPayload(t *testing.T) {
	pipeline := NewTriagePipeline(zap.NewNop())

	dedupeKey := "harsh_braking:vehicle:v-1"
	alert := triageAlert(models.SeverityCritical)
	alert.DedupeKey = &dedupeKey
	assessment, err := pipeline.Evaluate(context.Background(), alert)

	require.NoError(t, err)
	assert.Equal(t, dedupeKey, assessment.DedupeKey)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(assessment.Raw, &payload))
	assert.Equal(t, "builtin-triage", payload["engine"])
	assert.Equal(t, dedupeKey, payload["dedupe_key"])
}

func TestTriageEvaluate_RequiresAlert(t *testing.T) {
	pipeline := NewTriagePipeline(zap.NewNop())

	_, err := pipeline.Evaluate(context.Background(), nil)
	assert.Error(t, err)
}
