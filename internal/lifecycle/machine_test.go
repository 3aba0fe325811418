package lifecycle

import (
	"testing"
	"time"

	"fleetguard-alert/internal/config"
	"fleetguard-alert/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestMachine(maxInvestigations int) *Machine {
	return NewMachine(maxInvestigations, zap.NewNop())
}

func pendingAlert() *models.Alert {
	return &models.Alert{
		AlertID:  "alert-1",
		TenantID: "tenant-1",
		AIStatus: models.AIStatusPending,
		Severity: models.SeverityWarning,
	}
}

func testAssessment() *models.Assessment {
	return &models.Assessment{
		Verdict:        models.VerdictSuspiciousActivity,
		Likelihood:     models.LikelihoodMedium,
		Confidence:     0.6,
		Reasoning:      "needs another look",
		RiskEscalation: models.RiskWarn,
		DedupeKey:      "speeding:vehicle:v-1",
	}
}

func TestMarkAsProcessing_FromPending(t *testing.T) {
	m := newTestMachine(3)
	alert := pendingAlert()
	now := time.Now()

	err := m.MarkAsProcessing(alert, now)

	require.NoError(t, err)
	assert.Equal(t, models.AIStatusProcessing, alert.AIStatus)
	assert.Equal(t, now, alert.UpdatedAt)
}

func TestMarkAsProcessing_RejectsNonPending(t *testing.T) {
	m := newTestMachine(3)
	alert := pendingAlert()
	alert.AIStatus = models.AIStatusInvestigating

	err := m.MarkAsProcessing(alert, time.Now())

	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, models.AIStatusInvestigating, alert.AIStatus)
}

func TestMarkAsCompleted_AppliesAssessment(t *testing.T) {
	m := newTestMachine(3)
	alert := pendingAlert()
	alert.AIStatus = models.AIStatusProcessing
	assessment := testAssessment()
	now := time.Now()

	err := m.MarkAsCompleted(alert, assessment, "all clear", nil, now)

	require.NoError(t, err)
	assert.Equal(t, models.AIStatusCompleted, alert.AIStatus)
	require.NotNil(t, alert.Verdict)
	assert.Equal(t, models.VerdictSuspiciousActivity, *alert.Verdict)
	require.NotNil(t, alert.Confidence)
	assert.Equal(t, 0.6, *alert.Confidence)
	require.NotNil(t, alert.DedupeKey)
	assert.Equal(t, "speeding:vehicle:v-1", *alert.DedupeKey)
	require.NotNil(t, alert.AIMessage)
	assert.Equal(t, "all clear", *alert.AIMessage)
	require.NotNil(t, alert.AI)
}

func TestMarkAsCompleted_UnknownRiskEscalationFailsHigh(t *testing.T) {
	m := newTestMachine(3)
	alert := pendingAlert()
	alert.AIStatus = models.AIStatusProcessing
	alert.RiskEscalation = models.RiskMonitor
	assessment := testAssessment()
	assessment.RiskEscalation = models.RiskEscalation("URGENT!!")

	err := m.MarkAsCompleted(alert, assessment, "", nil, time.Now())

	// 未识别的升级动作不得原样落库造成静默降级，必须升格为 call
	require.NoError(t, err)
	assert.Equal(t, models.RiskCall, alert.RiskEscalation)
	assert.True(t, alert.RiskEscalation.RequiresUrgentResponse())
}

func TestMarkAsCompleted_EmptyRiskEscalationKeepsExisting(t *testing.T) {
	m := newTestMachine(3)
	alert := pendingAlert()
	alert.AIStatus = models.AIStatusProcessing
	alert.RiskEscalation = models.RiskWarn
	assessment := testAssessment()
	assessment.RiskEscalation = ""

	err := m.MarkAsCompleted(alert, assessment, "", nil, time.Now())

	require.NoError(t, err)
	assert.Equal(t, models.RiskWarn, alert.RiskEscalation)
}

func TestMarkAsCompleted_RequiresAssessment(t *testing.T) {
	m := newTestMachine(3)
	alert := pendingAlert()
	alert.AIStatus = models.AIStatusProcessing

	err := m.MarkAsCompleted(alert, nil, "", nil, time.Now())

	assert.Error(t, err)
	assert.Equal(t, models.AIStatusProcessing, alert.AIStatus)
}

func TestTerminalStatesRejectAllTransitions(t *testing.T) {
	m := newTestMachine(3)

	for _, status := range []models.AIStatus{models.AIStatusCompleted, models.AIStatusFailed} {
		alert := pendingAlert()
		alert.AIStatus = status

		assert.ErrorIs(t, m.MarkAsProcessing(alert, time.Now()), ErrTerminalState)
		assert.ErrorIs(t, m.MarkAsCompleted(alert, testAssessment(), "", nil, time.Now()), ErrTerminalState)
		assert.ErrorIs(t, m.MarkAsInvestigating(alert, testAssessment(), "", 15, time.Now()), ErrTerminalState)
		assert.ErrorIs(t, m.MarkAsFailed(alert, "boom", time.Now()), ErrTerminalState)
	}
}

func TestMarkAsInvestigating_IncrementsCountAndStamps(t *testing.T) {
	m := newTestMachine(3)
	alert := pendingAlert()
	alert.AIStatus = models.AIStatusProcessing
	now := time.Now()

	err := m.MarkAsInvestigating(alert, testAssessment(), "watching", 15, now)

	require.NoError(t, err)
	assert.Equal(t, models.AIStatusInvestigating, alert.AIStatus)
	require.NotNil(t, alert.AI)
	assert.Equal(t, 1, alert.AI.InvestigationCount)
	assert.Equal(t, 15, alert.AI.NextCheckMinutes)
	require.NotNil(t, alert.AI.LastInvestigationAt)
	assert.Equal(t, now, *alert.AI.LastInvestigationAt)
}

func TestMarkAsInvestigating_LimitCheckedBeforeMutation(t *testing.T) {
	m := newTestMachine(2)
	alert := pendingAlert()
	alert.AIStatus = models.AIStatusInvestigating
	alert.AI = &models.AlertAI{AlertID: alert.AlertID, InvestigationCount: 2}

	err := m.MarkAsInvestigating(alert, testAssessment(), "", 15, time.Now())

	assert.ErrorIs(t, err, ErrInvestigationLimit)
	// 上限检查发生在任何写入之前
	assert.Equal(t, 2, alert.AI.InvestigationCount)
	assert.Equal(t, models.AIStatusInvestigating, alert.AIStatus)
	assert.Nil(t, alert.Verdict)
}

func TestMarkAsInvestigating_RejectsPending(t *testing.T) {
	m := newTestMachine(3)
	alert := pendingAlert()

	err := m.MarkAsInvestigating(alert, testAssessment(), "", 15, time.Now())

	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestMarkAsFailed_CreatesAIRecordOnDemand(t *testing.T) {
	m := newTestMachine(3)
	alert := pendingAlert()
	alert.AIStatus = models.AIStatusProcessing

	err := m.MarkAsFailed(alert, "pipeline timeout", time.Now())

	require.NoError(t, err)
	assert.Equal(t, models.AIStatusFailed, alert.AIStatus)
	require.NotNil(t, alert.AI)
	require.NotNil(t, alert.AI.AIError)
	assert.Equal(t, "pipeline timeout", *alert.AI.AIError)
}

func TestMarkAsFailed_PreservesExistingInvestigationData(t *testing.T) {
	m := newTestMachine(3)
	alert := pendingAlert()
	alert.AIStatus = models.AIStatusInvestigating
	alert.AI = &models.AlertAI{AlertID: alert.AlertID, InvestigationCount: 2, NextCheckMinutes: 30}

	err := m.MarkAsFailed(alert, "", time.Now())

	require.NoError(t, err)
	assert.Equal(t, 2, alert.AI.InvestigationCount)
	assert.Equal(t, 30, alert.AI.NextCheckMinutes)
	require.NotNil(t, alert.AI.AIError)
	// 空错误消息回落到占位文本
	assert.Equal(t, "unknown error", *alert.AI.AIError)
}

func TestShouldRevalidate_FalseForNonInvestigating(t *testing.T) {
	m := newTestMachine(3)

	for _, status := range []models.AIStatus{
		models.AIStatusPending, models.AIStatusProcessing,
		models.AIStatusCompleted, models.AIStatusFailed,
	} {
		alert := pendingAlert()
		alert.AIStatus = status
		assert.False(t, m.ShouldRevalidate(alert, time.Now()), "status %s", status)
	}
}

func TestShouldRevalidate_TrueWhenNoAIRecord(t *testing.T) {
	m := newTestMachine(3)
	alert := pendingAlert()
	alert.AIStatus = models.AIStatusInvestigating

	assert.True(t, m.ShouldRevalidate(alert, time.Now()))
}

func TestShouldRevalidate_ZeroIntervalAlwaysEligible(t *testing.T) {
	m := newTestMachine(3)
	now := time.Now()
	alert := pendingAlert()
	alert.AIStatus = models.AIStatusInvestigating
	alert.AI = &models.AlertAI{
		AlertID:             alert.AlertID,
		NextCheckMinutes:    0,
		LastInvestigationAt: &now,
	}

	assert.True(t, m.ShouldRevalidate(alert, now))
}

func TestShouldRevalidate_ElapsedWindow(t *testing.T) {
	m := newTestMachine(3)
	base := time.Now()
	lastAt := base.Add(-10 * time.Minute)
	alert := pendingAlert()
	alert.AIStatus = models.AIStatusInvestigating
	alert.AI = &models.AlertAI{
		AlertID:             alert.AlertID,
		NextCheckMinutes:    15,
		LastInvestigationAt: &lastAt,
	}

	// 10分钟 < 15分钟窗口
	assert.False(t, m.ShouldRevalidate(alert, base))
	// 16分钟后到期
	assert.True(t, m.ShouldRevalidate(alert, base.Add(6*time.Minute)))
}

func TestAddInvestigationRecord_AmendThenAppend(t *testing.T) {
	m := newTestMachine(3)
	alert := pendingAlert()
	alert.AIStatus = models.AIStatusProcessing
	now := time.Now()

	require.NoError(t, m.MarkAsInvestigating(alert, testAssessment(), "", 15, now))
	m.AddInvestigationRecord(alert, "first pass", now)
	require.Len(t, alert.AI.History, 1)

	// 同一 investigation_count 再次调用：就地修订，长度不变
	m.AddInvestigationRecord(alert, "amended reason", now.Add(time.Minute))
	require.Len(t, alert.AI.History, 1)
	require.NotNil(t, alert.AI.History[0].AIReason)
	assert.Equal(t, "amended reason", *alert.AI.History[0].AIReason)

	// 递增后调用：追加新条目
	require.NoError(t, m.MarkAsInvestigating(alert, testAssessment(), "", 30, now.Add(16*time.Minute)))
	m.AddInvestigationRecord(alert, "second pass", now.Add(17*time.Minute))
	require.Len(t, alert.AI.History, 2)
	assert.Equal(t, 2, alert.AI.History[1].InvestigationNumber)
}

func TestAddInvestigationRecord_NoOpWithoutAIRecord(t *testing.T) {
	m := newTestMachine(3)
	alert := pendingAlert()

	m.AddInvestigationRecord(alert, "anything", time.Now())

	assert.Nil(t, alert.AI)
}

func TestMaxInvestigations_Defaults(t *testing.T) {
	assert.Equal(t, 3, MaxInvestigations(nil))

	cfg := config.DefaultCompanyConfig()
	cfg.Monitoring.MaxRevalidations = 0
	assert.Equal(t, 3, MaxInvestigations(&cfg))

	cfg.Monitoring.MaxRevalidations = 5
	assert.Equal(t, 5, MaxInvestigations(&cfg))
}

// 完整生命周期场景：pending → processing → investigating → 重新评估到期
func TestLifecycleScenario(t *testing.T) {
	m := newTestMachine(3)
	alert := pendingAlert()
	start := time.Now()

	require.NoError(t, m.MarkAsProcessing(alert, start))
	assert.Equal(t, models.AIStatusProcessing, alert.AIStatus)

	require.NoError(t, m.MarkAsInvestigating(alert, testAssessment(), "msg", 15, start))
	assert.Equal(t, models.AIStatusInvestigating, alert.AIStatus)
	assert.Equal(t, 1, alert.AI.InvestigationCount)
	assert.Equal(t, 15, alert.AI.NextCheckMinutes)

	// 立即查询：未到期
	assert.False(t, m.ShouldRevalidate(alert, start))
	// 模拟16分钟流逝：到期
	assert.True(t, m.ShouldRevalidate(alert, start.Add(16*time.Minute)))
}
