package incident

import (
	"testing"
	"time"

	"fleetguard-alert/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string {
	return &s
}

func TestGenerateDedupeKey_Deterministic(t *testing.T) {
	detectedAt := time.Unix(1700000000, 0)

	key1 := GenerateDedupeKey(models.IncidentTypeCollision, strPtr("vehicle"), strPtr("v-1"), detectedAt, 30)
	key2 := GenerateDedupeKey(models.IncidentTypeCollision, strPtr("vehicle"), strPtr("v-1"), detectedAt, 30)

	assert.Equal(t, key1, key2)
	assert.Equal(t, "collision:vehicle:v-1:1699999200", key1)
}

func TestGenerateDedupeKey_SameBucketCollides(t *testing.T) {
	base := time.Unix(1700000000, 0)

	key1 := GenerateDedupeKey(models.IncidentTypeCollision, strPtr("vehicle"), strPtr("v-1"), base, 30)
	// 同一30分钟桶内的稍晚时间戳
	key2 := GenerateDedupeKey(models.IncidentTypeCollision, strPtr("vehicle"), strPtr("v-1"), base.Add(5*time.Minute), 30)
	// 下一个桶
	key3 := GenerateDedupeKey(models.IncidentTypeCollision, strPtr("vehicle"), strPtr("v-1"), base.Add(31*time.Minute), 30)

	assert.Equal(t, key1, key2)
	assert.NotEqual(t, key1, key3)
}

func TestGenerateDedupeKey_NilSubjectOmitted(t *testing.T) {
	detectedAt := time.Unix(1700000000, 0)

	key := GenerateDedupeKey(models.IncidentTypeEmergency, nil, nil, detectedAt, 30)

	// 空主体字段直接省略，不用占位符
	assert.Equal(t, "emergency:1699999200", key)
}

func TestGenerateDedupeKey_ZeroBucketUsesDefault(t *testing.T) {
	detectedAt := time.Unix(1700000000, 0)

	withZero := GenerateDedupeKey(models.IncidentTypeCollision, nil, nil, detectedAt, 0)
	withDefault := GenerateDedupeKey(models.IncidentTypeCollision, nil, nil, detectedAt, DefaultBucketMinutes)

	assert.Equal(t, withDefault, withZero)
}

func TestCanTransition_LegalTable(t *testing.T) {
	legal := []struct {
		from, to models.IncidentStatus
	}{
		{models.IncidentStatusOpen, models.IncidentStatusInvestigating},
		{models.IncidentStatusOpen, models.IncidentStatusPendingAction},
		{models.IncidentStatusOpen, models.IncidentStatusResolved},
		{models.IncidentStatusOpen, models.IncidentStatusFalsePositive},
		{models.IncidentStatusInvestigating, models.IncidentStatusPendingAction},
		{models.IncidentStatusInvestigating, models.IncidentStatusResolved},
		{models.IncidentStatusInvestigating, models.IncidentStatusFalsePositive},
		{models.IncidentStatusPendingAction, models.IncidentStatusResolved},
		{models.IncidentStatusPendingAction, models.IncidentStatusFalsePositive},
	}
	for _, tc := range legal {
		assert.True(t, CanTransition(tc.from, tc.to), "%s -> %s should be legal", tc.from, tc.to)
	}

	illegal := []struct {
		from, to models.IncidentStatus
	}{
		{models.IncidentStatusInvestigating, models.IncidentStatusOpen}, // 不允许回退
		{models.IncidentStatusPendingAction, models.IncidentStatusInvestigating},
		{models.IncidentStatusResolved, models.IncidentStatusOpen}, // 终态不可离开
		{models.IncidentStatusResolved, models.IncidentStatusFalsePositive},
		{models.IncidentStatusFalsePositive, models.IncidentStatusResolved},
	}
	for _, tc := range illegal {
		assert.False(t, CanTransition(tc.from, tc.to), "%s -> %s should be illegal", tc.from, tc.to)
	}
}

func TestTransition_IllegalReturnsTypedError(t *testing.T) {
	incident := &models.Incident{Status: models.IncidentStatusResolved}

	err := Transition(incident, models.IncidentStatusOpen, time.Now())

	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.Equal(t, models.IncidentStatusResolved, incident.Status)
}

func TestMarkAsResolved_NilSummaryKeepsExisting(t *testing.T) {
	existing := "earlier summary"
	incident := &models.Incident{
		Status:    models.IncidentStatusInvestigating,
		AISummary: &existing,
	}
	now := time.Now()

	err := MarkAsResolved(incident, nil, now)

	require.NoError(t, err)
	assert.Equal(t, models.IncidentStatusResolved, incident.Status)
	require.NotNil(t, incident.ResolvedAt)
	// summary 为 nil 时绝不覆盖既有摘要
	require.NotNil(t, incident.AISummary)
	assert.Equal(t, "earlier summary", *incident.AISummary)
}

func TestMarkAsResolved_SummaryProvided(t *testing.T) {
	incident := &models.Incident{Status: models.IncidentStatusOpen}

	err := MarkAsResolved(incident, strPtr("final summary"), time.Now())

	require.NoError(t, err)
	require.NotNil(t, incident.AISummary)
	assert.Equal(t, "final summary", *incident.AISummary)
}

func TestMarkAsFalsePositive(t *testing.T) {
	incident := &models.Incident{Status: models.IncidentStatusOpen}

	err := MarkAsFalsePositive(incident, nil, time.Now())

	require.NoError(t, err)
	assert.Equal(t, models.IncidentStatusFalsePositive, incident.Status)
	assert.NotNil(t, incident.ResolvedAt)

	// 终态后再标记失败
	err = MarkAsResolved(incident, nil, time.Now())
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestTypeForLabels(t *testing.T) {
	assert.Equal(t, models.IncidentTypeCollision, TypeForLabels([]string{"speeding", "crash"}))
	assert.Equal(t, models.IncidentTypeEmergency, TypeForLabels([]string{"panic_button"}))
	assert.Equal(t, models.IncidentTypeTampering, TypeForLabels([]string{"camera_obstruction"}))
	assert.Equal(t, models.IncidentTypeSafetyViolation, TypeForLabels([]string{"speeding", "tailgating"}))
	assert.Equal(t, models.IncidentTypeUnknown, TypeForLabels([]string{"engine_idle"}))
	assert.Equal(t, models.IncidentTypeUnknown, TypeForLabels(nil))
}

func TestPriorityForSeverity(t *testing.T) {
	assert.Equal(t, models.PriorityP1, PriorityForSeverity(models.SeverityWarning, models.RiskEmergency))
	assert.Equal(t, models.PriorityP2, PriorityForSeverity(models.SeverityCritical, models.RiskCall))
	assert.Equal(t, models.PriorityP3, PriorityForSeverity(models.SeverityWarning, models.RiskWarn))
	assert.Equal(t, models.PriorityP4, PriorityForSeverity(models.SeverityInfo, models.RiskMonitor))
}
