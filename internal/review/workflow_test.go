package review

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"fleetguard-alert/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeAlertStore 内存假实现（记录调用参数；状态与留痕作为一个单元接收）
type fakeAlertStore struct {
	updates []fakeStatusUpdate
	failErr error
}

type fakeStatusUpdate struct {
	tenantID   string
	alertID    string
	status     models.HumanStatus
	reviewedBy string
	entry      *models.ActivityEntry
}

func (f *fakeAlertStore) UpdateHumanStatusWithActivity(_ context.Context, tenantID, alertID string, status models.HumanStatus, reviewedBy string, _ time.Time, entry *models.ActivityEntry) error {
	if f.failErr != nil {
		return f.failErr
	}
	f.updates = append(f.updates, fakeStatusUpdate{tenantID, alertID, status, reviewedBy, entry})
	return nil
}

type fakeActivityStore struct {
	activities []*models.ActivityEntry
	comments   []*models.AlertComment
}

func (f *fakeActivityStore) RecordActivity(_ context.Context, _ string, entry *models.ActivityEntry) error {
	f.activities = append(f.activities, entry)
	return nil
}

func (f *fakeActivityStore) CreateComment(_ context.Context, _ string, comment *models.AlertComment) error {
	f.comments = append(f.comments, comment)
	return nil
}

func setupWorkflow() (*Workflow, *fakeAlertStore, *fakeActivityStore) {
	alerts := &fakeAlertStore{}
	activity := &fakeActivityStore{}
	return NewWorkflow(alerts, activity, zap.NewNop()), alerts, activity
}

func reviewAlert() *models.Alert {
	return &models.Alert{
		AlertID:     "alert-1",
		TenantID:    "tenant-1",
		HumanStatus: models.HumanStatusPending,
	}
}

func TestSetHumanStatus_Success(t *testing.T) {
	w, alerts, _ := setupWorkflow()
	alert := reviewAlert()
	now := time.Now()

	err := w.SetHumanStatus(context.Background(), alert, models.HumanStatusReviewed, "user-9", now)

	require.NoError(t, err)

	// 持久化调用
	require.Len(t, alerts.updates, 1)
	assert.Equal(t, "tenant-1", alerts.updates[0].tenantID)
	assert.Equal(t, models.HumanStatusReviewed, alerts.updates[0].status)
	assert.Equal(t, "user-9", alerts.updates[0].reviewedBy)

	// 内存对象同步更新并盖章
	assert.Equal(t, models.HumanStatusReviewed, alert.HumanStatus)
	require.NotNil(t, alert.ReviewedByID)
	assert.Equal(t, "user-9", *alert.ReviewedByID)
	require.NotNil(t, alert.ReviewedAt)

	// 活动留痕与状态更新一起交给存储层（同一原子单元）
	entry := alerts.updates[0].entry
	require.NotNil(t, entry)
	assert.Equal(t, ActivityHumanStatusChanged, entry.ActivityType)

	var metadata map[string]string
	require.NoError(t, json.Unmarshal(entry.Metadata, &metadata))
	assert.Equal(t, "pending", metadata["old_status"])
	assert.Equal(t, "reviewed", metadata["new_status"])
}

func TestSetHumanStatus_StoreFailureNoMutation(t *testing.T) {
	w, alerts, _ := setupWorkflow()
	alerts.failErr = assert.AnError
	alert := reviewAlert()

	err := w.SetHumanStatus(context.Background(), alert, models.HumanStatusReviewed, "user-9", time.Now())

	// 存储失败时内存对象不发生任何变更
	assert.Error(t, err)
	assert.Equal(t, models.HumanStatusPending, alert.HumanStatus)
	assert.Nil(t, alert.ReviewedByID)
	assert.Nil(t, alert.ReviewedAt)
}

func TestSetHumanStatus_InvalidStatusNoMutation(t *testing.T) {
	w, alerts, activity := setupWorkflow()
	alert := reviewAlert()

	err := w.SetHumanStatus(context.Background(), alert, models.HumanStatus("bogus"), "user-9", time.Now())

	assert.ErrorIs(t, err, ErrInvalidHumanStatus)
	// 无任何写入、无任何内存变更
	assert.Empty(t, alerts.updates)
	assert.Empty(t, activity.activities)
	assert.Equal(t, models.HumanStatusPending, alert.HumanStatus)
	assert.Nil(t, alert.ReviewedByID)
}

func TestSetHumanStatus_RequiresActor(t *testing.T) {
	w, alerts, _ := setupWorkflow()
	alert := reviewAlert()

	err := w.SetHumanStatus(context.Background(), alert, models.HumanStatusFlagged, "", time.Now())

	assert.Error(t, err)
	assert.Empty(t, alerts.updates)
}

func TestSetHumanStatus_AllTargetStatesReachableFromPending(t *testing.T) {
	// 5状态机无强制顺序：pending 可直达任意目标状态
	for _, status := range []models.HumanStatus{
		models.HumanStatusReviewed,
		models.HumanStatusFlagged,
		models.HumanStatusResolved,
		models.HumanStatusFalsePositive,
	} {
		w, _, _ := setupWorkflow()
		alert := reviewAlert()

		err := w.SetHumanStatus(context.Background(), alert, status, "user-9", time.Now())

		require.NoError(t, err, "status %s", status)
		assert.Equal(t, status, alert.HumanStatus)
	}
}

func TestAddComment_Success(t *testing.T) {
	w, _, activity := setupWorkflow()
	alert := reviewAlert()

	comment, err := w.AddComment(context.Background(), alert, "user-9", "looks like a pothole, not a crash", time.Now())

	require.NoError(t, err)
	require.NotNil(t, comment)
	assert.Equal(t, "alert-1", comment.AlertID)
	assert.NotEmpty(t, comment.CommentID)

	require.Len(t, activity.comments, 1)
	require.Len(t, activity.activities, 1)
	assert.Equal(t, ActivityCommentAdded, activity.activities[0].ActivityType)

	var metadata map[string]string
	require.NoError(t, json.Unmarshal(activity.activities[0].Metadata, &metadata))
	assert.Equal(t, comment.CommentID, metadata["comment_id"])
}

func TestAddComment_Validation(t *testing.T) {
	w, _, activity := setupWorkflow()
	alert := reviewAlert()

	_, err := w.AddComment(context.Background(), alert, "", "content", time.Now())
	assert.Error(t, err)

	_, err = w.AddComment(context.Background(), alert, "user-9", "", time.Now())
	assert.Error(t, err)

	assert.Empty(t, activity.comments)
}

func TestIsProbableFalsePositive(t *testing.T) {
	// AI判定给出误报信号
	verdict := models.VerdictLikelyFalsePositive
	assert.True(t, IsProbableFalsePositive(&models.Alert{Verdict: &verdict}))

	// 人工判定给出误报信号
	assert.True(t, IsProbableFalsePositive(&models.Alert{HumanStatus: models.HumanStatusFalsePositive}))

	// 两者都没有
	other := models.VerdictBenign
	assert.False(t, IsProbableFalsePositive(&models.Alert{Verdict: &other, HumanStatus: models.HumanStatusPending}))
	assert.False(t, IsProbableFalsePositive(&models.Alert{}))
}
