package webhook_log

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/fatflowers/fanpass/internal/models"
	"github.com/fatflowers/fanpass/internal/testutil"
)

func newEvent(id string) *models.WebhookEvent {
	return &models.WebhookEvent{
		EventID:    id,
		EventType:  "transaction.completed",
		OccurredAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Data:       datatypes.JSON(`{"id":"txn_1"}`),
	}
}

func TestBeginFinish(t *testing.T) {
	db := testutil.NewDB(t)
	svc := New(db, zap.NewNop().Sugar())
	ctx := context.Background()

	row, done, err := svc.Begin(ctx, newEvent("evt_1"))
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, 1, row.Attempts)
	assert.Equal(t, models.WebhookEventStatusReceived, row.Status)

	// a failed delivery is retried
	svc.Finish(ctx, "evt_1", models.WebhookEventStatusFailed, map[string]string{"error": "boom"})
	_, done, err = svc.Begin(ctx, newEvent("evt_1"))
	require.NoError(t, err)
	assert.False(t, done)

	svc.Finish(ctx, "evt_1", models.WebhookEventStatusHandled, map[string]string{"subscription_id": "s1"})
	row, done, err = svc.Begin(ctx, newEvent("evt_1"))
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, models.WebhookEventStatusHandled, row.Status)
	assert.Equal(t, 2, row.Attempts)
	require.NotNil(t, row.Result)
	assert.JSONEq(t, `{"subscription_id":"s1"}`, string(*row.Result))

	assert.EqualValues(t, 1, testutil.CountRows(t, db, &models.WebhookEvent{}, ""))
}

func TestBegin_Validation(t *testing.T) {
	svc := New(testutil.NewDB(t), zap.NewNop().Sugar())
	_, _, err := svc.Begin(context.Background(), &models.WebhookEvent{})
	require.Error(t, err)

	got, err := svc.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}
