package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fatflowers/fanpass/pkg/types"
)

func TestTableNames(t *testing.T) {
	require.Equal(t, "account", Account{}.TableName())
	require.Equal(t, "plan", Plan{}.TableName())
	require.Equal(t, "subscription", Subscription{}.TableName())
	require.Equal(t, "payment", Payment{}.TableName())
	require.Equal(t, "checkout_session", CheckoutSession{}.TableName())
	require.Equal(t, "subscription_log", SubscriptionLog{}.TableName())
	require.Equal(t, "webhook_event", WebhookEvent{}.TableName())
}

func TestSubscriptionMutableColumns_IncludesNils(t *testing.T) {
	s := &Subscription{Status: types.SubscriptionStatusActive, EndDate: time.Now(), Version: 3}
	cols := s.MutableColumns()

	require.Contains(t, cols, "grace_period_end")
	require.Nil(t, cols["grace_period_end"])
	require.Equal(t, int64(3), cols["version"])
	require.NotContains(t, cols, "account_id")
}

func TestWebhookEventStatus_Done(t *testing.T) {
	require.True(t, WebhookEventStatusHandled.Done())
	require.True(t, WebhookEventStatusIgnored.Done())
	require.False(t, WebhookEventStatusReceived.Done())
	require.False(t, WebhookEventStatusFailed.Done())
}
