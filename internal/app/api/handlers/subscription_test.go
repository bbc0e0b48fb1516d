package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	subsvc "github.com/fatflowers/fanpass/internal/app/service/subscription"
	"github.com/fatflowers/fanpass/internal/models"
	"github.com/fatflowers/fanpass/pkg/response"
	"github.com/fatflowers/fanpass/pkg/types"
)

type stubSubscriptions struct {
	status    types.SubscriptionStatus
	current   *models.Subscription
	cancelled []string
	cancelErr error
}

func (s *stubSubscriptions) Status(_ context.Context, accountID string) (*subsvc.StatusView, error) {
	if accountID == "ghost" {
		return nil, subsvc.ErrAccountNotFound
	}
	return &subsvc.StatusView{AccountID: accountID, Status: s.status}, nil
}

func (s *stubSubscriptions) CurrentForAccount(context.Context, string) (*models.Subscription, error) {
	if s.current == nil {
		return nil, subsvc.ErrSubscriptionNotFound
	}
	return s.current, nil
}

func (s *stubSubscriptions) Cancel(_ context.Context, req *subsvc.CancelRequest) (*models.Subscription, error) {
	if s.cancelErr != nil {
		return nil, s.cancelErr
	}
	s.cancelled = append(s.cancelled, req.SubscriptionID+"/"+req.Reason)
	s.status = types.SubscriptionStatusCancelled
	return s.current, nil
}

func (s *stubSubscriptions) Reactivate(context.Context, *subsvc.ReactivateRequest) (*models.Subscription, error) {
	return nil, subsvc.ErrSubscriptionEnded
}

func (s *stubSubscriptions) ListPayments(context.Context, string) ([]*models.Payment, error) {
	return []*models.Payment{{ID: "pay-1", Kind: types.PaymentKindInitial}}, nil
}

func subscriptionRouter(s *stubSubscriptions) http.Handler {
	r := newRouter()
	RegisterSubscriptionRoutes(r.Group("/subscription"), s, zap.NewNop().Sugar())
	return r
}

func TestApiCancelSubscription(t *testing.T) {
	stub := &stubSubscriptions{status: types.SubscriptionStatusActive, current: &models.Subscription{ID: "sub-1"}}
	w := do(subscriptionRouter(stub), http.MethodPost, "/subscription/cancel", map[string]string{"account_id": "acc"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[subsvc.StatusView](t, w)
	assert.Equal(t, response.APIResponseCodeOK, res.Code)
	assert.Equal(t, types.SubscriptionStatusCancelled, res.Data.Status)
	assert.Equal(t, []string{"sub-1/" + types.CancellationReasonUser}, stub.cancelled)

	w = do(subscriptionRouter(&stubSubscriptions{}), http.MethodPost, "/subscription/cancel", map[string]string{"account_id": "acc"}, nil)
	assert.Equal(t, response.APIResponseCodeNotFound, decode[any](t, w).Code)

	stub = &stubSubscriptions{current: &models.Subscription{ID: "sub-2"}, cancelErr: subsvc.ErrInvalidTransition}
	w = do(subscriptionRouter(stub), http.MethodPost, "/subscription/cancel", map[string]string{"account_id": "acc"}, nil)
	assert.Equal(t, response.APIResponseCodeConflict, decode[any](t, w).Code)
}

func TestApiReactivateSubscription_Ended(t *testing.T) {
	stub := &stubSubscriptions{current: &models.Subscription{ID: "sub-1"}}
	w := do(subscriptionRouter(stub), http.MethodPost, "/subscription/reactivate", map[string]string{"account_id": "acc"}, nil)
	assert.Equal(t, response.APIResponseCodeConflict, decode[any](t, w).Code)
}

func TestApiSubscriptionStatus(t *testing.T) {
	stub := &stubSubscriptions{status: types.SubscriptionStatusGracePeriod}
	w := do(subscriptionRouter(stub), http.MethodGet, "/subscription/status?account_id=acc", nil, nil)
	res := decode[subsvc.StatusView](t, w)
	assert.Equal(t, types.SubscriptionStatusGracePeriod, res.Data.Status)

	w = do(subscriptionRouter(stub), http.MethodGet, "/subscription/status", nil, nil)
	assert.Equal(t, response.APIResponseCodeBadRequest, decode[any](t, w).Code)

	w = do(subscriptionRouter(stub), http.MethodGet, "/subscription/status?account_id=ghost", nil, nil)
	assert.Equal(t, response.APIResponseCodeNotFound, decode[any](t, w).Code)

	w = do(subscriptionRouter(stub), http.MethodGet, "/subscription/payments?account_id=acc", nil, nil)
	payments := decode[[]models.Payment](t, w)
	require.Len(t, payments.Data, 1)
	assert.Equal(t, "pay-1", payments.Data[0].ID)
}

func TestApiCancelSubscription_LostRaceReportsStatus(t *testing.T) {
	// another writer cancelled the row first
	stub := &stubSubscriptions{
		status:    types.SubscriptionStatusCancelled,
		current:   &models.Subscription{ID: "sub-3"},
		cancelErr: subsvc.ErrConcurrentTransitionLost,
	}
	w := do(subscriptionRouter(stub), http.MethodPost, "/subscription/cancel", map[string]string{"account_id": "acc"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[subsvc.StatusView](t, w)
	assert.Equal(t, response.APIResponseCodeOK, res.Code)
	assert.Equal(t, types.SubscriptionStatusCancelled, res.Data.Status)
	assert.Equal(t, "acc", res.Data.AccountID)
}
