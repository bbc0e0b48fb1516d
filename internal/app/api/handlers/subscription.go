package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	subsvc "github.com/fatflowers/fanpass/internal/app/service/subscription"
	"github.com/fatflowers/fanpass/internal/models"
	"github.com/fatflowers/fanpass/pkg/logctx"
	"github.com/fatflowers/fanpass/pkg/response"
	"github.com/fatflowers/fanpass/pkg/types"
)

type Subscriptions interface {
	Status(ctx context.Context, accountID string) (*subsvc.StatusView, error)
	CurrentForAccount(ctx context.Context, accountID string) (*models.Subscription, error)
	Cancel(ctx context.Context, req *subsvc.CancelRequest) (*models.Subscription, error)
	Reactivate(ctx context.Context, req *subsvc.ReactivateRequest) (*models.Subscription, error)
	ListPayments(ctx context.Context, accountID string) ([]*models.Payment, error)
}

type accountRequest struct {
	AccountID string `json:"account_id" binding:"required"`
}

// @Summary      Subscription status
// @Description  Returns the account's entitlement snapshot. An elapsed grace period or cancelled term is expired first.
// @Tags         Subscription
// @Produce      json
// @Param        account_id query string true "Account id"
// @Success      200  {object}  handlers.RespStatusView
// @Router       /api/v1/subscription/status [get]
func ApiSubscriptionStatus(svc Subscriptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.Query("account_id")
		if accountID == "" {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "missing account_id"))
			return
		}
		view, err := svc.Status(c.Request.Context(), accountID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(view))
	}
}

// @Summary      Cancel subscription
// @Description  Stops renewal. Access continues until the paid end date.
// @Tags         Subscription
// @Accept       json
// @Produce      json
// @Param        request body handlers.accountRequest true "Account"
// @Success      200  {object}  handlers.RespStatusView
// @Router       /api/v1/subscription/cancel [post]
func ApiCancelSubscription(svc Subscriptions, log *zap.SugaredLogger) gin.HandlerFunc {
	return changeCurrent(svc, log, "cancel", func(ctx context.Context, sub *models.Subscription) error {
		_, err := svc.Cancel(ctx, &subsvc.CancelRequest{SubscriptionID: sub.ID, Reason: types.CancellationReasonUser})
		return err
	})
}

// @Summary      Reactivate subscription
// @Description  Undoes a cancellation while the paid term is still running.
// @Tags         Subscription
// @Accept       json
// @Produce      json
// @Param        request body handlers.accountRequest true "Account"
// @Success      200  {object}  handlers.RespStatusView
// @Router       /api/v1/subscription/reactivate [post]
func ApiReactivateSubscription(svc Subscriptions, log *zap.SugaredLogger) gin.HandlerFunc {
	return changeCurrent(svc, log, "reactivate", func(ctx context.Context, sub *models.Subscription) error {
		_, err := svc.Reactivate(ctx, &subsvc.ReactivateRequest{SubscriptionID: sub.ID})
		return err
	})
}

// changeCurrent applies fn to the account's current subscription and answers
// with the refreshed status.
func changeCurrent(svc Subscriptions, log *zap.SugaredLogger, action string, fn func(context.Context, *models.Subscription) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req accountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		ctx := logctx.WithAccountID(c.Request.Context(), req.AccountID)
		sub, err := svc.CurrentForAccount(ctx, req.AccountID)
		if err != nil {
			writeError(c, err)
			return
		}
		if err := fn(ctx, sub); err != nil && !subsvc.IsNoop(err) {
			logctx.FromGin(c, log).Infow("subscription_"+action+"_refused", "account_id", req.AccountID, "subscription_id", sub.ID, "error", err)
			writeError(c, err)
			return
		}
		view, err := svc.Status(ctx, req.AccountID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(view))
	}
}

// @Summary      Payment history
// @Description  Lists the account's charge attempts, newest first.
// @Tags         Subscription
// @Produce      json
// @Param        account_id query string true "Account id"
// @Success      200  {object}  handlers.RespPayments
// @Router       /api/v1/subscription/payments [get]
func ApiListPayments(svc Subscriptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.Query("account_id")
		if accountID == "" {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "missing account_id"))
			return
		}
		rows, err := svc.ListPayments(c.Request.Context(), accountID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(rows))
	}
}

func RegisterSubscriptionRoutes(r gin.IRouter, svc Subscriptions, log *zap.SugaredLogger) {
	r.GET("/status", ApiSubscriptionStatus(svc))
	r.POST("/cancel", ApiCancelSubscription(svc, log))
	r.POST("/reactivate", ApiReactivateSubscription(svc, log))
	r.GET("/payments", ApiListPayments(svc))
}
