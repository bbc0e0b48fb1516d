package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/fanpass/internal/app/service/checkout"
	"github.com/fatflowers/fanpass/internal/models"
	"github.com/fatflowers/fanpass/pkg/logctx"
	"github.com/fatflowers/fanpass/pkg/response"
)

type Checkouts interface {
	Start(ctx context.Context, req *checkout.StartRequest) (*models.CheckoutSession, error)
	Get(ctx context.Context, id string) (*models.CheckoutSession, error)
}

// @Summary      Start checkout
// @Description  Creates a hosted processor checkout for a paid plan and returns its URL.
// @Tags         Billing
// @Accept       json
// @Produce      json
// @Param        request body checkout.StartRequest true "Account and plan"
// @Success      200  {object}  handlers.RespCheckoutSession
// @Router       /api/v1/billing/checkout [post]
func ApiStartCheckout(svc Checkouts, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req checkout.StartRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		session, err := svc.Start(c.Request.Context(), &req)
		if err != nil {
			logctx.FromGin(c, log).Infow("checkout_start_failed", "account_id", req.AccountID, "plan_id", req.PlanID, "error", err)
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(session))
	}
}

// @Summary      Get checkout
// @Description  Returns a checkout session for the buyer's return page.
// @Tags         Billing
// @Produce      json
// @Param        id path string true "Checkout session id"
// @Success      200  {object}  handlers.RespCheckoutSession
// @Router       /api/v1/billing/checkout/{id} [get]
func ApiGetCheckout(svc Checkouts) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := svc.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(session))
	}
}

func RegisterBillingRoutes(r gin.IRouter, hook WebhookProcessor, checkouts Checkouts, log *zap.SugaredLogger) {
	r.POST("/webhook", ApiProcessorWebhook(hook, log))
	r.POST("/checkout", ApiStartCheckout(checkouts, log))
	r.GET("/checkout/:id", ApiGetCheckout(checkouts))
}
