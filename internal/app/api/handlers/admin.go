package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/fatflowers/fanpass/internal/app/service/account"
	"github.com/fatflowers/fanpass/internal/app/service/plan"
	"github.com/fatflowers/fanpass/internal/app/service/statistics"
	subsvc "github.com/fatflowers/fanpass/internal/app/service/subscription"
	"github.com/fatflowers/fanpass/internal/models"
	"github.com/fatflowers/fanpass/pkg/logctx"
	"github.com/fatflowers/fanpass/pkg/response"
	"github.com/fatflowers/fanpass/pkg/types"
)

type CreatePlanRequest struct {
	Type             types.PlanType     `json:"type" binding:"required"`
	Name             string             `json:"name" binding:"required"`
	BillingCycle     types.BillingCycle `json:"billing_cycle" binding:"required"`
	Price            decimal.Decimal    `json:"price"`
	Currency         string             `json:"currency" binding:"required"`
	DisplayRank      int                `json:"display_rank"`
	Active           *bool              `json:"active"`
	ProcessorPriceID string             `json:"processor_price_id"`
	MaxScreens       int                `json:"max_screens"`
	OfflineViewing   bool               `json:"offline_viewing"`
	AdFree           bool               `json:"ad_free"`
	GameVaultAccess  bool               `json:"game_vault_access"`
}

func (r *CreatePlanRequest) toModel() *models.Plan {
	active := true
	if r.Active != nil {
		active = *r.Active
	}
	return &models.Plan{
		Type:             r.Type,
		Name:             r.Name,
		BillingCycle:     r.BillingCycle,
		Price:            r.Price,
		Currency:         r.Currency,
		DisplayRank:      r.DisplayRank,
		Active:           active,
		ProcessorPriceID: r.ProcessorPriceID,
		MaxScreens:       r.MaxScreens,
		OfflineViewing:   r.OfflineViewing,
		AdFree:           r.AdFree,
		GameVaultAccess:  r.GameVaultAccess,
	}
}

// @Summary      List plans (Admin)
// @Description  Returns the whole catalog, inactive plans included.
// @Tags         Admin
// @Produce      json
// @Success      200  {object}  handlers.RespPlans
// @Router       /api/v1/admin/plans [get]
func ApiListPlans(svc *plan.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		plans, err := svc.List(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(plans))
	}
}

// @Summary      Create plan (Admin)
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body handlers.CreatePlanRequest true "Plan"
// @Success      200  {object}  handlers.RespPlan
// @Router       /api/v1/admin/plans [post]
func ApiCreatePlan(svc *plan.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreatePlanRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		p, err := svc.Create(c.Request.Context(), req.toModel())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(p))
	}
}

// @Summary      Update plan (Admin)
// @Description  Changes only the fields present in the body.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        id path string true "Plan id"
// @Param        request body plan.UpdateRequest true "Fields to change"
// @Success      200  {object}  handlers.RespPlan
// @Router       /api/v1/admin/plans/{id} [put]
func ApiUpdatePlan(svc *plan.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req plan.UpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		p, err := svc.Update(c.Request.Context(), c.Param("id"), &req)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(p))
	}
}

// @Summary      Delete plan (Admin)
// @Description  Refused while any subscription references the plan.
// @Tags         Admin
// @Produce      json
// @Param        id path string true "Plan id"
// @Success      200  {object}  handlers.RespOK
// @Router       /api/v1/admin/plans/{id} [delete]
func ApiDeletePlan(svc *plan.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT[any](nil))
	}
}

// @Summary      List subscriptions (Admin)
// @Description  Retrieves a paginated and filterable list of subscriptions.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body subscription.ScanRequest true "Filters, pagination and sorting"
// @Success      200  {object}  handlers.RespListSubscriptions
// @Router       /api/v1/admin/list_subscriptions [post]
func ApiListSubscriptions(sub *subsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req subsvc.ScanRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		res, err := sub.Scan(c.Request.Context(), &req)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

// @Summary      Grant subscription (Admin)
// @Description  Gives an account one free term of a paid plan.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body subscription.GrantRequest true "Grant request"
// @Success      200  {object}  handlers.RespSubscription
// @Router       /api/v1/admin/grant_subscription [post]
func ApiGrantSubscription(sub *subsvc.Service, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req subsvc.GrantRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		granted, err := sub.Grant(c.Request.Context(), &req)
		if err != nil {
			writeError(c, err)
			return
		}
		logctx.FromGin(c, log).Infow("subscription_granted", "account_id", req.AccountID,
			"plan_type", req.PlanType, "operator_id", req.OperatorID, "subscription_id", granted.ID)
		c.JSON(http.StatusOK, response.OKT(granted))
	}
}

// @Summary      Subscription statistics (Admin)
// @Description  Daily new subscriptions, revenue by currency, live counts by status and renewals.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body statistics.StatisticRequest true "Statistic request parameters"
// @Success      200  {object}  handlers.RespStatistic
// @Router       /api/v1/admin/get_subscription_statistic [post]
func ApiGetSubscriptionStatistic(svc *statistics.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req statistics.StatisticRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		res, err := svc.GetStatistic(c.Request.Context(), &req)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

// @Summary      Delete account (Admin)
// @Description  Removes an account and its billing history. Refused while a subscription is current.
// @Tags         Admin
// @Produce      json
// @Param        id path string true "Account id"
// @Success      200  {object}  handlers.RespOK
// @Router       /api/v1/admin/accounts/{id} [delete]
func ApiDeleteAccount(svc *account.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT[any](nil))
	}
}

func RegisterAdminRoutes(r gin.IRouter, plans *plan.Service, sub *subsvc.Service, stats *statistics.Service, accounts *account.Service, log *zap.SugaredLogger) {
	r.GET("/plans", ApiListPlans(plans))
	r.POST("/plans", ApiCreatePlan(plans))
	r.PUT("/plans/:id", ApiUpdatePlan(plans))
	r.DELETE("/plans/:id", ApiDeletePlan(plans))
	r.POST("/list_subscriptions", ApiListSubscriptions(sub))
	r.POST("/grant_subscription", ApiGrantSubscription(sub, log))
	r.POST("/get_subscription_statistic", ApiGetSubscriptionStatistic(stats))
	r.DELETE("/accounts/:id", ApiDeleteAccount(accounts))
}
