package handlers

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/fanpass/internal/app/service/account"
	"github.com/fatflowers/fanpass/internal/app/service/ratelimit"
	"github.com/fatflowers/fanpass/internal/models"
	"github.com/fatflowers/fanpass/pkg/logctx"
	"github.com/fatflowers/fanpass/pkg/response"
)

type Accounts interface {
	Register(ctx context.Context, req *account.Credentials) (*models.Account, error)
	Login(ctx context.Context, req *account.Credentials) (*models.Account, error)
	RequestPasswordReset(ctx context.Context, email string) error
}

type passwordResetRequest struct {
	Email string `json:"email" binding:"required"`
}

// @Summary      Register
// @Description  Creates an account on the FREE plan.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        request body account.Credentials true "Email and password"
// @Success      200  {object}  handlers.RespAccount
// @Router       /api/v1/auth/register [post]
func ApiRegister(svc Accounts) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req account.Credentials
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		acc, err := svc.Register(c.Request.Context(), &req)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(acc))
	}
}

// @Summary      Login
// @Description  Checks a password. Three failed attempts per email within the window answer 429 with Retry-After.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        request body account.Credentials true "Email and password"
// @Success      200  {object}  handlers.RespAccount
// @Failure      429  {object}  handlers.RespOK
// @Router       /api/v1/auth/login [post]
func ApiLogin(svc Accounts, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req account.Credentials
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		acc, err := svc.Login(c.Request.Context(), &req)
		if err != nil {
			if tooManyRequests(c, err) {
				logctx.FromGin(c, log).Infow("login_rate_limited")
				return
			}
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(acc))
	}
}

// @Summary      Request password reset
// @Description  Sends a reset link when the email is registered. The answer is the same for unknown emails.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        request body handlers.passwordResetRequest true "Email"
// @Success      200  {object}  handlers.RespOK
// @Failure      429  {object}  handlers.RespOK
// @Router       /api/v1/auth/password_reset [post]
func ApiPasswordReset(svc Accounts) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req passwordResetRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		if err := svc.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
			if tooManyRequests(c, err) {
				return
			}
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT[any](nil))
	}
}

// tooManyRequests answers 429 when err is a rate limit.
func tooManyRequests(c *gin.Context, err error) bool {
	le, ok := ratelimit.AsLimited(err)
	if !ok {
		return false
	}
	secs := int(math.Ceil(le.RetryAfter(time.Now()).Seconds()))
	c.Header("Retry-After", strconv.Itoa(max(secs, 1)))
	c.JSON(http.StatusTooManyRequests, response.ErrorT[any](response.APIResponseCodeTooManyRequests, gin.H{
		"reset_at": le.ResetAt.UTC(),
	}))
	return true
}

func RegisterAuthRoutes(r gin.IRouter, svc Accounts, log *zap.SugaredLogger) {
	r.POST("/register", ApiRegister(svc))
	r.POST("/login", ApiLogin(svc, log))
	r.POST("/password_reset", ApiPasswordReset(svc))
}
