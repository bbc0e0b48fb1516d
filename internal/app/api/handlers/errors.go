package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fatflowers/fanpass/internal/app/service/account"
	"github.com/fatflowers/fanpass/internal/app/service/checkout"
	"github.com/fatflowers/fanpass/internal/app/service/plan"
	"github.com/fatflowers/fanpass/internal/app/service/ratelimit"
	"github.com/fatflowers/fanpass/internal/app/service/reconciler"
	"github.com/fatflowers/fanpass/internal/app/service/statistics"
	subsvc "github.com/fatflowers/fanpass/internal/app/service/subscription"
	"github.com/fatflowers/fanpass/internal/app/service/videogate"
	processor "github.com/fatflowers/fanpass/internal/platform/paddle"
	"github.com/fatflowers/fanpass/pkg/response"
)

// errorCode maps service errors onto envelope codes. Unknown errors are 50000.
func errorCode(err error) response.APIResponseCode {
	switch {
	case errors.Is(err, account.ErrAccountNotFound),
		errors.Is(err, subsvc.ErrAccountNotFound),
		errors.Is(err, subsvc.ErrSubscriptionNotFound),
		errors.Is(err, checkout.ErrSessionNotFound),
		errors.Is(err, checkout.ErrAccountNotFound),
		errors.Is(err, plan.ErrPlanNotFound):
		return response.APIResponseCodeNotFound
	case errors.Is(err, account.ErrEmailTaken),
		errors.Is(err, plan.ErrPlanInUse),
		errors.Is(err, plan.ErrPlanTypeTaken),
		errors.Is(err, plan.ErrSoleFreePlan),
		errors.Is(err, account.ErrHasLiveSubscription),
		errors.Is(err, subsvc.ErrExistingActiveSubscription),
		errors.Is(err, subsvc.ErrInvalidTransition),
		errors.Is(err, subsvc.ErrSubscriptionEnded),
		errors.Is(err, subsvc.ErrConcurrentTransitionLost):
		return response.APIResponseCodeConflict
	case errors.Is(err, account.ErrInvalidEmail),
		errors.Is(err, account.ErrWeakPassword),
		errors.Is(err, plan.ErrInvalidPlan),
		errors.Is(err, subsvc.ErrPlanNotPurchasable),
		errors.Is(err, checkout.ErrPlanUnavailable),
		errors.Is(err, statistics.ErrInvalidStatistic),
		errors.Is(err, statistics.ErrInvalidFilter),
		errors.Is(err, videogate.ErrInvalidEpisode),
		errors.Is(err, videogate.ErrInvalidQuality),
		errors.Is(err, reconciler.ErrMalformedEvent),
		errors.Is(err, reconciler.ErrUnknownEventType):
		return response.APIResponseCodeBadRequest
	case errors.Is(err, account.ErrInvalidCredentials),
		errors.Is(err, videogate.ErrTokenInvalid),
		errors.Is(err, reconciler.ErrInvalidSignature):
		return response.APIResponseCodeUnauthorized
	case errors.Is(err, videogate.ErrQualityNotEntitled),
		errors.Is(err, videogate.ErrEpisodeMismatch):
		return response.APIResponseCodeForbidden
	case errors.Is(err, processor.ErrProcessorDisabled),
		errors.Is(err, processor.ErrProcessorUnavailable),
		errors.Is(err, videogate.ErrNotConfigured):
		return response.APIResponseCodeUnavailable
	case errors.Is(err, ratelimit.ErrRateLimited):
		return response.APIResponseCodeTooManyRequests
	}
	return response.APIResponseCodeError
}

// writeError answers HTTP 200 with the envelope code for err.
func writeError(c *gin.Context, err error) {
	c.JSON(http.StatusOK, response.ErrorT[any](errorCode(err), err.Error()))
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
}
