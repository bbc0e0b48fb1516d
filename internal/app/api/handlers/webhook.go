package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/fanpass/internal/app/service/reconciler"
	processor "github.com/fatflowers/fanpass/internal/platform/paddle"
	"github.com/fatflowers/fanpass/pkg/logctx"
	"github.com/fatflowers/fanpass/pkg/response"
)

// maxWebhookBody caps a single processor delivery.
const maxWebhookBody = 1 << 20

type WebhookProcessor interface {
	Process(ctx context.Context, body []byte, signature string) (*reconciler.Outcome, error)
}

// @Summary      Payment processor webhook
// @Description  Receives signed processor notifications. 400 rejects an unsigned delivery, 500 asks the processor to retry, 200 acknowledges it. Undecodable events are acknowledged with a 40000 envelope code.
// @Tags         Billing
// @Accept       json
// @Produce      json
// @Param        Paddle-Signature header string true "ts=<unix>;h1=<hmac>"
// @Param        payload body string true "Processor event envelope"
// @Success      200  {object}  handlers.RespWebhookOutcome
// @Failure      400  {object}  handlers.RespOK
// @Failure      500  {object}  handlers.RespOK
// @Router       /api/v1/billing/webhook [post]
func ApiProcessorWebhook(p WebhookProcessor, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, "failed to read body"))
			return
		}
		out, err := p.Process(c.Request.Context(), body, c.GetHeader(processor.SignatureHeader))
		switch {
		case errors.Is(err, reconciler.ErrInvalidSignature):
			logctx.FromGin(c, log).Warnw("webhook_rejected", "reason", "signature")
			c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeUnauthorized, err.Error()))
		case errors.Is(err, reconciler.ErrMalformedEvent):
			// a redelivery would carry the same bytes, so acknowledge it
			logctx.FromGin(c, log).Warnw("webhook_undecodable", "error", err)
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
		case err != nil:
			logctx.FromGin(c, log).Errorw("webhook_retry", "error", err)
			c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, out))
		default:
			c.JSON(http.StatusOK, response.OKT(out))
		}
	}
}
