package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/fanpass/internal/app/service/account"
	"github.com/fatflowers/fanpass/internal/app/service/videogate"
	"github.com/fatflowers/fanpass/internal/platform/objectstore"
	"github.com/fatflowers/fanpass/pkg/logctx"
	"github.com/fatflowers/fanpass/pkg/response"
	"github.com/fatflowers/fanpass/pkg/types"
)

type VideoGate interface {
	Issue(ctx context.Context, accountID, episodeID string, quality types.QualityTier) (*videogate.Token, error)
	Open(ctx context.Context, token, episodeID, rangeHeader string) (*videogate.Stream, error)
}

type videoTokenRequest struct {
	AccountID string            `json:"account_id" binding:"required"`
	EpisodeID string            `json:"episode_id" binding:"required"`
	Quality   types.QualityTier `json:"quality" binding:"required"`
}

// @Summary      Issue playback token
// @Description  Signs a short-lived token for one episode at a quality the account is entitled to.
// @Tags         Video
// @Accept       json
// @Produce      json
// @Param        request body handlers.videoTokenRequest true "Episode and quality"
// @Success      200  {object}  handlers.RespVideoToken
// @Router       /api/v1/video/token [post]
func ApiIssueVideoToken(gate VideoGate) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req videoTokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		tok, err := gate.Issue(c.Request.Context(), req.AccountID, req.EpisodeID, req.Quality)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(tok))
	}
}

// @Summary      Stream episode
// @Description  Streams the representation a playback token grants. Range requests are forwarded to the origin and answered with 206.
// @Tags         Video
// @Produce      video/mp4
// @Param        episode_id path string true "Episode id"
// @Param        token query string false "Playback token, or use an Authorization: Bearer header"
// @Param        Range header string false "Byte range"
// @Success      200
// @Success      206
// @Failure      401  {object}  handlers.RespOK
// @Failure      403  {object}  handlers.RespOK
// @Router       /api/v1/video/stream/{episode_id} [get]
func ApiStreamVideo(gate VideoGate, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorT[any](response.APIResponseCodeUnauthorized, "missing token"))
			return
		}
		stream, err := gate.Open(c.Request.Context(), token, c.Param("episode_id"), c.GetHeader("Range"))
		if err != nil {
			status, code := streamStatus(err)
			if status >= http.StatusInternalServerError {
				logctx.FromGin(c, log).Errorw("video_stream_failed", "episode_id", c.Param("episode_id"), "error", err)
			}
			c.AbortWithStatusJSON(status, response.ErrorT[any](code, err.Error()))
			return
		}
		defer stream.Body.Close()

		headers := map[string]string{"Accept-Ranges": "bytes"}
		status := http.StatusOK
		if stream.Partial() {
			status = http.StatusPartialContent
			headers["Content-Range"] = stream.ContentRange
		}
		if stream.ETag != "" {
			headers["ETag"] = stream.ETag
		}
		contentType := stream.ContentType
		if contentType == "" {
			contentType = "video/mp4"
		}
		c.DataFromReader(status, stream.ContentLength, contentType, stream.Body, headers)
	}
}

func streamStatus(err error) (int, response.APIResponseCode) {
	switch {
	case errors.Is(err, videogate.ErrTokenInvalid),
		errors.Is(err, account.ErrAccountNotFound):
		return http.StatusUnauthorized, response.APIResponseCodeUnauthorized
	case errors.Is(err, videogate.ErrEpisodeMismatch),
		errors.Is(err, videogate.ErrQualityNotEntitled):
		return http.StatusForbidden, response.APIResponseCodeForbidden
	case errors.Is(err, objectstore.ErrNotFound):
		return http.StatusNotFound, response.APIResponseCodeNotFound
	case errors.Is(err, objectstore.ErrInvalidRange):
		return http.StatusRequestedRangeNotSatisfiable, response.APIResponseCodeBadRequest
	case errors.Is(err, objectstore.ErrNotConfigured),
		errors.Is(err, videogate.ErrNotConfigured):
		return http.StatusServiceUnavailable, response.APIResponseCodeUnavailable
	case errors.Is(err, objectstore.ErrOriginFailure):
		return http.StatusBadGateway, response.APIResponseCodeError
	default:
		return http.StatusInternalServerError, response.APIResponseCodeError
	}
}

func RegisterVideoRoutes(r gin.IRouter, gate VideoGate, log *zap.SugaredLogger) {
	r.POST("/token", ApiIssueVideoToken(gate))
	r.GET("/stream/:episode_id", ApiStreamVideo(gate, log))
}
