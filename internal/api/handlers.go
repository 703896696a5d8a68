package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"dex-trending/internal/trending"
)

// Response headers.
const (
	CacheHeader     = "X-Cache"
	RequestIDHeader = "X-Request-ID"
)

// statusClientClosedRequest records requests whose client disconnected
// (nginx convention); nothing reads the response.
const statusClientClosedRequest = 499

const scrapeFailedDetail = "Failed to scrape token data. The site structure may have changed or the service is temporarily unavailable."

// Handler serves the API endpoints.
type Handler struct {
	svc    TrendingService
	logger logrus.FieldLogger
}

type healthRes struct {
	Message string `json:"message"`
}

type errorRes struct {
	Detail string `json:"detail"`
}

// Health reports that the service is up.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, healthRes{Message: "DexScreener trending API is running."})
}

// Trending returns the trending tokens for the :chain path parameter.
func (h *Handler) Trending(c *gin.Context) {
	chain := c.Param("chain")

	result, hit, err := h.svc.Lookup(c.Request.Context(), chain)
	switch {
	case err == nil:
	case errors.Is(err, trending.ErrInvalidChain):
		c.JSON(http.StatusBadRequest, errorRes{Detail: err.Error()})
		return
	case errors.Is(err, trending.ErrExtractionFailure):
		c.JSON(http.StatusInternalServerError, errorRes{Detail: scrapeFailedDetail})
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// The client is gone; the shared scrape still finishes and is cached.
		h.logger.WithField("request_id", c.GetString(requestIDKey)).Debug("client left during scrape")
		c.AbortWithStatus(statusClientClosedRequest)
		return
	default:
		h.logger.WithError(err).WithField("request_id", c.GetString(requestIDKey)).Error("trending lookup failed")
		c.JSON(http.StatusInternalServerError, errorRes{Detail: "internal error"})
		return
	}

	if hit {
		c.Header(CacheHeader, "HIT")
	} else {
		c.Header(CacheHeader, "MISS")
	}
	c.JSON(http.StatusOK, result)
}
