// Package api exposes trending results over HTTP.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"dex-trending/internal/domain"
	"dex-trending/internal/observability"
)

// TrendingService resolves trending results, reporting cache hits.
type TrendingService interface {
	Lookup(ctx context.Context, chain string) (*domain.TrendingResult, bool, error)
}

// Config configures the router.
type Config struct {
	// AllowedOrigins lists CORS origins. Empty allows any origin without credentials.
	AllowedOrigins []string
	Logger         logrus.FieldLogger
	Metrics        *observability.Metrics
}

// ParseOrigins splits a comma-separated origin list, dropping blanks.
// A "*" entry yields nil (allow all).
func ParseOrigins(s string) ([]string, error) {
	var origins []string
	for _, o := range strings.Split(s, ",") {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		switch {
		case o == "":
			continue
		case o == "*":
			return nil, nil
		case !strings.HasPrefix(o, "http://") && !strings.HasPrefix(o, "https://"):
			return nil, fmt.Errorf("invalid origin %q: must start with http:// or https://", o)
		}
		origins = append(origins, o)
	}
	return origins, nil
}

// NewRouter builds the HTTP handler.
func NewRouter(svc TrendingService, cfg Config) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestID())
	r.Use(accessLog(logger, cfg.Metrics))
	r.Use(cors.New(corsConfig(cfg.AllowedOrigins, logger)))

	h := &Handler{svc: svc, logger: logger}

	r.GET("/", h.Health)
	r.GET("/trending/:chain", h.Trending)
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	return r
}

func corsConfig(origins []string, logger logrus.FieldLogger) cors.Config {
	c := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", RequestIDHeader},
		ExposeHeaders:    []string{CacheHeader, RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		logger.Warn("ALLOWED_ORIGINS not set, allowing all origins")
		c.AllowAllOrigins = true
		return c
	}
	c.AllowOrigins = origins
	return c
}
