// Package httpapi exposes the service over HTTP with gin.
package httpapi

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ineyio/inferhub"
	"github.com/ineyio/inferhub/backfill"
	"github.com/ineyio/inferhub/usage"
)

// Backfiller runs a reconciliation on demand.
type Backfiller interface {
	RunOnce(ctx context.Context) (backfill.Report, error)
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps are the collaborators behind the routes. Quota, Backfill, Auth and DB
// are optional; the routes that need them answer 503 (or are not mounted, for
// Auth) when they are nil.
type Deps struct {
	Orchestrator *inferhub.Orchestrator
	Router       *inferhub.Router
	Contexts     inferhub.ContextSetStore
	Templates    inferhub.TemplateStore
	Logs         inferhub.LogStore
	Stubs        inferhub.StubStore
	Usage        *usage.Service
	Quota        inferhub.QuotaReporter
	Backfill     Backfiller
	Auth         *Auth
	DB           Pinger
	Logger       *zap.Logger
}

type server struct {
	Deps
	logger *zap.Logger
}

// New builds the gin engine with every route mounted.
func New(d Deps) *gin.Engine {
	s := &server{Deps: d, logger: d.Logger}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger))

	r.GET("/health", s.health)
	r.POST("/infer", s.infer)
	r.GET("/models", s.models)

	r.GET("/contexts", s.listContexts)
	r.GET("/contexts/:id", s.getContext)
	r.POST("/contexts", s.createContext)
	r.PUT("/contexts/:id", s.updateContext)

	r.GET("/templates", s.listTemplates)
	r.POST("/templates", s.createTemplate)
	r.GET("/templates/project/:project", s.listProjectTemplates)
	r.DELETE("/templates/:id", s.deleteTemplate)
	r.POST("/prompts/preview", s.previewPrompt)

	r.GET("/logs", s.listLogs)
	r.GET("/logs/:id", s.getLog)

	u := r.Group("/usage")
	{
		u.GET("/today", s.usageToday)
		u.GET("/today/:model", s.usageTodayByModel)
		u.GET("/stats/today", s.usageStatsToday)
		u.GET("/history", s.usageHistory)
		u.GET("/stats", s.usageStats)
		u.GET("/summary", s.usageSummary)
		u.GET("/export", s.usageExport)
		u.GET("/summary/export", s.usageSummaryExport)
		u.GET("/quota", s.quotaSnapshot)
	}

	if d.Auth != nil {
		r.POST("/admin/login", s.login)
		a := r.Group("/admin", d.Auth.Middleware())
		{
			a.GET("/dashboard", s.dashboard)
			a.GET("/playground", s.playground)
			a.POST("/backfill", s.runBackfill)
			a.GET("/metadata/pending", s.pendingStubs)
			a.POST("/metadata/:kind/:id/embedded", s.markEmbedded)
		}
	}

	return r
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

func pathID(c *gin.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id < 1 {
		return 0, &inferhub.ValidationError{Field: name, Reason: "must be a positive integer"}
	}
	return id, nil
}

func queryInt(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &inferhub.ValidationError{Field: name, Reason: "must be a non-negative integer"}
	}
	return n, nil
}

func bindError(err error) error {
	return &inferhub.ValidationError{Field: "body", Reason: "is not valid JSON: " + err.Error()}
}

func requireField(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &inferhub.ValidationError{Field: field, Reason: "must not be blank"}
	}
	return nil
}
