package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ineyio/inferhub"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, bindError(err))
		return
	}
	token, expires, err := s.Auth.Login(req.Username, req.Password)
	if err != nil {
		s.logger.Info("admin login rejected", zap.String("client_ip", c.ClientIP()))
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expiresAt": expires})
}

func groupModels(models []inferhub.ModelInfo) map[string][]inferhub.ModelInfo {
	groups := make(map[string][]inferhub.ModelInfo)
	for _, m := range models {
		groups[m.Provider] = append(groups[m.Provider], m)
	}
	return groups
}

func (s *server) dashboard(c *gin.Context) {
	ctx := c.Request.Context()
	stats, err := s.Usage.StatsToday(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}
	quota := []inferhub.QuotaUsage{}
	if s.Quota != nil {
		if quota, err = s.Quota.Snapshot(ctx); err != nil {
			s.fail(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"modelGroups": groupModels(s.Router.Models()),
		"stats":       stats,
		"quota":       nonNil(quota),
		"conflicts":   nonNil(s.Router.Conflicts()),
		"health":      s.Router.Health(),
	})
}

func (s *server) playground(c *gin.Context) {
	sets, err := s.Contexts.ListContextSets(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"groupedModels": groupModels(s.Router.Models()),
		"contextSets":   nonNil(sets),
	})
}

func (s *server) runBackfill(c *gin.Context) {
	if s.Backfill == nil {
		s.fail(c, errDisabled)
		return
	}
	rep, err := s.Backfill.RunOnce(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

func parseKind(raw string) (inferhub.StubKind, error) {
	switch k := inferhub.StubKind(raw); k {
	case inferhub.StubKindLog, inferhub.StubKindContext:
		return k, nil
	default:
		return "", &inferhub.ValidationError{Field: "kind", Reason: "must be log or context"}
	}
}

func (s *server) pendingStubs(c *gin.Context) {
	kind, err := parseKind(c.DefaultQuery("kind", string(inferhub.StubKindLog)))
	if err != nil {
		s.fail(c, err)
		return
	}
	limit, err := queryInt(c, "limit", 100)
	if err != nil {
		s.fail(c, err)
		return
	}
	stubs, err := s.Stubs.ListPendingStubs(c.Request.Context(), kind, limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(stubs))
}

func (s *server) markEmbedded(c *gin.Context) {
	kind, err := parseKind(c.Param("kind"))
	if err != nil {
		s.fail(c, err)
		return
	}
	id, err := pathID(c, "id")
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := s.Stubs.MarkEmbedded(c.Request.Context(), kind, id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
