package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ineyio/inferhub"
)

func (s *server) health(c *gin.Context) {
	body := gin.H{"status": "ok", "providers": s.Router.Health()}
	if s.DB != nil {
		if err := s.DB.PingContext(c.Request.Context()); err != nil {
			body["status"] = "degraded"
			body["error"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
	}
	c.JSON(http.StatusOK, body)
}

func (s *server) infer(c *gin.Context) {
	var req inferhub.InferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, bindError(err))
		return
	}
	req.ClientIP = c.ClientIP()

	resp, err := s.Orchestrator.Infer(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *server) models(c *gin.Context) {
	c.JSON(http.StatusOK, nonNil(s.Router.Models()))
}

func (s *server) listContexts(c *gin.Context) {
	sets, err := s.Contexts.ListContextSets(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(sets))
}

func (s *server) getContext(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		s.fail(c, err)
		return
	}
	cs, err := s.Contexts.GetContextSet(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cs)
}

func (s *server) createContext(c *gin.Context) {
	var cs inferhub.ContextSet
	if err := c.ShouldBindJSON(&cs); err != nil {
		s.fail(c, bindError(err))
		return
	}
	if err := requireField("name", cs.Name); err != nil {
		s.fail(c, err)
		return
	}
	cs.ID = 0
	if err := s.Contexts.CreateContextSet(c.Request.Context(), &cs); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, cs)
}

// updateContext rewrites the row only. An existing CONTEXT stub keeps the old text.
func (s *server) updateContext(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		s.fail(c, err)
		return
	}
	var cs inferhub.ContextSet
	if err := c.ShouldBindJSON(&cs); err != nil {
		s.fail(c, bindError(err))
		return
	}
	if err := requireField("name", cs.Name); err != nil {
		s.fail(c, err)
		return
	}
	cs.ID = id

	ctx := c.Request.Context()
	if err := s.Contexts.UpdateContextSet(ctx, cs); err != nil {
		s.fail(c, err)
		return
	}
	updated, err := s.Contexts.GetContextSet(ctx, id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *server) listTemplates(c *gin.Context) {
	s.writeTemplates(c, "")
}

func (s *server) listProjectTemplates(c *gin.Context) {
	s.writeTemplates(c, c.Param("project"))
}

func (s *server) writeTemplates(c *gin.Context, project string) {
	ts, err := s.Templates.ListTemplates(c.Request.Context(), project)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(ts))
}

func (s *server) createTemplate(c *gin.Context) {
	var t inferhub.Template
	if err := c.ShouldBindJSON(&t); err != nil {
		s.fail(c, bindError(err))
		return
	}
	for _, f := range []struct{ name, value string }{{"project", t.Project}, {"name", t.Name}} {
		if err := requireField(f.name, f.value); err != nil {
			s.fail(c, err)
			return
		}
	}
	t.ID = 0
	if err := s.Templates.CreateTemplate(c.Request.Context(), &t); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (s *server) deleteTemplate(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := s.Templates.DeleteTemplate(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type previewRequest struct {
	Project    string         `json:"project"`
	Query      string         `json:"query"`
	TemplateID *int64         `json:"templateId"`
	Context    map[string]any `json:"context"`
}

// previewPrompt renders the key/value prompt from a stored template or an
// inline context without dispatching it.
func (s *server) previewPrompt(c *gin.Context) {
	var req previewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, bindError(err))
		return
	}
	for _, f := range []struct{ name, value string }{{"project", req.Project}, {"query", req.Query}} {
		if err := requireField(f.name, f.value); err != nil {
			s.fail(c, err)
			return
		}
	}

	values := req.Context
	if req.TemplateID != nil {
		t, err := s.Templates.GetTemplate(c.Request.Context(), *req.TemplateID)
		if err != nil {
			s.fail(c, err)
			return
		}
		values = t.Context
	}

	prompt := inferhub.FormatPromptMap(req.Project, values, req.Query)
	c.JSON(http.StatusOK, gin.H{
		"prompt":     prompt,
		"tokensUsed": inferhub.EstimateTokens(prompt),
	})
}

func (s *server) listLogs(c *gin.Context) {
	f := inferhub.LogFilter{
		Project:  c.Query("project"),
		Provider: c.Query("provider"),
		Model:    c.Query("model"),
	}

	var err error
	if raw := c.Query("from"); raw != "" {
		if f.From, err = parseDate("from", raw); err != nil {
			s.fail(c, err)
			return
		}
	}
	if raw := c.Query("to"); raw != "" {
		if f.To, err = parseDate("to", raw); err != nil {
			s.fail(c, err)
			return
		}
	}
	switch c.DefaultQuery("sort", "asc") {
	case "asc":
	case "desc":
		f.Desc = true
	default:
		s.fail(c, &inferhub.ValidationError{Field: "sort", Reason: "must be asc or desc"})
		return
	}
	if f.Limit, err = queryInt(c, "limit", 0); err != nil {
		s.fail(c, err)
		return
	}

	logs, err := s.Logs.ListLogs(c.Request.Context(), f)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(logs))
}

func (s *server) getLog(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		s.fail(c, err)
		return
	}
	l, err := s.Logs.GetLog(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
