package httpapi

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ineyio/inferhub"
	"github.com/ineyio/inferhub/usage"
)

const csvContentType = "text/csv; charset=UTF-8"

func parseDate(field, raw string) (time.Time, error) {
	return usage.ParseDate(field, raw)
}

// dateRange reads the required from/to query parameters.
func dateRange(c *gin.Context) (time.Time, time.Time, error) {
	var out [2]time.Time
	for i, field := range []string{"from", "to"} {
		raw := c.Query(field)
		if raw == "" {
			return time.Time{}, time.Time{}, &inferhub.ValidationError{Field: field, Reason: "is required"}
		}
		t, err := parseDate(field, raw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		out[i] = t
	}
	return out[0], out[1], nil
}

func (s *server) usageToday(c *gin.Context) {
	records, err := s.Usage.Today(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(records))
}

func (s *server) usageTodayByModel(c *gin.Context) {
	records, err := s.Usage.TodayByModel(c.Request.Context(), c.Param("model"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(records))
}

func (s *server) usageStatsToday(c *gin.Context) {
	stats, err := s.Usage.StatsToday(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *server) usageHistory(c *gin.Context) {
	from, to, err := dateRange(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	records, err := s.Usage.Between(c.Request.Context(), from, to)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(records))
}

func (s *server) usageStats(c *gin.Context) {
	from, to, err := dateRange(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	stats, err := s.Usage.StatsBetween(c.Request.Context(), from, to)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *server) usageSummary(c *gin.Context) {
	from, to, err := dateRange(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	summary, err := s.Usage.Summary(c.Request.Context(), from, to)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(summary))
}

func (s *server) usageExport(c *gin.Context) {
	from, to, err := dateRange(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	records, err := s.Usage.Between(c.Request.Context(), from, to)
	if err != nil {
		s.fail(c, err)
		return
	}
	var buf bytes.Buffer
	if err := usage.WriteCSV(&buf, records); err != nil {
		s.fail(c, err)
		return
	}
	sendCSV(c, "api-usage.csv", buf.Bytes())
}

func (s *server) usageSummaryExport(c *gin.Context) {
	from, to, err := dateRange(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	summary, err := s.Usage.Summary(c.Request.Context(), from, to)
	if err != nil {
		s.fail(c, err)
		return
	}
	var buf bytes.Buffer
	if err := usage.WriteSummaryCSV(&buf, summary); err != nil {
		s.fail(c, err)
		return
	}
	sendCSV(c, "usage_data.csv", buf.Bytes())
}

func sendCSV(c *gin.Context, filename string, data []byte) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, csvContentType, data)
}

func (s *server) quotaSnapshot(c *gin.Context) {
	if s.Quota == nil {
		c.JSON(http.StatusOK, []inferhub.QuotaUsage{})
		return
	}
	snap, err := s.Quota.Snapshot(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(snap))
}
