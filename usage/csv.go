package usage

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/ineyio/inferhub"
)

var (
	recordHeader  = []string{"Model", "TokensUsed", "ElapsedTimeMs", "IP", "Date", "CreatedAt"}
	summaryHeader = []string{"Date", "Model", "Requests", "TotalTokens", "AvgElapsedMs"}
)

// WriteCSV writes one row per usage record.
func WriteCSV(w io.Writer, records []inferhub.UsageRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(recordHeader); err != nil {
		return fmt.Errorf("inferhub/usage: write csv header: %w", err)
	}
	for _, r := range records {
		row := []string{
			r.Model,
			strconv.Itoa(r.TokensUsed),
			strconv.FormatInt(r.ElapsedTimeMs, 10),
			r.IPAddress,
			r.Date,
			r.CreatedAt.Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("inferhub/usage: write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteSummaryCSV writes one row per (date, model) with the average to two decimals.
func WriteSummaryCSV(w io.Writer, summary []inferhub.UsageSummary) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(summaryHeader); err != nil {
		return fmt.Errorf("inferhub/usage: write csv header: %w", err)
	}
	for _, s := range summary {
		row := []string{
			s.Date,
			s.Model,
			strconv.FormatInt(s.Count, 10),
			strconv.FormatInt(s.TotalTokens, 10),
			strconv.FormatFloat(s.AverageElapsed, 'f', 2, 64),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("inferhub/usage: write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
