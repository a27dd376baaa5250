package meter

import (
	"go.uber.org/zap"

	"github.com/ineyio/inferhub"
)

// LogMeter logs dispatch events using zap.
type LogMeter struct {
	Logger *zap.Logger
}

var _ inferhub.Meter = (*LogMeter)(nil)

// NewLogMeter creates a LogMeter with the given logger.
// If logger is nil, zap.L() is used.
func NewLogMeter(logger *zap.Logger) *LogMeter {
	if logger == nil {
		logger = zap.L()
	}
	return &LogMeter{Logger: logger}
}

func (m *LogMeter) OnDispatch(e inferhub.DispatchEvent) {
	m.Logger.Debug("dispatch",
		zap.String("provider", e.Provider),
		zap.String("model", e.Model),
		zap.Int("estimated_tokens", e.EstimatedTokens),
	)
}

func (m *LogMeter) OnResult(e inferhub.ResultEvent) {
	if e.Success {
		m.Logger.Info("result",
			zap.String("provider", e.Provider),
			zap.String("model", e.Model),
			zap.Int64("duration_ms", e.Duration.Milliseconds()),
			zap.Int64("prompt_tokens", e.Usage.PromptTokens),
			zap.Int64("completion_tokens", e.Usage.CompletionTokens),
		)
	} else {
		m.Logger.Warn("result_error",
			zap.String("provider", e.Provider),
			zap.String("model", e.Model),
			zap.Int64("duration_ms", e.Duration.Milliseconds()),
			zap.Error(e.Error),
		)
	}
}
