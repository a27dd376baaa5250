package inferhub

import "time"

// Meter observes dispatch events for monitoring/logging.
type Meter interface {
	// OnDispatch is called when the router has picked a provider.
	OnDispatch(event DispatchEvent)

	// OnResult is called when a provider returns.
	OnResult(event ResultEvent)
}

// DispatchEvent describes a routing decision.
type DispatchEvent struct {
	Provider        string
	Model           string
	EstimatedTokens int
}

// ResultEvent describes the outcome of a provider call.
type ResultEvent struct {
	Provider string
	Model    string
	Success  bool
	Duration time.Duration
	Usage    Usage
	Error    error
}

type noopMeter struct{}

func (noopMeter) OnDispatch(DispatchEvent) {}
func (noopMeter) OnResult(ResultEvent)     {}
