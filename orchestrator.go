package inferhub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// InferRequest is a caller's inference request.
type InferRequest struct {
	Project      string `json:"project"`
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	ContextSetID *int64 `json:"contextSetId"`
	Query        string `json:"query"`

	// ClientIP is filled by the transport, not the caller.
	ClientIP string `json:"-"`
}

// Validate checks that every field is present.
func (r InferRequest) Validate() error {
	for _, f := range []struct{ name, value string }{
		{"project", r.Project},
		{"provider", r.Provider},
		{"model", r.Model},
		{"query", r.Query},
	} {
		if strings.TrimSpace(f.value) == "" {
			return &ValidationError{Field: f.name, Reason: "must not be blank"}
		}
	}
	if r.ContextSetID == nil {
		return &ValidationError{Field: "contextSetId", Reason: "must not be null"}
	}
	return nil
}

// InferResponse is returned to the caller after a successful dispatch.
type InferResponse struct {
	Result     string `json:"result"`
	Prompt     string `json:"prompt"`
	Model      string `json:"model"`
	Elapsed    string `json:"elapsed"`
	TokensUsed int    `json:"tokensUsed"`
}

// UsageRecorder appends usage records.
type UsageRecorder interface {
	Record(ctx context.Context, u UsageRecord) error
}

// Orchestrator runs one inference request end to end:
// quota, context lookup, prompt assembly, dispatch, recording.
type Orchestrator struct {
	router   *Router
	quota    QuotaGate
	contexts ContextSetStore
	recorder *LogRecorder
	usage    UsageRecorder
	timeout  time.Duration
	logger   *zap.Logger
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithDispatchTimeout bounds each provider call. Zero disables the bound.
func WithDispatchTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.timeout = d }
}

// WithOrchestratorLogger sets the logger.
func WithOrchestratorLogger(l *zap.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(router *Router, quota QuotaGate, contexts ContextSetStore, recorder *LogRecorder, usage UsageRecorder, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		router:   router,
		quota:    quota,
		contexts: contexts,
		recorder: recorder,
		usage:    usage,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

// Infer runs the request lifecycle. It fails fast on validation, quota, context
// and routing errors. A provider failure is recorded as an error-tagged log and
// returned as *ProviderError. Recording failures never affect the response.
func (o *Orchestrator) Infer(ctx context.Context, req InferRequest) (InferResponse, error) {
	if err := req.Validate(); err != nil {
		return InferResponse{}, err
	}

	logger := o.logger.With(
		zap.String("project", req.Project),
		zap.String("model", req.Model),
		zap.Int64("context_set_id", *req.ContextSetID),
	)

	if err := o.quota.Admit(ctx, req.Model); err != nil {
		logger.Info("quota rejected", zap.Error(err))
		return InferResponse{}, err
	}

	cs, err := o.contexts.GetContextSet(ctx, *req.ContextSetID)
	if err != nil {
		if errors.Is(err, ErrContextNotFound) {
			return InferResponse{}, err
		}
		return InferResponse{}, fmt.Errorf("inferhub: load context set: %w", err)
	}

	prompt := FormatPrompt(req.Project, cs.ContextJSON(), req.Query)
	tokens := EstimateTokens(prompt)

	dispatchCtx := ctx
	if o.timeout > 0 {
		var cancel context.CancelFunc
		dispatchCtx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	completion, routeErr := o.router.Route(dispatchCtx, req.Model, prompt)
	if routeErr != nil && errors.Is(routeErr, ErrUnsupportedModel) {
		return InferResponse{}, routeErr
	}

	entry := InferenceLog{
		RequestID: uuid.New().String(),
		Project:   req.Project,
		Provider:  completion.Provider,
		Model:     req.Model,
		Prompt:    prompt,
		Query:     req.Query,
		Result:    completion.Content,
		Status:    LogStatusOK,
		ElapsedMs: completion.Elapsed.Milliseconds(),
	}
	if routeErr != nil {
		entry.Status = LogStatusError
		entry.Error = routeErr.Error()
	}

	// Recording is bookkeeping; it outlives a cancelled request context.
	recordCtx := context.WithoutCancel(ctx)
	if _, err := o.recorder.Record(recordCtx, &entry); err != nil {
		logger.Error("record inference log failed", zap.Error(err))
	}
	if err := o.usage.Record(recordCtx, UsageRecord{
		Model:         req.Model,
		TokensUsed:    tokens,
		ElapsedTimeMs: entry.ElapsedMs,
		IPAddress:     req.ClientIP,
	}); err != nil {
		logger.Error("record usage failed", zap.Error(err))
	}

	if routeErr != nil {
		logger.Warn("dispatch failed",
			zap.String("provider", completion.Provider),
			zap.Int64("elapsed_ms", entry.ElapsedMs),
			zap.Error(routeErr),
		)
		return InferResponse{}, routeErr
	}

	logger.Info("inference completed",
		zap.String("provider", completion.Provider),
		zap.Int64("elapsed_ms", entry.ElapsedMs),
		zap.Int("tokens", tokens),
	)

	return InferResponse{
		Result:     completion.Content,
		Prompt:     prompt,
		Model:      req.Model,
		Elapsed:    fmt.Sprintf("%dms", entry.ElapsedMs),
		TokensUsed: tokens,
	}, nil
}

// Models lists models available through the router.
func (o *Orchestrator) Models() []ModelInfo {
	return o.router.Models()
}
