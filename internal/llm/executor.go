package llm

// File: internal/llm/executor.go
// Purpose: Ordered failover across providers on quota and rate-limit errors.

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"perf-api-go/internal/apperr"
	"perf-api-go/internal/monitoring"
)

var quotaMarkers = []string{"quota", "429", "insufficient_quota", "rate limit"}

// IsQuotaError reports whether err looks like a quota or rate-limit rejection.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range quotaMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// Executor sends messages to the registry's providers in order.
type Executor struct {
	reg     *Registry
	log     *zap.Logger
	metrics *monitoring.Metrics
}

// NewExecutor builds an Executor. log and metrics may be nil.
func NewExecutor(reg *Registry, log *zap.Logger, metrics *monitoring.Metrics) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{reg: reg, log: log, metrics: metrics}
}

// Available reports whether at least one provider is registered.
func (e *Executor) Available() bool {
	return e.reg.Len() > 0
}

// Invoke tries providers starting at start. A quota error moves on to the next
// provider; any other error is returned at once. It returns the response and
// the name of the provider that produced it.
func (e *Executor) Invoke(ctx context.Context, msgs []*schema.Message, start string) (*schema.Message, string, error) {
	const op = "llm.Invoke"
	order := e.reg.AttemptOrder(start)
	if len(order) == 0 {
		return nil, "", apperr.New(apperr.KindNoProviders, op, "no llm providers are configured")
	}

	var lastErr error
	for _, p := range order {
		if err := ctx.Err(); err != nil {
			return nil, "", &apperr.Error{Kind: apperr.KindCanceled, Op: op, Err: err}
		}
		started := time.Now()
		resp, err := p.Chat.Generate(ctx, msgs)
		if err == nil && resp == nil {
			err = errors.New("empty response")
		}
		if err == nil {
			e.metrics.ObserveLLMCall(p.Name, "ok")
			e.log.Debug("llm call succeeded", zap.String("provider", p.Name), zap.Duration("elapsed", time.Since(started)))
			return resp, p.Name, nil
		}
		if ctx.Err() != nil {
			e.metrics.ObserveLLMCall(p.Name, "canceled")
			return nil, p.Name, &apperr.Error{Kind: apperr.KindCanceled, Op: op, Err: err}
		}
		if IsQuotaError(err) {
			e.metrics.ObserveLLMCall(p.Name, "quota")
			e.log.Warn("llm provider quota exceeded, trying next", zap.String("provider", p.Name), zap.Error(err))
			lastErr = &apperr.Error{Kind: apperr.KindQuota, Op: "llm." + p.Name, Err: err}
			continue
		}
		e.metrics.ObserveLLMCall(p.Name, "error")
		e.log.Warn("llm provider failed", zap.String("provider", p.Name), zap.Error(err))
		return nil, p.Name, &apperr.Error{Kind: apperr.KindProvider, Op: "llm." + p.Name, Err: err}
	}
	return nil, "", lastErr
}

// Ask sends a system and user prompt and returns the response text and provider used.
func (e *Executor) Ask(ctx context.Context, system, user, start string) (string, string, error) {
	msgs := []*schema.Message{schema.SystemMessage(system), schema.UserMessage(user)}
	resp, used, err := e.Invoke(ctx, msgs, start)
	if err != nil {
		return "", used, err
	}
	return resp.Content, used, nil
}
