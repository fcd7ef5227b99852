package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/slotter-org/roomchat-backend/internal/config"
	"github.com/slotter-org/roomchat-backend/internal/logger"
	"github.com/slotter-org/roomchat-backend/internal/metrics"
	"github.com/slotter-org/roomchat-backend/internal/types"
)

const (
	ReasonTimeout     = "timeout"
	ReasonCanceled    = "canceled"
	ReasonCircuitOpen = "circuit_open"
	ReasonHTTPStatus  = "http_status"
	ReasonEmptyReply  = "empty_reply"
	ReasonMalformed   = "malformed_response"
	ReasonProvider    = "provider_error"
)

// Reply is always usable as message content. Fallback is set when Content is
// the configured fallback text rather than provider output.
type Reply struct {
	Content  string
	Fallback bool
	Reason   string
	Model    string
	Latency  time.Duration
}

func (r Reply) Metadata(inReplyTo string) types.AIMetadata {
	return types.AIMetadata{
		Model:     r.Model,
		Fallback:  r.Fallback,
		Reason:    r.Reason,
		LatencyMs: r.Latency.Milliseconds(),
		InReplyTo: inReplyTo,
	}
}

// AIResponder never fails: provider problems turn into fallback replies.
type AIResponder interface {
	Generate(ctx context.Context, convo types.ConversationContext) Reply
}

type aiResponder struct {
	provider GenerationProvider
	breaker  *CircuitBreaker
	timeout  time.Duration
	fallback string
	log      *logger.Logger
}

func NewAIResponder(provider GenerationProvider, breaker *CircuitBreaker, cfg config.AIConfig, log *logger.Logger) AIResponder {
	if breaker == nil {
		breaker = NewCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown)
	}
	return &aiResponder{
		provider: provider,
		breaker:  breaker,
		timeout:  cfg.Timeout,
		fallback: cfg.FallbackText,
		log:      log.With("service", "AIResponder"),
	}
}

func (ar *aiResponder) Generate(ctx context.Context, convo types.ConversationContext) Reply {
	start := time.Now()
	model := ar.provider.Model()

	if !ar.breaker.Allow() {
		ar.log.Warn("Circuit open, skipping provider call")
		return ar.fallbackReply(model, ReasonCircuitOpen, start)
	}

	callCtx, cancel := context.WithTimeout(ctx, ar.timeout)
	defer cancel()

	text, err := ar.provider.GenerateText(callCtx, convo)
	metrics.ProviderLatency.Observe(time.Since(start).Seconds())
	if err == nil {
		text = strings.TrimSpace(text)
		if text == "" {
			err = ErrEmptyReply
		}
	}
	if err != nil {
		reason := fallbackReason(err)
		if reason == ReasonCanceled {
			ar.breaker.Release()
		} else {
			ar.breaker.RecordFailure()
		}
		ar.log.Warn("Provider call failed, using fallback reply", "reason", reason, "error", err, "latency", time.Since(start).String())
		return ar.fallbackReply(model, reason, start)
	}

	ar.breaker.RecordSuccess()
	metrics.ProviderRequests.WithLabelValues("ok").Inc()
	return Reply{
		Content: text,
		Model:   model,
		Latency: time.Since(start),
	}
}

func (ar *aiResponder) fallbackReply(model, reason string, start time.Time) Reply {
	metrics.ProviderRequests.WithLabelValues("fallback").Inc()
	metrics.ProviderFallbacks.WithLabelValues(reason).Inc()
	return Reply{
		Content:  ar.fallback,
		Fallback: true,
		Reason:   reason,
		Model:    model,
		Latency:  time.Since(start),
	}
}

func fallbackReason(err error) string {
	var statusErr *ProviderStatusError
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, context.Canceled):
		return ReasonCanceled
	case errors.As(err, &statusErr):
		return ReasonHTTPStatus
	case errors.Is(err, ErrEmptyReply):
		return ReasonEmptyReply
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		return ReasonMalformed
	default:
		return ReasonProvider
	}
}
