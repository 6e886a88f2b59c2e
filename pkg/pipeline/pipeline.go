// Package pipeline implements the conversation pipeline (C7): the
// top-level orchestrator behind send_message. It wires the idempotency
// protocol (C6), tenant-scoped store (C5), fallback orchestrator (C3), and
// pricing function (C4) together into the thirteen-step algorithm that
// turns one inbound user message into either a materialized assistant
// reply or an ALL_PROVIDERS_FAILED error — exactly once per idempotency key.
package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/design-smith/vocalbridge/internal/gwerrors"
	"github.com/design-smith/vocalbridge/internal/telemetry"
	"github.com/design-smith/vocalbridge/pkg/fallback"
	"github.com/design-smith/vocalbridge/pkg/idempotency"
	"github.com/design-smith/vocalbridge/pkg/opsalert"
	"github.com/design-smith/vocalbridge/pkg/pricing"
	"github.com/design-smith/vocalbridge/pkg/retry"
	"github.com/design-smith/vocalbridge/pkg/store"
	"github.com/design-smith/vocalbridge/pkg/vendor"
)

// SendInput is the caller-supplied request to Pipeline.Send.
type SendInput struct {
	TenantID       string
	SessionID      string
	IdempotencyKey string
	UserContent    string
	RequestID      string
}

// Pipeline is the conversation pipeline (C7).
type Pipeline struct {
	store    store.Store
	idem     *idempotency.Protocol
	vendors  *vendor.Registry
	policy   retry.Policy
	notifier *opsalert.Notifier
	logger   *slog.Logger
}

// New constructs a Pipeline. notifier may be nil to disable outage alerting.
func New(s store.Store, idem *idempotency.Protocol, vendors *vendor.Registry, policy retry.Policy, notifier *opsalert.Notifier, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		store:    s,
		idem:     idem,
		vendors:  vendors,
		policy:   policy,
		notifier: notifier,
		logger:   logger,
	}
}

// Send runs the full send_message algorithm (spec §4.7) for one inbound
// user message, returning the response envelope to serialize to the
// caller. On failure it returns a *gwerrors.Error carrying the
// client-visible code; all other errors are internal and unexpected.
func (p *Pipeline) Send(ctx context.Context, in SendInput) (*ResponseEnvelope, error) {
	// Precondition: an idempotency key is mandatory.
	if in.IdempotencyKey == "" {
		return nil, gwerrors.New(gwerrors.CodeIdempotencyKeyRequired, "Idempotency-Key header is required")
	}

	start := time.Now()

	// Steps 1-2: idempotency check/insert (lookup-then-insert-then-complete,
	// C6 §4.6 steps 1-3), before session/agent are ever touched. A replayed
	// key short-circuits everything below; an uncompleted placeholder is
	// left in place even if the session/agent turn out to be invalid, so a
	// retry under the same key against a bad sessionId still dedupes against
	// that placeholder instead of re-running from scratch.
	fingerprint := idempotency.Fingerprint(in.TenantID, in.SessionID, in.UserContent)
	checkResult, err := p.idem.Begin(ctx, in.TenantID, in.IdempotencyKey, &in.SessionID, fingerprint)
	switch err {
	case nil:
	case idempotency.ErrFingerprintMismatch:
		return nil, gwerrors.New(gwerrors.CodeIdempotencyKeyReused, "idempotency key reused with a different request body")
	case idempotency.ErrInFlight:
		return nil, gwerrors.New(gwerrors.CodeIdempotencyKeyReused, "a request with this idempotency key is already in progress")
	default:
		return nil, gwerrors.Wrap(gwerrors.CodeInternal, "checking idempotency", err)
	}

	if checkResult.Replayed {
		telemetry.IdempotencyReplaysTotal.Inc()
		var env ResponseEnvelope
		if err := json.Unmarshal(checkResult.Response, &env); err != nil {
			return nil, gwerrors.Wrap(gwerrors.CodeInternal, "decoding replayed response", err)
		}
		env.Metadata.Idempotency.Replayed = true
		return &env, nil
	}

	// Steps 3-4: load session and agent.
	session, err := p.store.FindSession(ctx, in.TenantID, in.SessionID)
	if err == store.ErrNotFound {
		return nil, gwerrors.New(gwerrors.CodeSessionNotFound, "session not found")
	}
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.CodeInternal, "loading session", err)
	}

	agent, err := p.store.FindAgent(ctx, in.TenantID, session.AgentID)
	if err == store.ErrNotFound {
		return nil, gwerrors.New(gwerrors.CodeAgentNotFound, "agent not found")
	}
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.CodeInternal, "loading agent", err)
	}

	// Step 5: append the user's message before calling any vendor. A crash
	// after this point still leaves a truthful transcript of what the user
	// sent, even if no assistant reply was ever produced.
	if _, err := p.store.AppendMessage(ctx, in.TenantID, in.SessionID, store.RoleUser, in.UserContent); err != nil {
		return nil, gwerrors.Wrap(gwerrors.CodeInternal, "appending user message", err)
	}

	history, err := p.store.ListSessionMessagesAscending(ctx, in.TenantID, in.SessionID)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.CodeInternal, "loading session history", err)
	}

	// Step 6: assemble the vendor-agnostic request from agent config and
	// the full prior transcript, including the message just appended.
	req := vendor.NormalizedRequest{
		SystemPrompt: agent.SystemPrompt,
		EnabledTools: agent.EnabledTools,
		Messages:     toVendorMessages(history),
	}

	// Step 7: resolve the primary and (optional) fallback adapters.
	primaryAdapter, err := p.vendors.Get(agent.PrimaryVendor)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.CodeInternal, "resolving primary vendor adapter", err)
	}

	var fallbackAdapter vendor.Adapter
	if agent.FallbackVendor != "" {
		fallbackAdapter, err = p.vendors.Get(agent.FallbackVendor)
		if err != nil {
			return nil, gwerrors.Wrap(gwerrors.CodeInternal, "resolving fallback vendor adapter", err)
		}
	}

	// Step 8: run the fallback orchestrator (C3), which internally drives
	// the retry engine (C2) against primary and, on exhaustion, fallback.
	// The observer persists each attempt as it completes so a mid-send
	// crash still leaves a truthful partial audit trail.
	observer := retry.ObserverFunc(func(ctx context.Context, a retry.Attempt) {
		p.recordAttempt(ctx, in, agent.ID, a)
	})

	result := fallback.Run(ctx, primaryAdapter, fallbackAdapter, req, p.policy, observer)

	for _, a := range result.Attempts {
		telemetry.AttemptsTotal.WithLabelValues(a.Vendor, string(a.Outcome)).Inc()
		if a.RetryIndex > 0 {
			telemetry.RetriesTotal.WithLabelValues(a.Vendor).Inc()
		}
	}
	if result.FallbackUsed {
		telemetry.FallbackUsedTotal.Inc()
	}

	// Step 9: total failure. No assistant message, no usage event, and no
	// idempotency completion is recorded — the key remains retryable.
	if result.Response == nil {
		p.notifyOutage(ctx, in, agent, result)
		telemetry.SendDuration.WithLabelValues("failed").Observe(time.Since(start).Seconds())
		return nil, gwerrors.Wrap(gwerrors.CodeAllProvidersFailed, "all configured providers failed", result.Failure).
			WithDetails(AllProvidersFailedDetails{
				PrimaryVendor:  agent.PrimaryVendor,
				FallbackVendor: agent.FallbackVendor,
				Attempts:       attemptViewsFrom(result.Attempts),
			})
	}

	// Step 10: persist the assistant's reply.
	assistantMessage, err := p.store.AppendMessage(ctx, in.TenantID, in.SessionID, store.RoleAssistant, result.Response.Text)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.CodeInternal, "appending assistant message", err)
	}

	if err := p.store.TouchSessionActivity(ctx, in.TenantID, in.SessionID); err != nil {
		p.logger.Warn("touching session activity", "error", err, "session_id", in.SessionID)
	}

	// Step 11: price the completed call (C4) and record one usage event.
	cost := pricing.Cost(result.WinningVendor, result.Response.TokensIn, result.Response.TokensOut)

	// The usage event carries RequestID; the store rejects a second usage
	// event with the same request ID, so one request ID never bills twice.
	usageEvent := store.UsageEvent{
		ID:        uuid.NewString(),
		TenantID:  in.TenantID,
		SessionID: in.SessionID,
		AgentID:   agent.ID,
		Vendor:    result.WinningVendor,
		TokensIn:  result.Response.TokensIn,
		TokensOut: result.Response.TokensOut,
		CostUSD:   cost,
		RequestID: in.RequestID,
	}
	if err := p.store.RecordUsage(ctx, in.TenantID, usageEvent); err != nil {
		return nil, gwerrors.Wrap(gwerrors.CodeInternal, "recording usage", err)
	}
	telemetry.UsageCostTotal.WithLabelValues(result.WinningVendor).Add(cost)
	telemetry.SendDuration.WithLabelValues("success").Observe(time.Since(start).Seconds())

	// Step 12: build the response envelope (spec §6).
	env := buildEnvelope(in, agent, assistantMessage, result, cost)

	// Step 12, continued: serialize exactly once and mark the idempotency record
	// complete. This is the single point after which a concurrent or
	// retried request for this key observes a materialized response.
	envBytes, err := json.Marshal(env)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.CodeInternal, "encoding response envelope", err)
	}
	if err := p.idem.Complete(ctx, in.TenantID, in.IdempotencyKey, envBytes); err != nil {
		return nil, gwerrors.Wrap(gwerrors.CodeInternal, "completing idempotency record", err)
	}

	// Step 13: return the envelope built in step 12, untouched by replay logic.
	return &env, nil
}

func (p *Pipeline) recordAttempt(ctx context.Context, in SendInput, agentID string, a retry.Attempt) {
	entry := store.AttemptLogEntry{
		ID:         uuid.NewString(),
		TenantID:   in.TenantID,
		SessionID:  in.SessionID,
		AgentID:    agentID,
		Vendor:     a.Vendor,
		Outcome:    store.AttemptOutcome(a.Outcome),
		LatencyMs:  a.LatencyMs,
		RetryIndex: a.RetryIndex,
		RequestID:  in.RequestID,
	}
	if a.HTTPStatus != 0 {
		status := a.HTTPStatus
		entry.HTTPStatus = &status
	}
	if a.ErrorCode != "" {
		code := a.ErrorCode
		entry.ErrorCode = &code
	}
	if a.Message != "" {
		msg := a.Message
		entry.ErrorMessage = &msg
	}

	if err := p.store.RecordAttempts(ctx, in.TenantID, []store.AttemptLogEntry{entry}); err != nil {
		p.logger.Error("recording attempt log", "error", err, "vendor", a.Vendor, "request_id", in.RequestID)
	}
}

func (p *Pipeline) notifyOutage(ctx context.Context, in SendInput, agent store.Agent, result fallback.Result) {
	if p.notifier == nil || !p.notifier.IsEnabled() {
		return
	}
	p.notifier.Notify(opsalert.Outage{
		TenantID:       in.TenantID,
		AgentID:        agent.ID,
		SessionID:      in.SessionID,
		RequestID:      in.RequestID,
		PrimaryVendor:  agent.PrimaryVendor,
		FallbackVendor: agent.FallbackVendor,
	})
}

func toVendorMessages(history []store.Message) []vendor.Message {
	out := make([]vendor.Message, 0, len(history))
	for _, m := range history {
		out = append(out, vendor.Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}

func attemptViewsFrom(attempts []retry.Attempt) []AttemptView {
	views := make([]AttemptView, 0, len(attempts))
	for _, a := range attempts {
		views = append(views, AttemptView{
			Provider:   a.Vendor,
			Status:     string(a.Outcome),
			HTTPStatus: a.HTTPStatus,
			LatencyMs:  a.LatencyMs,
			Retries:    a.RetryIndex,
			ErrorCode:  a.ErrorCode,
		})
	}
	return views
}

func buildEnvelope(in SendInput, agent store.Agent, assistantMessage store.Message, result fallback.Result, cost float64) ResponseEnvelope {
	attemptViews := attemptViewsFrom(result.Attempts)

	return ResponseEnvelope{
		Message: MessageView{
			ID:        assistantMessage.ID,
			SessionID: assistantMessage.SessionID,
			Role:      string(assistantMessage.Role),
			Content:   assistantMessage.Content,
			CreatedAt: assistantMessage.CreatedAt,
		},
		Metadata: Metadata{
			AgentID:           agent.ID,
			ProviderUsed:      result.WinningVendor,
			PrimaryAttempted:  agent.PrimaryVendor,
			FallbackAttempted: agent.FallbackVendor,
			FallbackUsed:      result.FallbackUsed,
			Attempts:          attemptViews,
			Usage: UsageView{
				TokensIn:  result.Response.TokensIn,
				TokensOut: result.Response.TokensOut,
				CostUSD:   cost,
				Pricing:   PricingSnapshot{USDPer1kTokens: pricing.PerThousandTokens[result.WinningVendor]},
			},
			Idempotency: IdempotencyView{Key: in.IdempotencyKey, Replayed: false},
			RequestID:   in.RequestID,
		},
	}
}
