package pipeline

import "time"

// ResponseEnvelope is the serialized shape of a completed send, stored
// verbatim in the idempotency record and returned to the caller. It is
// serialized exactly once, at completion; replays deserialize the stored
// bytes and only flip Metadata.Idempotency.Replayed.
type ResponseEnvelope struct {
	Message  MessageView `json:"message"`
	Metadata Metadata    `json:"metadata"`
}

// MessageView is the assistant message returned to the caller.
type MessageView struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Metadata carries the audit trail and billing summary of a send.
type Metadata struct {
	AgentID           string          `json:"agentId"`
	ProviderUsed      string          `json:"providerUsed"`
	PrimaryAttempted  string          `json:"primaryAttempted"`
	FallbackAttempted string          `json:"fallbackAttempted,omitempty"`
	FallbackUsed      bool            `json:"fallbackUsed"`
	Attempts          []AttemptView   `json:"attempts"`
	Usage             UsageView       `json:"usage"`
	Idempotency       IdempotencyView `json:"idempotency"`
	RequestID         string          `json:"requestId"`
}

// AttemptView is one vendor attempt as surfaced in the response envelope.
type AttemptView struct {
	Provider   string `json:"provider"`
	Status     string `json:"status"`
	HTTPStatus int    `json:"httpStatus,omitempty"`
	LatencyMs  int64  `json:"latencyMs"`
	Retries    int    `json:"retries"`
	ErrorCode  string `json:"errorCode,omitempty"`
}

// UsageView is the billing summary of a completed send.
type UsageView struct {
	TokensIn  int             `json:"tokensIn"`
	TokensOut int             `json:"tokensOut"`
	CostUSD   float64         `json:"costUsd"`
	Pricing   PricingSnapshot `json:"pricing"`
}

// PricingSnapshot is the rate applied to this send's usage.
type PricingSnapshot struct {
	USDPer1kTokens float64 `json:"usdPer1kTokens"`
}

// IdempotencyView describes how this response relates to the idempotency
// protocol. Replayed is the single field mutated when returning a cached
// response; everything else is frozen at serialization time.
type IdempotencyView struct {
	Key      string `json:"key"`
	Replayed bool   `json:"replayed"`
}

// AllProvidersFailedDetails is the Details payload attached to an
// ALL_PROVIDERS_FAILED error.
type AllProvidersFailedDetails struct {
	PrimaryVendor  string        `json:"primaryVendor"`
	FallbackVendor string        `json:"fallbackVendor,omitempty"`
	Attempts       []AttemptView `json:"attempts"`
}
