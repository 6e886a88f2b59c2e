package httpserver

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/design-smith/vocalbridge/internal/gwerrors"
	"github.com/design-smith/vocalbridge/pkg/identity"
	"github.com/design-smith/vocalbridge/pkg/pipeline"
)

// SendMessageHandler exposes the conversation pipeline (C7) over HTTP.
type SendMessageHandler struct {
	pipeline *pipeline.Pipeline
}

// NewSendMessageHandler creates a handler bound to a pipeline.
func NewSendMessageHandler(p *pipeline.Pipeline) *SendMessageHandler {
	return &SendMessageHandler{pipeline: p}
}

// Routes mounts POST /sessions/{sessionId}/messages.
func (h *SendMessageHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/sessions/{sessionId}/messages", h.handleSend)
	return r
}

type sendMessageRequest struct {
	Content string `json:"content" validate:"required"`
}

func (h *SendMessageHandler) handleSend(w http.ResponseWriter, r *http.Request) {
	requestID := RequestIDFromContext(r.Context())

	id, ok := identity.FromContext(r.Context())
	if !ok {
		Respond(w, http.StatusUnauthorized, gwerrors.ErrorEnvelope{
			Code:      string(gwerrors.CodeInvalidAPIKey),
			Message:   "missing authenticated identity",
			RequestID: requestID,
		})
		return
	}

	var req sendMessageRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	idempotencyKey := r.Header.Get("Idempotency-Key")

	env, err := h.pipeline.Send(r.Context(), pipeline.SendInput{
		TenantID:       id.TenantID,
		SessionID:      chi.URLParam(r, "sessionId"),
		IdempotencyKey: idempotencyKey,
		UserContent:    req.Content,
		RequestID:      requestID,
	})
	if err != nil {
		writePipelineError(w, err, requestID)
		return
	}

	Respond(w, http.StatusOK, env)
}

func writePipelineError(w http.ResponseWriter, err error, requestID string) {
	var gwErr *gwerrors.Error
	if errors.As(err, &gwErr) {
		Respond(w, gwErr.HTTPStatus(), gwerrors.ErrorEnvelope{
			Code:      string(gwErr.Code),
			Message:   gwErr.Message,
			Details:   gwErr.Details(),
			RequestID: requestID,
		})
		return
	}
	Respond(w, http.StatusInternalServerError, gwerrors.ErrorEnvelope{
		Code:      string(gwerrors.CodeInternal),
		Message:   "internal error",
		RequestID: requestID,
	})
}
