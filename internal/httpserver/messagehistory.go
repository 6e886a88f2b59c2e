package httpserver

import (
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/design-smith/vocalbridge/internal/gwerrors"
	"github.com/design-smith/vocalbridge/pkg/identity"
	"github.com/design-smith/vocalbridge/pkg/store"
)

// MessageHistoryHandler exposes a tenant-scoped, cursor-paginated view of a
// session's message transcript.
type MessageHistoryHandler struct {
	store store.Store
}

// NewMessageHistoryHandler creates a handler bound to a store.
func NewMessageHistoryHandler(s store.Store) *MessageHistoryHandler {
	return &MessageHistoryHandler{store: s}
}

// Routes mounts GET /sessions/{sessionId}/messages.
func (h *MessageHistoryHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/sessions/{sessionId}/messages", h.handleList)
	return r
}

const messageTimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

type messageView struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

func (h *MessageHistoryHandler) handleList(w http.ResponseWriter, r *http.Request) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		RespondError(w, http.StatusUnauthorized, string(gwerrors.CodeInvalidAPIKey), "missing authenticated identity")
		return
	}

	params, err := ParseCursorParams(r)
	if err != nil {
		RespondError(w, http.StatusBadRequest, string(gwerrors.CodeInternal), err.Error())
		return
	}

	sessionID := chi.URLParam(r, "sessionId")
	if _, err := h.store.FindSession(r.Context(), id.TenantID, sessionID); err != nil {
		RespondError(w, http.StatusNotFound, string(gwerrors.CodeSessionNotFound), "session not found")
		return
	}

	all, err := h.store.ListSessionMessagesAscending(r.Context(), id.TenantID, sessionID)
	if err != nil {
		RespondError(w, http.StatusInternalServerError, string(gwerrors.CodeInternal), "internal error")
		return
	}

	Respond(w, http.StatusOK, messagesAfter(all, params))
}

// messagesAfter applies cursor pagination to an already tenant-scoped,
// ascending-ordered message slice. Session transcripts are small enough that
// paging in memory over the full history is preferable to a second,
// parameterized store query.
func messagesAfter(all []store.Message, params CursorParams) CursorPage[messageView] {
	start := 0
	if params.After != nil {
		start = sort.Search(len(all), func(i int) bool {
			return messageIsAfter(all[i], *params.After)
		})
	}

	remaining := all[start:]
	end := params.Limit + 1
	if end > len(remaining) {
		end = len(remaining)
	}
	windowed := remaining[:end]

	views := make([]messageView, len(windowed))
	for i, m := range windowed {
		views[i] = messageView{
			ID:        m.ID,
			Role:      string(m.Role),
			Content:   m.Content,
			CreatedAt: m.CreatedAt.UTC().Format(messageTimestampLayout),
		}
	}

	return NewCursorPage(views, params.Limit, func(v messageView) Cursor {
		parsedID, _ := uuid.Parse(v.ID)
		createdAt, _ := time.Parse(messageTimestampLayout, v.CreatedAt)
		return Cursor{CreatedAt: createdAt, ID: parsedID}
	})
}

func messageIsAfter(m store.Message, c Cursor) bool {
	if m.CreatedAt.After(c.CreatedAt) {
		return true
	}
	if m.CreatedAt.Equal(c.CreatedAt) {
		return m.ID > c.ID.String()
	}
	return false
}
