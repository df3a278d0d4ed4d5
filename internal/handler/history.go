package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/coachdesk/coachd/internal/config"
	"github.com/coachdesk/coachd/internal/domain"
	"github.com/coachdesk/coachd/internal/middleware"
	"github.com/coachdesk/coachd/internal/service"
	"github.com/go-chi/chi/v5"
)

type conversationBody struct {
	ChatID    int64     `json:"chat_id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updated_at"`
}

type messageBody struct {
	ID       int64      `json:"id"`
	Role     string     `json:"role"`
	Content  string     `json:"content"`
	IsEdited bool       `json:"is_edited"`
	EditedAt *time.Time `json:"edited_at"`
}

func chatIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "chatID"), 10, 64)
	return id, err == nil
}

func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	email := middleware.GetEmail(r.Context())
	convs, err := h.history.List(r.Context(), email, chi.URLParam(r, "botID"))
	if err != nil {
		writeError(w, err)
		return
	}

	items := make([]conversationBody, 0, len(convs))
	for _, c := range convs {
		items = append(items, conversationBody{ChatID: c.ID, Title: c.Title, UpdatedAt: c.UpdatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) NewChat(w http.ResponseWriter, r *http.Request) {
	email := middleware.GetEmail(r.Context())
	conv, err := h.history.NewChat(r.Context(), email, chi.URLParam(r, "botID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conversationBody{ChatID: conv.ID, Title: conv.Title, UpdatedAt: conv.UpdatedAt})
}

func (h *Handler) HistoryDetail(w http.ResponseWriter, r *http.Request) {
	chatID, ok := chatIDParam(r)
	if !ok {
		writeError(w, domain.ErrConversationNotFound)
		return
	}

	email := middleware.GetEmail(r.Context())
	conv, msgs, err := h.history.Detail(r.Context(), email, chi.URLParam(r, "botID"), chatID)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]messageBody, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageBody{ID: m.ID, Role: m.Role, Content: m.Content, IsEdited: m.IsEdited, EditedAt: m.EditedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"chat_id":    conv.ID,
		"title":      conv.Title,
		"updated_at": conv.UpdatedAt,
		"messages":   out,
	})
}

func (h *Handler) Rename(w http.ResponseWriter, r *http.Request) {
	chatID, ok := chatIDParam(r)
	if !ok {
		writeError(w, domain.ErrConversationNotFound)
		return
	}
	var req struct {
		Title string `json:"title"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	email := middleware.GetEmail(r.Context())
	stored, display, err := h.history.Rename(r.Context(), email, chi.URLParam(r, "botID"), chatID, req.Title)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"title": stored, "display_title": display})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	chatID, ok := chatIDParam(r)
	if !ok {
		// Idempotent: an unparseable id deletes nothing, successfully.
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	email := middleware.GetEmail(r.Context())
	if err := h.history.Delete(r.Context(), email, chi.URLParam(r, "botID"), chatID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) editRequest(w http.ResponseWriter, r *http.Request) (service.EditRequest, bool) {
	chatID, ok := chatIDParam(r)
	if !ok {
		writeError(w, domain.ErrConversationNotFound)
		return service.EditRequest{}, false
	}
	messageID, err := strconv.ParseInt(chi.URLParam(r, "messageID"), 10, 64)
	if err != nil {
		writeError(w, domain.ErrMessageNotFound)
		return service.EditRequest{}, false
	}
	var req struct {
		Content    string `json:"content"`
		Regenerate bool   `json:"regenerate"`
	}
	if !decodeBody(w, r, &req) {
		return service.EditRequest{}, false
	}
	return service.EditRequest{
		Email:      middleware.GetEmail(r.Context()),
		BotID:      chi.URLParam(r, "botID"),
		ChatID:     chatID,
		MessageID:  messageID,
		Content:    req.Content,
		Regenerate: req.Regenerate,
	}, true
}

func (h *Handler) EditMessage(w http.ResponseWriter, r *http.Request) {
	req, ok := h.editRequest(w, r)
	if !ok {
		return
	}

	res, err := h.orchestrator.EditMessage(r.Context(), req, nil)
	if err != nil {
		writeError(w, err)
		return
	}

	body := map[string]any{
		"message": messageBody{
			ID:       res.Message.ID,
			Role:     res.Message.Role,
			Content:  res.Message.Content,
			IsEdited: res.Message.IsEdited,
			EditedAt: res.Message.EditedAt,
		},
	}
	if res.Turn != nil {
		body["turn"] = toChatResponse(res.Turn)
	}
	writeJSON(w, http.StatusOK, body)
}

// EditMessageStream behaves like EditMessage with regenerate forced on
// and the fresh turn delivered as an event stream.
func (h *Handler) EditMessageStream(w http.ResponseWriter, r *http.Request) {
	req, ok := h.editRequest(w, r)
	if !ok {
		return
	}
	req.Regenerate = true

	sink, err := newSSESink(w)
	if err != nil {
		writeError(w, err)
		return
	}
	setSSEHeaders(w)

	if _, err := h.orchestrator.EditMessage(r.Context(), req, sink); err != nil {
		_ = sink.Meta(&req.ChatID)
		_ = sink.Error(config.ApologyReply)
	}
}
