package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/coachdesk/coachd/internal/config"
	"github.com/coachdesk/coachd/internal/domain"
	"github.com/coachdesk/coachd/internal/middleware"
	"github.com/coachdesk/coachd/internal/service"
)

type chatRequest struct {
	BotID   string `json:"bot_id"`
	Message string `json:"message"`
	ChatID  *int64 `json:"chat_id"`
}

type chatResponse struct {
	BotID     string    `json:"bot_id"`
	Reply     string    `json:"reply"`
	ChatID    *int64    `json:"chat_id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toChatResponse(res *service.TurnResult) chatResponse {
	return chatResponse{
		BotID:     res.BotID,
		Reply:     res.Reply,
		ChatID:    res.ChatID,
		Title:     res.Title,
		UpdatedAt: res.UpdatedAt,
	}
}

func (h *Handler) turnRequest(w http.ResponseWriter, r *http.Request) (service.TurnRequest, bool) {
	var req chatRequest
	if !decodeBody(w, r, &req) {
		return service.TurnRequest{}, false
	}
	turn := service.TurnRequest{
		Email:   middleware.GetEmail(r.Context()),
		BotID:   req.BotID,
		Message: req.Message,
		ChatID:  req.ChatID,
	}
	// Validate before any streaming headers go out.
	if _, ok := h.orchestrator.Bot(turn.BotID); !ok {
		writeError(w, domain.ErrUnknownBot)
		return service.TurnRequest{}, false
	}
	if strings.TrimSpace(turn.Message) == "" {
		writeError(w, domain.ErrInvalidInput)
		return service.TurnRequest{}, false
	}
	return turn, true
}

func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	turn, ok := h.turnRequest(w, r)
	if !ok {
		return
	}

	res, err := h.orchestrator.ProcessTurn(r.Context(), turn, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toChatResponse(res))
}

func (h *Handler) ChatStream(w http.ResponseWriter, r *http.Request) {
	turn, ok := h.turnRequest(w, r)
	if !ok {
		return
	}
	sink, err := newSSESink(w)
	if err != nil {
		writeError(w, err)
		return
	}
	setSSEHeaders(w)

	if _, err := h.orchestrator.ProcessTurn(r.Context(), turn, sink); err != nil {
		// Failed before the first event. The stream is still the only
		// channel left, so close it with a terminal error frame.
		_ = sink.Meta(turn.ChatID)
		_ = sink.Error(config.ApologyReply)
	}
}
