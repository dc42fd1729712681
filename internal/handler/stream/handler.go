package stream

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/domain-chat/backend/internal/handler/apierr"
	"github.com/zhouzirui/domain-chat/backend/internal/logging"
	"github.com/zhouzirui/domain-chat/backend/internal/model/chat"
	chatService "github.com/zhouzirui/domain-chat/backend/internal/service/chat"
	"github.com/zhouzirui/domain-chat/backend/internal/service/status"
	"github.com/zhouzirui/domain-chat/backend/pkg/utils"
)

// Handler streams the turns produced by one AddTurn call as Server-Sent Events
type Handler struct {
	chatSvc  *chatService.Service
	notifier *status.Notifier
	logger   *zap.Logger
}

// New creates a new stream handler
func New(chatSvc *chatService.Service, notifier *status.Notifier, logger *zap.Logger) *Handler {
	return &Handler{
		chatSvc:  chatSvc,
		notifier: notifier,
		logger:   logging.OrNop(logger).Named("handler.stream"),
	}
}

// StreamResponse represents a streaming response chunk
type StreamResponse struct {
	Event    string        `json:"event"`
	ChatID   string        `json:"chatId,omitempty"`
	Category chat.Category `json:"category,omitempty"`
	Turn     *chat.Record  `json:"turn,omitempty"`
	Domain   string        `json:"domain,omitempty"`
	Finished bool          `json:"finished,omitempty"`
	Error    string        `json:"error,omitempty"`
	Code     string        `json:"code,omitempty"`
}

// RegisterRoutes 注册流式接口
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream/{category}/{id}", h.handleStream)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	message := r.URL.Query().Get("message")
	if message == "" {
		utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
		return
	}

	category, err := chat.ParseCategory(chi.URLParam(r, "category"))
	if err != nil {
		apierr.Write(w, h.notifier, err)
		return
	}

	if err := h.HandleStreamRequest(r.Context(), w, category, chi.URLParam(r, "id"), message); err != nil {
		h.logger.Warn("stream ended with error", zap.Error(err))
	}
}

// HandleStreamRequest runs AddTurn and emits one "turn" event per persisted
// turn, then "done" or "error".
func (h *Handler) HandleStreamRequest(ctx context.Context, w http.ResponseWriter, category chat.Category, id, message string) error {
	sse, err := utils.NewSSEWriter(w)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return err
	}

	if err := sse.Event("status", StreamResponse{Event: "status", ChatID: id, Category: category}); err != nil {
		return err
	}

	var writeErr error
	result, err := h.chatSvc.AddTurn(ctx, chatService.TurnRequest{
		ID:       id,
		Category: category,
		Content:  message,
		OnAppend: func(turn chat.Turn) {
			if writeErr != nil {
				return
			}
			record := chat.ToRecord(turn)
			writeErr = sse.Event("turn", StreamResponse{Event: "turn", ChatID: id, Category: category, Turn: &record})
		},
	})
	if err != nil {
		code, reason := apierr.Classify(err)
		msg := apierr.Message(err)
		if code >= http.StatusInternalServerError && h.notifier != nil {
			h.notifier.SetError(msg, 0)
		}
		if sendErr := sse.Event("error", StreamResponse{Event: "error", ChatID: id, Error: msg, Code: reason}); sendErr != nil {
			return errors.Join(err, sendErr)
		}
		return err
	}
	if writeErr != nil {
		return writeErr
	}

	return sse.Event("done", StreamResponse{
		Event:    "done",
		ChatID:   result.ID,
		Category: result.Category,
		Domain:   result.Domain,
		Finished: true,
	})
}
