package status

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/domain-chat/backend/internal/logging"
	"github.com/zhouzirui/domain-chat/backend/internal/service/status"
	"github.com/zhouzirui/domain-chat/backend/pkg/utils"
)

const (
	writeWait    = 5 * time.Second
	loadingPoll  = 250 * time.Millisecond
	pingInterval = 30 * time.Second
)

// Message 推送给前端的状态
type Message struct {
	Loading      bool            `json:"loading"`
	Notification status.Snapshot `json:"notification"`
}

// Handler 暴露加载状态和通知
type Handler struct {
	notifier *status.Notifier
	loading  *status.Loading
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// New 创建状态处理器
func New(notifier *status.Notifier, loading *status.Loading, logger *zap.Logger) *Handler {
	return &Handler{
		notifier: notifier,
		loading:  loading,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logging.OrNop(logger).Named("handler.status"),
	}
}

// RegisterRoutes 注册状态路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/status", h.handleStatus)
	r.Get("/ws/status", h.handleWebSocket)
}

func (h *Handler) current() Message {
	return Message{Loading: h.loading.Active(), Notification: h.notifier.Snapshot()}
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.current())
}

// handleWebSocket 推送通知变化和加载状态变化，直到客户端断开
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	updates, cancel := h.notifier.Subscribe()
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(msg Message) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			h.logger.Debug("websocket write failed", zap.Error(err))
			return false
		}
		return true
	}

	last := h.current()
	if !send(last) {
		return
	}

	poll := time.NewTicker(loadingPoll)
	defer poll.Stop()
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			last = Message{Loading: h.loading.Active(), Notification: snap}
			if !send(last) {
				return
			}
		case <-poll.C:
			if active := h.loading.Active(); active != last.Loading {
				last.Loading = active
				if !send(last) {
					return
				}
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
