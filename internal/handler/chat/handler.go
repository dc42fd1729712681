package chat

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/domain-chat/backend/internal/handler/apierr"
	"github.com/zhouzirui/domain-chat/backend/internal/logging"
	"github.com/zhouzirui/domain-chat/backend/internal/model/chat"
	chatService "github.com/zhouzirui/domain-chat/backend/internal/service/chat"
	"github.com/zhouzirui/domain-chat/backend/internal/service/status"
	"github.com/zhouzirui/domain-chat/backend/pkg/utils"
)

const maxBodyBytes = 1 << 20

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc  *chatService.Service
	notifier *status.Notifier
	logger   *zap.Logger
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service, notifier *status.Notifier, logger *zap.Logger) *Handler {
	return &Handler{
		chatSvc:  chatSvc,
		notifier: notifier,
		logger:   logging.OrNop(logger).Named("handler.chat"),
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/chats", h.handleListChats)
	r.Post("/chats", h.handleCreateChat)
	r.Get("/chats/{category}/last", h.handleLastChat)
	r.Get("/chats/{category}/{id}", h.handleGetChat)
	r.Post("/chats/{category}/{id}/turns", h.handleAddTurn)
}

// TurnResponse AddTurn 的响应体
type TurnResponse struct {
	ID       string        `json:"id"`
	Category chat.Category `json:"category"`
	Appended []chat.Record `json:"appended"`
	Domain   string        `json:"domain,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// NewTurnResponse 将服务层结果转换为响应体
func NewTurnResponse(result *chatService.TurnResult) TurnResponse {
	resp := TurnResponse{Appended: []chat.Record{}}
	if result == nil {
		return resp
	}
	resp.ID = result.ID
	resp.Category = result.Category
	resp.Domain = result.Domain
	for _, turn := range result.Appended {
		resp.Appended = append(resp.Appended, chat.ToRecord(turn))
	}
	return resp
}

// handleListChats 按更新时间倒序列出分类下的会话
func (h *Handler) handleListChats(w http.ResponseWriter, r *http.Request) {
	category, err := parseCategory(r.URL.Query().Get("category"))
	if err != nil {
		apierr.Write(w, h.notifier, err)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			utils.RespondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
	}

	if r.URL.Query().Get("view") == "titles" {
		titles, err := h.chatSvc.Titles(category, limit)
		if err != nil {
			apierr.Write(w, h.notifier, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, titles)
		return
	}

	chats, err := h.chatSvc.ListChats(category, limit)
	if err != nil {
		apierr.Write(w, h.notifier, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, chats)
}

// handleCreateChat 创建会话，已存在的会话不会被覆盖
func (h *Handler) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Category string `json:"category"`
		ID       string `json:"id"`
	}
	if r.ContentLength != 0 {
		if err := utils.DecodeJSON(w, r, maxBodyBytes, &payload); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	category, err := parseCategory(payload.Category)
	if err != nil {
		apierr.Write(w, h.notifier, err)
		return
	}

	id, err := h.chatSvc.CreateChat(r.Context(), category, payload.ID)
	if err != nil {
		h.logger.Error("create chat failed", zap.Error(err))
		apierr.Write(w, h.notifier, err)
		return
	}

	c, _ := h.chatSvc.Chat(category, id)
	utils.RespondJSON(w, http.StatusCreated, c)
}

// handleLastChat 返回分类下最近加入的会话，不存在时自动创建
func (h *Handler) handleLastChat(w http.ResponseWriter, r *http.Request) {
	category, err := parseCategory(chi.URLParam(r, "category"))
	if err != nil {
		apierr.Write(w, h.notifier, err)
		return
	}

	id, err := h.chatSvc.LastChatID(r.Context(), category)
	if err != nil {
		apierr.Write(w, h.notifier, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"id": id, "category": string(category)})
}

// handleGetChat 从存储刷新并返回会话
func (h *Handler) handleGetChat(w http.ResponseWriter, r *http.Request) {
	category, err := parseCategory(chi.URLParam(r, "category"))
	if err != nil {
		apierr.Write(w, h.notifier, err)
		return
	}

	c, err := h.chatSvc.EnsureChatLoaded(r.Context(), category, chi.URLParam(r, "id"))
	if err != nil {
		if !errors.Is(err, chatService.ErrChatNotFound) {
			h.logger.Error("load chat failed", zap.Error(err))
		}
		apierr.Write(w, h.notifier, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, c)
}

// handleAddTurn 追加用户消息并返回新增的全部消息
func (h *Handler) handleAddTurn(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Content string  `json:"content"`
		Type    string  `json:"type"`
		Model   string  `json:"model"`
		Size    string  `json:"size"`
		Format  string  `json:"format"`
		Voice   string  `json:"voice"`
		Speed   float64 `json:"speed"`
	}
	if err := utils.DecodeJSON(w, r, maxBodyBytes, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	category, err := parseCategory(chi.URLParam(r, "category"))
	if err != nil {
		apierr.Write(w, h.notifier, err)
		return
	}

	result, err := h.chatSvc.AddTurn(r.Context(), chatService.TurnRequest{
		ID:       chi.URLParam(r, "id"),
		Category: category,
		Content:  payload.Content,
		Type:     chat.TurnType(payload.Type),
		Model:    payload.Model,
		Size:     payload.Size,
		Format:   payload.Format,
		Voice:    payload.Voice,
		Speed:    payload.Speed,
	})
	if err != nil {
		if result == nil || len(result.Appended) == 0 {
			apierr.Write(w, h.notifier, err)
			return
		}
		code, _ := apierr.Classify(err)
		resp := NewTurnResponse(result)
		resp.Error = apierr.Message(err)
		if code >= http.StatusInternalServerError && h.notifier != nil {
			h.notifier.SetError(resp.Error, 0)
		}
		utils.RespondJSON(w, code, resp)
		return
	}

	utils.RespondJSON(w, http.StatusOK, NewTurnResponse(result))
}

// parseCategory 空字符串表示使用默认分类
func parseCategory(raw string) (chat.Category, error) {
	if raw == "" {
		return "", nil
	}
	return chat.ParseCategory(raw)
}
