package blob

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/domain-chat/backend/internal/handler/apierr"
	"github.com/zhouzirui/domain-chat/backend/internal/logging"
	blobService "github.com/zhouzirui/domain-chat/backend/internal/service/blob"
	"github.com/zhouzirui/domain-chat/backend/internal/service/status"
	"github.com/zhouzirui/domain-chat/backend/pkg/utils"
)

const maxUploadBytes = 25 << 20

// Handler 文件上传与下载
type Handler struct {
	store    *blobService.Store
	notifier *status.Notifier
	logger   *zap.Logger
}

// New 创建文件处理器
func New(store *blobService.Store, notifier *status.Notifier, logger *zap.Logger) *Handler {
	return &Handler{store: store, notifier: notifier, logger: logging.OrNop(logger).Named("handler.blob")}
}

// RegisterRoutes 注册文件相关路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/blobs", h.handleUpload)
	r.Get("/blobs/{name}/url", h.handleURL)
	r.Get("/blobs/{name}", h.handleDownload)
}

// handleUpload 接受 multipart 文件、JSON data URL 或原始字节
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	contentType := r.Header.Get("Content-Type")

	var (
		name string
		err  error
	)
	switch {
	case strings.HasPrefix(contentType, "multipart/form-data"):
		name, err = h.uploadMultipart(r)
	case strings.HasPrefix(contentType, "application/json"):
		var payload struct {
			DataURL string `json:"dataUrl"`
		}
		if err := utils.DecodeJSON(w, r, maxUploadBytes, &payload); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		name, err = h.store.UploadDataURL(r.Context(), payload.DataURL)
	default:
		var data []byte
		data, err = io.ReadAll(r.Body)
		if err == nil {
			name, err = h.store.Upload(r.Context(), data, contentType)
		}
	}
	if err != nil {
		h.logger.Warn("upload failed", zap.Error(err))
		apierr.Write(w, h.notifier, err)
		return
	}

	url, err := h.store.DownloadURL(r.Context(), name)
	if err != nil {
		apierr.Write(w, h.notifier, err)
		return
	}
	if h.notifier != nil {
		h.notifier.SetSuccess("File uploaded", 0)
	}
	utils.RespondJSON(w, http.StatusCreated, map[string]string{"name": name, "url": url})
}

func (h *Handler) uploadMultipart(r *http.Request) (string, error) {
	file, header, err := r.FormFile("file")
	if err != nil {
		return "", err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return "", err
	}
	return h.store.Upload(r.Context(), data, header.Header.Get("Content-Type"))
}

func (h *Handler) handleURL(w http.ResponseWriter, r *http.Request) {
	url, err := h.store.DownloadURL(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		apierr.Write(w, h.notifier, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	rc, contentType, err := h.store.Open(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		apierr.Write(w, h.notifier, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("blob download interrupted", zap.Error(err))
	}
}
