package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	blobHandler "github.com/zhouzirui/domain-chat/backend/internal/handler/blob"
	"github.com/zhouzirui/domain-chat/backend/internal/handler/chat"
	statusHandler "github.com/zhouzirui/domain-chat/backend/internal/handler/status"
	"github.com/zhouzirui/domain-chat/backend/internal/handler/stream"
	"github.com/zhouzirui/domain-chat/backend/internal/logging"
	blobService "github.com/zhouzirui/domain-chat/backend/internal/service/blob"
	chatService "github.com/zhouzirui/domain-chat/backend/internal/service/chat"
	"github.com/zhouzirui/domain-chat/backend/internal/service/status"
	"github.com/zhouzirui/domain-chat/backend/pkg/utils"
)

// Services 路由依赖的服务。Blobs 为空时不注册文件路由。
type Services struct {
	Chat     *chatService.Service
	Blobs    *blobService.Store
	Notifier *status.Notifier
	Logger   *zap.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(svc Services) http.Handler {
	logger := logging.OrNop(svc.Logger)
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger.Named("http")))
	r.Use(middleware.Recoverer)
	r.Use(cors)

	chatH := chat.New(svc.Chat, svc.Notifier, logger)
	streamH := stream.New(svc.Chat, svc.Notifier, logger)
	statusH := statusHandler.New(svc.Notifier, svc.Chat.Loading(), logger)

	r.Route("/api", func(api chi.Router) {
		chatH.RegisterRoutes(api)
		streamH.RegisterRoutes(api)
		statusH.RegisterRoutes(api)

		if svc.Blobs != nil {
			blobHandler.New(svc.Blobs, svc.Notifier, logger).RegisterRoutes(api)
		}
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}

// cors 允许任意来源的浏览器前端访问
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger 以结构化日志记录每个请求
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
