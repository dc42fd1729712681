// Package app assembles the services shared by the API server and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/zhouzirui/domain-chat/backend/internal/config"
	"github.com/zhouzirui/domain-chat/backend/internal/logging"
	"github.com/zhouzirui/domain-chat/backend/internal/repository/firestore"
	"github.com/zhouzirui/domain-chat/backend/internal/repository/memory"
	"github.com/zhouzirui/domain-chat/backend/internal/repository/sqlite"
	"github.com/zhouzirui/domain-chat/backend/internal/service/ai"
	"github.com/zhouzirui/domain-chat/backend/internal/service/blob"
	"github.com/zhouzirui/domain-chat/backend/internal/service/chat"
	"github.com/zhouzirui/domain-chat/backend/internal/service/status"
	"github.com/zhouzirui/domain-chat/backend/internal/service/whois"
)

// App holds the wired services.
type App struct {
	Chat     *chat.Service
	Blobs    *blob.Store
	Whois    *whois.Client
	Notifier *status.Notifier

	closers []func() error
}

// New opens the configured repository and builds the services. A missing
// completion or lookup credential disables that feature instead of failing.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	logger = logging.OrNop(logger)
	a := &App{Notifier: status.NewNotifier(cfg.Chat.NotificationTTL)}
	a.closers = append(a.closers, func() error { a.Notifier.Stop(); return nil })

	repo, err := a.openRepository(ctx, cfg.Storage, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	deps := chat.Dependencies{Repository: repo, Logger: logger}

	if cfg.AI.Enabled() {
		aiSvc, err := ai.NewService(ctx, cfg.AI, logger)
		if err != nil {
			logger.Warn("AI service unavailable, continuing without completions", zap.Error(err))
		} else {
			deps.Completer = aiSvc
			logger.Info("AI service initialized")
		}
	} else {
		logger.Info("Ark 凭证未配置，跳过 AI 功能初始化")
	}

	if cfg.Whois.Enabled() {
		a.Whois = whois.NewClient(whois.Options{
			APIKey:      cfg.Whois.APIKey,
			BaseURL:     cfg.Whois.BaseURL,
			Timeout:     cfg.Whois.Timeout,
			HostnameCap: cfg.Chat.HostnameCap,
			Logger:      logger,
		})
		deps.Lookup = a.Whois
	} else {
		logger.Info("WHOIS_API_KEY not set, domain lookups will report an error")
	}

	a.Blobs, err = blob.NewStore(cfg.Blob.Dir, cfg.Blob.BaseURL, logger)
	if err != nil {
		logger.Warn("blob store unavailable", zap.Error(err))
		a.Blobs = nil
	}

	a.Chat = chat.NewService(chat.Config{
		DefaultCategory: cfg.Chat.DefaultCategory,
		Models:          cfg.Chat.Models,
		HistoryWindow:   cfg.Chat.HistoryWindow,
		TitleCap:        cfg.Chat.TitleCap,
		Greeting:        cfg.Chat.Greeting,
	}, deps)

	return a, nil
}

func (a *App) openRepository(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (chat.Repository, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		logger.Info("using in-memory chat storage")
		return memory.NewStore(), nil
	case config.BackendSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite storage: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		logger.Info("using sqlite chat storage", zap.String("path", cfg.SQLitePath))
		return store, nil
	case config.BackendFirestore:
		store, err := firestore.NewStore(ctx, cfg.FirestoreProject, logger)
		if err != nil {
			return nil, fmt.Errorf("open firestore storage: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		logger.Info("using firestore chat storage", zap.String("project", cfg.FirestoreProject))
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// Close releases the repository and timers in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
