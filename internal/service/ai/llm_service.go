package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/domain-chat/backend/internal/config"
	"github.com/zhouzirui/domain-chat/backend/internal/logging"
	"github.com/zhouzirui/domain-chat/backend/internal/model/chat"
)

// ErrEmptyReply is returned when the model answers without content.
var ErrEmptyReply = errors.New("completion API returned an empty reply")

// Service sends prompt message lists to the chat model through an eino chain.
type Service struct {
	chain  compose.Runnable[map[string]any, *schema.Message]
	logger *zap.Logger
}

// NewService builds the Ark chat model from cfg and wraps it.
func NewService(ctx context.Context, cfg config.AIConfig, logger *zap.Logger) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewWithModel(ctx, chatModel, logger)
}

// NewWithModel compiles the completion chain around an existing model.
func NewWithModel(ctx context.Context, chatModel model.BaseChatModel, logger *zap.Logger) (*Service, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.MessagesPlaceholder("messages", false),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chain:  runnable,
		logger: logging.OrNop(logger).Named("ai"),
	}, nil
}

// Complete returns the assistant reply for messages. An empty modelID uses
// the model the client was configured with.
func (s *Service) Complete(ctx context.Context, modelID string, messages []chat.PromptMessage) (string, error) {
	input := map[string]any{"messages": toSchemaMessages(messages)}

	var opts []compose.Option
	if modelID != "" {
		opts = append(opts, compose.WithChatModelOption(model.WithModel(modelID)))
	}

	response, err := s.chain.Invoke(ctx, input, opts...)
	if err != nil {
		return "", fmt.Errorf("completion API returned an error: %w", err)
	}
	if response == nil || response.Content == "" {
		return "", ErrEmptyReply
	}

	s.logger.Debug("completion generated",
		zap.String("model", modelID), zap.Int("messages", len(messages)), zap.Int("length", len(response.Content)))
	return response.Content, nil
}

func toSchemaMessages(messages []chat.PromptMessage) []*schema.Message {
	out := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		switch schema.RoleType(msg.Role) {
		case schema.System:
			out = append(out, schema.SystemMessage(msg.Content))
		case schema.Assistant:
			out = append(out, schema.AssistantMessage(msg.Content, nil))
		default:
			out = append(out, schema.UserMessage(msg.Content))
		}
	}
	return out
}
