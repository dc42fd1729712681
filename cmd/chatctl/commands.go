package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zhouzirui/domain-chat/backend/internal/app"
	"github.com/zhouzirui/domain-chat/backend/internal/config"
	"github.com/zhouzirui/domain-chat/backend/internal/logging"
	"github.com/zhouzirui/domain-chat/backend/internal/model/chat"
	chatService "github.com/zhouzirui/domain-chat/backend/internal/service/chat"
)

type rootOptions struct {
	category string
	verbose  bool
}

type session struct {
	app      *app.App
	category chat.Category
	logger   *zap.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "chatctl",
		Short:         "Inspect and continue domain lookup chats",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.category, "category", "c", "", "chat category (text, image, audio)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newListCmd(opts),
		newNewCmd(opts),
		newSendCmd(opts),
		newShowCmd(opts),
		newLookupCmd(opts),
	)
	return root
}

func openSession(ctx context.Context, opts *rootOptions) (*session, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	logger := zap.NewNop()
	if opts.verbose {
		logger, err = logging.New(logging.Options{Level: "debug", Format: "console"})
		if err != nil {
			return nil, err
		}
	}

	category := cfg.Chat.DefaultCategory
	if opts.category != "" {
		category, err = chat.ParseCategory(opts.category)
		if err != nil {
			return nil, err
		}
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := a.Chat.Init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return &session{app: a, category: category, logger: logger}, nil
}

func (s *session) Close() {
	_ = s.app.Close()
	_ = s.logger.Sync()
}

func newListCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List chats, most recently updated first",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()

			chats, err := s.app.Chat.ListChats(s.category, limit)
			if err != nil {
				return err
			}
			renderList(cmd.OutOrStdout(), s.category, chats)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of chats (0 = all)")
	return cmd
}

func newNewCmd(opts *rootOptions) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Start a chat seeded with the greeting",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()

			created, err := s.app.Chat.CreateChat(cmd.Context(), s.category, id)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), created)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "chat id (generated when empty)")
	return cmd
}

func newSendCmd(opts *rootOptions) *cobra.Command {
	var model string
	cmd := &cobra.Command{
		Use:   "send <chat-id> <message...>",
		Short: "Add a user turn and print the turns it produced",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()

			out := cmd.OutOrStdout()
			_, err = s.app.Chat.AddTurn(cmd.Context(), chatService.TurnRequest{
				ID:       args[0],
				Category: s.category,
				Content:  strings.Join(args[1:], " "),
				Model:    model,
				OnAppend: func(t chat.Turn) {
					fmt.Fprintln(out, renderTurn(t))
				},
			})
			return err
		},
	}
	cmd.Flags().StringVarP(&model, "model", "m", "", "model override")
	return cmd
}

func newShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <chat-id>",
		Short: "Print the transcript of a chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()

			c, err := s.app.Chat.EnsureChatLoaded(cmd.Context(), s.category, args[0])
			if err != nil {
				return err
			}
			renderChat(cmd.OutOrStdout(), c)
			return nil
		},
	}
}

func newLookupCmd(opts *rootOptions) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "lookup <domain>",
		Short: "Run a registration lookup without a chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()

			if s.app.Whois == nil {
				return fmt.Errorf("WHOIS_API_KEY is not set")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			content := s.app.Whois.LookupContent(ctx, args[0])
			fmt.Fprintln(cmd.OutOrStdout(), renderWhois(content))
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 20*time.Second, "lookup timeout")
	return cmd
}

func prettyJSON(raw string) string {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return raw
	}
	return string(out)
}
