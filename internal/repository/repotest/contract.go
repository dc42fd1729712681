// Package repotest holds the behaviour every chat repository must share.
// Backend packages run it from their own tests.
package repotest

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/domain-chat/backend/internal/model/chat"
)

// Repository mirrors the storage contract used by the chat service.
type Repository interface {
	ListAll(ctx context.Context) (map[chat.Category]map[string]*chat.Chat, error)
	Get(ctx context.Context, category chat.Category, id string) (*chat.Chat, error)
	Create(ctx context.Context, c *chat.Chat) error
	AppendTurns(ctx context.Context, category chat.Category, id string, turns []chat.Turn, updatedAt string) error
	UpdateFields(ctx context.Context, category chat.Category, id string, fields chat.Fields) error
}

// Run exercises a fresh repository from newRepo in every subtest.
func Run(t *testing.T, newRepo func(t *testing.T) Repository) {
	t.Helper()

	t.Run("CreateAndGet", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		want := &chat.Chat{
			ID:        "c1",
			Category:  chat.CategoryText,
			Title:     chat.DefaultTitle,
			CreatedAt: "2024-01-01T00:00:00Z",
			UpdatedAt: "2024-01-01T00:00:00Z",
			Messages: chat.Transcript{
				chat.AssistantTurn{Content: "Hello! How can I assist you today?", Time: "2024-01-01T00:00:00Z"},
			},
		}
		require.NoError(t, repo.Create(ctx, want))

		got, err := repo.Get(ctx, chat.CategoryText, "c1")
		require.NoError(t, err)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("stored chat mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		repo := newRepo(t)

		_, err := repo.Get(context.Background(), chat.CategoryText, "missing")
		require.Error(t, err)
		assert.True(t, errors.Is(err, chat.ErrNotFound), "got %v", err)
	})

	t.Run("CreateDoesNotOverwrite", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		first := &chat.Chat{ID: "c1", Category: chat.CategoryText, Title: "first", CreatedAt: "2024-01-01T00:00:00Z"}
		second := &chat.Chat{ID: "c1", Category: chat.CategoryText, Title: "second", CreatedAt: "2024-02-01T00:00:00Z"}
		require.NoError(t, repo.Create(ctx, first))
		require.NoError(t, repo.Create(ctx, second))

		got, err := repo.Get(ctx, chat.CategoryText, "c1")
		require.NoError(t, err)
		assert.Equal(t, "first", got.Title)
		assert.Equal(t, "2024-01-01T00:00:00Z", got.CreatedAt)
	})

	t.Run("AppendTurnsReplacesTranscript", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		require.NoError(t, repo.Create(ctx, &chat.Chat{ID: "c1", Category: chat.CategoryText, CreatedAt: "2024-01-01T00:00:00Z"}))

		turns := []chat.Turn{
			chat.UserTurn{Content: "hi", Time: "2024-01-01T00:01:00Z"},
			chat.AssistantTurn{Content: "hello", Time: "2024-01-01T00:01:00Z"},
			chat.WhoisTurn{Content: `{"domainName":"example.com"}`, Time: "2024-01-01T00:01:00Z"},
		}
		require.NoError(t, repo.AppendTurns(ctx, chat.CategoryText, "c1", turns[:1], "2024-01-01T00:01:00Z"))
		require.NoError(t, repo.AppendTurns(ctx, chat.CategoryText, "c1", turns, "2024-01-01T00:02:00Z"))

		got, err := repo.Get(ctx, chat.CategoryText, "c1")
		require.NoError(t, err)
		if diff := cmp.Diff(chat.Transcript(turns), got.Messages); diff != "" {
			t.Fatalf("transcript mismatch (-want +got):\n%s", diff)
		}
		assert.Equal(t, "2024-01-01T00:02:00Z", got.UpdatedAt)
		assert.Equal(t, "2024-01-01T00:00:00Z", got.CreatedAt)
	})

	t.Run("UpdateFieldsMerges", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		require.NoError(t, repo.Create(ctx, &chat.Chat{
			ID:        "c1",
			Category:  chat.CategoryText,
			Title:     chat.DefaultTitle,
			CreatedAt: "2024-01-01T00:00:00Z",
			Messages:  chat.Transcript{},
		}))
		require.NoError(t, repo.UpdateFields(ctx, chat.CategoryText, "c1", chat.Fields{Title: "what is example.com"}))

		got, err := repo.Get(ctx, chat.CategoryText, "c1")
		require.NoError(t, err)
		assert.Equal(t, "what is example.com", got.Title)
		assert.Equal(t, "2024-01-01T00:00:00Z", got.CreatedAt)
		assert.NotNil(t, got.Messages)
		assert.Empty(t, got.Messages)
	})

	t.Run("ListAllGroupsByCategory", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		require.NoError(t, repo.Create(ctx, &chat.Chat{ID: "t1", Category: chat.CategoryText, CreatedAt: "2024-01-01T00:00:00Z"}))
		require.NoError(t, repo.Create(ctx, &chat.Chat{ID: "t2", Category: chat.CategoryText, CreatedAt: "2024-01-02T00:00:00Z"}))
		require.NoError(t, repo.Create(ctx, &chat.Chat{ID: "i1", Category: chat.CategoryImage, CreatedAt: "2024-01-03T00:00:00Z"}))

		all, err := repo.ListAll(ctx)
		require.NoError(t, err)
		assert.Len(t, all[chat.CategoryText], 2)
		assert.Len(t, all[chat.CategoryImage], 1)
		assert.Empty(t, all[chat.CategoryAudio])
		assert.Equal(t, "2024-01-02T00:00:00Z", all[chat.CategoryText]["t2"].CreatedAt)
	})
}
