package chat_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chatModel "github.com/zhouzirui/domain-chat/backend/internal/model/chat"
	"github.com/zhouzirui/domain-chat/backend/internal/model/whois"
	"github.com/zhouzirui/domain-chat/backend/internal/repository/memory"
	chat "github.com/zhouzirui/domain-chat/backend/internal/service/chat"
	"github.com/zhouzirui/domain-chat/backend/internal/service/status"
)

type fakeCompleter struct {
	mu      sync.Mutex
	reply   string
	err     error
	calls   [][]chatModel.PromptMessage
	models  []string
	loading *status.Loading
	sawBusy bool
}

func (f *fakeCompleter) Complete(_ context.Context, model string, messages []chatModel.PromptMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]chatModel.PromptMessage(nil), messages...))
	f.models = append(f.models, model)
	if f.loading != nil && f.loading.Active() {
		f.sawBusy = true
	}
	return f.reply, f.err
}

type fakeLookup struct {
	mu      sync.Mutex
	domains []string
	record  whois.Record
	err     error
}

func (f *fakeLookup) Lookup(_ context.Context, domain string) (whois.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.domains = append(f.domains, domain)
	return f.record, f.err
}

type failingRepo struct {
	*memory.Store
	listErr error
	getErr  error
}

func (r *failingRepo) ListAll(ctx context.Context) (map[chatModel.Category]map[string]*chatModel.Chat, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	return r.Store.ListAll(ctx)
}

func (r *failingRepo) Get(ctx context.Context, category chatModel.Category, id string) (*chatModel.Chat, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}
	return r.Store.Get(ctx, category, id)
}

type fixture struct {
	svc       *chat.Service
	repo      *memory.Store
	completer *fakeCompleter
	lookup    *fakeLookup
	loading   *status.Loading
}

func newFixture(t *testing.T, reply string) *fixture {
	t.Helper()

	loading := &status.Loading{}
	f := &fixture{
		repo:      memory.NewStore(),
		completer: &fakeCompleter{reply: reply, loading: loading},
		lookup:    &fakeLookup{record: whois.Record{DomainName: "example.com", Registrar: "Example Registrar"}},
		loading:   loading,
	}
	f.svc = chat.NewService(chat.Config{
		Models: map[chatModel.Category]string{chatModel.CategoryText: "gpt-3.5-turbo"},
	}, chat.Dependencies{
		Repository: f.repo,
		Completer:  f.completer,
		Lookup:     f.lookup,
		Loading:    loading,
	})
	return f
}

func TestCreateChatSeedsGreeting(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	id, err := f.svc.CreateChat(ctx, chatModel.CategoryText, "")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	stored, err := f.repo.Get(ctx, chatModel.CategoryText, id)
	require.NoError(t, err)
	assert.Equal(t, chatModel.DefaultTitle, stored.Title)
	require.Len(t, stored.Messages, 1)
	assert.Equal(t, chatModel.TypeAssistant, stored.Messages[0].Type())
	assert.Equal(t, "Hello! How can I assist you today?", stored.Messages[0].Text())

	last, err := f.svc.LastChatID(ctx, chatModel.CategoryText)
	require.NoError(t, err)
	assert.Equal(t, id, last)
}

func TestCreateChatDoesNotOverwrite(t *testing.T) {
	f := newFixture(t, "plain reply")
	ctx := context.Background()

	id, err := f.svc.CreateChat(ctx, chatModel.CategoryText, "fixed")
	require.NoError(t, err)
	_, err = f.svc.AddTurn(ctx, chat.TurnRequest{ID: id, Category: chatModel.CategoryText, Content: "hi"})
	require.NoError(t, err)

	again, err := f.svc.CreateChat(ctx, chatModel.CategoryText, "fixed")
	require.NoError(t, err)
	assert.Equal(t, "fixed", again)

	stored, err := f.repo.Get(ctx, chatModel.CategoryText, "fixed")
	require.NoError(t, err)
	assert.Len(t, stored.Messages, 3)
	assert.Len(t, f.svc.Messages(chatModel.CategoryText, "fixed"), 3)
}

func TestLastChatIDCreatesWhenEmpty(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	id, err := f.svc.LastChatID(ctx, chatModel.CategoryImage)
	require.NoError(t, err)
	assert.True(t, f.svc.Messages(chatModel.CategoryImage, id) != nil)

	again, err := f.svc.LastChatID(ctx, chatModel.CategoryImage)
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestAddTurnEmptyContentIsNoop(t *testing.T) {
	f := newFixture(t, "reply")
	ctx := context.Background()

	_, err := f.svc.AddTurn(ctx, chat.TurnRequest{ID: "c1", Content: ""})
	require.ErrorIs(t, err, chat.ErrEmptyContent)

	all, err := f.repo.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Empty(t, f.completer.calls)
}

func TestAddTurnWithoutHandoffAppendsTwoTurns(t *testing.T) {
	f := newFixture(t, "Sure, which domain are you interested in?")
	ctx := context.Background()

	result, err := f.svc.AddTurn(ctx, chat.TurnRequest{ID: "c1", Category: chatModel.CategoryText, Content: "I want to look up a domain"})
	require.NoError(t, err)
	require.Len(t, result.Appended, 2)
	assert.Equal(t, chatModel.TypeUser, result.Appended[0].Type())
	assert.Equal(t, chatModel.TypeAssistant, result.Appended[1].Type())
	assert.Empty(t, result.Domain)
	assert.Empty(t, f.lookup.domains)

	stored, err := f.repo.Get(ctx, chatModel.CategoryText, "c1")
	require.NoError(t, err)
	assert.Equal(t, "I want to look up a domain", stored.Title)
	assert.Len(t, stored.Messages, 2)
	assert.False(t, f.loading.Active())
	assert.True(t, f.completer.sawBusy)
	assert.Equal(t, []string{"gpt-3.5-turbo"}, f.completer.models)
}

func TestAddTurnHandoffAppendsWhoisTurn(t *testing.T) {
	f := newFixture(t, "Thanks for providing the domain name! Domain Name: [example.com]\nLooking it up now.")
	ctx := context.Background()

	result, err := f.svc.AddTurn(ctx, chat.TurnRequest{ID: "c1", Content: "example.com please"})
	require.NoError(t, err)
	require.Len(t, result.Appended, 3)
	assert.Equal(t, "example.com", result.Domain)
	assert.Equal(t, []string{"example.com"}, f.lookup.domains)

	lookup := result.Appended[2]
	assert.Equal(t, chatModel.TypeWhois, lookup.Type())
	var record whois.Record
	require.NoError(t, json.Unmarshal([]byte(lookup.Text()), &record))
	assert.Equal(t, "Example Registrar", record.Registrar)

	stored, err := f.repo.Get(ctx, chatModel.CategoryText, "c1")
	require.NoError(t, err)
	assert.Len(t, stored.Messages, 3)
}

func TestAddTurnLookupFailureStoresErrorPayload(t *testing.T) {
	f := newFixture(t, "Thanks for providing the domain name! Domain Name: nope.invalid")
	f.lookup.err = errors.New("WHOIS API returned an error: boom")
	ctx := context.Background()

	result, err := f.svc.AddTurn(ctx, chat.TurnRequest{ID: "c1", Content: "nope.invalid"})
	require.NoError(t, err)
	require.Len(t, result.Appended, 3)

	var payload whois.ErrorPayload
	require.NoError(t, json.Unmarshal([]byte(result.Appended[2].Text()), &payload))
	assert.Contains(t, payload.Error, "boom")
}

func TestAddTurnPromptExcludesWhoisAndCapsHistory(t *testing.T) {
	f := newFixture(t, "ok")
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var turns chatModel.Transcript
	for i := 0; i < 30; i++ {
		at := chatModel.FormatTime(base.Add(time.Duration(i) * time.Minute))
		turns = append(turns, chatModel.UserTurn{Content: fmt.Sprintf("q%d", i), Time: at})
		turns = append(turns, chatModel.WhoisTurn{Content: `{"domainName":"x"}`, Time: at})
	}
	f.repo.Seed(&chatModel.Chat{ID: "c1", Category: chatModel.CategoryText, Title: "seeded", CreatedAt: chatModel.FormatTime(base), Messages: turns})
	require.NoError(t, f.svc.Init(ctx))

	_, err := f.svc.AddTurn(ctx, chat.TurnRequest{ID: "c1", Content: "latest"})
	require.NoError(t, err)

	require.Len(t, f.completer.calls, 1)
	messages := f.completer.calls[0]
	require.Len(t, messages, 22)
	assert.Equal(t, "system", messages[0].Role)
	assert.Equal(t, chatModel.PromptMessage{Role: "user", Content: "latest"}, messages[len(messages)-1])
	assert.Equal(t, "q10", messages[1].Content)
	for _, m := range messages {
		assert.NotEqual(t, "whois", m.Role)
	}
}

func TestAddTurnNonTextCategoryIsUnsupported(t *testing.T) {
	f := newFixture(t, "ok")
	ctx := context.Background()

	result, err := f.svc.AddTurn(ctx, chat.TurnRequest{ID: "i1", Category: chatModel.CategoryImage, Content: "a cat"})
	require.ErrorIs(t, err, chat.ErrUnsupportedCategory)
	require.Len(t, result.Appended, 1)
	assert.Empty(t, f.completer.calls)
	assert.False(t, f.loading.Active())

	stored, err := f.repo.Get(ctx, chatModel.CategoryImage, "i1")
	require.NoError(t, err)
	assert.Len(t, stored.Messages, 1)
}

func TestAddTurnCompletionFailureReleasesLoading(t *testing.T) {
	f := newFixture(t, "")
	f.completer.err = errors.New("completion API returned an error: quota")
	ctx := context.Background()

	result, err := f.svc.AddTurn(ctx, chat.TurnRequest{ID: "c1", Content: "hello"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota")
	assert.Len(t, result.Appended, 1)
	assert.False(t, f.loading.Active())
}

func TestAddTurnConcurrentWritersKeepEveryTurn(t *testing.T) {
	f := newFixture(t, "ack")
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.AddTurn(ctx, chat.TurnRequest{ID: "shared", Content: fmt.Sprintf("m%d", i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	stored, err := f.repo.Get(ctx, chatModel.CategoryText, "shared")
	require.NoError(t, err)
	assert.Len(t, stored.Messages, writers*2)
	assert.Len(t, f.svc.Messages(chatModel.CategoryText, "shared"), writers*2)
	assert.False(t, f.loading.Active())
}

func TestListChatsOrdersByUpdatedAt(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	f.repo.Seed(
		&chatModel.Chat{ID: "old", Category: chatModel.CategoryText, Title: "old", CreatedAt: "2024-01-01T00:00:00Z", UpdatedAt: "2024-01-01T00:00:00Z", Messages: chatModel.Transcript{}},
		&chatModel.Chat{ID: "new", Category: chatModel.CategoryText, Title: "new", CreatedAt: "2024-01-02T00:00:00Z", UpdatedAt: "2024-03-01T00:00:00Z", Messages: chatModel.Transcript{}},
		&chatModel.Chat{ID: "never", Category: chatModel.CategoryText, Title: "never", CreatedAt: "2024-01-03T00:00:00Z"},
	)
	require.NoError(t, f.svc.Init(ctx))

	titles, err := f.svc.Titles(chatModel.CategoryText, 0)
	require.NoError(t, err)
	want := []chatModel.Summary{{ID: "new", Title: "new"}, {ID: "old", Title: "old"}, {ID: "never", Title: "never"}}
	if diff := cmp.Diff(want, titles); diff != "" {
		t.Fatalf("titles mismatch (-want +got):\n%s", diff)
	}

	limited, err := f.svc.ListChats(chatModel.CategoryText, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "new", limited[0].ID)

	last, err := f.svc.LastChatID(ctx, chatModel.CategoryText)
	require.NoError(t, err)
	assert.Equal(t, "never", last)
}

func TestInitFailureLeavesIndexEmpty(t *testing.T) {
	store := memory.NewStore()
	store.Seed(&chatModel.Chat{ID: "c1", Category: chatModel.CategoryText})
	repo := &failingRepo{Store: store, listErr: errors.New("unavailable")}
	svc := chat.NewService(chat.Config{}, chat.Dependencies{Repository: repo})

	err := svc.Init(context.Background())
	require.Error(t, err)

	chats, err := svc.ListChats(chatModel.CategoryText, 0)
	require.NoError(t, err)
	assert.Empty(t, chats)
}

func TestEnsureChatLoaded(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	f.repo.Seed(&chatModel.Chat{
		ID:        "remote",
		Category:  chatModel.CategoryText,
		Title:     "from elsewhere",
		CreatedAt: "2024-01-01T00:00:00Z",
		Messages:  chatModel.Transcript{chatModel.UserTurn{Content: "hi", Time: "2024-01-01T00:00:00Z"}},
	})

	loaded, err := f.svc.EnsureChatLoaded(ctx, chatModel.CategoryText, "remote")
	require.NoError(t, err)
	assert.Equal(t, "from elsewhere", loaded.Title)
	assert.Len(t, f.svc.Messages(chatModel.CategoryText, "remote"), 1)

	_, err = f.svc.EnsureChatLoaded(ctx, chatModel.CategoryText, "missing")
	require.ErrorIs(t, err, chat.ErrChatNotFound)
}

func TestEnsureChatLoadedTreatsMissingMessagesAsEmpty(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	f.repo.Seed(&chatModel.Chat{ID: "broken", Category: chatModel.CategoryText, Title: "broken"})

	loaded, err := f.svc.EnsureChatLoaded(ctx, chatModel.CategoryText, "broken")
	require.NoError(t, err)
	assert.NotNil(t, loaded.Messages)
	assert.Empty(t, loaded.Messages)
}

func TestInvalidCategoryRejected(t *testing.T) {
	f := newFixture(t, "")

	_, err := f.svc.ListChats(chatModel.Category("video"), 0)
	require.ErrorIs(t, err, chatModel.ErrInvalidCategory)
}

func TestAddTurnHistoryReadFailure(t *testing.T) {
	store := memory.NewStore()
	store.Seed(&chatModel.Chat{ID: "c1", Category: chatModel.CategoryText, Messages: chatModel.Transcript{}})
	repo := &failingRepo{Store: store}
	loading := &status.Loading{}
	svc := chat.NewService(chat.Config{}, chat.Dependencies{
		Repository: repo,
		Completer:  &fakeCompleter{reply: "x"},
		Loading:    loading,
	})
	require.NoError(t, svc.Init(context.Background()))

	repo.getErr = errors.New("read failed")
	result, err := svc.AddTurn(context.Background(), chat.TurnRequest{ID: "c1", Content: "hi"})
	require.Error(t, err)
	assert.Len(t, result.Appended, 1)
	assert.False(t, loading.Active())
}

type loadingRecorderRepo struct {
	*memory.Store
	loading *status.Loading
	mu      sync.Mutex
	active  []bool
}

func (r *loadingRecorderRepo) AppendTurns(ctx context.Context, category chatModel.Category, id string, turns []chatModel.Turn, updatedAt string) error {
	r.mu.Lock()
	r.active = append(r.active, r.loading.Active())
	r.mu.Unlock()
	return r.Store.AppendTurns(ctx, category, id, turns, updatedAt)
}

func TestAddTurnHoldsLoadingThroughReplyWrite(t *testing.T) {
	loading := &status.Loading{}
	repo := &loadingRecorderRepo{Store: memory.NewStore(), loading: loading}
	svc := chat.NewService(chat.Config{}, chat.Dependencies{
		Repository: repo,
		Completer:  &fakeCompleter{reply: chat.HandoffTemplate + "example.com"},
		Lookup:     &fakeLookup{record: whois.Record{DomainName: "example.com"}},
		Loading:    loading,
	})

	result, err := svc.AddTurn(context.Background(), chat.TurnRequest{ID: "c1", Content: "example.com"})
	require.NoError(t, err)
	require.Len(t, result.Appended, 3)

	// user turn, assistant turn, whois turn
	assert.Equal(t, []bool{false, true, false}, repo.active)
	assert.False(t, loading.Active())
}

func TestAddTurnRejectsNonPromptTypes(t *testing.T) {
	for _, typ := range []chatModel.TurnType{chatModel.TypeWhois, chatModel.TypeSystem, "tool"} {
		t.Run(string(typ), func(t *testing.T) {
			f := newFixture(t, "reply")
			ctx := context.Background()

			result, err := f.svc.AddTurn(ctx, chat.TurnRequest{ID: "c1", Content: "x", Type: typ})
			require.ErrorIs(t, err, chat.ErrInvalidTurnType)
			assert.Nil(t, result)
			assert.Empty(t, f.completer.calls)

			all, err := f.repo.ListAll(ctx)
			require.NoError(t, err)
			assert.Empty(t, all)
		})
	}
}

func TestAddTurnAssistantTypeKeepsRole(t *testing.T) {
	f := newFixture(t, "reply")

	_, err := f.svc.AddTurn(context.Background(), chat.TurnRequest{ID: "c1", Content: "primed", Type: chatModel.TypeAssistant})
	require.NoError(t, err)

	require.Len(t, f.completer.calls, 1)
	messages := f.completer.calls[0]
	last := messages[len(messages)-1]
	assert.Equal(t, chatModel.PromptMessage{Role: "assistant", Content: "primed"}, last)
	for _, m := range messages {
		assert.NotEqual(t, "whois", m.Role)
	}
}

func TestCreateChatAdoptsStoredChat(t *testing.T) {
	f := newFixture(t, "ok")
	ctx := context.Background()
	f.repo.Seed(&chatModel.Chat{
		ID:       "x",
		Category: chatModel.CategoryText,
		Title:    "existing",
		Messages: chatModel.Transcript{
			chatModel.UserTurn{Content: "a"},
			chatModel.AssistantTurn{Content: "b"},
			chatModel.WhoisTurn{Content: "c"},
		},
	})

	id, err := f.svc.CreateChat(ctx, chatModel.CategoryText, "x")
	require.NoError(t, err)
	assert.Equal(t, "x", id)
	assert.Len(t, f.svc.Messages(chatModel.CategoryText, "x"), 3)

	_, err = f.svc.AddTurn(ctx, chat.TurnRequest{ID: "x", Content: "d"})
	require.NoError(t, err)

	stored, err := f.repo.Get(ctx, chatModel.CategoryText, "x")
	require.NoError(t, err)
	require.Len(t, stored.Messages, 5)
	var texts []string
	for _, turn := range stored.Messages {
		texts = append(texts, turn.Text())
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "ok"}, texts)
	assert.Equal(t, "existing", stored.Title)
}
