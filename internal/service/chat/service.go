package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/domain-chat/backend/internal/logging"
	"github.com/zhouzirui/domain-chat/backend/internal/model/chat"
	"github.com/zhouzirui/domain-chat/backend/internal/model/whois"
	"github.com/zhouzirui/domain-chat/backend/internal/service/status"
)

var (
	ErrEmptyContent        = errors.New("content is required")
	ErrChatNotFound        = chat.ErrNotFound
	ErrUnsupportedCategory = errors.New("completion is only supported for the text category")
	ErrCompletionDisabled  = errors.New("completion client is not configured")
	ErrInvalidTurnType     = errors.New("turn type must be user or assistant")
)

// Repository is the durable chat storage. AppendTurns replaces the whole
// stored transcript; Create never overwrites an existing chat.
type Repository interface {
	ListAll(ctx context.Context) (map[chat.Category]map[string]*chat.Chat, error)
	Get(ctx context.Context, category chat.Category, id string) (*chat.Chat, error)
	Create(ctx context.Context, c *chat.Chat) error
	AppendTurns(ctx context.Context, category chat.Category, id string, turns []chat.Turn, updatedAt string) error
	UpdateFields(ctx context.Context, category chat.Category, id string, fields chat.Fields) error
}

// CompletionClient generates the assistant reply for an ordered message list.
type CompletionClient interface {
	Complete(ctx context.Context, model string, messages []chat.PromptMessage) (string, error)
}

// DomainLookup resolves registration facts for a domain.
type DomainLookup interface {
	Lookup(ctx context.Context, domain string) (whois.Record, error)
}

// Config holds the orchestration defaults.
type Config struct {
	DefaultCategory chat.Category
	Models          map[chat.Category]string
	HistoryWindow   int
	TitleCap        int
	Greeting        string
}

// Dependencies are the collaborators of the orchestrator. Completer and
// Lookup may be nil; Index, Loading and Logger get defaults when nil.
type Dependencies struct {
	Repository Repository
	Completer  CompletionClient
	Lookup     DomainLookup
	Index      *chat.Index
	Loading    *status.Loading
	Logger     *zap.Logger
}

// Service orchestrates chats: it owns the in-memory index, appends turns,
// asks the completion API for replies and splices domain lookups into the
// transcript. Writes to one chat are serialized.
type Service struct {
	cfg       Config
	repo      Repository
	completer CompletionClient
	lookup    DomainLookup
	index     *chat.Index
	loading   *status.Loading
	logger    *zap.Logger
	locks     *chatLocks

	now   func() time.Time
	newID func() string
}

// NewService wires the orchestrator.
func NewService(cfg Config, deps Dependencies) *Service {
	if cfg.DefaultCategory == "" {
		cfg.DefaultCategory = chat.CategoryText
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 20
	}
	if cfg.TitleCap <= 0 {
		cfg.TitleCap = 100
	}
	if cfg.Greeting == "" {
		cfg.Greeting = "Hello! How can I assist you today?"
	}

	index := deps.Index
	if index == nil {
		index = chat.NewIndex()
	}
	loading := deps.Loading
	if loading == nil {
		loading = &status.Loading{}
	}

	return &Service{
		cfg:       cfg,
		repo:      deps.Repository,
		completer: deps.Completer,
		lookup:    deps.Lookup,
		index:     index,
		loading:   loading,
		logger:    logging.OrNop(deps.Logger).Named("chat"),
		locks:     newChatLocks(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Loading exposes the shared in-flight flag.
func (s *Service) Loading() *status.Loading {
	return s.loading
}

// Init replaces the whole index with the repository contents. On failure
// the index is left empty and the error is returned for the caller to report.
func (s *Service) Init(ctx context.Context) error {
	all, err := s.repo.ListAll(ctx)
	if err != nil {
		s.index.Replace(nil)
		s.logger.Error("failed to load chats", zap.Error(err))
		return fmt.Errorf("load chats: %w", err)
	}

	s.index.Replace(all)
	for category, chats := range all {
		s.logger.Info("chats loaded", zap.String("category", string(category)), zap.Int("count", len(chats)))
	}
	return nil
}

// CreateChat starts a conversation seeded with the assistant greeting and
// returns its id. An existing chat at (category, id) is left untouched.
func (s *Service) CreateChat(ctx context.Context, category chat.Category, id string) (string, error) {
	category, err := s.resolveCategory(category)
	if err != nil {
		return "", err
	}
	if id == "" {
		id = s.newID()
	}

	unlock := s.locks.lock(lockKey(category, id))
	defer unlock()

	if s.index.Has(category, id) {
		return id, nil
	}

	stored, err := s.repo.Get(ctx, category, id)
	switch {
	case err == nil:
		stored.ID = id
		stored.Category = category
		s.index.Insert(stored)
		return id, nil
	case !errors.Is(err, chat.ErrNotFound):
		s.logger.Error("failed to check for existing chat", zap.String("category", string(category)), zap.String("chat_id", id), zap.Error(err))
		return "", fmt.Errorf("load chat: %w", err)
	}

	now := s.timestamp()
	c := &chat.Chat{
		ID:        id,
		Category:  category,
		Title:     chat.DefaultTitle,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  chat.Transcript{chat.AssistantTurn{Content: s.cfg.Greeting, Time: now}},
	}
	s.index.Insert(c)

	if err := s.repo.Create(ctx, c); err != nil {
		s.logger.Error("failed to persist new chat", zap.String("category", string(category)), zap.String("chat_id", id), zap.Error(err))
		return id, fmt.Errorf("create chat: %w", err)
	}

	s.logger.Info("chat created", zap.String("category", string(category)), zap.String("chat_id", id))
	return id, nil
}

// LastChatID returns the chat most recently added to category's index, or
// creates one when the category is empty. Order follows index insertion,
// which after Init means creation time.
func (s *Service) LastChatID(ctx context.Context, category chat.Category) (string, error) {
	category, err := s.resolveCategory(category)
	if err != nil {
		return "", err
	}
	if id, ok := s.index.Last(category); ok {
		return id, nil
	}
	return s.CreateChat(ctx, category, "")
}

// ListChats returns the chats of category, most recently updated first.
func (s *Service) ListChats(category chat.Category, limit int) ([]*chat.Chat, error) {
	category, err := s.resolveCategory(category)
	if err != nil {
		return nil, err
	}
	return s.index.List(category, limit), nil
}

// Titles returns id/title pairs in ListChats order.
func (s *Service) Titles(category chat.Category, limit int) ([]chat.Summary, error) {
	chats, err := s.ListChats(category, limit)
	if err != nil {
		return nil, err
	}
	out := make([]chat.Summary, 0, len(chats))
	for _, c := range chats {
		out = append(out, chat.Summary{ID: c.ID, Title: c.Title})
	}
	return out, nil
}

// Chat returns a copy of the indexed chat.
func (s *Service) Chat(category chat.Category, id string) (*chat.Chat, bool) {
	category, err := s.resolveCategory(category)
	if err != nil {
		return nil, false
	}
	return s.index.Get(category, id)
}

// Messages returns the indexed turns of a chat, or nil when unknown.
func (s *Service) Messages(category chat.Category, id string) []chat.Turn {
	c, ok := s.Chat(category, id)
	if !ok {
		return nil
	}
	return c.Messages
}

// EnsureChatLoaded refreshes the indexed transcript of (category, id) from
// the repository, which always wins over local state. ErrChatNotFound tells
// the caller to navigate away. A stored chat without a usable message list
// loads as an empty transcript.
func (s *Service) EnsureChatLoaded(ctx context.Context, category chat.Category, id string) (*chat.Chat, error) {
	category, err := s.resolveCategory(category)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.lock(lockKey(category, id))
	defer unlock()

	stored, err := s.repo.Get(ctx, category, id)
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", ErrChatNotFound, category, id)
		}
		return nil, fmt.Errorf("load chat: %w", err)
	}

	turns := stored.Messages
	if turns == nil {
		s.logger.Warn("stored chat has no message list, treating as empty",
			zap.String("category", string(category)), zap.String("chat_id", id))
		turns = chat.Transcript{}
	}

	loaded := stored.Clone()
	loaded.ID = id
	loaded.Category = category
	loaded.Messages = turns
	s.index.Put(loaded)
	return loaded, nil
}

// adoptLocked makes sure (category, id) is indexed before a write. A chat
// that exists only in the repository is pulled in as stored; an unknown one
// is created as an empty shell. The caller holds the chat lock.
func (s *Service) adoptLocked(ctx context.Context, log *zap.Logger, category chat.Category, id, now string) error {
	if s.index.Has(category, id) {
		return nil
	}

	stored, err := s.repo.Get(ctx, category, id)
	switch {
	case err == nil:
		stored.ID = id
		stored.Category = category
		s.index.Insert(stored)
		return nil
	case !errors.Is(err, chat.ErrNotFound):
		return fmt.Errorf("load chat: %w", err)
	}

	shell := &chat.Chat{ID: id, Category: category, CreatedAt: now, UpdatedAt: now}
	s.index.Insert(shell)
	if err := s.repo.Create(ctx, shell); err != nil {
		// The transcript write that follows reports the failure to the caller.
		log.Warn("failed to create chat document", zap.Error(err))
	}
	return nil
}

// TurnRequest is one user-initiated turn. ID and Category default to a
// fresh id and the configured default category; Type defaults to user.
// Only user and assistant types are accepted. Size, Format, Voice and Speed
// are reserved for image and audio generation; those categories currently
// fail with ErrUnsupportedCategory before the options are read. OnAppend,
// when set, is called after each turn is persisted.
type TurnRequest struct {
	ID       string
	Category chat.Category
	Content  string
	Type     chat.TurnType
	Model    string
	Size     string
	Format   string
	Voice    string
	Speed    float64
	OnAppend func(chat.Turn)
}

// TurnResult reports what AddTurn appended, in order.
type TurnResult struct {
	ID       string
	Category chat.Category
	Appended []chat.Turn
	Domain   string
}

func (r *TurnResult) add(req TurnRequest, turn chat.Turn) {
	r.Appended = append(r.Appended, turn)
	if req.OnAppend != nil {
		req.OnAppend(turn)
	}
}

// AddTurn appends a user turn, requests the assistant reply and, when the
// reply hands off a domain, appends the registration lookup as a whois turn.
// Every mutation is persisted before the next step. On error the result
// still lists the turns appended so far.
func (s *Service) AddTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if req.Content == "" {
		return nil, ErrEmptyContent
	}

	category, err := s.resolveCategory(req.Category)
	if err != nil {
		return nil, err
	}
	id := req.ID
	if id == "" {
		id = s.newID()
	}
	var newTurn func(content, at string) chat.PromptTurn
	switch req.Type {
	case "", chat.TypeUser:
		newTurn = func(content, at string) chat.PromptTurn { return chat.UserTurn{Content: content, Time: at} }
	case chat.TypeAssistant:
		newTurn = func(content, at string) chat.PromptTurn { return chat.AssistantTurn{Content: content, Time: at} }
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidTurnType, req.Type)
	}

	unlock := s.locks.lock(lockKey(category, id))
	defer unlock()

	log := s.logger.With(zap.String("category", string(category)), zap.String("chat_id", id))
	result := &TurnResult{ID: id, Category: category}
	now := s.timestamp()

	if err := s.adoptLocked(ctx, log, category, id, now); err != nil {
		log.Error("failed to resolve chat", zap.Error(err))
		return nil, err
	}

	turn := newTurn(req.Content, now)
	var (
		turns        []chat.Turn
		titleChanged string
	)
	s.index.Update(category, id, func(c *chat.Chat) {
		if !c.HasMessages() {
			c.Messages = chat.Transcript{}
			c.Title = chat.TruncateTitle(req.Content, s.cfg.TitleCap)
			titleChanged = c.Title
		}
		c.Messages = append(c.Messages, turn)
		c.UpdatedAt = now
		turns = append([]chat.Turn(nil), c.Messages...)
	})

	if titleChanged != "" {
		if err := s.repo.UpdateFields(ctx, category, id, chat.Fields{Title: titleChanged, UpdatedAt: now}); err != nil {
			log.Error("failed to persist title", zap.Error(err))
			return result, fmt.Errorf("persist title: %w", err)
		}
	}
	if err := s.repo.AppendTurns(ctx, category, id, turns, now); err != nil {
		log.Error("failed to persist user turn", zap.Error(err))
		return result, fmt.Errorf("persist turn: %w", err)
	}
	result.add(req, turn)

	// Loading covers the history read, the completion and the reply write.
	release := s.loading.Begin()
	defer release()

	reply, err := s.complete(ctx, log, category, id, req, turn)
	if err != nil {
		return result, err
	}

	assistant := chat.AssistantTurn{Content: reply, Time: now}
	if err := s.appendAndPersist(ctx, category, id, assistant, now); err != nil {
		log.Error("failed to persist assistant turn", zap.Error(err))
		return result, fmt.Errorf("persist reply: %w", err)
	}
	result.add(req, assistant)
	release()

	domain, ok := DomainHandoff(reply)
	if !ok {
		return result, nil
	}
	result.Domain = domain

	lookup := chat.WhoisTurn{Content: s.lookupContent(ctx, log, domain), Time: now}
	if err := s.appendAndPersist(ctx, category, id, lookup, now); err != nil {
		log.Error("failed to persist whois turn", zap.Error(err))
		return result, fmt.Errorf("persist lookup: %w", err)
	}
	result.add(req, lookup)
	return result, nil
}

// complete builds the prompt from stored history and asks for the reply.
// The caller holds the loading flag.
func (s *Service) complete(ctx context.Context, log *zap.Logger, category chat.Category, id string, req TurnRequest, current chat.PromptTurn) (string, error) {
	stored, err := s.repo.Get(ctx, category, id)
	if err != nil {
		log.Error("failed to load prompt history", zap.Error(err))
		return "", fmt.Errorf("load prompt history: %w", err)
	}
	history := chat.PromptHistory(withoutTrailing(stored.Messages, current), s.cfg.HistoryWindow)

	if category != chat.CategoryText {
		log.Warn("completion requested for unsupported category")
		return "", fmt.Errorf("%w: %s", ErrUnsupportedCategory, category)
	}
	if s.completer == nil {
		return "", ErrCompletionDisabled
	}

	model := req.Model
	if model == "" {
		model = s.cfg.Models[category]
	}

	messages := make([]chat.PromptMessage, 0, len(history)+2)
	messages = append(messages, chat.PromptMessage{Role: string(chat.TypeSystem), Content: SystemPrompt})
	messages = append(messages, history...)
	messages = append(messages, chat.PromptMessage{Role: current.Role(), Content: current.Text()})

	reply, err := s.completer.Complete(ctx, model, messages)
	if err != nil {
		log.Error("completion failed", zap.String("model", model), zap.Error(err))
		return "", err
	}

	log.Info("completion received", zap.String("model", model), zap.Int("history", len(history)), zap.Int("length", len(reply)))
	return reply, nil
}

func (s *Service) lookupContent(ctx context.Context, log *zap.Logger, domain string) string {
	log = log.With(zap.String("domain", domain))
	if s.lookup == nil {
		log.Warn("domain lookup requested but no lookup client configured")
		return encodeLookupError("domain lookup is not configured")
	}

	record, err := s.lookup.Lookup(ctx, domain)
	if err != nil {
		log.Warn("domain lookup failed", zap.Error(err))
		return encodeLookupError(err.Error())
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return encodeLookupError(err.Error())
	}
	log.Info("domain lookup appended")
	return string(raw)
}

func (s *Service) appendAndPersist(ctx context.Context, category chat.Category, id string, turn chat.Turn, now string) error {
	var turns []chat.Turn
	s.index.Update(category, id, func(c *chat.Chat) {
		c.Messages = append(c.Messages, turn)
		c.UpdatedAt = now
		turns = append([]chat.Turn(nil), c.Messages...)
	})
	return s.repo.AppendTurns(ctx, category, id, turns, now)
}

func (s *Service) resolveCategory(category chat.Category) (chat.Category, error) {
	if category == "" {
		return s.cfg.DefaultCategory, nil
	}
	if !category.Valid() {
		return "", fmt.Errorf("%w: %q", chat.ErrInvalidCategory, category)
	}
	return category, nil
}

func (s *Service) timestamp() string {
	return chat.FormatTime(s.now())
}

func encodeLookupError(msg string) string {
	raw, _ := json.Marshal(whois.ErrorPayload{Error: msg})
	return string(raw)
}

// withoutTrailing drops current from the end of turns so the turn being
// answered is not replayed twice.
func withoutTrailing(turns []chat.Turn, current chat.Turn) []chat.Turn {
	if n := len(turns); n > 0 {
		last := turns[n-1]
		if last.Type() == current.Type() && last.Text() == current.Text() && last.At() == current.At() {
			return turns[:n-1]
		}
	}
	return turns
}

func lockKey(category chat.Category, id string) string {
	return string(category) + "/" + id
}
