// Package firestore stores chats in Cloud Firestore under
// chats/{category}/messages/{id}, one document per chat.
package firestore

import (
	"context"
	"fmt"
	"sync"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/zhouzirui/domain-chat/backend/internal/logging"
	"github.com/zhouzirui/domain-chat/backend/internal/model/chat"
)

const (
	rootCollection = "chats"
	chatCollection = "messages"
)

// Store implements the chat repository on Firestore.
type Store struct {
	client *firestore.Client
	logger *zap.Logger
}

// NewStore connects to projectID. FIRESTORE_EMULATOR_HOST is honoured by
// the client library.
func NewStore(ctx context.Context, projectID string, logger *zap.Logger) (*Store, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for Firestore store")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	return &Store{client: client, logger: logging.OrNop(logger).Named("firestore")}, nil
}

// Close releases the client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) chatsCol(category chat.Category) *firestore.CollectionRef {
	return s.client.Collection(rootCollection).Doc(string(category)).Collection(chatCollection)
}

func (s *Store) chatDoc(category chat.Category, id string) *firestore.DocumentRef {
	return s.chatsCol(category).Doc(id)
}

type chatDoc struct {
	ID        string        `firestore:"id"`
	Title     string        `firestore:"title"`
	CreatedAt string        `firestore:"createdAt"`
	UpdatedAt string        `firestore:"updatedAt,omitempty"`
	Messages  []chat.Record `firestore:"messages"`
}

// ListAll reads every category concurrently.
func (s *Store) ListAll(ctx context.Context) (map[chat.Category]map[string]*chat.Chat, error) {
	var (
		mu  sync.Mutex
		out = make(map[chat.Category]map[string]*chat.Chat)
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, category := range chat.Categories() {
		g.Go(func() error {
			chats, err := s.listCategory(gctx, category)
			if err != nil {
				return err
			}
			mu.Lock()
			out[category] = chats
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) listCategory(ctx context.Context, category chat.Category) (map[string]*chat.Chat, error) {
	iter := s.chatsCol(category).Documents(ctx)
	defer iter.Stop()

	out := make(map[string]*chat.Chat)
	for {
		snap, err := iter.Next()
		if err != nil {
			if err == iterator.Done {
				break
			}
			return nil, fmt.Errorf("firestore ListAll %s: %w", category, err)
		}
		out[snap.Ref.ID] = s.decode(category, snap)
	}
	return out, nil
}

// Get reads one chat document.
func (s *Store) Get(ctx context.Context, category chat.Category, id string) (*chat.Chat, error) {
	snap, err := s.chatDoc(category, id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%w: %s/%s", chat.ErrNotFound, category, id)
		}
		return nil, fmt.Errorf("firestore Get: %w", err)
	}
	return s.decode(category, snap), nil
}

// Create writes c unless the document already exists.
func (s *Store) Create(ctx context.Context, c *chat.Chat) error {
	doc := map[string]interface{}{
		"id":        c.ID,
		"title":     c.Title,
		"createdAt": c.CreatedAt,
	}
	if c.UpdatedAt != "" {
		doc["updatedAt"] = c.UpdatedAt
	}
	if c.Messages != nil {
		doc["messages"] = chat.EncodeTurns(c.Messages)
	}

	_, err := s.chatDoc(c.Category, c.ID).Create(ctx, doc)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return nil
		}
		return fmt.Errorf("firestore Create: %w", err)
	}
	return nil
}

// AppendTurns overwrites the messages field with turns.
func (s *Store) AppendTurns(ctx context.Context, category chat.Category, id string, turns []chat.Turn, updatedAt string) error {
	records := chat.EncodeTurns(turns)
	if records == nil {
		records = []chat.Record{}
	}

	fields := map[string]interface{}{
		"id":       id,
		"messages": records,
	}
	if updatedAt != "" {
		fields["updatedAt"] = updatedAt
	}

	if _, err := s.chatDoc(category, id).Set(ctx, fields, firestore.MergeAll); err != nil {
		return fmt.Errorf("firestore AppendTurns: %w", err)
	}
	return nil
}

// UpdateFields merges the non-empty fields into the document.
func (s *Store) UpdateFields(ctx context.Context, category chat.Category, id string, f chat.Fields) error {
	if f.Empty() {
		return nil
	}

	fields := map[string]interface{}{"id": id}
	if f.Title != "" {
		fields["title"] = f.Title
	}
	if f.CreatedAt != "" {
		fields["createdAt"] = f.CreatedAt
	}
	if f.UpdatedAt != "" {
		fields["updatedAt"] = f.UpdatedAt
	}

	if _, err := s.chatDoc(category, id).Set(ctx, fields, firestore.MergeAll); err != nil {
		return fmt.Errorf("firestore UpdateFields: %w", err)
	}
	return nil
}

// decode never fails: a document whose shape does not match keeps what can
// be read and loads without a transcript.
func (s *Store) decode(category chat.Category, snap *firestore.DocumentSnapshot) *chat.Chat {
	c := &chat.Chat{ID: snap.Ref.ID, Category: category}

	var doc chatDoc
	if err := snap.DataTo(&doc); err != nil {
		s.logger.Warn("malformed chat document",
			zap.String("category", string(category)), zap.String("chat_id", snap.Ref.ID), zap.Error(err))
		data := snap.Data()
		c.Title, _ = data["title"].(string)
		c.CreatedAt, _ = data["createdAt"].(string)
		c.UpdatedAt, _ = data["updatedAt"].(string)
		return c
	}

	c.Title = doc.Title
	c.CreatedAt = doc.CreatedAt
	c.UpdatedAt = doc.UpdatedAt
	if v, err := snap.DataAt("messages"); err == nil && v != nil {
		c.Messages = chat.DecodeTurns(doc.Messages)
		if c.Messages == nil {
			c.Messages = chat.Transcript{}
		}
	}
	return c
}
