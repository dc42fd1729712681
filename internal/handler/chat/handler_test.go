package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/domain-chat/backend/internal/model/chat"
	"github.com/zhouzirui/domain-chat/backend/internal/repository/memory"
	chatservice "github.com/zhouzirui/domain-chat/backend/internal/service/chat"
	"github.com/zhouzirui/domain-chat/backend/internal/service/status"
)

type echoCompleter struct{ reply string }

func (e echoCompleter) Complete(context.Context, string, []chat.PromptMessage) (string, error) {
	return e.reply, nil
}

func setupRouter(t *testing.T, reply string) (*chi.Mux, *chatservice.Service, *memory.Store) {
	t.Helper()
	repo := memory.NewStore()
	chatSvc := chatservice.NewService(chatservice.Config{}, chatservice.Dependencies{
		Repository: repo,
		Completer:  echoCompleter{reply: reply},
	})
	notifier := status.NewNotifier(0)
	t.Cleanup(notifier.Stop)
	handler := New(chatSvc, notifier, nil)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, chatSvc, repo
}

func doJSON(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var payload []byte
	if body != nil {
		payload, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestCreateChat(t *testing.T) {
	r, _, repo := setupRouter(t, "")

	resp := doJSON(r, http.MethodPost, "/chats", map[string]string{"category": "text", "id": "c1"})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}

	var created chat.Chat
	if err := json.Unmarshal(resp.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID != "c1" || created.Title != chat.DefaultTitle || len(created.Messages) != 1 {
		t.Fatalf("unexpected chat %+v", created)
	}
	if _, err := repo.Get(context.Background(), chat.CategoryText, "c1"); err != nil {
		t.Fatalf("chat not persisted: %v", err)
	}
}

func TestCreateChatInvalidCategory(t *testing.T) {
	r, _, _ := setupRouter(t, "")

	resp := doJSON(r, http.MethodPost, "/chats", map[string]string{"category": "video"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestAddTurnReturnsAppendedTurns(t *testing.T) {
	r, _, _ := setupRouter(t, "Sure, what domain?")

	resp := doJSON(r, http.MethodPost, "/chats/text/c1/turns", map[string]string{"content": "help me"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var body TurnResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Appended) != 2 || body.Appended[0].Type != "user" || body.Appended[1].Content != "Sure, what domain?" {
		t.Fatalf("unexpected appended turns %+v", body.Appended)
	}
}

func TestAddTurnEmptyContent(t *testing.T) {
	r, _, _ := setupRouter(t, "")

	resp := doJSON(r, http.MethodPost, "/chats/text/c1/turns", map[string]string{"content": ""})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestAddTurnRejectsWhoisType(t *testing.T) {
	r, _, repo := setupRouter(t, "ok")

	resp := doJSON(r, http.MethodPost, "/chats/text/c1/turns", map[string]string{"content": "x", "type": "whois"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", resp.Code, resp.Body.String())
	}
	if _, err := repo.Get(context.Background(), chat.CategoryText, "c1"); err == nil {
		t.Fatalf("rejected turn should not create a chat")
	}
}

func TestAddTurnUnsupportedCategoryKeepsUserTurn(t *testing.T) {
	r, _, _ := setupRouter(t, "")

	resp := doJSON(r, http.MethodPost, "/chats/image/i1/turns", map[string]string{"content": "a red fox"})
	if resp.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", resp.Code)
	}
	var body TurnResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Appended) != 1 || body.Error == "" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestGetChatNotFound(t *testing.T) {
	r, _, _ := setupRouter(t, "")

	resp := doJSON(r, http.MethodGet, "/chats/text/missing", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestListChatsAndLast(t *testing.T) {
	r, svc, _ := setupRouter(t, "")
	ctx := context.Background()

	if _, err := svc.CreateChat(ctx, chat.CategoryText, "a"); err != nil {
		t.Fatalf("CreateChat err: %v", err)
	}
	if _, err := svc.CreateChat(ctx, chat.CategoryText, "b"); err != nil {
		t.Fatalf("CreateChat err: %v", err)
	}

	resp := doJSON(r, http.MethodGet, "/chats?category=text&view=titles", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var titles []chat.Summary
	if err := json.Unmarshal(resp.Body.Bytes(), &titles); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(titles) != 2 {
		t.Fatalf("expected 2 titles, got %d", len(titles))
	}

	resp = doJSON(r, http.MethodGet, "/chats/text/last", nil)
	var last map[string]string
	if err := json.Unmarshal(resp.Body.Bytes(), &last); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if last["id"] != "b" {
		t.Fatalf("expected last chat b, got %q", last["id"])
	}

	resp = doJSON(r, http.MethodGet, "/chats?limit=-1", nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", resp.Code)
	}
}
