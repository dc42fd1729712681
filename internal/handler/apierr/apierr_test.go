package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/zhouzirui/domain-chat/backend/internal/service/blob"
	chatService "github.com/zhouzirui/domain-chat/backend/internal/service/chat"
	"github.com/zhouzirui/domain-chat/backend/internal/service/status"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{chatService.ErrEmptyContent, http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", chatService.ErrChatNotFound), http.StatusNotFound},
		{chatService.ErrUnsupportedCategory, http.StatusNotImplemented},
		{fmt.Errorf("%w: \"whois\"", chatService.ErrInvalidTurnType), http.StatusBadRequest},
		{fmt.Errorf("%w: gone", blob.ErrNotFound), http.StatusNotFound},
		{errors.New("completion API returned an error: boom"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		if code, _ := Classify(tc.err); code != tc.code {
			t.Fatalf("Classify(%v) = %d, want %d", tc.err, code, tc.code)
		}
	}
}

func TestWriteRaisesNotificationForServerErrors(t *testing.T) {
	notifier := status.NewNotifier(time.Minute)
	defer notifier.Stop()

	rec := httptest.NewRecorder()
	Write(rec, notifier, errors.New("completion API returned an error: boom"))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	snap := notifier.Snapshot()
	if snap.State != status.StateError || snap.Error != "completion API returned an error: boom" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	notifier.Clear()
	rec = httptest.NewRecorder()
	Write(rec, notifier, chatService.ErrEmptyContent)
	if snap := notifier.Snapshot(); snap.State != status.StateIdle {
		t.Fatalf("client errors must not notify, got %+v", snap)
	}
}

func TestMessageUsesBlobDescriptions(t *testing.T) {
	if got := Message(fmt.Errorf("%w: x", blob.ErrUnauthorized)); got != "User doesn't have permission to access the object" {
		t.Fatalf("unexpected message %q", got)
	}
}
