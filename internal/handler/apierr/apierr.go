// Package apierr maps service errors onto HTTP responses and mirrors them
// into the user-facing notification.
package apierr

import (
	"errors"
	"net/http"

	"github.com/zhouzirui/domain-chat/backend/internal/model/chat"
	"github.com/zhouzirui/domain-chat/backend/internal/service/blob"
	chatService "github.com/zhouzirui/domain-chat/backend/internal/service/chat"
	"github.com/zhouzirui/domain-chat/backend/internal/service/status"
	"github.com/zhouzirui/domain-chat/backend/pkg/utils"
)

// Classify returns the HTTP status and error code for err.
func Classify(err error) (int, string) {
	switch {
	case errors.Is(err, chatService.ErrEmptyContent):
		return http.StatusBadRequest, "empty_content"
	case errors.Is(err, chat.ErrInvalidCategory):
		return http.StatusBadRequest, "invalid_category"
	case errors.Is(err, chatService.ErrInvalidTurnType):
		return http.StatusBadRequest, "invalid_turn_type"
	case errors.Is(err, chatService.ErrChatNotFound):
		return http.StatusNotFound, "chat_not_found"
	case errors.Is(err, chatService.ErrUnsupportedCategory):
		return http.StatusNotImplemented, "unsupported_category"
	case errors.Is(err, chatService.ErrCompletionDisabled):
		return http.StatusServiceUnavailable, "completion_disabled"
	case errors.Is(err, blob.ErrInvalidData):
		return http.StatusBadRequest, "invalid_data"
	case errors.Is(err, blob.ErrNotFound):
		return http.StatusNotFound, "blob_not_found"
	case errors.Is(err, blob.ErrUnauthorized):
		return http.StatusForbidden, "blob_unauthorized"
	case errors.Is(err, blob.ErrCanceled):
		return 499, "canceled"
	default:
		return http.StatusBadGateway, "upstream_error"
	}
}

// Message is the text shown to users for err.
func Message(err error) string {
	var blobErr bool
	for _, target := range []error{blob.ErrNotFound, blob.ErrUnauthorized, blob.ErrCanceled, blob.ErrUnknown} {
		if errors.Is(err, target) {
			blobErr = true
			break
		}
	}
	if blobErr {
		return blob.Describe(err)
	}
	return err.Error()
}

// Write responds with the classified error. Server-side failures are also
// raised on notifier, which may be nil.
func Write(w http.ResponseWriter, notifier *status.Notifier, err error) {
	code, reason := Classify(err)
	msg := Message(err)
	if notifier != nil && code >= http.StatusInternalServerError {
		notifier.SetError(msg, 0)
	}
	utils.RespondErrorCode(w, code, reason, msg)
}
