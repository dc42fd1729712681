package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrStreamingUnsupported 表示 ResponseWriter 不支持 Flush
var ErrStreamingUnsupported = errors.New("streaming unsupported")

// SSEWriter 写出 Server-Sent Events，每条事件写完立即 flush
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter 设置响应头并返回写入器
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &SSEWriter{w: w, flusher: flusher}, nil
}

// SetupSSEHeaders 设置Server-Sent Events响应头
func SetupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// Event 发送带事件类型的SSE消息
func (s *SSEWriter) Event(event string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal sse event %q: %w", event, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return fmt.Errorf("write sse event %q: %w", event, err)
	}
	s.flusher.Flush()
	return nil
}

// Comment 发送注释行，用于保持连接
func (s *SSEWriter) Comment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
