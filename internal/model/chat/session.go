package chat

import (
	"errors"
	"time"
	"unicode/utf8"
)

// ErrNotFound is returned by repositories when (category, id) has no chat.
var ErrNotFound = errors.New("chat not found")

// DefaultTitle names a chat before its first user turn.
const DefaultTitle = "New Chat"

// Chat is one persisted conversation inside a category.
type Chat struct {
	ID        string     `json:"id"`
	Category  Category   `json:"category"`
	Title     string     `json:"title"`
	CreatedAt string     `json:"createdAt"`
	UpdatedAt string     `json:"updatedAt,omitempty"`
	Messages  Transcript `json:"messages"`
}

// HasMessages reports whether the transcript has been initialized as a list.
// A freshly allocated shell has a nil transcript.
func (c *Chat) HasMessages() bool {
	return c.Messages != nil
}

// Clone copies c. Turns are immutable values, so a shallow copy of the
// transcript slice is enough to decouple the two chats.
func (c *Chat) Clone() *Chat {
	if c == nil {
		return nil
	}
	out := *c
	if c.Messages != nil {
		out.Messages = make(Transcript, len(c.Messages))
		copy(out.Messages, c.Messages)
	}
	return &out
}

// UpdatedTime parses UpdatedAt. Chats that were never updated, or carry an
// unparseable timestamp, report the zero time.
func (c *Chat) UpdatedTime() time.Time {
	if c.UpdatedAt == "" {
		return time.Time{}
	}
	t, err := time.Parse(TimeLayout, c.UpdatedAt)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Fields is a partial update of chat metadata. Empty values are left
// unchanged.
type Fields struct {
	Title     string
	CreatedAt string
	UpdatedAt string
}

// Empty reports whether f carries no change.
func (f Fields) Empty() bool {
	return f.Title == "" && f.CreatedAt == "" && f.UpdatedAt == ""
}

// Apply copies the non-empty values of f onto c.
func (f Fields) Apply(c *Chat) {
	if f.Title != "" {
		c.Title = f.Title
	}
	if f.CreatedAt != "" {
		c.CreatedAt = f.CreatedAt
	}
	if f.UpdatedAt != "" {
		c.UpdatedAt = f.UpdatedAt
	}
}

// Summary is the id/title pair shown in chat lists.
type Summary struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// TruncateTitle returns the first max runes of content.
func TruncateTitle(content string, max int) string {
	if max <= 0 || utf8.RuneCountInString(content) <= max {
		return content
	}
	runes := []rune(content)
	return string(runes[:max])
}

// FormatTime renders t with the transcript timestamp layout.
func FormatTime(t time.Time) string {
	return t.Format(TimeLayout)
}
