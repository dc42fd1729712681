package chat

import (
	"errors"
	"fmt"
	"strings"
)

// Category partitions chats into independent namespaces by modality.
type Category string

const (
	CategoryText  Category = "text"
	CategoryImage Category = "image"
	CategoryAudio Category = "audio"
)

// ErrInvalidCategory is returned when a category string is not one of the supported modalities.
var ErrInvalidCategory = errors.New("invalid chat category")

// Categories lists every supported category in display order.
func Categories() []Category {
	return []Category{CategoryText, CategoryImage, CategoryAudio}
}

// ParseCategory normalizes raw and validates it against the supported set.
func ParseCategory(raw string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(raw)))
	if c.Valid() {
		return c, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCategory, raw)
}

// Valid reports whether c is a supported category.
func (c Category) Valid() bool {
	switch c {
	case CategoryText, CategoryImage, CategoryAudio:
		return true
	}
	return false
}
