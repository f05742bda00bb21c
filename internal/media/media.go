// Package media persists uploaded consultation audio and returns the URL it
// can be fetched from.
package media

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// Store saves audio and returns its URL
type Store interface {
	Put(ctx context.Context, consultationID uuid.UUID, contentType string, data []byte) (string, error)
}

// InlineStore returns a data: URI; nothing leaves the process
type InlineStore struct{}

func NewInlineStore() InlineStore {
	return InlineStore{}
}

func (InlineStore) Put(_ context.Context, _ uuid.UUID, contentType string, data []byte) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

var audioExtensions = map[string]string{
	"audio/wav":    ".wav",
	"audio/wave":   ".wav",
	"audio/x-wav":  ".wav",
	"audio/webm":   ".webm",
	"audio/ogg":    ".ogg",
	"audio/mpeg":   ".mp3",
	"audio/mp4":    ".m4a",
	"audio/x-m4a":  ".m4a",
	"audio/aac":    ".aac",
	"audio/flac":   ".flac",
	"audio/x-flac": ".flac",
}

// Extension maps a content type to a file extension; unknown types get .bin
func Extension(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	if ext, ok := audioExtensions[mediaType]; ok {
		return ext
	}
	if mediaType != "" {
		if m := mimetype.Lookup(mediaType); m != nil && m.Extension() != "" {
			return m.Extension()
		}
	}
	return ".bin"
}

// ObjectKey lays objects out by upload day
func ObjectKey(prefix string, consultationID uuid.UUID, contentType string, now time.Time) string {
	key := fmt.Sprintf("%d/%02d/%02d/%s%s", now.Year(), now.Month(), now.Day(), consultationID, Extension(contentType))
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}
