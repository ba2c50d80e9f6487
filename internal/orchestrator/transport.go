package orchestrator

import (
	"context"
)

// MediaSource is the one thing being sent: exactly one of FileID (cached
// transport handle), URL (remote location the transport fetches itself), or
// Path (local file to upload) is set.
type MediaSource struct {
	FileID string
	URL    string
	Path   string
}

// Sent describes a confirmed delivery. FileID is the transport-assigned
// handle reusable for instant resends.
type Sent struct {
	FileID   string
	Size     int64
	Duration int
}

// Transport is the chat platform boundary. Implementations live in the
// telegram package; tests use fakes.
type Transport interface {
	SendText(ctx context.Context, chatID int64, text string) (messageID int, err error)
	EditText(ctx context.Context, chatID int64, messageID int, text string) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error

	SendVideo(ctx context.Context, chatID int64, src MediaSource, caption string) (*Sent, error)
	SendPhoto(ctx context.Context, chatID int64, src MediaSource, caption string) (*Sent, error)
	// SendPhotoBatch posts up to ten photos as one album. Only the first
	// photo carries the caption.
	SendPhotoBatch(ctx context.Context, chatID int64, urls []string, caption string) ([]Sent, error)
	SendDocument(ctx context.Context, chatID int64, src MediaSource, caption string) (*Sent, error)
}

// status is the progressively-edited progress message for one request.
// Every operation is best-effort: a failed edit must never fail the
// request itself.
type status struct {
	transport Transport
	chatID    int64
	messageID int
}

func (s *status) set(ctx context.Context, text string) {
	if s.messageID == 0 {
		return
	}
	_ = s.transport.EditText(ctx, s.chatID, s.messageID, text)
}

func (s *status) clear(ctx context.Context) {
	if s.messageID == 0 {
		return
	}
	_ = s.transport.DeleteMessage(ctx, s.chatID, s.messageID)
}
