package domain

import (
	"time"
)

// MediaKind is the delivery type of a piece of media.
type MediaKind string

const (
	KindVideo    MediaKind = "video"
	KindPhoto    MediaKind = "photo"
	KindDocument MediaKind = "document"
)

// MediaRequest is one inbound "fetch this URL" request from a chat.
// Created when a message arrives, consumed once, never persisted.
type MediaRequest struct {
	URL        string
	ChatID     int64
	MessageID  int
	UserID     int64
	ReceivedAt time.Time
}

// Source is one candidate location a video can be fetched from.
type Source struct {
	URL        string
	Width      int
	Height     int
	Size       int64 // bytes, 0 if unknown
	VideoCodec string
	Ext        string
}

// HasVideo reports whether the source carries a video stream.
func (s Source) HasVideo() bool {
	return s.VideoCodec != "" && s.VideoCodec != "none"
}

// Descriptor is the normalized result of probing a URL, prior to any
// download. Owned by the orchestrator for the duration of one request.
type Descriptor struct {
	Kind      MediaKind
	Title     string
	Duration  int // seconds, 0 if unknown
	Sources   []Source
	Images    []string
	Extractor string
}

// IsVideo reports whether the descriptor refers to video media.
func (d *Descriptor) IsVideo() bool {
	return d.Kind == KindVideo
}

// IsPhotoSet reports whether the descriptor refers to one or more photos.
func (d *Descriptor) IsPhotoSet() bool {
	return d.Kind == KindPhoto && len(d.Images) > 0
}
