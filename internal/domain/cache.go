package domain

import "time"

// CacheEntry maps a canonical URL to a previously delivered transport
// handle so a repeat request skips extraction and re-encoding entirely.
type CacheEntry struct {
	URL       string
	FileID    string // opaque transport handle
	Kind      MediaKind
	Size      int64 // bytes, 0 if unknown
	Duration  int   // seconds, 0 if unknown
	UpdatedAt time.Time
}
