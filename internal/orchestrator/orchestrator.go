// Package orchestrator sequences one media request end to end: cache
// lookup, extraction, direct-delivery planning, download, size fitting,
// delivery, and cache write-back.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iconidentify/shadowgate/internal/cache"
	"github.com/iconidentify/shadowgate/internal/domain"
	"github.com/iconidentify/shadowgate/internal/encoder"
	"github.com/iconidentify/shadowgate/internal/retry"
	"github.com/iconidentify/shadowgate/internal/ytdlp"
)

// User-visible stage and failure messages.
const (
	msgScanning     = "🗡️ Opening the gate..."
	msgDownloading  = "📥 Materializing the artifact..."
	msgOptimizing   = "⚙️ Optimizing the artifact..."
	msgAuthRequired = "🔐 This gate requires credentials. Give the operator a cookie file and try again."
	msgMetadataFail = "❌ Gate collapsed while scanning the realm (metadata)."
	msgNoMedia      = "❌ No artifact found behind this gate."
	msgDownloadFail = "❌ Gate collapse while materializing the file."
	msgNoArtifact   = "❌ Artifact not produced by the gate."
	msgTooHeavy     = "❌ Artifact too heavy even after transcode."
	msgFinalFail    = "❌ Final gate attempt failed."
)

const photoBatchSize = 10

// Extractor resolves a URL into a media descriptor.
type Extractor interface {
	Extract(ctx context.Context, url string) (*domain.Descriptor, error)
}

// Planner picks a direct-send candidate if one provably fits the ceiling.
type Planner interface {
	Plan(ctx context.Context, desc *domain.Descriptor, ceiling int64) (*domain.Source, bool)
}

// Downloader materializes the media behind a URL into a local file.
type Downloader interface {
	Download(ctx context.Context, url, destDir string) (string, *ytdlp.Info, error)
}

// Fitter re-encodes a file down to the ceiling and probes stream facts.
type Fitter interface {
	Fit(ctx context.Context, inputPath string, ceiling int64, maxWidth, maxHeight int) (string, int64, error)
	Inspect(ctx context.Context, path string) (*encoder.Clip, error)
}

// Config holds the orchestrator's delivery parameters.
type Config struct {
	CeilingBytes    int64
	MaxWidth        int
	MaxHeight       int
	TempRoot        string
	CaptionTemplate string
	DownloadRetries int
	DownloadTimeout time.Duration
}

// Orchestrator owns the lifetime of one request's temporary files and
// guarantees their removal on every exit path.
type Orchestrator struct {
	cfg       Config
	store     cache.Store
	extractor Extractor
	planner   Planner
	dl        Downloader
	fitter    Fitter
	transport Transport
	logger    *slog.Logger
}

// New creates an orchestrator.
func New(
	cfg Config,
	store cache.Store,
	ex Extractor,
	pl Planner,
	dl Downloader,
	fit Fitter,
	tr Transport,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		store:     store,
		extractor: ex,
		planner:   pl,
		dl:        dl,
		fitter:    fit,
		transport: tr,
		logger:    logger,
	}
}

// Handle processes one media request to completion. It is meant to run on
// its own goroutine; all failures end in a user-visible status, never a
// panic or a dangling temp file.
func (o *Orchestrator) Handle(ctx context.Context, req domain.MediaRequest) {
	reqID := uuid.NewString()[:8]
	log := o.logger.With("request_id", reqID, "url", req.URL, "chat_id", req.ChatID)
	log.Info("request accepted")

	statusID, err := o.transport.SendText(ctx, req.ChatID, msgScanning)
	if err != nil {
		log.Warn("failed to post status message", "error", err)
	}
	st := &status{transport: o.transport, chatID: req.ChatID, messageID: statusID}

	tmpDir, err := os.MkdirTemp(o.cfg.TempRoot, "gate-*")
	if err != nil {
		log.Error("failed to create temp dir", "error", err)
		st.set(ctx, msgFinalFail)
		return
	}
	// Temporary storage is reclaimed unconditionally, success or failure.
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			log.Warn("temp cleanup failed", "dir", tmpDir, "error", err)
		}
	}()

	// Cache first: a known handle skips extraction and fitting entirely.
	if entry, ok, err := o.store.Get(ctx, req.URL); err != nil {
		log.Warn("cache lookup failed", "error", err)
	} else if ok {
		if err := o.resendCached(ctx, req, entry); err == nil {
			log.Info("cache hit delivered", "kind", entry.Kind)
			st.clear(ctx)
			return
		} else {
			// Stale handle: never trusted blindly, fall through to a fresh run.
			log.Warn("re-extracting after cache resend failure", "file_id", entry.FileID,
				"error", fmt.Errorf("%w: %v", domain.ErrStaleHandle, err))
		}
	}

	desc, err := o.extractor.Extract(ctx, req.URL)
	if err != nil {
		log.Error("extraction failed", "error", err)
		st.set(ctx, extractFailureMessage(err))
		return
	}
	log.Info("extracted", "kind", desc.Kind, "sources", len(desc.Sources), "images", len(desc.Images))

	if desc.IsPhotoSet() {
		o.deliverPhotos(ctx, log, st, req, desc)
		return
	}
	if !desc.IsVideo() {
		st.set(ctx, msgNoMedia)
		return
	}

	caption := o.caption(req.URL, desc.Duration)

	// Direct delivery: hand the transport a remote URL when the size is
	// provably within bounds. Failure here is never terminal.
	if src, ok := o.planner.Plan(ctx, desc, o.cfg.CeilingBytes); ok {
		sent, err := o.transport.SendVideo(ctx, req.ChatID, MediaSource{URL: src.URL}, caption)
		if err == nil {
			o.writeCache(ctx, log, req.URL, domain.KindVideo, sent, src.Size, desc.Duration)
			log.Info("direct delivery succeeded", "source", src.URL, "size", src.Size)
			st.clear(ctx)
			return
		}
		log.Warn("direct delivery failed, falling back to download", "error", err)
	}

	st.set(ctx, msgDownloading)

	policy := retry.Policy{
		MaxRetries: o.cfg.DownloadRetries,
		Backoff:    retry.LinearBackoff,
		Terminal: func(err error) bool {
			return errors.Is(err, domain.ErrAuthRequired) || errors.Is(err, domain.ErrArtifactMissing)
		},
	}
	type downloaded struct {
		path string
		info *ytdlp.Info
	}
	got, err := retry.Do(ctx, policy, func() (downloaded, error) {
		// Each attempt gets its own deadline so one stalled transfer
		// cannot eat the whole request budget.
		attemptCtx := ctx
		if o.cfg.DownloadTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, o.cfg.DownloadTimeout)
			defer cancel()
		}
		path, info, err := o.dl.Download(attemptCtx, req.URL, tmpDir)
		return downloaded{path: path, info: info}, err
	})
	if err != nil {
		log.Error("download failed", "error", err)
		st.set(ctx, downloadFailureMessage(err))
		return
	}

	duration := desc.Duration
	if got.info != nil && got.info.Duration > 0 {
		duration = int(got.info.Duration)
	}

	stat, err := os.Stat(got.path)
	if err != nil {
		log.Error("downloaded file unreadable", "path", got.path, "error", err)
		st.set(ctx, msgNoArtifact)
		return
	}
	size := stat.Size()
	log.Info("downloaded", "path", got.path, "size", size, "duration", duration)

	sendPath := got.path
	if size > o.cfg.CeilingBytes {
		st.set(ctx, msgOptimizing)
		fittedPath, fittedSize, err := o.fitter.Fit(ctx, got.path, o.cfg.CeilingBytes, o.cfg.MaxWidth, o.cfg.MaxHeight)
		if err != nil {
			log.Error("fit failed", "error", err)
			// The original artifact still exists; one last-resort attempt
			// as a plain document before giving up.
			o.sendAsDocument(ctx, log, st, req, got.path, caption, duration)
			return
		}
		if fittedSize > o.cfg.CeilingBytes {
			log.Error("giving up on oversized artifact",
				"size", fittedSize, "ceiling", o.cfg.CeilingBytes,
				"error", fmt.Errorf("%w: %d bytes", domain.ErrTooLargeAfterFit, fittedSize))
			st.set(ctx, msgTooHeavy)
			return
		}
		sendPath, size = fittedPath, fittedSize
		log.Info("fitted", "path", fittedPath, "size", fittedSize)
	}

	if duration == 0 {
		if clip, err := o.fitter.Inspect(ctx, sendPath); err == nil {
			duration = clip.Duration
		}
	}
	caption = o.caption(req.URL, duration)

	sent, err := o.transport.SendVideo(ctx, req.ChatID, MediaSource{Path: sendPath}, caption)
	if err != nil {
		log.Error("video send failed", "error", err)
		o.sendAsDocument(ctx, log, st, req, got.path, caption, duration)
		return
	}

	o.writeCache(ctx, log, req.URL, domain.KindVideo, sent, size, duration)
	log.Info("delivered", "size", size)
	st.clear(ctx)
}

// resendCached tries to redeliver a cached transport handle. Any failure
// is swallowed; the caller falls back to fresh extraction.
func (o *Orchestrator) resendCached(ctx context.Context, req domain.MediaRequest, entry *domain.CacheEntry) error {
	caption := o.caption(req.URL, entry.Duration)
	src := MediaSource{FileID: entry.FileID}

	var err error
	switch entry.Kind {
	case domain.KindVideo:
		_, err = o.transport.SendVideo(ctx, req.ChatID, src, caption)
	case domain.KindPhoto:
		_, err = o.transport.SendPhoto(ctx, req.ChatID, src, caption)
	default:
		_, err = o.transport.SendDocument(ctx, req.ChatID, src, caption)
	}
	return err
}

// deliverPhotos sends an image set in album batches of ten, caption on the
// first delivered image only. A failed batch degrades to per-image sends
// before the request is declared failed.
func (o *Orchestrator) deliverPhotos(ctx context.Context, log *slog.Logger, st *status, req domain.MediaRequest, desc *domain.Descriptor) {
	caption := o.caption(req.URL, desc.Duration)

	var firstHandle string
	delivered := 0
	captionSent := false

	for start := 0; start < len(desc.Images); start += photoBatchSize {
		end := start + photoBatchSize
		if end > len(desc.Images) {
			end = len(desc.Images)
		}
		batch := desc.Images[start:end]

		batchCaption := ""
		if !captionSent {
			batchCaption = caption
		}

		sent, err := o.transport.SendPhotoBatch(ctx, req.ChatID, batch, batchCaption)
		if err != nil {
			log.Warn("photo batch failed, retrying images individually", "batch_start", start, "error", err)
			for _, img := range batch {
				imgCaption := ""
				if !captionSent {
					imgCaption = caption
				}
				one, err := o.transport.SendPhoto(ctx, req.ChatID, MediaSource{URL: img}, imgCaption)
				if err != nil {
					log.Warn("individual photo failed", "image", img, "error", err)
					continue
				}
				if imgCaption != "" {
					captionSent = true
				}
				delivered++
				if firstHandle == "" {
					firstHandle = one.FileID
				}
			}
			continue
		}

		if batchCaption != "" {
			captionSent = true
		}
		delivered += len(sent)
		if firstHandle == "" && len(sent) > 0 {
			firstHandle = sent[0].FileID
		}
	}

	if delivered == 0 {
		log.Error("no photos delivered", "total", len(desc.Images))
		st.set(ctx, msgFinalFail)
		return
	}

	if firstHandle != "" {
		o.writeCache(ctx, log, req.URL, domain.KindPhoto, &Sent{FileID: firstHandle}, 0, 0)
	}
	log.Info("photo set delivered", "delivered", delivered, "total", len(desc.Images))
	st.clear(ctx)
}

// sendAsDocument is the last-resort delivery path: the original artifact
// as a generic attachment. Its failure is the request's failure.
func (o *Orchestrator) sendAsDocument(ctx context.Context, log *slog.Logger, st *status, req domain.MediaRequest, path, caption string, duration int) {
	sent, err := o.transport.SendDocument(ctx, req.ChatID, MediaSource{Path: path}, caption)
	if err != nil {
		log.Error("document fallback failed", "error", err)
		st.set(ctx, msgFinalFail)
		return
	}

	size := int64(0)
	if stat, err := os.Stat(path); err == nil {
		size = stat.Size()
	}
	o.writeCache(ctx, log, req.URL, domain.KindDocument, sent, size, duration)
	log.Info("delivered as document fallback")
	st.clear(ctx)
}

// writeCache upserts the delivery cache after a confirmed send. A cache
// write failure is logged, not surfaced: the media already reached the
// user.
func (o *Orchestrator) writeCache(ctx context.Context, log *slog.Logger, url string, kind domain.MediaKind, sent *Sent, size int64, duration int) {
	if sent == nil || sent.FileID == "" {
		return
	}
	if sent.Size > 0 {
		size = sent.Size
	}
	if sent.Duration > 0 {
		duration = sent.Duration
	}
	entry := domain.CacheEntry{
		URL:      url,
		FileID:   sent.FileID,
		Kind:     kind,
		Size:     size,
		Duration: duration,
	}
	if err := o.store.Put(ctx, entry); err != nil {
		log.Warn("cache write failed", "error", err)
	}
}

// caption renders the configured caption template.
func (o *Orchestrator) caption(url string, duration int) string {
	text := o.cfg.CaptionTemplate
	if text == "" {
		return url
	}
	durText := "unknown"
	if duration > 0 {
		durText = strconv.Itoa(duration)
	}
	text = strings.ReplaceAll(text, "{url}", url)
	text = strings.ReplaceAll(text, "{duration}", durText)
	return text
}

func extractFailureMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrAuthRequired):
		return msgAuthRequired
	case errors.Is(err, domain.ErrNoMedia):
		return msgNoMedia
	default:
		return msgMetadataFail
	}
}

func downloadFailureMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrAuthRequired):
		return msgAuthRequired
	case errors.Is(err, domain.ErrArtifactMissing):
		return msgNoArtifact
	default:
		return msgDownloadFail
	}
}
