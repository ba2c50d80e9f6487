package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/iconidentify/shadowgate/internal/domain"
	"github.com/iconidentify/shadowgate/internal/encoder"
	"github.com/iconidentify/shadowgate/internal/ytdlp"
)

type memStore struct {
	entries map[string]domain.CacheEntry
	puts    int
}

func (m *memStore) Get(ctx context.Context, url string) (*domain.CacheEntry, bool, error) {
	e, ok := m.entries[url]
	if !ok {
		return nil, false, nil
	}
	return &e, true, nil
}

func (m *memStore) Put(ctx context.Context, entry domain.CacheEntry) error {
	m.entries[entry.URL] = entry
	m.puts++
	return nil
}

func (m *memStore) Count(ctx context.Context) (int64, error) { return int64(len(m.entries)), nil }
func (m *memStore) Close() error                             { return nil }

type fakeTransport struct {
	texts         []string
	edits         []string
	deletes       int
	videos        []MediaSource
	videoCaptions []string
	videoErrs     []error
	photos        []MediaSource
	photoCaptions []string
	photoErrs     []error
	batches       [][]string
	batchCaptions []string
	batchErr      error
	docs          []MediaSource
	docErr        error
	nextID        int
}

func (f *fakeTransport) SendText(ctx context.Context, chatID int64, text string) (int, error) {
	f.texts = append(f.texts, text)
	return 42, nil
}

func (f *fakeTransport) EditText(ctx context.Context, chatID int64, messageID int, text string) error {
	f.edits = append(f.edits, text)
	return nil
}

func (f *fakeTransport) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	f.deletes++
	return nil
}

func (f *fakeTransport) SendVideo(ctx context.Context, chatID int64, src MediaSource, caption string) (*Sent, error) {
	f.videos = append(f.videos, src)
	f.videoCaptions = append(f.videoCaptions, caption)
	if len(f.videoErrs) > 0 {
		err := f.videoErrs[0]
		f.videoErrs = f.videoErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	f.nextID++
	return &Sent{FileID: fmt.Sprintf("vid-%d", f.nextID)}, nil
}

func (f *fakeTransport) SendPhoto(ctx context.Context, chatID int64, src MediaSource, caption string) (*Sent, error) {
	f.photos = append(f.photos, src)
	f.photoCaptions = append(f.photoCaptions, caption)
	if len(f.photoErrs) > 0 {
		err := f.photoErrs[0]
		f.photoErrs = f.photoErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	f.nextID++
	return &Sent{FileID: fmt.Sprintf("pic-%d", f.nextID)}, nil
}

func (f *fakeTransport) SendPhotoBatch(ctx context.Context, chatID int64, urls []string, caption string) ([]Sent, error) {
	f.batches = append(f.batches, urls)
	f.batchCaptions = append(f.batchCaptions, caption)
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	sent := make([]Sent, len(urls))
	for i := range urls {
		f.nextID++
		sent[i] = Sent{FileID: fmt.Sprintf("pic-%d", f.nextID)}
	}
	return sent, nil
}

func (f *fakeTransport) SendDocument(ctx context.Context, chatID int64, src MediaSource, caption string) (*Sent, error) {
	f.docs = append(f.docs, src)
	if f.docErr != nil {
		return nil, f.docErr
	}
	f.nextID++
	return &Sent{FileID: fmt.Sprintf("doc-%d", f.nextID)}, nil
}

type fakeExtractor struct {
	desc  *domain.Descriptor
	err   error
	calls int
}

func (f *fakeExtractor) Extract(ctx context.Context, url string) (*domain.Descriptor, error) {
	f.calls++
	return f.desc, f.err
}

type fakePlanner struct {
	src *domain.Source
}

func (f *fakePlanner) Plan(ctx context.Context, desc *domain.Descriptor, ceiling int64) (*domain.Source, bool) {
	return f.src, f.src != nil
}

type fakeDownloader struct {
	size        int
	info        *ytdlp.Info
	err         error
	calls       int
	deadline    time.Time
	hadDeadline bool
}

func (f *fakeDownloader) Download(ctx context.Context, url, destDir string) (string, *ytdlp.Info, error) {
	f.calls++
	f.deadline, f.hadDeadline = ctx.Deadline()
	if f.err != nil {
		return "", nil, f.err
	}
	path := filepath.Join(destDir, "gate_clip.mp4")
	if err := os.WriteFile(path, make([]byte, f.size), 0644); err != nil {
		return "", nil, err
	}
	return path, f.info, nil
}

type fakeFitter struct {
	fittedSize int64
	fitErr     error
	clip       *encoder.Clip
	fitCalls   int
}

func (f *fakeFitter) Fit(ctx context.Context, inputPath string, ceiling int64, maxWidth, maxHeight int) (string, int64, error) {
	f.fitCalls++
	if f.fitErr != nil {
		return "", 0, f.fitErr
	}
	return inputPath + ".fit.mp4", f.fittedSize, nil
}

func (f *fakeFitter) Inspect(ctx context.Context, path string) (*encoder.Clip, error) {
	if f.clip != nil {
		return f.clip, nil
	}
	return &encoder.Clip{}, nil
}

type harness struct {
	store   *memStore
	tr      *fakeTransport
	ex      *fakeExtractor
	pl      *fakePlanner
	dl      *fakeDownloader
	fit     *fakeFitter
	orch    *Orchestrator
	tmpRoot string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:   &memStore{entries: map[string]domain.CacheEntry{}},
		tr:      &fakeTransport{},
		ex:      &fakeExtractor{},
		pl:      &fakePlanner{},
		dl:      &fakeDownloader{},
		fit:     &fakeFitter{},
		tmpRoot: t.TempDir(),
	}
	h.orch = New(Config{
		CeilingBytes:    1000,
		MaxWidth:        1920,
		MaxHeight:       1080,
		TempRoot:        h.tmpRoot,
		CaptionTemplate: "gate={url} lvl={duration}s",
		DownloadRetries: 2,
	}, h.store, h.ex, h.pl, h.dl, h.fit, h.tr, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return h
}

func testRequest() domain.MediaRequest {
	return domain.MediaRequest{URL: "https://www.tiktok.com/@u/video/1", ChatID: 7, MessageID: 3}
}

func lastEdit(t *testing.T, tr *fakeTransport) string {
	t.Helper()
	if len(tr.edits) == 0 {
		t.Fatal("no status edits recorded")
	}
	return tr.edits[len(tr.edits)-1]
}

func TestHandle_CacheHitSkipsExtraction(t *testing.T) {
	h := newHarness(t)
	req := testRequest()
	h.store.entries[req.URL] = domain.CacheEntry{
		URL: req.URL, FileID: "cached-id", Kind: domain.KindVideo, Duration: 12,
	}

	h.orch.Handle(context.Background(), req)

	if h.ex.calls != 0 {
		t.Errorf("extractor called %d times on a cache hit, want 0", h.ex.calls)
	}
	if h.dl.calls != 0 {
		t.Errorf("downloader called %d times on a cache hit, want 0", h.dl.calls)
	}
	if len(h.tr.videos) != 1 || h.tr.videos[0].FileID != "cached-id" {
		t.Errorf("videos = %+v, want one send with the cached handle", h.tr.videos)
	}
	if h.tr.deletes != 1 {
		t.Errorf("status message deleted %d times, want 1", h.tr.deletes)
	}
}

func TestHandle_StaleHandleFallsThroughToFreshRun(t *testing.T) {
	h := newHarness(t)
	req := testRequest()
	h.store.entries[req.URL] = domain.CacheEntry{
		URL: req.URL, FileID: "stale-id", Kind: domain.KindVideo,
	}
	h.tr.videoErrs = []error{errors.New("wrong file identifier")}
	h.ex.desc = &domain.Descriptor{
		Kind:     domain.KindVideo,
		Duration: 30,
		Sources:  []domain.Source{{URL: "https://v.test/v.mp4", VideoCodec: "h264", Size: 900}},
	}
	h.pl.src = &h.ex.desc.Sources[0]

	h.orch.Handle(context.Background(), req)

	if h.ex.calls != 1 {
		t.Fatalf("extractor calls = %d, want a fresh extraction after the stale handle", h.ex.calls)
	}
	if len(h.tr.videos) != 2 || h.tr.videos[1].URL != "https://v.test/v.mp4" {
		t.Fatalf("videos = %+v, want stale resend then a direct send", h.tr.videos)
	}
	entry := h.store.entries[req.URL]
	if entry.FileID == "stale-id" {
		t.Error("stale handle survived in the cache after a fresh delivery")
	}
}

func TestHandle_DirectDelivery(t *testing.T) {
	h := newHarness(t)
	req := testRequest()
	h.ex.desc = &domain.Descriptor{
		Kind:     domain.KindVideo,
		Duration: 37,
		Sources:  []domain.Source{{URL: "https://v.test/v.mp4", VideoCodec: "h264", Size: 900}},
	}
	h.pl.src = &h.ex.desc.Sources[0]

	h.orch.Handle(context.Background(), req)

	if h.dl.calls != 0 {
		t.Errorf("downloader calls = %d, want 0 on direct delivery", h.dl.calls)
	}
	if len(h.tr.videos) != 1 || h.tr.videos[0].URL != "https://v.test/v.mp4" {
		t.Fatalf("videos = %+v, want one URL send", h.tr.videos)
	}
	wantCaption := "gate=" + req.URL + " lvl=37s"
	if h.tr.videoCaptions[0] != wantCaption {
		t.Errorf("caption = %q, want %q", h.tr.videoCaptions[0], wantCaption)
	}
	entry, ok := h.store.entries[req.URL]
	if !ok || entry.Kind != domain.KindVideo || entry.Size != 900 {
		t.Errorf("cache entry = %+v, want video with the declared size", entry)
	}
}

func TestHandle_DownloadUnderCeilingSendsDirectly(t *testing.T) {
	h := newHarness(t)
	req := testRequest()
	h.ex.desc = &domain.Descriptor{Kind: domain.KindVideo, Duration: 20}
	h.dl.size = 500

	h.orch.Handle(context.Background(), req)

	if h.fit.fitCalls != 0 {
		t.Errorf("fitter called %d times for an in-bounds file, want 0", h.fit.fitCalls)
	}
	if len(h.tr.videos) != 1 || h.tr.videos[0].Path == "" {
		t.Fatalf("videos = %+v, want one local-file send", h.tr.videos)
	}
	if _, ok := h.store.entries[req.URL]; !ok {
		t.Error("no cache entry written after delivery")
	}
}

func TestHandle_OversizedFileGetsFitted(t *testing.T) {
	h := newHarness(t)
	req := testRequest()
	h.ex.desc = &domain.Descriptor{Kind: domain.KindVideo, Duration: 20}
	h.dl.size = 5000
	h.fit.fittedSize = 800

	h.orch.Handle(context.Background(), req)

	if h.fit.fitCalls != 1 {
		t.Fatalf("fitter calls = %d, want 1", h.fit.fitCalls)
	}
	var sawOptimizing bool
	for _, e := range h.tr.edits {
		if e == msgOptimizing {
			sawOptimizing = true
		}
	}
	if !sawOptimizing {
		t.Error("status never showed the optimizing stage")
	}
	if len(h.tr.videos) != 1 || !strings.HasSuffix(h.tr.videos[0].Path, ".fit.mp4") {
		t.Fatalf("videos = %+v, want the fitted file", h.tr.videos)
	}
	if entry := h.store.entries[req.URL]; entry.Size != 800 {
		t.Errorf("cached size = %d, want the fitted size 800", entry.Size)
	}
}

func TestHandle_FittedStillOverCeilingIsTerminal(t *testing.T) {
	h := newHarness(t)
	req := testRequest()
	h.ex.desc = &domain.Descriptor{Kind: domain.KindVideo}
	h.dl.size = 5000
	h.fit.fittedSize = 2000

	h.orch.Handle(context.Background(), req)

	if len(h.tr.videos) != 0 || len(h.tr.docs) != 0 {
		t.Errorf("sent videos=%d docs=%d, want nothing delivered", len(h.tr.videos), len(h.tr.docs))
	}
	if got := lastEdit(t, h.tr); got != msgTooHeavy {
		t.Errorf("final status = %q, want %q", got, msgTooHeavy)
	}
	if len(h.store.entries) != 0 {
		t.Error("cache written for a failed request")
	}
}

func TestHandle_FitErrorFallsBackToDocument(t *testing.T) {
	h := newHarness(t)
	req := testRequest()
	h.ex.desc = &domain.Descriptor{Kind: domain.KindVideo, Duration: 15}
	h.dl.size = 5000
	h.fit.fitErr = fmt.Errorf("%w: boom", domain.ErrEncode)

	h.orch.Handle(context.Background(), req)

	if len(h.tr.docs) != 1 || !strings.HasSuffix(h.tr.docs[0].Path, "gate_clip.mp4") {
		t.Fatalf("docs = %+v, want the original artifact as a document", h.tr.docs)
	}
	if entry := h.store.entries[req.URL]; entry.Kind != domain.KindDocument {
		t.Errorf("cached kind = %q, want document", entry.Kind)
	}
}

func TestHandle_VideoSendFailureFallsBackToDocument(t *testing.T) {
	h := newHarness(t)
	req := testRequest()
	h.ex.desc = &domain.Descriptor{Kind: domain.KindVideo, Duration: 15}
	h.dl.size = 500
	h.tr.videoErrs = []error{errors.New("telegram: bad request")}

	h.orch.Handle(context.Background(), req)

	if len(h.tr.docs) != 1 {
		t.Fatalf("docs = %+v, want one document fallback", h.tr.docs)
	}
	if entry := h.store.entries[req.URL]; entry.Kind != domain.KindDocument {
		t.Errorf("cached kind = %q, want document", entry.Kind)
	}
}

func TestHandle_DocumentFallbackFailure(t *testing.T) {
	h := newHarness(t)
	req := testRequest()
	h.ex.desc = &domain.Descriptor{Kind: domain.KindVideo}
	h.dl.size = 500
	h.tr.videoErrs = []error{errors.New("send failed")}
	h.tr.docErr = errors.New("send failed again")

	h.orch.Handle(context.Background(), req)

	if got := lastEdit(t, h.tr); got != msgFinalFail {
		t.Errorf("final status = %q, want %q", got, msgFinalFail)
	}
	if len(h.store.entries) != 0 {
		t.Error("cache written although nothing was delivered")
	}
}

func TestHandle_AuthRequiredIsNotRetried(t *testing.T) {
	h := newHarness(t)
	req := testRequest()
	h.ex.desc = &domain.Descriptor{Kind: domain.KindVideo}
	h.dl.err = fmt.Errorf("%w: login required", domain.ErrAuthRequired)

	h.orch.Handle(context.Background(), req)

	if h.dl.calls != 1 {
		t.Errorf("download attempts = %d, want exactly 1 for an auth failure", h.dl.calls)
	}
	if got := lastEdit(t, h.tr); got != msgAuthRequired {
		t.Errorf("final status = %q, want %q", got, msgAuthRequired)
	}
	if len(h.store.entries) != 0 {
		t.Error("cache written after an auth failure")
	}
}

func TestHandle_ExtractionNoMedia(t *testing.T) {
	h := newHarness(t)
	h.ex.err = fmt.Errorf("%w: nothing behind the link", domain.ErrNoMedia)

	h.orch.Handle(context.Background(), testRequest())

	if got := lastEdit(t, h.tr); got != msgNoMedia {
		t.Errorf("final status = %q, want %q", got, msgNoMedia)
	}
}

func TestHandle_PhotoSetBatches(t *testing.T) {
	h := newHarness(t)
	req := testRequest()
	images := make([]string, 23)
	for i := range images {
		images[i] = fmt.Sprintf("https://img.test/%d.jpg", i)
	}
	h.ex.desc = &domain.Descriptor{Kind: domain.KindPhoto, Images: images}

	h.orch.Handle(context.Background(), req)

	wantSizes := []int{10, 10, 3}
	if len(h.tr.batches) != len(wantSizes) {
		t.Fatalf("batches = %d, want %d", len(h.tr.batches), len(wantSizes))
	}
	for i, want := range wantSizes {
		if len(h.tr.batches[i]) != want {
			t.Errorf("batch %d size = %d, want %d", i, len(h.tr.batches[i]), want)
		}
	}
	if h.tr.batchCaptions[0] == "" {
		t.Error("first batch sent without a caption")
	}
	for i := 1; i < len(h.tr.batchCaptions); i++ {
		if h.tr.batchCaptions[i] != "" {
			t.Errorf("batch %d carries a caption, want caption on the first batch only", i)
		}
	}
	entry, ok := h.store.entries[req.URL]
	if !ok || entry.Kind != domain.KindPhoto || entry.FileID != "pic-1" {
		t.Errorf("cache entry = %+v, want the first photo's handle", entry)
	}
	if h.tr.deletes != 1 {
		t.Errorf("status deletes = %d, want 1", h.tr.deletes)
	}
}

func TestHandle_PhotoBatchFailureFallsBackToSingles(t *testing.T) {
	h := newHarness(t)
	req := testRequest()
	images := make([]string, 12)
	for i := range images {
		images[i] = fmt.Sprintf("https://img.test/%d.jpg", i)
	}
	h.ex.desc = &domain.Descriptor{Kind: domain.KindPhoto, Images: images}
	h.tr.batchErr = errors.New("album rejected")

	h.orch.Handle(context.Background(), req)

	if len(h.tr.photos) != 12 {
		t.Fatalf("individual sends = %d, want every image delivered singly", len(h.tr.photos))
	}
	if h.tr.photoCaptions[0] == "" {
		t.Error("first individual photo sent without a caption")
	}
	for i := 1; i < len(h.tr.photoCaptions); i++ {
		if h.tr.photoCaptions[i] != "" {
			t.Errorf("photo %d carries a caption, want the first only", i)
		}
	}
	if _, ok := h.store.entries[req.URL]; !ok {
		t.Error("no cache entry after a degraded photo delivery")
	}
}

func TestHandle_DownloadTimeoutBoundsEachAttempt(t *testing.T) {
	h := newHarness(t)
	h.orch.cfg.DownloadTimeout = 5 * time.Minute
	h.ex.desc = &domain.Descriptor{Kind: domain.KindVideo}
	h.dl.size = 500

	h.orch.Handle(context.Background(), testRequest())

	if !h.dl.hadDeadline {
		t.Fatal("download context carried no deadline")
	}
	if remaining := time.Until(h.dl.deadline); remaining > 5*time.Minute {
		t.Errorf("download deadline %v away, want at most the configured 5m", remaining)
	}
}

func TestHandle_PhotoCaptionMovesToFirstDeliveredImage(t *testing.T) {
	h := newHarness(t)
	req := testRequest()
	h.ex.desc = &domain.Descriptor{Kind: domain.KindPhoto, Images: []string{
		"https://img.test/0.jpg",
		"https://img.test/1.jpg",
		"https://img.test/2.jpg",
	}}
	h.tr.batchErr = errors.New("album rejected")
	h.tr.photoErrs = []error{errors.New("bad image")}

	h.orch.Handle(context.Background(), req)

	if len(h.tr.photoCaptions) != 3 {
		t.Fatalf("individual sends = %d, want 3 attempts", len(h.tr.photoCaptions))
	}
	if h.tr.photoCaptions[0] == "" {
		t.Error("first attempt sent without a caption")
	}
	if h.tr.photoCaptions[1] == "" {
		t.Error("caption dropped after the first image failed to send")
	}
	if h.tr.photoCaptions[2] != "" {
		t.Errorf("caption repeated after a successful delivery: %q", h.tr.photoCaptions[2])
	}
	entry, ok := h.store.entries[req.URL]
	if !ok || entry.FileID == "" {
		t.Errorf("cache entry = %+v, want the first delivered photo's handle", entry)
	}
}

func TestHandle_TempFilesAlwaysRemoved(t *testing.T) {
	cases := []struct {
		name  string
		setup func(h *harness)
	}{
		{"success", func(h *harness) {
			h.ex.desc = &domain.Descriptor{Kind: domain.KindVideo}
			h.dl.size = 500
		}},
		{"fit terminal", func(h *harness) {
			h.ex.desc = &domain.Descriptor{Kind: domain.KindVideo}
			h.dl.size = 5000
			h.fit.fittedSize = 2000
		}},
		{"send failure", func(h *harness) {
			h.ex.desc = &domain.Descriptor{Kind: domain.KindVideo}
			h.dl.size = 500
			h.tr.videoErrs = []error{errors.New("send failed")}
			h.tr.docErr = errors.New("send failed")
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			tc.setup(h)

			h.orch.Handle(context.Background(), testRequest())

			left, err := os.ReadDir(h.tmpRoot)
			if err != nil {
				t.Fatal(err)
			}
			if len(left) != 0 {
				t.Errorf("%d temp entries left behind", len(left))
			}
		})
	}
}

func TestHandle_InspectFillsMissingDuration(t *testing.T) {
	h := newHarness(t)
	req := testRequest()
	h.ex.desc = &domain.Descriptor{Kind: domain.KindVideo}
	h.dl.size = 500
	h.fit.clip = &encoder.Clip{Duration: 55}

	h.orch.Handle(context.Background(), req)

	wantCaption := "gate=" + req.URL + " lvl=55s"
	if len(h.tr.videoCaptions) != 1 || h.tr.videoCaptions[0] != wantCaption {
		t.Errorf("caption = %v, want %q", h.tr.videoCaptions, wantCaption)
	}
	if entry := h.store.entries[req.URL]; entry.Duration != 55 {
		t.Errorf("cached duration = %d, want 55", entry.Duration)
	}
}
