package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/iconidentify/shadowgate/internal/domain"
)

const tikwmEndpoint = "https://www.tikwm.com/api/"

// TikWM is the TikTok fast-path strategy. It is a best-effort optimization:
// every failure, including timeouts and malformed payloads, is a pass to
// the next strategy, never a request failure.
type TikWM struct {
	httpClient *http.Client
	endpoint   string
	logger     *slog.Logger
}

// NewTikWM creates the TikTok fast-API strategy.
func NewTikWM(timeout time.Duration, logger *slog.Logger) *TikWM {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TikWM{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   tikwmEndpoint,
		logger:     logger,
	}
}

func (t *TikWM) Name() string { return "tikwm" }

// tikwmResponse is the subset of the TikWM payload this system consumes.
type tikwmResponse struct {
	Code int `json:"code"`
	Data struct {
		Images   []string `json:"images"`
		HDPlay   string   `json:"hdplay"`
		Play     string   `json:"play"`
		Duration int      `json:"duration"`
		Title    string   `json:"title"`
		HDSize   int64    `json:"hd_size"`
		Size     int64    `json:"size"`
	} `json:"data"`
}

// Extract claims only tiktok.com URLs and asks the TikWM API for either an
// image set or a playable source URL.
func (t *TikWM) Extract(ctx context.Context, rawURL string) (*domain.Descriptor, error) {
	if !isTikTok(rawURL) {
		return nil, ErrNotHandled
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		t.endpoint+"?url="+url.QueryEscape(rawURL), nil)
	if err != nil {
		return nil, ErrNotHandled
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		t.logger.Debug("tikwm request failed", "url", rawURL, "error", err)
		return nil, fmt.Errorf("%w: tikwm: %v", ErrNotHandled, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: tikwm status %d", ErrNotHandled, resp.StatusCode)
	}

	var payload tikwmResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: tikwm: %v", ErrNotHandled, err)
	}
	if payload.Code != 0 {
		return nil, fmt.Errorf("%w: tikwm code %d", ErrNotHandled, payload.Code)
	}

	if len(payload.Data.Images) > 0 {
		return &domain.Descriptor{
			Kind:      domain.KindPhoto,
			Title:     payload.Data.Title,
			Images:    payload.Data.Images,
			Extractor: t.Name(),
		}, nil
	}

	playURL := payload.Data.HDPlay
	size := payload.Data.HDSize
	if playURL == "" {
		playURL = payload.Data.Play
		size = payload.Data.Size
	}
	if playURL == "" {
		return nil, fmt.Errorf("%w: tikwm returned no media", ErrNotHandled)
	}

	return &domain.Descriptor{
		Kind:     domain.KindVideo,
		Title:    payload.Data.Title,
		Duration: payload.Data.Duration,
		Sources: []domain.Source{
			{URL: playURL, Size: size, VideoCodec: "h264", Ext: "mp4"},
		},
		Extractor: t.Name(),
	}, nil
}

func isTikTok(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host == "tiktok.com" || strings.HasSuffix(host, ".tiktok.com")
}
