// Package planner decides whether a remote video source can be handed to
// the transport as-is, skipping the download and re-upload entirely. A
// candidate is only selected when its size is provably within the ceiling;
// never on faith.
package planner

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/iconidentify/shadowgate/internal/config"
	"github.com/iconidentify/shadowgate/internal/domain"
)

// Planner ranks candidate sources and size-checks the best one.
type Planner struct {
	client      *http.Client
	userAgent   string
	headTimeout time.Duration
	logger      *slog.Logger
}

// New creates a planner using the download HTTP settings.
func New(cfg config.DownloadConfig, logger *slog.Logger) *Planner {
	timeout := cfg.HeadTimeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Planner{
		client:      &http.Client{Timeout: timeout},
		userAgent:   cfg.UserAgent,
		headTimeout: timeout,
		logger:      logger,
	}
}

// Plan returns the best direct-send candidate whose size is known to fit
// under ceiling, or false when the caller must fall back to a full
// download.
func (p *Planner) Plan(ctx context.Context, desc *domain.Descriptor, ceiling int64) (*domain.Source, bool) {
	candidates := rank(desc.Sources)
	if len(candidates) == 0 {
		return nil, false
	}

	// Declared sizes first: pick the best-ranked candidate that fits.
	anyDeclared := false
	for i := range candidates {
		if candidates[i].Size > 0 {
			anyDeclared = true
			if candidates[i].Size <= ceiling {
				return &candidates[i], true
			}
		}
	}
	if anyDeclared {
		// Every declared size is over the ceiling; probing won't change that
		// for the same candidates.
		return nil, false
	}

	// No candidate declares a size: probe the best-ranked one.
	best := candidates[0]
	size, ok := p.probeSize(ctx, best.URL)
	if !ok || size <= 0 || size > ceiling {
		return nil, false
	}
	best.Size = size
	return &best, true
}

// probeSize asks for the Content-Length with a header-only request.
func (p *Planner) probeSize(ctx context.Context, url string) (int64, bool) {
	probeCtx, cancel := context.WithTimeout(ctx, p.headTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, url, nil)
	if err != nil {
		return 0, false
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("size probe failed", "url", url, "error", err)
		return 0, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, false
	}
	return resp.ContentLength, resp.ContentLength > 0
}

// rank orders video-bearing sources by resolution, then declared size,
// both descending.
func rank(sources []domain.Source) []domain.Source {
	ranked := make([]domain.Source, 0, len(sources))
	for _, s := range sources {
		if s.URL == "" || !s.HasVideo() {
			continue
		}
		ranked = append(ranked, s)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Height != ranked[j].Height {
			return ranked[i].Height > ranked[j].Height
		}
		return ranked[i].Size > ranked[j].Size
	})
	return ranked
}
