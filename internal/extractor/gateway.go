// Package extractor resolves a URL into a normalized media descriptor by
// trying an ordered chain of strategies: a platform fast API first, then a
// generic yt-dlp metadata probe.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/iconidentify/shadowgate/internal/config"
	"github.com/iconidentify/shadowgate/internal/domain"
	"github.com/iconidentify/shadowgate/internal/retry"
	"github.com/iconidentify/shadowgate/internal/ytdlp"
)

// ErrNotHandled signals that a strategy passes on the URL and the next one
// should be tried. Distinct from a hard failure: a fast-API timeout is a
// pass, an auth-required report from yt-dlp is not.
var ErrNotHandled = errors.New("strategy did not handle URL")

// Strategy is one way of resolving a URL into a descriptor.
type Strategy interface {
	Name() string
	Extract(ctx context.Context, url string) (*domain.Descriptor, error)
}

// Gateway runs strategies in order until one yields a descriptor.
type Gateway struct {
	strategies []Strategy
	logger     *slog.Logger
}

// NewGateway assembles the default chain: TikWM fast API, then yt-dlp
// metadata probe under the retry policy.
func NewGateway(cfg config.ExtractConfig, client *ytdlp.Client, logger *slog.Logger) *Gateway {
	policy := retry.Policy{
		MaxRetries: cfg.MaxRetries,
		Backoff:    retry.LinearBackoff,
		Terminal: func(err error) bool {
			return errors.Is(err, domain.ErrAuthRequired)
		},
	}
	return &Gateway{
		strategies: []Strategy{
			NewTikWM(cfg.FastTimeout, logger),
			&ytdlpStrategy{client: client, policy: policy, timeout: cfg.ProbeTimeout},
		},
		logger: logger,
	}
}

// NewGatewayWith builds a gateway from an explicit strategy list.
func NewGatewayWith(logger *slog.Logger, strategies ...Strategy) *Gateway {
	return &Gateway{strategies: strategies, logger: logger}
}

// Extract resolves url via the strategy chain. ErrNotHandled from a
// strategy means fall through; any other error from the last applicable
// strategy is the request's failure.
func (g *Gateway) Extract(ctx context.Context, url string) (*domain.Descriptor, error) {
	for _, s := range g.strategies {
		desc, err := s.Extract(ctx, url)
		if err == nil {
			g.logger.Info("extraction succeeded", "strategy", s.Name(), "url", url, "kind", desc.Kind)
			return desc, nil
		}
		if errors.Is(err, ErrNotHandled) {
			g.logger.Debug("strategy passed", "strategy", s.Name(), "url", url)
			continue
		}
		return nil, domain.NewRequestError(url, "extract", err)
	}
	return nil, fmt.Errorf("%w: no strategy handled URL", domain.ErrMetadata)
}

// ytdlpStrategy probes metadata with yt-dlp under the retry policy.
type ytdlpStrategy struct {
	client  *ytdlp.Client
	policy  retry.Policy
	timeout time.Duration
}

func (s *ytdlpStrategy) Name() string { return "yt-dlp" }

func (s *ytdlpStrategy) Extract(ctx context.Context, url string) (*domain.Descriptor, error) {
	info, err := retry.Do(ctx, s.policy, func() (*ytdlp.Info, error) {
		probeCtx := ctx
		if s.timeout > 0 {
			var cancel context.CancelFunc
			probeCtx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}
		return s.client.Probe(probeCtx, url)
	})
	if err != nil {
		return nil, err
	}
	return Classify(info)
}
