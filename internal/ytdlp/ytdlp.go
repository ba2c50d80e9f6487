// Package ytdlp drives the yt-dlp binary for metadata probing and media
// download. The tool itself is treated as opaque; this package owns the
// argument contract and the classification of its failures.
package ytdlp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/iconidentify/shadowgate/internal/config"
	"github.com/iconidentify/shadowgate/internal/domain"
)

// Runner executes an external command and captures its output. Tests inject
// a fake; production uses execRunner.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Client invokes yt-dlp.
type Client struct {
	path       string
	cookieFile string
	run        Runner
	logger     *slog.Logger
}

// NewClient creates a yt-dlp client, resolving the binary path.
func NewClient(cfg config.ExtractConfig, logger *slog.Logger) (*Client, error) {
	path, err := exec.LookPath(cfg.YTDLPPath)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp not found in PATH: %w", err)
	}
	return &Client{
		path:       path,
		cookieFile: cfg.CookieFile,
		run:        execRunner{},
		logger:     logger,
	}, nil
}

// SetRunner replaces the command runner. Used by tests.
func (c *Client) SetRunner(r Runner) { c.run = r }

// Info is the subset of yt-dlp's JSON output this system consumes.
type Info struct {
	ID           string      `json:"id"`
	Title        string      `json:"title"`
	ExtractorKey string      `json:"extractor_key"`
	Duration     float64     `json:"duration"`
	Ext          string      `json:"ext"`
	URL          string      `json:"url"`
	VCodec       string      `json:"vcodec"`
	Formats      []Format    `json:"formats"`
	Entries      []Info      `json:"entries"`
	Thumbnails   []Thumbnail `json:"thumbnails"`
}

// Format is one downloadable variant of the media.
type Format struct {
	URL            string `json:"url"`
	Ext            string `json:"ext"`
	VCodec         string `json:"vcodec"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	Filesize       int64  `json:"filesize"`
	FilesizeApprox int64  `json:"filesize_approx"`
}

// Thumbnail is a preview image attached to the media.
type Thumbnail struct {
	URL string `json:"url"`
}

// SizeHint returns the declared size, preferring the exact value.
func (f Format) SizeHint() int64 {
	if f.Filesize > 0 {
		return f.Filesize
	}
	return f.FilesizeApprox
}

// Probe fetches metadata for url without downloading anything.
func (c *Client) Probe(ctx context.Context, url string) (*Info, error) {
	args := []string{"-J", "--no-warnings", "--no-playlist"}
	if c.cookieFile != "" {
		args = append(args, "--cookies", c.cookieFile)
	}
	args = append(args, "--", url)

	stdout, stderr, err := c.run.Run(ctx, c.path, args...)
	if err != nil {
		return nil, classify(stderr, err, domain.ErrMetadata)
	}

	var info Info
	if err := json.Unmarshal(stdout, &info); err != nil {
		return nil, fmt.Errorf("%w: parse yt-dlp output: %v", domain.ErrMetadata, err)
	}
	return &info, nil
}

// Download fetches the best available quality of url into destDir and
// returns the path of the produced file plus its metadata. A run that
// reports success without leaving a file behind is ErrArtifactMissing.
func (c *Client) Download(ctx context.Context, url, destDir string) (string, *Info, error) {
	args := []string{
		"-J", "--no-simulate", "--no-warnings", "--no-playlist",
		"-f", "bestvideo+bestaudio/best",
		"--merge-output-format", "mp4",
		"-o", filepath.Join(destDir, "gate_%(id)s.%(ext)s"),
	}
	if c.cookieFile != "" {
		args = append(args, "--cookies", c.cookieFile)
	}
	args = append(args, "--", url)

	stdout, stderr, err := c.run.Run(ctx, c.path, args...)
	if err != nil {
		return "", nil, classify(stderr, err, domain.ErrDownload)
	}

	var info Info
	if err := json.Unmarshal(stdout, &info); err != nil {
		c.logger.Warn("yt-dlp download output not parseable", "url", url, "error", err)
	}

	path, err := newestArtifact(destDir)
	if err != nil {
		return "", nil, err
	}
	return path, &info, nil
}

// newestArtifact finds the downloaded file in destDir. The directory is
// private to one request, so any gate_* file is ours; the largest wins in
// case a merge left stream fragments behind.
func newestArtifact(destDir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(destDir, "gate_*"))
	if err != nil {
		return "", fmt.Errorf("scan download dir: %w", err)
	}

	var best string
	var bestSize int64 = -1
	for _, m := range matches {
		fi, err := os.Stat(m)
		if err != nil || fi.IsDir() {
			continue
		}
		if fi.Size() > bestSize {
			best, bestSize = m, fi.Size()
		}
	}
	if best == "" {
		return "", domain.ErrArtifactMissing
	}
	return best, nil
}

var authMarkers = []string{
	"login required",
	"log in",
	"use --cookies",
	"cookies",
	"sign in",
	"authentication",
	"account credentials",
}

// classify maps a yt-dlp failure onto the domain error taxonomy.
// A reported login/cookie requirement is terminal; everything else wraps
// fallback and is left to the retry policy.
func classify(stderr []byte, err error, fallback error) error {
	msg := strings.ToLower(string(stderr))
	for _, marker := range authMarkers {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %s", domain.ErrAuthRequired, firstLine(stderr))
		}
	}
	if line := firstLine(stderr); line != "" {
		return fmt.Errorf("%w: %s", fallback, line)
	}
	return fmt.Errorf("%w: %v", fallback, err)
}

func firstLine(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
