// Package encoder re-encodes downloaded videos to fit under the transport
// size ceiling while keeping as much quality as possible.
package encoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/iconidentify/shadowgate/internal/config"
	"github.com/iconidentify/shadowgate/internal/domain"
)

// Runner executes an external command and captures its output.
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

// Fitter drives ffmpeg through an iterative quality search: start at a
// high-quality CRF and relax by a fixed step until the output fits the
// ceiling or the quality floor is reached.
type Fitter struct {
	ffmpegPath  string
	ffprobePath string
	cfg         config.EncodeConfig
	run         Runner
	logger      *slog.Logger
}

// NewFitter creates a fitter, resolving the ffmpeg and ffprobe binaries.
func NewFitter(cfg config.EncodeConfig, logger *slog.Logger) (*Fitter, error) {
	ffmpegPath, err := exec.LookPath(cfg.FFmpegPath)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	ffprobePath, err := exec.LookPath(cfg.FFprobePath)
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}
	return &Fitter{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		cfg:         cfg,
		run:         execRunner{},
		logger:      logger,
	}, nil
}

// SetRunner replaces the command runner. Used by tests.
func (f *Fitter) SetRunner(r Runner) { f.run = r }

// Fit re-encodes inputPath until the result is at or under ceiling bytes,
// relaxing quality one CRF step per iteration down to the floor. A floor
// result still over the ceiling is returned as the best achievable output,
// not an error; the caller decides what to do with it.
func (f *Fitter) Fit(ctx context.Context, inputPath string, ceiling int64, maxWidth, maxHeight int) (string, int64, error) {
	outputPath := fitOutputPath(inputPath)

	for crf := f.cfg.StartCRF; ; crf += f.cfg.StepCRF {
		if crf > f.cfg.FloorCRF {
			crf = f.cfg.FloorCRF
		}

		f.logger.Info("fit iteration", "crf", crf, "input", inputPath)
		if err := f.encodeOnce(ctx, inputPath, outputPath, crf, maxWidth, maxHeight); err != nil {
			os.Remove(outputPath)
			return "", 0, err
		}

		stat, err := os.Stat(outputPath)
		if err != nil {
			return "", 0, fmt.Errorf("%w: stat output: %v", domain.ErrEncode, err)
		}
		size := stat.Size()
		f.logger.Info("fit result", "crf", crf, "size", size, "ceiling", ceiling)

		if size <= ceiling || crf >= f.cfg.FloorCRF {
			return outputPath, size, nil
		}
	}
}

// encodeOnce runs one full re-encode at the given CRF. If the preferred
// audio codec fails, the same iteration is retried once with the fallback
// codec before the failure propagates.
func (f *Fitter) encodeOnce(ctx context.Context, inputPath, outputPath string, crf, maxWidth, maxHeight int) error {
	err := f.runFFmpeg(ctx, inputPath, outputPath, crf, maxWidth, maxHeight, f.cfg.AudioCodec)
	if err == nil {
		return nil
	}
	if f.cfg.AudioFallback == "" || f.cfg.AudioFallback == f.cfg.AudioCodec {
		return err
	}

	f.logger.Warn("audio codec failed, retrying with fallback",
		"codec", f.cfg.AudioCodec, "fallback", f.cfg.AudioFallback, "error", err)
	return f.runFFmpeg(ctx, inputPath, outputPath, crf, maxWidth, maxHeight, f.cfg.AudioFallback)
}

func (f *Fitter) runFFmpeg(ctx context.Context, inputPath, outputPath string, crf, maxWidth, maxHeight int, audioCodec string) error {
	// Scale down only, preserving aspect ratio; never upscale.
	scale := fmt.Sprintf("scale='min(%d,iw)':'min(%d,ih)':force_original_aspect_ratio=decrease",
		maxWidth, maxHeight)

	args := []string{
		"-y", "-i", inputPath,
		"-c:v", "libx264",
		"-preset", "slow",
		"-crf", strconv.Itoa(crf),
		"-maxrate", f.cfg.MaxRate,
		"-bufsize", f.cfg.BufSize,
		"-vf", scale,
		"-c:a", audioCodec,
		"-b:a", f.cfg.AudioBitrate,
		outputPath,
	}

	_, stderr, err := f.run.Run(ctx, f.ffmpegPath, args...)
	if err != nil {
		return fmt.Errorf("%w: ffmpeg crf=%d: %v: %s", domain.ErrEncode, crf, err, tail(stderr))
	}
	return nil
}

// Clip holds the stream facts the orchestrator needs for captions and the
// cache entry.
type Clip struct {
	Duration int
	Width    int
	Height   int
}

// Inspect reads duration and dimensions from a media file via ffprobe.
func (f *Fitter) Inspect(ctx context.Context, path string) (*Clip, error) {
	stdout, stderr, err := f.run.Run(ctx, f.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if err != nil {
		return nil, fmt.Errorf("ffprobe: %v: %s", err, tail(stderr))
	}

	var parsed struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
		Streams []struct {
			CodecType string `json:"codec_type"`
			Width     int    `json:"width"`
			Height    int    `json:"height"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(stdout, &parsed); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	clip := &Clip{}
	if parsed.Format.Duration != "" {
		if dur, err := strconv.ParseFloat(parsed.Format.Duration, 64); err == nil {
			clip.Duration = int(dur)
		}
	}
	for _, s := range parsed.Streams {
		if s.CodecType == "video" && clip.Width == 0 {
			clip.Width = s.Width
			clip.Height = s.Height
		}
	}
	return clip, nil
}

func fitOutputPath(inputPath string) string {
	dir := filepath.Dir(inputPath)
	base := filepath.Base(inputPath)
	ext := filepath.Ext(base)
	return filepath.Join(dir, strings.TrimSuffix(base, ext)+"_fit.mp4")
}

// tail returns the last chunk of tool output for error messages.
func tail(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 400 {
		s = s[len(s)-400:]
	}
	return s
}
