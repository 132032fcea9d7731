// Package media converts inbound voice recordings to MP3 with ffmpeg.
//
// Each conversion writes two files into the output directory: the raw input
// and the converted "<id>.mp3". The converted file is produced under a
// temporary name and renamed into place, so a published address never
// points at a partially written file. Two conversions for the same id race
// and the last rename wins.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Config contains converter settings.
type Config struct {
	OutputDir  string
	FFmpegPath string
	Bitrate    string
	KeepRaw    bool
	// MaxBytes caps the raw input size; zero disables the cap.
	MaxBytes int64
}

// Request is one conversion job.
type Request struct {
	ID        ArtifactID
	Source    io.Reader
	CodecHint string
}

// Converter runs ffmpeg for each request.
type Converter struct {
	cfg    Config
	logger *zap.Logger
}

// NewConverter constructs a Converter, filling defaults for empty settings.
func NewConverter(cfg Config, logger *zap.Logger) *Converter {
	if strings.TrimSpace(cfg.FFmpegPath) == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if strings.TrimSpace(cfg.Bitrate) == "" {
		cfg.Bitrate = "128k"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Converter{cfg: cfg, logger: logger}
}

// OutputDir is the directory artifacts are published from.
func (c *Converter) OutputDir() string {
	return c.cfg.OutputDir
}

// Convert stores the raw input and produces "<id>.mp3". Failures match
// ErrDecode when ffmpeg rejects the input and ErrIO otherwise.
func (c *Converter) Convert(ctx context.Context, req Request) (*Artifact, error) {
	if _, err := ParseArtifactID(string(req.ID)); err != nil {
		return nil, err
	}
	if req.Source == nil {
		return nil, fmt.Errorf("%w: nil source", ErrIO)
	}
	if err := os.MkdirAll(c.cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create output dir: %w", ErrIO, err)
	}

	rawPath := filepath.Join(c.cfg.OutputDir, string(req.ID)+SourceExt(req.CodecHint))
	// ffmpeg reads a staging copy private to this call, so a concurrent
	// conversion of the same id can never remove it mid-read.
	stagedPath, err := c.stageRaw(rawPath, req.Source)
	if err != nil {
		return nil, err
	}
	defer os.Remove(stagedPath) //nolint:errcheck

	destPath := filepath.Join(c.cfg.OutputDir, req.ID.FileName())
	size, err := c.transcode(ctx, req.ID, stagedPath, destPath)
	if err != nil {
		// Failed inputs stay on disk for inspection.
		c.publishRaw(stagedPath, rawPath)
		return nil, err
	}

	if c.cfg.KeepRaw {
		c.publishRaw(stagedPath, rawPath)
	}

	return &Artifact{
		ID:         req.ID,
		SourcePath: rawPath,
		Path:       destPath,
		Size:       size,
	}, nil
}

// stageRaw copies src into a hidden file next to rawPath and returns its path.
func (c *Converter) stageRaw(rawPath string, src io.Reader) (string, error) {
	tmp, err := os.CreateTemp(filepath.Dir(rawPath), "."+filepath.Base(rawPath)+"-*.part")
	if err != nil {
		return "", fmt.Errorf("%w: create raw file: %w", ErrIO, err)
	}
	tmpPath := tmp.Name()

	reader := src
	if c.cfg.MaxBytes > 0 {
		reader = io.LimitReader(src, c.cfg.MaxBytes+1)
	}
	n, err := io.Copy(tmp, reader)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	switch {
	case err != nil:
		err = fmt.Errorf("%w: write raw file: %w", ErrIO, err)
	case c.cfg.MaxBytes > 0 && n > c.cfg.MaxBytes:
		err = fmt.Errorf("%w: input exceeds %d bytes", ErrIO, c.cfg.MaxBytes)
	case n == 0:
		err = fmt.Errorf("%w: empty input", ErrDecode)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return "", err
	}
	return tmpPath, nil
}

// publishRaw renames the staged input to its retained name. Same-id
// conversions overwrite each other here, last rename wins.
func (c *Converter) publishRaw(stagedPath, rawPath string) {
	if err := os.Rename(stagedPath, rawPath); err != nil {
		c.logger.Warn("retain raw input failed", zap.String("path", rawPath), zap.Error(err))
	}
}

func (c *Converter) transcode(ctx context.Context, id ArtifactID, rawPath, destPath string) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(destPath), "."+string(id)+"-*.mp3.part")
	if err != nil {
		return 0, fmt.Errorf("%w: create output file: %w", ErrIO, err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer os.Remove(tmpPath) //nolint:errcheck

	args := []string{
		"-hide_banner", "-loglevel", "error", "-nostdin", "-y",
		"-i", rawPath,
		"-vn", "-codec:a", "libmp3lame", "-b:a", c.cfg.Bitrate,
		"-f", "mp3", tmpPath,
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.cfg.FFmpegPath, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			return 0, fmt.Errorf("%w: ffmpeg: %s", ErrDecode, tail(stderr.String()))
		}
		return 0, fmt.Errorf("%w: run ffmpeg: %w", ErrIO, err)
	}

	info, err := os.Stat(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("%w: stat output: %w", ErrIO, err)
	}
	if info.Size() == 0 {
		return 0, fmt.Errorf("%w: ffmpeg produced empty output", ErrDecode)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return 0, fmt.Errorf("%w: chmod output: %w", ErrIO, err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return 0, fmt.Errorf("%w: publish output: %w", ErrIO, err)
	}

	c.logger.Debug("conversion finished",
		zap.String("artifact_id", string(id)),
		zap.Int64("size_bytes", info.Size()),
	)
	return info.Size(), nil
}

// CheckBinary reports whether the ffmpeg binary can be resolved.
func CheckBinary(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = "ffmpeg"
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return "", fmt.Errorf("binary %q not found: %w", path, err)
	}
	return resolved, nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	const limit = 512
	if len(s) > limit {
		return "..." + s[len(s)-limit:]
	}
	return s
}
