package media

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// FFmpegTranscoder converts media through an ffmpeg subprocess, streaming
// input on stdin and output on stdout so nothing touches disk.
type FFmpegTranscoder struct {
	binPath string
}

// NewFFmpegTranscoder creates a transcoder for the given ffmpeg binary path.
func NewFFmpegTranscoder(binPath string) *FFmpegTranscoder {
	if binPath == "" {
		binPath = "ffmpeg"
	}
	return &FFmpegTranscoder{binPath: binPath}
}

// Convert transcodes data into the target audio format.
func (t *FFmpegTranscoder) Convert(ctx context.Context, data []byte, targetFormat string) ([]byte, error) {
	args := []string{"-hide_banner", "-loglevel", "error", "-i", "pipe:0"}
	args = append(args, codecArgs(targetFormat)...)
	args = append(args, "pipe:1")

	cmd := exec.CommandContext(ctx, t.binPath, args...)
	cmd.Stdin = bytes.NewReader(data)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, PermanentError(fmt.Errorf("ffmpeg: %s", msg))
	}
	if stdout.Len() == 0 {
		return nil, PermanentError(fmt.Errorf("ffmpeg produced no output for format %q", targetFormat))
	}
	return stdout.Bytes(), nil
}

func codecArgs(format string) []string {
	switch strings.ToLower(format) {
	case "mp3":
		return []string{"-vn", "-acodec", "libmp3lame", "-b:a", "192k", "-f", "mp3"}
	case "aac", "m4a":
		return []string{"-vn", "-acodec", "aac", "-f", "adts"}
	case "wav":
		return []string{"-vn", "-acodec", "pcm_s16le", "-ar", "16000", "-ac", "1", "-f", "wav"}
	case "ogg", "opus":
		return []string{"-vn", "-acodec", "libopus", "-f", "ogg"}
	case "flac":
		return []string{"-vn", "-acodec", "flac", "-f", "flac"}
	default:
		return []string{"-vn", "-f", strings.ToLower(format)}
	}
}
