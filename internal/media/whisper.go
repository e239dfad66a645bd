package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"media-fetch-service/internal/models"
)

// WhisperTranscriber runs whisper.cpp's CLI against audio bytes. The binary
// only reads files, so input is staged in a temp dir that is removed before
// returning; no artifact persists on disk.
type WhisperTranscriber struct {
	binPath   string
	modelPath string
}

// NewWhisperTranscriber creates a transcriber. modelPath is the default
// model used when a job does not request one.
func NewWhisperTranscriber(binPath, modelPath string) *WhisperTranscriber {
	if binPath == "" {
		binPath = "whisper-cli"
	}
	return &WhisperTranscriber{binPath: binPath, modelPath: modelPath}
}

// Transcribe converts audio bytes (16 kHz mono WAV) into a transcript.
func (t *WhisperTranscriber) Transcribe(ctx context.Context, data []byte, model, language string) (*models.Transcript, error) {
	modelPath := model
	if modelPath == "" {
		modelPath = t.modelPath
	}
	if modelPath == "" {
		return nil, PermanentError(fmt.Errorf("no whisper model configured"))
	}

	tempDir, err := os.MkdirTemp("", "transcribe-*")
	if err != nil {
		return nil, TransientError(fmt.Errorf("create temp dir: %w", err))
	}
	defer os.RemoveAll(tempDir)

	inputPath := filepath.Join(tempDir, "audio.wav")
	if err := os.WriteFile(inputPath, data, 0o600); err != nil {
		return nil, TransientError(fmt.Errorf("stage audio: %w", err))
	}

	outputBase := filepath.Join(tempDir, "audio")
	args := []string{
		"-m", modelPath,
		"-f", inputPath,
		"--output-json",
		"--output-file", outputBase,
	}
	if language != "" {
		args = append(args, "-l", language)
	}

	cmd := exec.CommandContext(ctx, t.binPath, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			msg = err.Error()
		}
		return nil, PermanentError(fmt.Errorf("whisper: %s", msg))
	}

	raw, err := os.ReadFile(outputBase + ".json")
	if err != nil {
		return nil, PermanentError(fmt.Errorf("read whisper output: %w", err))
	}
	return parseWhisperOutput(raw)
}

// whisperOutput mirrors whisper.cpp's JSON output shape.
type whisperOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

func parseWhisperOutput(raw []byte) (*models.Transcript, error) {
	var out whisperOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, PermanentError(fmt.Errorf("parse whisper output: %w", err))
	}

	transcript := &models.Transcript{Language: out.Result.Language}
	var text strings.Builder
	for _, seg := range out.Transcription {
		segText := strings.TrimSpace(seg.Text)
		if segText == "" {
			continue
		}
		transcript.Segments = append(transcript.Segments, models.Segment{
			Start: float64(seg.Offsets.From) / 1000,
			End:   float64(seg.Offsets.To) / 1000,
			Text:  segText,
		})
		if text.Len() > 0 {
			text.WriteByte(' ')
		}
		text.WriteString(segText)
	}
	transcript.Text = text.String()
	return transcript, nil
}
