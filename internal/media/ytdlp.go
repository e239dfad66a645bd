package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// YTDLPClient resolves and enumerates sources by shelling out to yt-dlp.
type YTDLPClient struct {
	binPath string
}

// NewYTDLPClient creates a client for the given yt-dlp binary path.
func NewYTDLPClient(binPath string) *YTDLPClient {
	if binPath == "" {
		binPath = "yt-dlp"
	}
	return &YTDLPClient{binPath: binPath}
}

// Resolve asks yt-dlp for the direct media URL and metadata of one source.
func (c *YTDLPClient) Resolve(ctx context.Context, source string, opts ResolveOptions) (*Descriptor, error) {
	if strings.TrimSpace(source) == "" {
		return nil, PermanentError(errors.New("source URL is required"))
	}

	args := []string{"-j", "--no-warnings", "--no-playlist"}
	if opts.Format != "" {
		args = append(args, "-f", opts.Format)
	} else if opts.ExtractAudio {
		args = append(args, "-f", "bestaudio/best")
	} else {
		args = append(args, "-f", "best")
	}
	args = appendCookieArgs(args, opts.CookieFile, opts.CookiesFromBrowser)
	args = append(args, source)

	out, err := c.run(ctx, args)
	if err != nil {
		return nil, err
	}
	return parseResolveOutput(out)
}

// Enumerate lists a channel, playlist, or search result without resolving
// individual entries.
func (c *YTDLPClient) Enumerate(ctx context.Context, source string, opts EnumerateOptions) ([]SourceRef, *ChannelInfo, error) {
	if strings.TrimSpace(source) == "" {
		return nil, nil, PermanentError(errors.New("source URL is required"))
	}

	args := []string{"--flat-playlist", "-J", "--no-warnings"}
	if opts.MaxItems > 0 {
		start := opts.PlaylistStart
		if start < 1 {
			start = 1
		}
		args = append(args, "--playlist-items", fmt.Sprintf("%d-%d", start, start+opts.MaxItems-1))
	}
	args = appendCookieArgs(args, opts.CookieFile, opts.CookiesFromBrowser)
	args = append(args, source)

	out, err := c.run(ctx, args)
	if err != nil {
		return nil, nil, err
	}
	return parsePlaylistOutput(out)
}

func (c *YTDLPClient) run(ctx context.Context, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.binPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, classifyExtractorError(err, stderr.String())
	}
	return stdout.Bytes(), nil
}

func appendCookieArgs(args []string, cookieFile, cookiesFromBrowser string) []string {
	if cookieFile != "" {
		args = append(args, "--cookies", cookieFile)
	}
	if cookiesFromBrowser != "" {
		args = append(args, "--cookies-from-browser", strings.ToLower(cookiesFromBrowser))
	}
	return args
}

// permanentMarkers are stderr fragments that indicate the source itself is
// unusable; retrying will not help.
var permanentMarkers = []string{
	"video unavailable",
	"private video",
	"this video is not available",
	"unsupported url",
	"is not a valid url",
	"sign in to confirm",
	"account associated with this video has been terminated",
}

func classifyExtractorError(err error, stderr string) error {
	msg := strings.TrimSpace(stderr)
	if msg == "" {
		msg = err.Error()
	}
	lower := strings.ToLower(msg)
	for _, marker := range permanentMarkers {
		if strings.Contains(lower, marker) {
			return PermanentError(fmt.Errorf("yt-dlp: %s", msg))
		}
	}
	return TransientError(fmt.Errorf("yt-dlp: %s", msg))
}

type ytdlpEntry struct {
	URL      string  `json:"url"`
	WebURL   string  `json:"webpage_url"`
	Title    string  `json:"title"`
	Ext      string  `json:"ext"`
	Uploader string  `json:"uploader"`
	Duration float64 `json:"duration"`
}

type ytdlpPlaylist struct {
	Title   string       `json:"title"`
	WebURL  string       `json:"webpage_url"`
	Entries []ytdlpEntry `json:"entries"`
}

func parseResolveOutput(out []byte) (*Descriptor, error) {
	var entry struct {
		ytdlpEntry
		HTTPHeaders map[string]string `json:"http_headers"`
	}
	if err := json.Unmarshal(out, &entry); err != nil {
		return nil, PermanentError(fmt.Errorf("parse yt-dlp output: %w", err))
	}
	if entry.URL == "" {
		return nil, PermanentError(errors.New("yt-dlp returned no direct media URL"))
	}
	ext := entry.Ext
	if ext == "" {
		ext = "mp4"
	}
	return &Descriptor{
		URL:             entry.URL,
		Title:           entry.Title,
		Ext:             ext,
		Uploader:        entry.Uploader,
		DurationSeconds: entry.Duration,
		HTTPHeaders:     entry.HTTPHeaders,
	}, nil
}

func parsePlaylistOutput(out []byte) ([]SourceRef, *ChannelInfo, error) {
	var pl ytdlpPlaylist
	if err := json.Unmarshal(out, &pl); err != nil {
		return nil, nil, PermanentError(fmt.Errorf("parse yt-dlp playlist output: %w", err))
	}

	refs := make([]SourceRef, 0, len(pl.Entries))
	for _, e := range pl.Entries {
		url := e.URL
		if url == "" {
			url = e.WebURL
		}
		if url == "" {
			continue
		}
		refs = append(refs, SourceRef{URL: url, Title: e.Title, DurationSeconds: e.Duration})
	}
	info := &ChannelInfo{Title: pl.Title, URL: pl.WebURL, VideoCount: len(refs)}
	return refs, info, nil
}
