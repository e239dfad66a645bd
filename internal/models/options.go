package models

// Option structs are closed per kind: the HTTP layer decodes request bodies
// with DisallowUnknownFields, so unrecognized keys are rejected rather than
// silently passed through to the pipeline.

// DownloadOptions controls the fetch stage for download-style items.
type DownloadOptions struct {
	Format             string `json:"format,omitempty"`
	ExtractAudio       bool   `json:"extract_audio,omitempty"`
	AudioFormat        string `json:"audio_format,omitempty"`
	CookieFile         string `json:"cookie_file,omitempty"`
	CookiesFromBrowser string `json:"cookies_from_browser,omitempty"`
}

// ApplyDefaults fills unset fields with service defaults.
func (o *DownloadOptions) ApplyDefaults() {
	if o.Format == "" {
		if o.ExtractAudio {
			o.Format = "bestaudio/best"
		} else {
			o.Format = "best"
		}
	}
	if o.ExtractAudio && o.AudioFormat == "" {
		o.AudioFormat = "mp3"
	}
}

// TranscribeOptions controls the transcription stage.
type TranscribeOptions struct {
	Model    string `json:"model,omitempty"`
	Language string `json:"language,omitempty"`
}

// ChannelOptions controls enumeration of channel/search batch jobs.
type ChannelOptions struct {
	MaxVideos     int `json:"max_videos,omitempty"`
	PlaylistStart int `json:"playlist_start,omitempty"`
}
