package media

// ContentTypeForExt maps a media file extension to its MIME type for
// artifact responses. Unknown extensions fall back to octet-stream.
func ContentTypeForExt(ext string) string {
	switch ext {
	case "mp4":
		return "video/mp4"
	case "webm":
		return "video/webm"
	case "mkv":
		return "video/x-matroska"
	case "flv":
		return "video/x-flv"
	case "avi":
		return "video/x-msvideo"
	case "mov":
		return "video/quicktime"
	case "m4a":
		return "audio/mp4"
	case "mp3":
		return "audio/mpeg"
	case "webm-audio":
		return "audio/webm"
	case "ogg", "opus":
		return "audio/ogg"
	case "aac":
		return "audio/aac"
	case "wav":
		return "audio/wav"
	case "flac":
		return "audio/flac"
	default:
		return "application/octet-stream"
	}
}
