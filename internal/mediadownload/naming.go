package mediadownload

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"tgdl/internal/upstream"
)

var invalidFileChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

// SanitizeFileName strips characters that are invalid on common filesystems
// and caps length, matching the "validate/truncate filename" step of
// SPEC_FULL §4.6.
func SanitizeFileName(name string) string {
	name = invalidFileChars.ReplaceAllString(name, "_")
	name = strings.TrimSpace(name)
	if name == "" {
		name = "file"
	}
	const maxLen = 200
	if len(name) > maxLen {
		ext := filepath.Ext(name)
		name = name[:maxLen-len(ext)] + ext
	}
	return name
}

// GetExtension derives a file extension from a mime type, falling back to
// "bin", mirroring the teacher's reliance on mime-type suffixes.
func GetExtension(mimeType string) string {
	if mimeType == "" {
		return "bin"
	}
	parts := strings.Split(mimeType, "/")
	ext := parts[len(parts)-1]
	ext = strings.SplitN(ext, ";", 2)[0]
	if ext == "" {
		return "bin"
	}
	return ext
}

// FileFormat computes the save-worthy extension for msg per SPEC_FULL §4.6:
// mime-suffix for audio/document/video/voice/video_note, else derived from
// the message's own file name or (failing that) mime type.
func FileFormat(msg upstream.Message) string {
	switch msg.MediaType {
	case upstream.MediaAudio, upstream.MediaDocument, upstream.MediaVideo,
		upstream.MediaVoice, upstream.MediaVideoNote:
		return GetExtension(msg.MimeType)
	default:
		if msg.FileName != "" {
			if ext := strings.TrimPrefix(filepath.Ext(msg.FileName), "."); ext != "" {
				return ext
			}
		}
		return GetExtension(msg.MimeType)
	}
}

// BuildFileName computes the on-disk file name for msg, matching the
// "{id} - {t}_{iso(media.date)}.{fmt}" shape SPEC_FULL calls for on
// voice/video_note, and falling back to the message's own file name (or a
// generated one) otherwise.
func BuildFileName(msg upstream.Message) string {
	format := FileFormat(msg)
	switch msg.MediaType {
	case upstream.MediaVoice, upstream.MediaVideoNote:
		return SanitizeFileName(fmt.Sprintf("%d - %s_%s.%s", msg.ID, msg.MediaType, msg.Date.Format("20060102T150405"), format))
	default:
		if msg.FileName != "" {
			return SanitizeFileName(fmt.Sprintf("%d - %s", msg.ID, msg.FileName))
		}
		return SanitizeFileName(fmt.Sprintf("%d - %s.%s", msg.ID, msg.MediaType, format))
	}
}

// SaveDir computes the destination directory for msg given the configured
// prefix order ({chat_title, media_datetime, media_type} in any order) and
// the chosen base directory (bot_save_path vs save_path, decided by the
// caller).
func SaveDir(base string, prefixOrder []string, chatTitle string, msg upstream.Message) string {
	parts := []string{base}
	for _, prefix := range prefixOrder {
		switch prefix {
		case "chat_title":
			if chatTitle != "" {
				parts = append(parts, SanitizeFileName(chatTitle))
			}
		case "media_datetime":
			parts = append(parts, msg.Date.Format("2006_01"))
		case "media_type":
			parts = append(parts, string(msg.MediaType))
		}
	}
	return filepath.Join(parts...)
}

// ISOTimestamp renders t as an RFC 3339 timestamp in UTC. BuildFileName does
// not use it; file names embed the compact 20060102T150405 form instead.
func ISOTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
