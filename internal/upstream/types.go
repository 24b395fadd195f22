// Package upstream abstracts the Telegram MTProto connection behind a small
// interface so the rest of the engine (scheduler, media downloader,
// custom-download manager) never imports gotd/gotgproto types directly. The
// concrete implementation is backed by github.com/celestix/gotgproto wrapping
// github.com/gotd/td, the same pair the teacher already depends on.
package upstream

import (
	"context"
	"time"
)

// ChatType enumerates the normalized chat kinds surfaced at component
// boundaries.
type ChatType string

const (
	ChatTypeGroup      ChatType = "GROUP"
	ChatTypeSupergroup ChatType = "SUPERGROUP"
	ChatTypeChannel    ChatType = "CHANNEL"
	ChatTypeBot        ChatType = "BOT"
	ChatTypeUser       ChatType = "USER"
)

// MediaType enumerates the normalized media kinds C6 understands.
type MediaType string

const (
	MediaPhoto     MediaType = "photo"
	MediaVideo     MediaType = "video"
	MediaAudio     MediaType = "audio"
	MediaDocument  MediaType = "document"
	MediaVoice     MediaType = "voice"
	MediaVideoNote MediaType = "video_note"
	MediaAnimation MediaType = "animation"
	MediaSticker   MediaType = "sticker"
	MediaNone      MediaType = ""
)

// Chat is the normalized shape returned by GetChat/IterDialogs.
type Chat struct {
	ID                     int64
	Title                  string
	Type                   ChatType
	Username               string
	MembersCount           int
	HasProtectedContent    bool
}

// Thumb is one entry of a message's thumbnail set.
type Thumb struct {
	FileID       string
	FileUniqueID string
	Width        int
	Height       int
	FileSize     int64
}

// Message is the normalized shape used at every component boundary, per
// SPEC_FULL §6.
type Message struct {
	ID              int
	ChatID          int64
	Date            time.Time
	Text            string
	Caption         string
	CaptionEntities []byte // opaque, re-serialized entity data; unused by the core
	MediaGroupID    int64
	MediaType       MediaType
	FileName        string
	FileSize        int64
	FileUniqueID    string
	FileID          string
	MimeType        string
	Width           int
	Height          int
	Duration        int
	Thumbs          []Thumb

	// raw carries the concrete gotd media class so DownloadMedia/FetchMessage
	// can act on it without the caller ever importing gotd/td.
	raw any
}

// HasMedia reports whether the message carries any downloadable media.
func (m Message) HasMedia() bool { return m.MediaType != MediaNone }

// ProgressFunc is invoked by DownloadMedia as bytes arrive.
type ProgressFunc func(downBytes, total int64)

// UserInfo is the normalized account identity returned on successful auth.
type UserInfo struct {
	UserID    int64
	Username  string
	FirstName string
	LastName  string
	Phone     string
}

// Client is the abstract upstream connection every downstream component
// programs against; §6's pseudocode interface translated into Go.
type Client interface {
	GetChat(ctx context.Context, chatID int64) (Chat, error)
	GetMessages(ctx context.Context, chatID int64, messageIDs []int) ([]Message, error)
	IterDialogs(ctx context.Context) (<-chan Chat, <-chan error)
	IterChatHistory(ctx context.Context, chatID int64, limit, offsetID int, reverse bool) (<-chan Message, <-chan error)
	FetchMessage(ctx context.Context, msg Message) (Message, error)
	DownloadMedia(ctx context.Context, msg Message, destPath string, progress ProgressFunc) (string, error)
	StopTransmission()

	SendMessage(ctx context.Context, chatID int64, text string) error
	EditMessageText(ctx context.Context, chatID int64, messageID int, text string) error

	ExportSessionString() (string, error)
	Close() error
}
