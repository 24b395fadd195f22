package upstream

import (
	"fmt"

	"github.com/gotd/td/tg"
)

// fillMedia normalizes a tg.MessageMediaClass onto msg, generalizing the
// teacher's FileFromMedia (document + photo only) across the full media set
// SPEC_FULL §6 names: photo, video, audio, document, voice, video_note,
// animation, sticker.
func fillMedia(msg *Message, media tg.MessageMediaClass) error {
	switch m := media.(type) {
	case *tg.MessageMediaPhoto:
		return fillPhoto(msg, m)
	case *tg.MessageMediaDocument:
		return fillDocument(msg, m)
	default:
		msg.MediaType = MediaNone
		return nil
	}
}

func fillPhoto(msg *Message, m *tg.MessageMediaPhoto) error {
	photo, ok := m.Photo.AsNotEmpty()
	if !ok {
		return fmt.Errorf("photo media has no usable sizes")
	}
	sizes := photo.Sizes
	if len(sizes) == 0 {
		return fmt.Errorf("photo has no sizes")
	}
	best := sizes[len(sizes)-1]
	size, ok := best.AsNotEmpty()
	if !ok {
		return fmt.Errorf("photo size is empty")
	}

	location := &tg.InputPhotoFileLocation{
		ID:            photo.GetID(),
		AccessHash:    photo.GetAccessHash(),
		FileReference: photo.GetFileReference(),
		ThumbSize:     size.GetType(),
	}

	var width, height int
	if sz, ok := size.(*tg.PhotoSize); ok {
		width, height = sz.W, sz.H
	}

	msg.MediaType = MediaPhoto
	msg.raw = location
	msg.FileUniqueID = fmt.Sprintf("photo_%d", photo.GetID())
	msg.Width = width
	msg.Height = height
	msg.MimeType = "image/jpeg"
	return nil
}

func fillDocument(msg *Message, m *tg.MessageMediaDocument) error {
	document, ok := m.Document.AsNotEmpty()
	if !ok {
		return fmt.Errorf("document media has no usable document")
	}

	msg.raw = document.AsInputDocumentFileLocation()
	msg.FileSize = document.Size
	msg.MimeType = document.MimeType
	msg.FileUniqueID = fmt.Sprintf("doc_%d", document.ID)
	msg.MediaType = MediaDocument // default; refined below by attribute inspection

	for _, attr := range document.Attributes {
		switch a := attr.(type) {
		case *tg.DocumentAttributeFilename:
			msg.FileName = a.FileName
		case *tg.DocumentAttributeAudio:
			msg.Duration = a.Duration
			if a.Voice {
				msg.MediaType = MediaVoice
			} else {
				msg.MediaType = MediaAudio
			}
		case *tg.DocumentAttributeVideo:
			msg.Duration = int(a.Duration)
			msg.Width = a.W
			msg.Height = a.H
			if a.RoundMessage {
				msg.MediaType = MediaVideoNote
			} else {
				msg.MediaType = MediaVideo
			}
		case *tg.DocumentAttributeAnimated:
			msg.MediaType = MediaAnimation
		case *tg.DocumentAttributeSticker:
			msg.MediaType = MediaSticker
		case *tg.DocumentAttributeImageSize:
			msg.Width = a.W
			msg.Height = a.H
		}
	}

	if msg.FileName == "" {
		msg.FileName = defaultFileName(msg.MediaType, msg.MimeType, document.ID)
	}
	return nil
}

func defaultFileName(mediaType MediaType, mimeType string, id int64) string {
	ext := "bin"
	switch mediaType {
	case MediaVideo, MediaVideoNote, MediaAnimation:
		ext = "mp4"
	case MediaAudio, MediaVoice:
		ext = "ogg"
	case MediaSticker:
		ext = "webp"
	}
	_ = mimeType
	return fmt.Sprintf("%s_%d.%s", mediaType, id, ext)
}
