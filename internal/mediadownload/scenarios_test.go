package mediadownload

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"tgdl/internal/apperr"
	"tgdl/internal/upstream"
)

// TestScenarioS3FloodWaitThenSuccess reproduces spec scenario S3: upstream
// returns a FLOOD_WAIT_<n> error on the first attempt for one message, then
// succeeds; the call sleeps roughly n seconds and records success after
// exactly two DownloadMedia calls.
func TestScenarioS3FloodWaitThenSuccess(t *testing.T) {
	cfg, _ := baseConfig(t)
	content := []byte("video-bytes")
	client := &fakeClient{
		content:      content,
		downloadErrs: []error{errors.New("FLOOD_WAIT_1"), nil},
	}
	msg := upstream.Message{ID: 9, ChatID: 100, MediaType: upstream.MediaVideo, MimeType: "video/mp4", FileName: "clip.mp4", FileSize: int64(len(content))}

	start := time.Now()
	outcome, _, err := Download(context.Background(), zap.NewNop(), cfg, newReq(client, msg))
	elapsed := time.Since(start)

	if err != nil || outcome != Success {
		t.Fatalf("expected eventual Success after a flood wait, got outcome=%v err=%v", outcome, err)
	}
	if client.downloadCalls != 2 {
		t.Fatalf("expected exactly 2 DownloadMedia attempts for message 9, got %d", client.downloadCalls)
	}
	if elapsed < time.Second {
		t.Fatalf("expected the flood-wait sleep to delay the retry by roughly 1s, elapsed=%v", elapsed)
	}
}

// TestScenarioS4StaleReferenceExhaustsRetries reproduces spec scenario S4:
// upstream returns a stale-reference error on every attempt; after 3
// attempts the message is recorded failed, not retried further within this
// call (the caller's target_ids still carries it for the next run).
func TestScenarioS4StaleReferenceExhaustsRetries(t *testing.T) {
	cfg, _ := baseConfig(t)
	client := &fakeClient{
		downloadErrs: []error{
			errors.New("BAD_REQUEST"),
			errors.New("BAD_REQUEST"),
			errors.New("BAD_REQUEST"),
		},
	}
	msg := upstream.Message{ID: 13, ChatID: 100, MediaType: upstream.MediaDocument, MimeType: "application/pdf", FileName: "doc.pdf", FileSize: 10}

	outcome, path, err := Download(context.Background(), zap.NewNop(), cfg, newReq(client, msg))
	if outcome != Failed || path != "" {
		t.Fatalf("expected Failed with no path after exhausting retries, got outcome=%v path=%q", outcome, path)
	}
	if !apperr.Is(err, apperr.KindStaleReference) {
		t.Fatalf("expected KindStaleReference, got %v", err)
	}
	if client.downloadCalls != 3 {
		t.Fatalf("expected exactly 3 DownloadMedia attempts, got %d", client.downloadCalls)
	}
}
