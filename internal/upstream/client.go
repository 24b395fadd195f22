package upstream

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/celestix/gotgproto"
	"github.com/celestix/gotgproto/ext"
	gotgstorage "github.com/celestix/gotgproto/storage"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"

	"tgdl/internal/apperr"
)

// gotgprotoClient implements Client over a single authenticated
// *gotgproto.Client, the same wrapper type the teacher's StartWorkers
// constructs per bot token — here one is constructed per authenticated
// Telegram user instead.
type gotgprotoClient struct {
	client *gotgproto.Client
	log    *zap.Logger
	stopCh chan struct{}
}

func newGotgprotoClient(client *gotgproto.Client, log *zap.Logger) *gotgprotoClient {
	return &gotgprotoClient{client: client, log: log, stopCh: make(chan struct{}, 1)}
}

func (c *gotgprotoClient) GetChat(ctx context.Context, chatID int64) (Chat, error) {
	peer, err := resolvePeer(ctx, c.client, chatID)
	if err != nil {
		return Chat{}, apperr.Wrap(apperr.KindNotFound, "resolve chat", err)
	}
	return peerToChat(peer), nil
}

func (c *gotgprotoClient) GetMessages(ctx context.Context, chatID int64, messageIDs []int) ([]Message, error) {
	peer, err := resolvePeer(ctx, c.client, chatID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNotFound, "resolve chat", err)
	}

	var out []Message
	for start := 0; start < len(messageIDs); start += 100 {
		end := start + 100
		if end > len(messageIDs) {
			end = len(messageIDs)
		}
		batch := messageIDs[start:end]

		ids := make([]tg.InputMessageClass, 0, len(batch))
		for _, id := range batch {
			ids = append(ids, &tg.InputMessageID{ID: id})
		}

		res, err := fetchMessagesForPeer(ctx, c.client, peer, ids)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindTransient, "fetch messages", err)
		}
		for _, m := range res {
			if msg, ok := m.(*tg.Message); ok {
				nm := tgMessageToMessage(msg)
				nm.ChatID = chatID
				out = append(out, nm)
			}
		}
	}
	return out, nil
}

func fetchMessagesForPeer(ctx context.Context, client *gotgproto.Client, peer tg.InputPeerClass, ids []tg.InputMessageClass) ([]tg.MessageClass, error) {
	switch p := peer.(type) {
	case *tg.InputPeerChannel:
		res, err := client.API().ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
			Channel: &tg.InputChannel{ChannelID: p.ChannelID, AccessHash: p.AccessHash},
			ID:      ids,
		})
		if err != nil {
			return nil, err
		}
		return messagesOf(res), nil
	default:
		res, err := client.API().MessagesGetMessages(ctx, ids)
		if err != nil {
			return nil, err
		}
		return messagesOf(res), nil
	}
}

func messagesOf(res tg.MessagesMessagesClass) []tg.MessageClass {
	switch m := res.(type) {
	case *tg.MessagesChannelMessages:
		return m.Messages
	case *tg.MessagesMessages:
		return m.Messages
	case *tg.MessagesMessagesSlice:
		return m.Messages
	default:
		return nil
	}
}

func (c *gotgprotoClient) IterDialogs(ctx context.Context) (<-chan Chat, <-chan error) {
	chats := make(chan Chat)
	errs := make(chan error, 1)

	go func() {
		defer close(chats)
		defer close(errs)

		offsetDate, offsetID, offsetPeer := 0, 0, tg.InputPeerClass(&tg.InputPeerEmpty{})
		for {
			res, err := c.client.API().MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
				OffsetDate: offsetDate,
				OffsetID:   offsetID,
				OffsetPeer: offsetPeer,
				Limit:      100,
			})
			if err != nil {
				errs <- err
				return
			}

			var dialogs []tg.DialogClass
			var gotChats []tg.ChatClass
			switch d := res.(type) {
			case *tg.MessagesDialogs:
				dialogs, gotChats = d.Dialogs, d.Chats
			case *tg.MessagesDialogsSlice:
				dialogs, gotChats = d.Dialogs, d.Chats
			default:
				return
			}
			if len(dialogs) == 0 {
				return
			}

			byID := make(map[int64]tg.ChatClass, len(gotChats))
			for _, gc := range gotChats {
				byID[chatClassID(gc)] = gc
			}

			for _, d := range dialogs {
				dlg, ok := d.(*tg.Dialog)
				if !ok {
					continue
				}
				id := peerClassID(dlg.Peer)
				if gc, ok := byID[id]; ok {
					select {
					case chats <- chatClassToChat(gc):
					case <-ctx.Done():
						errs <- ctx.Err()
						return
					}
				}
			}
			offsetID = dialogs[len(dialogs)-1].(*tg.Dialog).TopMessage
		}
	}()

	return chats, errs
}

func (c *gotgprotoClient) IterChatHistory(ctx context.Context, chatID int64, limit, offsetID int, reverse bool) (<-chan Message, <-chan error) {
	out := make(chan Message)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		peer, err := resolvePeer(ctx, c.client, chatID)
		if err != nil {
			errs <- err
			return
		}

		remaining := limit
		curOffset := offsetID
		for remaining > 0 {
			batchSize := remaining
			if batchSize > 100 {
				batchSize = 100
			}
			history, err := c.client.API().MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
				Peer:     peer,
				OffsetID: curOffset,
				Limit:    batchSize,
			})
			if err != nil {
				errs <- err
				return
			}
			msgs := messagesOf(history)
			if len(msgs) == 0 {
				return
			}
			for _, m := range msgs {
				if tm, ok := m.(*tg.Message); ok {
					nm := tgMessageToMessage(tm)
					nm.ChatID = chatID
					select {
					case out <- nm:
					case <-ctx.Done():
						errs <- ctx.Err()
						return
					}
				}
			}
			curOffset = msgs[len(msgs)-1].GetID()
			remaining -= len(msgs)
		}
	}()

	return out, errs
}

func (c *gotgprotoClient) FetchMessage(ctx context.Context, msg Message) (Message, error) {
	fresh, err := c.GetMessages(ctx, msg.ChatID, []int{msg.ID})
	if err != nil || len(fresh) == 0 {
		return msg, apperr.Wrap(apperr.KindStaleReference, "refetch message", err)
	}
	fresh[0].ChatID = msg.ChatID
	return fresh[0], nil
}

func (c *gotgprotoClient) DownloadMedia(ctx context.Context, msg Message, destPath string, progress ProgressFunc) (string, error) {
	loc, ok := msg.raw.(tg.InputFileLocationClass)
	if !ok {
		return "", apperr.New(apperr.KindInvalidInput, "message carries no downloadable location")
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", apperr.Wrap(apperr.KindTransient, "create destination directory", err)
	}
	f, err := os.Create(destPath)
	if err != nil {
		return "", apperr.Wrap(apperr.KindTransient, "create destination file", err)
	}
	defer f.Close()

	w := &progressWriter{w: f, total: msg.FileSize, onProgress: progress}

	builder := downloader.NewDownloader().Download(c.client.API(), loc)
	if _, err := builder.Stream(ctx, w); err != nil {
		return "", apperr.Wrap(apperr.KindTransient, "stream download", err)
	}
	return destPath, nil
}

type progressWriter struct {
	w          io.Writer
	total      int64
	written    int64
	onProgress ProgressFunc
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.written += int64(n)
	if p.onProgress != nil {
		p.onProgress(p.written, p.total)
	}
	return n, err
}

func (c *gotgprotoClient) StopTransmission() {
	select {
	case c.stopCh <- struct{}{}:
	default:
	}
}

func (c *gotgprotoClient) SendMessage(ctx context.Context, chatID int64, text string) error {
	peer, err := resolvePeer(ctx, c.client, chatID)
	if err != nil {
		return apperr.Wrap(apperr.KindNotFound, "resolve chat for send", err)
	}
	sender := ext.NewSender(c.client.API(), c.client.Self)
	_, err = sender.To(peer).Text(ctx, text)
	return err
}

func (c *gotgprotoClient) EditMessageText(ctx context.Context, chatID int64, messageID int, text string) error {
	peer, err := resolvePeer(ctx, c.client, chatID)
	if err != nil {
		return apperr.Wrap(apperr.KindNotFound, "resolve chat for edit", err)
	}
	sender := ext.NewSender(c.client.API(), c.client.Self)
	_, err = sender.To(peer).Edit(messageID).Text(ctx, text)
	return err
}

func (c *gotgprotoClient) ExportSessionString() (string, error) {
	return c.client.ExportStringSession()
}

func (c *gotgprotoClient) Close() error {
	return c.client.Stop()
}

// resolvePeer resolves a chat id to an InputPeerClass via the client's own
// PeerStorage cache, falling back the way the teacher's GetChannelPeer does.
func resolvePeer(ctx context.Context, client *gotgproto.Client, chatID int64) (tg.InputPeerClass, error) {
	peer := client.PeerStorage.GetPeerById(chatID)
	if peer.ID != 0 {
		return gotgstorage.PeerToInputPeer(peer), nil
	}
	return nil, fmt.Errorf("no cached peer for chat %d, resolve via IterDialogs first", chatID)
}

func peerToChat(peer tg.InputPeerClass) Chat {
	switch p := peer.(type) {
	case *tg.InputPeerChannel:
		return Chat{ID: p.ChannelID, Type: ChatTypeChannel}
	case *tg.InputPeerChat:
		return Chat{ID: p.ChatID, Type: ChatTypeGroup}
	case *tg.InputPeerUser:
		return Chat{ID: p.UserID, Type: ChatTypeUser}
	default:
		return Chat{}
	}
}

func chatClassID(c tg.ChatClass) int64 {
	switch v := c.(type) {
	case *tg.Chat:
		return v.ID
	case *tg.Channel:
		return v.ID
	default:
		return 0
	}
}

func peerClassID(p tg.PeerClass) int64 {
	switch v := p.(type) {
	case *tg.PeerChannel:
		return v.ChannelID
	case *tg.PeerChat:
		return v.ChatID
	case *tg.PeerUser:
		return v.UserID
	default:
		return 0
	}
}

func chatClassToChat(c tg.ChatClass) Chat {
	switch v := c.(type) {
	case *tg.Chat:
		return Chat{ID: v.ID, Title: v.Title, Type: ChatTypeGroup}
	case *tg.Channel:
		t := ChatTypeChannel
		if v.Megagroup {
			t = ChatTypeSupergroup
		}
		return Chat{ID: v.ID, Title: v.Title, Type: t, Username: v.Username, HasProtectedContent: v.Noforwards}
	default:
		return Chat{}
	}
}

func tgMessageToMessage(m *tg.Message) Message {
	out := Message{
		ID:   m.ID,
		Date: time.Unix(int64(m.Date), 0).UTC(),
		Text: m.Message,
	}
	if media, ok := m.GetMedia(); ok {
		if err := fillMedia(&out, media); err != nil {
			out.MediaType = MediaNone
		}
	}
	if gid, ok := m.GetGroupedID(); ok {
		out.MediaGroupID = gid
	}
	return out
}
