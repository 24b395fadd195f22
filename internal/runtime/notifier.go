package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"tgdl/internal/job"
	"tgdl/internal/upstream"
)

const notifyEditInterval = 3 * time.Second

// botNotifier implements progress.Notifier, editing the active run's bot
// reply message with throttled progress text. It never blocks a download:
// a failed or skipped edit is logged and dropped, per SPEC_FULL §4.9.
type botNotifier struct {
	log        *zap.Logger
	broker     *upstream.Broker
	activeNode func() *job.Node

	mu       sync.Mutex
	lastEdit time.Time
}

func newBotNotifier(log *zap.Logger, broker *upstream.Broker, activeNode func() *job.Node) *botNotifier {
	return &botNotifier{
		log:        log.Named("BotNotifier"),
		broker:     broker,
		activeNode: activeNode,
	}
}

func (n *botNotifier) OnProgress(fileName string, downByte, total int64, speed float64, messageID int64) {
	node := n.activeNode()
	if node == nil || node.BotReplyMessageID == 0 {
		return
	}

	n.mu.Lock()
	if time.Since(n.lastEdit) < notifyEditInterval {
		n.mu.Unlock()
		return
	}
	n.lastEdit = time.Now()
	n.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := n.broker.GetUserClient(ctx, node.FromUserID)
	if err != nil {
		return
	}

	text := fmt.Sprintf("Downloading %s\n%s / %s (%s/s)",
		fileName, humanize.Bytes(uint64(downByte)), humanize.Bytes(uint64(total)), humanize.Bytes(uint64(speed)))
	if err := client.EditMessageText(ctx, node.ChatID, node.BotReplyMessageID, text); err != nil {
		n.log.Debug("failed to edit progress message", zap.Error(err))
	}
}
