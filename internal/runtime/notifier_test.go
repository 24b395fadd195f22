package runtime

import (
	"testing"

	"go.uber.org/zap"

	"tgdl/internal/job"
)

func TestBotNotifierSkipsWhenNoActiveNode(t *testing.T) {
	n := newBotNotifier(zap.NewNop(), nil, func() *job.Node { return nil })
	// Broker is nil; if OnProgress reached past the node check it would panic.
	n.OnProgress("file.mp4", 10, 100, 5, 1)
}

func TestBotNotifierSkipsWhenNodeHasNoReplyMessage(t *testing.T) {
	node := job.NewNode(1, 100)
	n := newBotNotifier(zap.NewNop(), nil, func() *job.Node { return node })
	// node.BotReplyMessageID is the zero value, so OnProgress must bail out
	// before touching the (nil) broker.
	n.OnProgress("file.mp4", 10, 100, 5, 1)
}
