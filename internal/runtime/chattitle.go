package runtime

import (
	"strconv"

	"tgdl/internal/storage"
)

// chatTitleCache resolves a chat id to its stored title for the control
// surface's status/notifier text. It returns an empty string when the chat
// hasn't been persisted yet (e.g. a fast-download target never browsed
// through /api/groups/list); the control surface then shows the numeric id.
type chatTitleCache struct {
	repo *storage.ChatRepository
}

func (c *chatTitleCache) Resolve(chatID int64) string {
	row, err := c.repo.GetByID(strconv.FormatInt(chatID, 10))
	if err != nil || row == nil {
		return ""
	}
	return row.ChatTitle
}
