package storage

// ChatRepository tracks chats the engine has been pointed at, grounded in
// ChatRepository.get_active_chats/update_last_read_message/set_chat_filter
// from the original's repositories module.
type ChatRepository struct {
	*Repository[Chat]
}

func (r *ChatRepository) GetActiveChats() ([]Chat, error) {
	return r.FindAll(map[string]any{"is_active": true}, "chat_title asc", 0)
}

func (r *ChatRepository) GetByID(chatID string) (*Chat, error) {
	return r.FindOne(map[string]any{"chat_id": chatID})
}

func (r *ChatRepository) UpdateLastReadMessage(chatID string, messageID int64) error {
	_, err := r.Update(map[string]any{"chat_id": chatID}, map[string]any{"last_read_message_id": messageID})
	return err
}

func (r *ChatRepository) SetFilter(chatID, filter string) error {
	_, err := r.Update(map[string]any{"chat_id": chatID}, map[string]any{"download_filter": filter})
	return err
}

func (r *ChatRepository) Upsert(chat *Chat) error {
	return r.Repository.Upsert([]string{"chat_id"}, chat)
}
