package storage

import "encoding/json"

// CustomDownloadRepository persists the curated message-id backlog, grounded
// in CustomDownloadRepository.add_custom_download/get_custom_downloads_for_chat/
// get_all_target_message_ids.
type CustomDownloadRepository struct {
	*Repository[CustomDownloadConfig]
}

func (r *CustomDownloadRepository) Add(chatID string, messageIDs []int64, groupTag string) error {
	encoded, err := json.Marshal(messageIDs)
	if err != nil {
		return err
	}
	row := &CustomDownloadConfig{
		ChatID:           chatID,
		TargetMessageIDs: string(encoded),
		GroupTag:         groupTag,
		IsEnabled:        true,
	}
	return r.Insert(row)
}

func (r *CustomDownloadRepository) GetForChat(chatID string) ([]CustomDownloadConfig, error) {
	return r.FindAll(map[string]any{"chat_id": chatID, "is_enabled": true}, "created_at asc", 0)
}

// GetAllTargetMessageIDs flattens every enabled row's target ids into one
// slice, matching get_all_target_message_ids's aggregation across rows.
func (r *CustomDownloadRepository) GetAllTargetMessageIDs(chatID string) ([]int64, error) {
	rows, err := r.GetForChat(chatID)
	if err != nil {
		return nil, err
	}
	var ids []int64
	for _, row := range rows {
		var rowIDs []int64
		if err := json.Unmarshal([]byte(row.TargetMessageIDs), &rowIDs); err != nil {
			continue
		}
		ids = append(ids, rowIDs...)
	}
	return ids, nil
}

// Disable marks a row inert once every message in it has been resolved
// (downloaded or confirmed not-found), pruning it from future submissions.
func (r *CustomDownloadRepository) Disable(id uint) error {
	_, err := r.Update(map[string]any{"id": id}, map[string]any{"is_enabled": false})
	return err
}

// RemoveIDs drops resolvedIDs (downloaded, or confirmed not-found) from
// every enabled row of chatID's target list, disabling any row left empty;
// this is the Go equivalent of update_target_ids rewriting target_ids in
// the original's config file, just against per-row JSON arrays instead.
func (r *CustomDownloadRepository) RemoveIDs(chatID string, resolvedIDs []int64) error {
	rows, err := r.GetForChat(chatID)
	if err != nil {
		return err
	}
	resolved := make(map[int64]bool, len(resolvedIDs))
	for _, id := range resolvedIDs {
		resolved[id] = true
	}
	for _, row := range rows {
		var ids []int64
		if err := json.Unmarshal([]byte(row.TargetMessageIDs), &ids); err != nil {
			continue
		}
		remaining := ids[:0]
		for _, id := range ids {
			if !resolved[id] {
				remaining = append(remaining, id)
			}
		}
		if len(remaining) == len(ids) {
			continue
		}
		if len(remaining) == 0 {
			if err := r.Disable(row.ID); err != nil {
				return err
			}
			continue
		}
		encoded, err := json.Marshal(remaining)
		if err != nil {
			return err
		}
		if _, err := r.Update(map[string]any{"id": row.ID}, map[string]any{"target_message_ids": string(encoded)}); err != nil {
			return err
		}
	}
	return nil
}
