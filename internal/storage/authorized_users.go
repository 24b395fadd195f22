package storage

import "time"

// AuthorizedUserRepository tracks which Telegram user ids may drive the
// control surface, grounded in AuthorizedUserRepository.add_authorized_user/
// is_user_authorized/update_last_activity/get_all_authorized_users.
type AuthorizedUserRepository struct {
	*Repository[AuthorizedUser]
}

func (r *AuthorizedUserRepository) Add(user *AuthorizedUser) error {
	user.IsActive = true
	return r.Repository.Upsert([]string{"user_id"}, user)
}

func (r *AuthorizedUserRepository) IsAuthorized(userID int64) bool {
	row, err := r.FindOne(map[string]any{"user_id": userID, "is_active": true})
	return err == nil && row != nil
}

func (r *AuthorizedUserRepository) UpdateLastActivity(userID int64) error {
	now := time.Now().UTC()
	_, err := r.Update(map[string]any{"user_id": userID}, map[string]any{"last_activity": &now})
	return err
}

func (r *AuthorizedUserRepository) GetAll() ([]AuthorizedUser, error) {
	return r.FindAll(nil, "created_at asc", 0)
}
