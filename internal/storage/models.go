package storage

import "time"

// AppConfig is a typed key/value row. Value is always stored as TEXT; the
// declared ValueType tells AppConfigRepository how to (de)serialize it.
type AppConfig struct {
	Key         string `gorm:"column:key;primaryKey"`
	Value       string `gorm:"column:value"`
	ValueType   string `gorm:"column:value_type"` // str|int|float|bool|list|dict
	Description string `gorm:"column:description"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (AppConfig) TableName() string { return "app_config" }

type Chat struct {
	ChatID             string `gorm:"column:chat_id;primaryKey"`
	ChatTitle          string `gorm:"column:chat_title"`
	ChatType           string `gorm:"column:chat_type"`
	LastReadMessageID  int64  `gorm:"column:last_read_message_id"`
	DownloadFilter     string `gorm:"column:download_filter"`
	UploadTelegramChat string `gorm:"column:upload_telegram_chat_id"`
	IsActive           bool   `gorm:"column:is_active"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (Chat) TableName() string { return "chats" }

const (
	DownloadStatusPending = "pending"
	DownloadStatusSuccess = "success"
	DownloadStatusFailed  = "failed"
	DownloadStatusSkipped = "skipped"
)

type DownloadRecord struct {
	ID             uint   `gorm:"primaryKey;autoIncrement"`
	ChatID         string `gorm:"column:chat_id;uniqueIndex:idx_chat_message"`
	MessageID      int64  `gorm:"column:message_id;uniqueIndex:idx_chat_message"`
	FileName       string `gorm:"column:file_name"`
	FilePath       string `gorm:"column:file_path"`
	FileSize       int64  `gorm:"column:file_size"`
	MediaType      string `gorm:"column:media_type"`
	DownloadStatus string `gorm:"column:download_status"`
	ErrorMessage   string `gorm:"column:error_message"`
	DownloadDate   *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (DownloadRecord) TableName() string { return "download_history" }

type CustomDownloadConfig struct {
	ID                uint   `gorm:"primaryKey;autoIncrement"`
	ChatID            string `gorm:"column:chat_id;index"`
	TargetMessageIDs  string `gorm:"column:target_message_ids"` // JSON array of int64
	GroupTag          string `gorm:"column:group_tag"`
	IsEnabled         bool   `gorm:"column:is_enabled"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (CustomDownloadConfig) TableName() string { return "custom_downloads" }

type AuthorizedUser struct {
	UserID      int64  `gorm:"column:user_id;primaryKey"`
	Username    string `gorm:"column:username"`
	FirstName   string `gorm:"column:first_name"`
	LastName    string `gorm:"column:last_name"`
	Permissions string `gorm:"column:permissions"` // JSON array of strings
	IsActive    bool   `gorm:"column:is_active"`
	LastActivity *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (AuthorizedUser) TableName() string { return "authorized_users" }

const (
	QueueStatusPending    = "pending"
	QueueStatusProcessing = "processing"
	QueueStatusCompleted  = "completed"
	QueueStatusFailed     = "failed"
)

type QueueEntry struct {
	ID             uint   `gorm:"primaryKey;autoIncrement"`
	ChatID         string `gorm:"column:chat_id;uniqueIndex:idx_queue_chat_message"`
	MessageID      int64  `gorm:"column:message_id;uniqueIndex:idx_queue_chat_message"`
	Priority       int    `gorm:"column:priority"`
	MaxRetries     int    `gorm:"column:max_retries"`
	CurrentRetries int    `gorm:"column:current_retries"`
	Status         string `gorm:"column:status"`
	ScheduledAt    time.Time
	ProcessedAt    *time.Time
	ErrorMessage   string `gorm:"column:error_message"`
}

func (QueueEntry) TableName() string { return "download_queue" }

type AppStatistics struct {
	ID                 uint   `gorm:"primaryKey;autoIncrement"`
	StatDate           string `gorm:"column:stat_date;uniqueIndex:idx_stat_date_chat"`
	ChatID             string `gorm:"column:chat_id;uniqueIndex:idx_stat_date_chat"`
	TotalMessages      int64  `gorm:"column:total_messages"`
	SuccessfulDownloads int64 `gorm:"column:successful_downloads"`
	FailedDownloads    int64  `gorm:"column:failed_downloads"`
	SkippedDownloads   int64  `gorm:"column:skipped_downloads"`
	TotalFileSize      int64  `gorm:"column:total_file_size"`
}

func (AppStatistics) TableName() string { return "app_statistics" }

// AllModels lists every gorm model so the migrator can loop over them
// without naming each one twice.
func AllModels() []any {
	return []any{
		&AppConfig{},
		&Chat{},
		&DownloadRecord{},
		&CustomDownloadConfig{},
		&AuthorizedUser{},
		&QueueEntry{},
		&AppStatistics{},
	}
}
