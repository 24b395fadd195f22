package storage

// StatisticsRepository maintains the daily rollup table, grounded in
// AppStatisticsRepository.update_daily_stats/get_statistics_by_date_range.
type StatisticsRepository struct {
	*Repository[AppStatistics]
}

// UpsertDaily accumulates deltas into the (stat_date, chat_id) row rather
// than overwriting it, matching the original's upsert-with-increment.
func (r *StatisticsRepository) UpsertDaily(statDate, chatID string, messages, successful, failed, skipped, bytes int64) error {
	existing, err := r.FindOne(map[string]any{"stat_date": statDate, "chat_id": chatID})
	if err != nil {
		row := &AppStatistics{
			StatDate:            statDate,
			ChatID:              chatID,
			TotalMessages:       messages,
			SuccessfulDownloads: successful,
			FailedDownloads:     failed,
			SkippedDownloads:    skipped,
			TotalFileSize:       bytes,
		}
		return r.Repository.Upsert([]string{"stat_date", "chat_id"}, row)
	}

	existing.TotalMessages += messages
	existing.SuccessfulDownloads += successful
	existing.FailedDownloads += failed
	existing.SkippedDownloads += skipped
	existing.TotalFileSize += bytes
	return r.Repository.Upsert([]string{"stat_date", "chat_id"}, existing)
}

func (r *StatisticsRepository) GetByDateRange(startDate, endDate string) ([]AppStatistics, error) {
	var out []AppStatistics
	err := r.db.Where("stat_date BETWEEN ? AND ?", startDate, endDate).Order("stat_date asc").Find(&out).Error
	return out, err
}
