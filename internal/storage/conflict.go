package storage

import (
	"gorm.io/gorm/clause"
)

// onConflictUpdateAll builds an ON CONFLICT(uniqueFields) DO UPDATE clause
// that refreshes every column, the gorm equivalent of the repository layer's
// "insert or replace" upsert semantics.
func onConflictUpdateAll(uniqueFields []string) clause.OnConflict {
	cols := make([]clause.Column, 0, len(uniqueFields))
	for _, f := range uniqueFields {
		cols = append(cols, clause.Column{Name: f})
	}
	return clause.OnConflict{
		Columns:   cols,
		UpdateAll: true,
	}
}
