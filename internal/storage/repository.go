package storage

import "gorm.io/gorm"

// Repository is the generic contract every concrete repository embeds,
// parameterized over the gorm model type so query results come back typed
// instead of as anonymous maps.
type Repository[T any] struct {
	db *gorm.DB
}

func newRepository[T any](db *gorm.DB) *Repository[T] {
	return &Repository[T]{db: db}
}

func (r *Repository[T]) FindByID(id any) (*T, error) {
	var out T
	if err := r.db.First(&out, id).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *Repository[T]) FindOne(filter any) (*T, error) {
	var out T
	if err := r.db.Where(filter).First(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *Repository[T]) FindAll(filter any, order string, limit int) ([]T, error) {
	var out []T
	q := r.db.Model(new(T))
	if filter != nil {
		q = q.Where(filter)
	}
	if order != "" {
		q = q.Order(order)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository[T]) Count(filter any) (int64, error) {
	var count int64
	q := r.db.Model(new(T))
	if filter != nil {
		q = q.Where(filter)
	}
	err := q.Count(&count).Error
	return count, err
}

func (r *Repository[T]) Insert(record *T) error {
	return withRetry(func() error { return r.db.Create(record).Error })
}

func (r *Repository[T]) InsertMany(records []T) (int64, error) {
	var affected int64
	err := withRetry(func() error {
		res := r.db.Create(&records)
		affected = res.RowsAffected
		return res.Error
	})
	return affected, err
}

func (r *Repository[T]) Update(filter any, patch any) (int64, error) {
	if isEmptyFilter(filter) {
		return 0, errEmptyFilter
	}
	var affected int64
	err := withRetry(func() error {
		res := r.db.Model(new(T)).Where(filter).Updates(patch)
		affected = res.RowsAffected
		return res.Error
	})
	return affected, err
}

func (r *Repository[T]) Delete(filter any) (int64, error) {
	if isEmptyFilter(filter) {
		return 0, errEmptyFilter
	}
	var affected int64
	err := withRetry(func() error {
		res := r.db.Where(filter).Delete(new(T))
		affected = res.RowsAffected
		return res.Error
	})
	return affected, err
}

// Upsert inserts record, or on a conflict over uniqueFields updates every
// other column in place — the single primitive DownloadRecord relies on to
// transition a message's download state.
func (r *Repository[T]) Upsert(uniqueFields []string, record *T) error {
	return withRetry(func() error {
		return r.db.Clauses(onConflictUpdateAll(uniqueFields)).Create(record).Error
	})
}

func isEmptyFilter(filter any) bool {
	if filter == nil {
		return true
	}
	if m, ok := filter.(map[string]any); ok {
		return len(m) == 0
	}
	return false
}
