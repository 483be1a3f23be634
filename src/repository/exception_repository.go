package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"triggerexecutor/src/database"
	"triggerexecutor/src/model"
)

// ExceptionRepository handles persistence of infrastructure failures.
type ExceptionRepository struct {
	db *gorm.DB
}

func NewExceptionRepository() *ExceptionRepository {
	return &ExceptionRepository{db: database.MainDB}
}

func (r *ExceptionRepository) WithDB(db *gorm.DB) *ExceptionRepository {
	return &ExceptionRepository{db: db}
}

// Create persists a new exception.
func (r *ExceptionRepository) Create(ctx context.Context, exc *model.Exception) error {
	logger.WithFields(map[string]interface{}{
		"service": exc.Service,
		"module":  exc.Module,
		"method":  exc.Method,
		"level":   exc.Level,
	}).Error("Persisting system exception")

	return r.db.WithContext(ctx).Create(exc).Error
}

// FindByModule lists the most recent exceptions raised by module.
func (r *ExceptionRepository) FindByModule(ctx context.Context, module string, limit int) ([]model.Exception, error) {
	var out []model.Exception
	err := r.db.WithContext(ctx).
		Where("module = ?", module).
		Order("id DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}
