package storage

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/jolyonbrown/ron-clanker-sub001/internal/models"
	"github.com/jolyonbrown/ron-clanker-sub001/pkg/database"
)

// ErrNotFound is returned for reads of rows that do not exist where the
// caller needs to distinguish absence from failure.
var ErrNotFound = errors.New("storage: not found")

// Repository is the single write path to the database. Agents never touch
// gorm directly; everything goes through here so writes stay serialised per
// concern.
type Repository struct {
	db     *database.DB
	logger *logrus.Logger
}

// NewRepository wraps a connected database.
func NewRepository(db *database.DB, logger *logrus.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Migrate creates or updates every table.
func (r *Repository) Migrate() error {
	return r.db.AutoMigrate(models.AllTables()...)
}

// Health pings the underlying connection.
func (r *Repository) Health() error {
	return r.db.HealthCheck()
}

func notFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

func (r *Repository) conn(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx)
}
