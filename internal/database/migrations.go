package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/cuesheet/internal/docstore"
)

const migrationBackfillLogEntryIDs = "2024-09-01_backfill_log_entry_ids"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB, *zap.Logger) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	migrations := []migrationDefinition{
		{name: migrationBackfillLogEntryIDs, apply: backfillLogEntryIDs},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db, logger); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		logger.Info("database migration applied", zap.String("migration", migration.name))
	}
	return nil
}

// backfillLogEntryIDs gives legacy log entries stable ids so archive and delete can
// match them without the text/author/time triple.
func backfillLogEntryIDs(db *gorm.DB, logger *zap.Logger) error {
	rewritten, err := docstore.BackfillLogEntryIDs(db, docstore.NewUUIDProvider())
	if err != nil {
		return err
	}
	logger.Info("log entry ids backfilled", zap.Int("rows", rewritten))
	return nil
}
