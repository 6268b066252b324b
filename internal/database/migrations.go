package database

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationTrimTimelines = "2026-10-01_trim_timelines_to_serving_window"

	// timelineWindow matches the default timeline.max_length.
	timelineWindow = 500
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationTrimTimelines, apply: trimTimelines},
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
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// trimTimelines drops timeline entries written before timelines were capped.
func trimTimelines(db *gorm.DB) error {
	statement := fmt.Sprintf(`DELETE FROM kv_list_items
WHERE kv_key LIKE 'timeline:%%'
AND item_id NOT IN (
	SELECT newer.item_id FROM kv_list_items AS newer
	WHERE newer.kv_key = kv_list_items.kv_key
	ORDER BY newer.item_id DESC
	LIMIT %d
)`, timelineWindow)
	return db.Exec(statement).Error
}
