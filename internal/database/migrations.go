package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Bestalexmartin/Cuebe-sub002/internal/script"
)

const (
	migrationPurgeOrphanedChanges = "2026-06-10_purge_orphaned_changes"
	migrationDropDeletedGroupRefs = "2026-07-02_drop_deleted_group_refs"
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
		{name: migrationPurgeOrphanedChanges, apply: purgeOrphanedChanges},
		{name: migrationDropDeletedGroupRefs, apply: dropDeletedGroupRefs},
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

// purgeOrphanedChanges removes audit rows whose script no longer exists.
func purgeOrphanedChanges(db *gorm.DB) error {
	return db.Exec(
		"DELETE FROM script_changes WHERE script_id NOT IN (SELECT script_id FROM scripts)",
	).Error
}

// dropDeletedGroupRefs clears group membership left behind on soft-deleted
// elements so a reused group id never picks them back up.
func dropDeletedGroupRefs(db *gorm.DB) error {
	return db.Model(&script.ScriptElement{}).
		Where("is_deleted = ?", true).
		Updates(map[string]any{"group_id": "", "group_name": ""}).Error
}
