package database

import (
	"path/filepath"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Bestalexmartin/Cuebe-sub002/internal/script"
)

func TestApplyMigrationsPurgesOrphanedChanges(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&script.Script{}, &script.ScriptElement{}, &script.ScriptChange{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	if err := database.Create(&script.Script{ScriptID: "script-live", OwnerID: "user-1", Title: "Evening Show"}).Error; err != nil {
		testContext.Fatalf("failed to insert script: %v", err)
	}
	changes := []script.ScriptChange{
		{ChangeID: "change-live", ScriptID: "script-live", UserID: "user-1", OperationID: "op-1", Kind: script.OperationFieldUpdate},
		{ChangeID: "change-orphan", ScriptID: "script-gone", UserID: "user-1", OperationID: "op-2", Kind: script.OperationFieldUpdate},
	}
	for _, change := range changes {
		if err := database.Create(&change).Error; err != nil {
			testContext.Fatalf("failed to insert change: %v", err)
		}
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var remaining int64
	if err := database.Model(&script.ScriptChange{}).Count(&remaining).Error; err != nil {
		testContext.Fatalf("failed to count changes: %v", err)
	}
	if remaining != 1 {
		testContext.Fatalf("expected only the live change to survive, got %d", remaining)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationPurgeOrphanedChanges).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}
}

func TestApplyMigrationsDropsDeletedGroupRefs(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "groups.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&script.Script{}, &script.ScriptElement{}, &script.ScriptChange{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	elements := []script.ScriptElement{
		{ScriptID: "script-1", ElementID: "cue-live", GroupID: "group-1", GroupName: "Act One", IsDeleted: false},
		{ScriptID: "script-1", ElementID: "cue-gone", GroupID: "group-1", GroupName: "Act One", IsDeleted: true},
	}
	for _, element := range elements {
		if err := database.Create(&element).Error; err != nil {
			testContext.Fatalf("failed to insert element: %v", err)
		}
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var gone script.ScriptElement
	if err := database.Where("element_id = ?", "cue-gone").Take(&gone).Error; err != nil {
		testContext.Fatalf("failed to reload element: %v", err)
	}
	if gone.GroupID != "" || gone.GroupName != "" {
		testContext.Fatalf("expected group refs cleared on deleted elements, got %q/%q", gone.GroupID, gone.GroupName)
	}

	var live script.ScriptElement
	if err := database.Where("element_id = ?", "cue-live").Take(&live).Error; err != nil {
		testContext.Fatalf("failed to reload element: %v", err)
	}
	if live.GroupID != "group-1" {
		testContext.Fatalf("live elements must keep their group, got %q", live.GroupID)
	}

	// Re-running is a no-op thanks to the migration record.
	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to re-apply migrations: %v", err)
	}
}
