package models

import (
	"fmt"

	"gorm.io/gorm"
)

func MigrateTable(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("migrate: db is nil")
	}
	if err := db.AutoMigrate(
		&Regional{},
		&RegionalSyncRun{},
	); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if err := pinRegionalNameCollation(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// pinRegionalNameCollation makes name comparisons exact on MySQL, whose default
// utf8mb4_0900_ai_ci collation treats "Norte" and "NORTE" as the same name.
// sqlite already compares with BINARY.
func pinRegionalNameCollation(db *gorm.DB) error {
	if db.Dialector.Name() != "mysql" {
		return nil
	}
	return db.Exec(fmt.Sprintf(
		"ALTER TABLE %s MODIFY name VARCHAR(%d) CHARACTER SET utf8mb4 COLLATE %s NOT NULL",
		Regional{}.TableName(), RegionalNameMaxLength, RegionalNameCollation,
	)).Error
}
