package models

import "gorm.io/gorm"

// AllModels returns all models for migration
// Note: Permission and PermissionGroup go first so the join tables can reference them
func AllModels() []interface{} {
	return []interface{}{
		&Permission{},
		&PermissionGroup{},
		&User{},
		&Profile{},
		&IdpLink{},
	}
}

// AutoMigrate runs GORM auto-migration for all models
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(AllModels()...)
}
