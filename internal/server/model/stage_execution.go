package model

import "gorm.io/gorm"

type StageExecution struct {
	gorm.Model
	RunUUID   string `gorm:"not null;type:varchar(50);uniqueIndex:idx_run_uuid_stage"`
	StageName string `gorm:"type:varchar(50);not null;uniqueIndex:idx_run_uuid_stage"`
	Status    string `gorm:"type:varchar(20);not null"`
	Output    string `gorm:"type:text"` // captured command output of a failed stage
	Error     string `gorm:"type:text"`
}
