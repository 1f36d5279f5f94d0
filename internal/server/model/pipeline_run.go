package model

import (
	"time"

	"gorm.io/gorm"
)

const (
	KindUpgrade = "upgrade"
	KindNightly = "nightly"

	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// PipelineRun is one upgrade of one box, or one nightly job.
type PipelineRun struct {
	gorm.Model
	RunUUID         string `gorm:"type:varchar(50);not null;uniqueIndex"`
	Kind            string `gorm:"type:varchar(20);not null;index"`
	Mode            string `gorm:"type:varchar(30)"`
	Project         string `gorm:"type:varchar(255);not null"`
	Branch          string `gorm:"type:varchar(255)"`
	DeviceAddress   string `gorm:"type:varchar(255);index"`
	VersionHash     string `gorm:"type:varchar(64)"`
	ReportedVersion string `gorm:"type:varchar(64)"`
	Status          string `gorm:"type:varchar(20);not null"`
	FailureStage    string `gorm:"type:varchar(30)"`
	Error           string `gorm:"type:text"`
	StartedAt       time.Time
	FinishedAt      *time.Time
}
