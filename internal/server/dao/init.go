package dao

import (
	"bluelab/internal/common"
	"bluelab/internal/server/model"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// Open connects to the history database and migrates its tables. It
// returns nil, nil when no driver is configured.
func Open(cfg common.HistoryConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "":
		return nil, nil
	case DriverSQLite:
		dialector = sqlite.Open(cfg.DSN)
	case DriverMySQL:
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, common.Errorf(common.ConfigErr, "HISTORY: unknown DRIVER %q", cfg.Driver)
	}
	if cfg.DSN == "" {
		return nil, common.Errorf(common.ConfigErr, "HISTORY: missing DSN")
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, common.WrapErrNo(common.HistoryErr, err)
	}
	if err := db.AutoMigrate(&model.PipelineRun{}, &model.StageExecution{}); err != nil {
		return nil, common.WrapErrNo(common.HistoryErr, err)
	}
	return db, nil
}
