package dao

import (
	"context"
	"errors"

	"bluelab/internal/common"
	"bluelab/internal/server/model"

	"gorm.io/gorm"
)

// History stores pipeline runs and their stages.
type History struct {
	db *gorm.DB
}

func NewHistory(db *gorm.DB) *History {
	return &History{db: db}
}

func (h *History) UpsertRun(ctx context.Context, run *model.PipelineRun) error {
	err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.PipelineRun
		if err := tx.Where("run_uuid = ?", run.RunUUID).Take(&existing).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return tx.Create(run).Error
			}
			return err
		}

		existing.VersionHash = run.VersionHash
		existing.ReportedVersion = run.ReportedVersion
		existing.Status = run.Status
		existing.FailureStage = run.FailureStage
		existing.Error = run.Error
		existing.FinishedAt = run.FinishedAt
		return tx.Save(&existing).Error
	})
	if err != nil {
		return common.WrapErrNo(common.HistoryErr, err)
	}
	return nil
}

func (h *History) UpsertStage(ctx context.Context, stage *model.StageExecution) error {
	err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.StageExecution
		if err := tx.Where("run_uuid = ? AND stage_name = ?", stage.RunUUID, stage.StageName).Take(&existing).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return tx.Create(stage).Error
			}
			return err
		}

		existing.Status = stage.Status
		existing.Output = stage.Output
		existing.Error = stage.Error
		return tx.Save(&existing).Error
	})
	if err != nil {
		return common.WrapErrNo(common.HistoryErr, err)
	}
	return nil
}

// ListFilter narrows ListRuns. Zero values match everything.
type ListFilter struct {
	Kind          string
	DeviceAddress string
	Status        string
	Limit         int
}

const defaultListLimit = 50

// ListRuns returns the newest runs first.
func (h *History) ListRuns(ctx context.Context, f ListFilter) ([]*model.PipelineRun, error) {
	q := h.db.WithContext(ctx).Model(&model.PipelineRun{})
	if f.Kind != "" {
		q = q.Where("kind = ?", f.Kind)
	}
	if f.DeviceAddress != "" {
		q = q.Where("device_address = ?", f.DeviceAddress)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	var runs []*model.PipelineRun
	if err := q.Order("started_at DESC").Order("id DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, common.WrapErrNo(common.HistoryErr, err)
	}
	return runs, nil
}

// GetRun returns a run and its stages in the order they were recorded.
func (h *History) GetRun(ctx context.Context, runUUID string) (*model.PipelineRun, []*model.StageExecution, error) {
	var run model.PipelineRun
	if err := h.db.WithContext(ctx).Where("run_uuid = ?", runUUID).Take(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, common.NewErrNo(common.HistoryNotExists)
		}
		return nil, nil, common.WrapErrNo(common.HistoryErr, err)
	}

	var stages []*model.StageExecution
	if err := h.db.WithContext(ctx).Where("run_uuid = ?", runUUID).Order("id ASC").Find(&stages).Error; err != nil {
		return nil, nil, common.WrapErrNo(common.HistoryErr, err)
	}
	return &run, stages, nil
}
