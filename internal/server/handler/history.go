package handler

import (
	"context"
	"strconv"

	"bluelab/internal/common"
	"bluelab/internal/server/dao"
	"bluelab/internal/server/middleware"
	"bluelab/internal/server/model"
	"bluelab/pkg/api"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const timeLayout = "2006-01-02 15:04:05"

type HistoryReader interface {
	ListRuns(ctx context.Context, f dao.ListFilter) ([]*model.PipelineRun, error)
	GetRun(ctx context.Context, runUUID string) (*model.PipelineRun, []*model.StageExecution, error)
}

type Handler struct {
	history HistoryReader
}

// NewHandler accepts a nil history; its endpoints then answer HistoryErr.
func NewHandler(history HistoryReader) *Handler {
	return &Handler{history: history}
}

func NewRouter(h *Handler, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(logger))
	r.GET("/healthz", Healthz)
	r.GET("/history", h.ListHistory)
	r.GET("/history/:id", h.HistoryDetail)
	return r
}

func Healthz(c *gin.Context) {
	respond(c, gin.H{"status": "ok"})
}

// ListHistory lists runs, running ones first. Optional query parameters:
// kind, box, status, limit.
func (h *Handler) ListHistory(c *gin.Context) {
	if h.history == nil {
		respondErr(c, common.NewErrNo(common.HistoryErr))
		return
	}
	f := dao.ListFilter{
		Kind:          c.Query("kind"),
		DeviceAddress: c.Query("box"),
		Status:        c.Query("status"),
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			respondErr(c, common.NewErrNo(common.RequestInvalid))
			return
		}
		f.Limit = limit
	}

	runs, err := h.history.ListRuns(c, f)
	if err != nil {
		respondErr(c, err)
		return
	}

	runningList := make([]api.RunBrief, 0)
	otherList := make([]api.RunBrief, 0)
	for _, run := range runs {
		brief := toBrief(run)
		if brief.Status == model.StatusRunning {
			runningList = append(runningList, brief)
		} else {
			otherList = append(otherList, brief)
		}
	}
	respond(c, append(runningList, otherList...))
}

func (h *Handler) HistoryDetail(c *gin.Context) {
	if h.history == nil {
		respondErr(c, common.NewErrNo(common.HistoryErr))
		return
	}
	run, stages, err := h.history.GetRun(c, c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}

	detail := api.RunDetail{
		RunBrief:        toBrief(run),
		VersionHash:     run.VersionHash,
		ReportedVersion: run.ReportedVersion,
		Error:           run.Error,
		Stages:          make([]api.StageDetail, 0, len(stages)),
	}
	for _, s := range stages {
		detail.Stages = append(detail.Stages, api.StageDetail{
			Stage:  s.StageName,
			Status: s.Status,
			Output: s.Output,
			Error:  s.Error,
			Time:   s.UpdatedAt.Format(timeLayout),
		})
	}
	respond(c, detail)
}

func toBrief(run *model.PipelineRun) api.RunBrief {
	brief := api.RunBrief{
		RunID:         run.RunUUID,
		Kind:          run.Kind,
		Mode:          run.Mode,
		Project:       run.Project,
		Branch:        run.Branch,
		DeviceAddress: run.DeviceAddress,
		Status:        run.Status,
		FailureStage:  run.FailureStage,
		StartTime:     run.StartedAt.Format(timeLayout),
	}
	if run.FinishedAt != nil {
		brief.EndTime = run.FinishedAt.Format(timeLayout)
	}
	return brief
}
