// Package pipeline upgrades lab boxes: prepare, build, transfer, device
// upgrade, notify and cleanup, run strictly in that order. The first fatal
// failure ends the run; cleanup always runs.
package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"bluelab/internal/artifact"
	"bluelab/internal/clock"
	"bluelab/internal/common"
	"bluelab/internal/notify"
	"bluelab/internal/server/model"
	"bluelab/internal/shell"
	"bluelab/internal/silo"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type SourceControl interface {
	Pull(ctx context.Context, dir, branch string) error
	Tag(ctx context.Context, dir, branch, name string) error
}

type BuildTool interface {
	Build(ctx context.Context, dir, project string, opts silo.BuildOptions) error
}

type ReleaseFetcher interface {
	Download(ctx context.Context, remotePath, localDir string) (string, error)
}

type Stager interface {
	Upload(ctx context.Context, localDir, remoteDir, chmodRoot string) (bool, error)
}

type DeviceController interface {
	Upgrade(ctx context.Context, addr, keyPath, upgradeURL string) (string, error)
}

type Notifier interface {
	Notify(ctx context.Context, r notify.Report) error
}

// Recorder persists run history.
type Recorder interface {
	UpsertRun(ctx context.Context, run *model.PipelineRun) error
	UpsertStage(ctx context.Context, stage *model.StageExecution) error
}

type Deps struct {
	Source   SourceControl
	Builder  BuildTool
	Releases ReleaseFetcher
	Stager   Stager
	Device   DeviceController
	Notifier Notifier
	Recorder Recorder // optional
	Clock    clock.Clock
	Logger   *zap.Logger
}

type Orchestrator struct {
	cfg  common.UpgradeConfig
	deps Deps
}

func New(cfg common.UpgradeConfig, deps Deps) *Orchestrator {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Orchestrator{cfg: cfg, deps: deps}
}

// run is the state of one pipeline run. It is created per request and
// never shared between runs.
type run struct {
	id        string
	req       Request
	keyPath   string
	workDir   string
	outputDir string
	deployDir string
	artifact  artifact.BuildArtifact
	started   time.Time
	logger    *zap.Logger
}

func (o *Orchestrator) newRun(req Request) *run {
	r := &run{
		id:        uuid.NewString(),
		req:       req,
		keyPath:   req.KeyPath,
		deployDir: filepath.Join(o.cfg.UpgradeBaseDir, req.Project),
	}
	if r.keyPath == "" {
		r.keyPath = o.cfg.LabKeyPath
	}
	switch req.Mode {
	case LocalArtifact:
		r.workDir = req.SourcePath
	case ReleaseCandidate:
		r.workDir = filepath.Join(o.cfg.WorkDir, releasesDir, req.Project)
	default:
		r.workDir = filepath.Join(o.cfg.WorkDir, req.Branch)
	}
	r.outputDir = silo.OutputDir(r.workDir, req.Project)
	r.logger = o.deps.Logger.With(
		zap.String("run", r.id),
		zap.String("mode", string(req.Mode)),
		zap.String("project", req.Project),
		zap.String("box", req.DeviceAddress),
	)
	return r
}

// Run executes one request. The returned error is the fatal stage failure,
// if any; a box reporting the wrong version is a failed Result, not an
// error.
func (o *Orchestrator) Run(ctx context.Context, req Request) (res Result, err error) {
	res = Result{Project: req.Project, DeviceAddress: req.DeviceAddress}
	if err := req.Validate(); err != nil {
		res.Err = err
		return res, err
	}

	r := o.newRun(req)
	r.started = o.deps.Clock.Now()
	res.RunID = r.id
	st := o.strategyFor(req.Mode)
	r.logger.Info("upgrade started", zap.String("branch", req.Branch))
	o.recordRun(ctx, r, res, model.StatusRunning)

	defer func() {
		o.cleanup(ctx, r, st)
		status := model.StatusFailed
		if res.Succeeded {
			status = model.StatusSuccess
		}
		o.recordRun(ctx, r, res, status)
		r.logger.Info("upgrade finished", zap.Bool("succeeded", res.Succeeded), zap.String("result", res.Message()))
	}()

	stages := []struct {
		stage Stage
		fn    func(context.Context, *run) error
	}{
		{StagePrepare, st.prepare},
		{StageBuild, st.build},
		{StageTransfer, st.transfer},
	}
	for _, s := range stages {
		err := s.fn(ctx, r)
		o.recordStage(ctx, r, s.stage, err)
		if errors.Is(err, errSkipped) {
			r.logger.Info("stage skipped", zap.String("stage", string(s.stage)))
			continue
		}
		if err != nil {
			r.logger.Error("stage failed", zap.String("stage", string(s.stage)), zap.Error(err))
			res.FailureStage = s.stage
			res.Err = err
			return res, err
		}
	}
	res.VersionHash = r.artifact.VersionHash

	reported, err := o.deps.Device.Upgrade(ctx, req.DeviceAddress, r.keyPath, o.upgradeURL(req.Project))
	o.recordStage(ctx, r, StageDeviceUpgrade, err)
	res.ReportedVersion = reported
	res.Succeeded = err == nil && reported == res.VersionHash
	if !res.Succeeded {
		res.FailureStage = StageDeviceUpgrade
		res.Err = err
	}

	o.notify(ctx, r, res)
	return res, err
}

// RunFleet upgrades every box of UPGRADE.BOXES_LIST in list order. A failed
// box does not stop the loop.
func (o *Orchestrator) RunFleet(ctx context.Context) []Result {
	results := make([]Result, 0, len(o.cfg.BoxesList))
	for _, box := range o.cfg.BoxesList {
		res, err := o.Run(ctx, Request{
			Project:       box.Project,
			Branch:        box.Branch,
			DeviceAddress: box.IP,
			KeyPath:       box.KeyPath,
			Mode:          Fleet,
		})
		if err != nil {
			o.deps.Logger.Error("fleet upgrade failed", zap.String("box", box.IP), zap.Error(err))
		}
		results = append(results, res)
	}
	return results
}

// Cleanup removes the local artifacts a run for req leaves behind. Missing
// paths are not an error.
func (o *Orchestrator) Cleanup(req Request) error {
	r := o.newRun(req)
	return removeAll(o.strategyFor(req.Mode).cleanupPaths(r))
}

func (o *Orchestrator) cleanup(ctx context.Context, r *run, st strategy) {
	err := removeAll(st.cleanupPaths(r))
	o.recordStage(ctx, r, StageCleanup, err)
	if err != nil {
		r.logger.Warn("cleanup incomplete", zap.Error(err))
	}
}

func removeAll(paths []string) error {
	var errs []error
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.RemoveAll(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) notify(ctx context.Context, r *run, res Result) {
	err := o.deps.Notifier.Notify(context.WithoutCancel(ctx), notify.Report{
		Project:         r.req.Project,
		Branch:          r.req.Branch,
		DeviceAddress:   r.req.DeviceAddress,
		ExpectedVersion: res.VersionHash,
		ReportedVersion: res.ReportedVersion,
		Succeeded:       res.Succeeded,
		Err:             res.Err,
	})
	o.recordStage(ctx, r, StageNotify, err)
	if err != nil {
		r.logger.Warn("notification not sent", zap.Error(err))
	}
}

func (o *Orchestrator) upgradeURL(project string) string {
	return strings.TrimRight(o.cfg.UpgradeBaseURL, "/") + "/" + project
}

func (o *Orchestrator) recordRun(ctx context.Context, r *run, res Result, status string) {
	if o.deps.Recorder == nil {
		return
	}
	rec := &model.PipelineRun{
		RunUUID:         r.id,
		Kind:            model.KindUpgrade,
		Mode:            string(r.req.Mode),
		Project:         r.req.Project,
		Branch:          r.req.Branch,
		DeviceAddress:   r.req.DeviceAddress,
		VersionHash:     res.VersionHash,
		ReportedVersion: res.ReportedVersion,
		Status:          status,
		FailureStage:    string(res.FailureStage),
		StartedAt:       r.started,
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	if status != model.StatusRunning {
		finished := o.deps.Clock.Now()
		rec.FinishedAt = &finished
	}
	if err := o.deps.Recorder.UpsertRun(context.WithoutCancel(ctx), rec); err != nil {
		r.logger.Warn("history not recorded", zap.Error(err))
	}
}

func (o *Orchestrator) recordStage(ctx context.Context, r *run, stage Stage, err error) {
	if o.deps.Recorder == nil {
		return
	}
	rec := &model.StageExecution{RunUUID: r.id, StageName: string(stage), Status: model.StatusSuccess}
	switch {
	case errors.Is(err, errSkipped):
		rec.Status = model.StatusSkipped
	case err != nil:
		rec.Status = model.StatusFailed
		rec.Error = err.Error()
		rec.Output, _ = shell.Output(err)
	}
	if err := o.deps.Recorder.UpsertStage(context.WithoutCancel(ctx), rec); err != nil {
		r.logger.Warn("stage history not recorded", zap.String("stage", string(stage)), zap.Error(err))
	}
}
