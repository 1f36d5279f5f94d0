// Package nightly builds the debug and secure images of a branch once a
// day, when the changelog lists new issues, and archives them for the lab.
package nightly

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"bluelab/internal/artifact"
	"bluelab/internal/clock"
	"bluelab/internal/common"
	"bluelab/internal/server/model"
	"bluelab/internal/shell"
	"bluelab/internal/silo"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DateTagLayout = "2006_01_02"

	tempDir     = "__temp"
	recoveryDir = "USBRecovery"

	bootImagePrefix = "BOOTIMAGE"
	logoPrefix      = "LOGO"
	innerPackage    = "*tgz"
)

type Variant string

const (
	Debug  Variant = "Debug"
	Secure Variant = "Secure"
)

type SourceControl interface {
	Pull(ctx context.Context, dir, branch string) error
	Tag(ctx context.Context, dir, branch, name string) error
}

type BuildTool interface {
	Build(ctx context.Context, dir, project string, opts silo.BuildOptions) error
}

// Gate decides whether there is anything to build and stamps the issues
// that went into a build.
type Gate interface {
	NewEntries(ctx context.Context) ([]string, error)
	MarkFixVersion(ctx context.Context, name string, day time.Time, issues []string) error
}

type Recorder interface {
	UpsertRun(ctx context.Context, run *model.PipelineRun) error
	UpsertStage(ctx context.Context, stage *model.StageExecution) error
}

type Deps struct {
	Source   SourceControl
	Builder  BuildTool
	Gate     Gate
	Recorder Recorder // optional
	Clock    clock.Clock
	Logger   *zap.Logger
}

type VariantResult struct {
	Variant     Variant
	Project     string
	VersionHash string
	Tag         string // empty for Secure
	Package     string
	Recovery    []string
	ArchivedTo  string
}

type Result struct {
	RunID      string
	Skipped    bool
	DateTag    string
	FixVersion string
	Issues     []string
	Variants   []VariantResult
	Removed    []string // archive directories dropped by the retention sweep
}

// Job is one NIGHTLY_BUILD entry.
type Job struct {
	cfg  common.NightlyBuildConfig
	deps Deps
}

func NewJob(cfg common.NightlyBuildConfig, deps Deps) *Job {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Job{cfg: cfg, deps: deps}
}

func (j *Job) buildDir() string {
	return filepath.Join(j.cfg.WorkDir, j.cfg.Branch)
}

type target struct {
	variant Variant
	project string
}

// targets lists the configured variants, Debug first. An empty project
// skips its variant.
func (j *Job) targets() []target {
	var out []target
	if j.cfg.DebugProject != "" {
		out = append(out, target{Debug, j.cfg.DebugProject})
	}
	if j.cfg.SecureProject != "" {
		out = append(out, target{Secure, j.cfg.SecureProject})
	}
	return out
}

// Run builds every configured variant. When the changelog has no new
// entries nothing is built and the result is Skipped.
func (j *Job) Run(ctx context.Context) (res Result, err error) {
	if err := j.cfg.Validate(); err != nil {
		return res, err
	}
	res.RunID = uuid.NewString()
	logger := j.deps.Logger.With(zap.String("run", res.RunID), zap.String("branch", j.cfg.Branch))
	rec := &recorder{deps: j.deps, logger: logger, run: &model.PipelineRun{
		RunUUID:   res.RunID,
		Kind:      model.KindNightly,
		Project:   j.projects(),
		Branch:    j.cfg.Branch,
		StartedAt: j.deps.Clock.Now(),
	}}

	issues, err := j.deps.Gate.NewEntries(ctx)
	rec.stage(ctx, "gate", err)
	if err != nil {
		rec.save(ctx, model.StatusFailed, "gate", err)
		return res, err
	}
	if len(issues) == 0 {
		logger.Info("no changesets since last build")
		res.Skipped = true
		rec.save(ctx, model.StatusSkipped, "", nil)
		return res, nil
	}
	res.Issues = issues
	rec.save(ctx, model.StatusRunning, "", nil)

	stage := "prepare"
	defer func() {
		cerr := j.cleanup()
		rec.stage(ctx, "cleanup", cerr)
		if cerr != nil {
			logger.Warn("cleanup incomplete", zap.Error(cerr))
		}
		if err != nil {
			rec.save(ctx, model.StatusFailed, stage, err)
			return
		}
		rec.save(ctx, model.StatusSuccess, "", nil)
	}()

	if err = j.prepare(ctx, logger); err != nil {
		rec.stage(ctx, stage, err)
		return res, err
	}
	rec.stage(ctx, stage, nil)
	now := j.deps.Clock.Now()
	res.DateTag = now.Format(DateTagLayout)
	logger = logger.With(zap.String("date_tag", res.DateTag))

	for _, v := range j.targets() {
		stage = "build-" + string(v.variant)
		vr, verr := j.buildVariant(ctx, logger, v.variant, v.project, res.DateTag)
		rec.stage(ctx, stage, verr)
		if verr != nil {
			err = verr
			return res, err
		}
		res.Variants = append(res.Variants, vr)
	}

	removed, serr := j.sweep(now)
	rec.stage(ctx, "retention", serr)
	res.Removed = removed
	if serr != nil {
		logger.Warn("retention sweep incomplete", zap.Error(serr))
	}

	stage = "mark"
	res.FixVersion = "CURRENT_" + res.DateTag
	logger.Info("updating fix version", zap.String("version", res.FixVersion), zap.Strings("issues", issues))
	err = j.deps.Gate.MarkFixVersion(ctx, res.FixVersion, now, issues)
	rec.stage(ctx, stage, err)
	if err != nil {
		return res, err
	}
	logger.Info("nightly build done", zap.Int("variants", len(res.Variants)))
	return res, nil
}

func (j *Job) projects() string {
	switch {
	case j.cfg.DebugProject != "" && j.cfg.SecureProject != "":
		return j.cfg.DebugProject + "," + j.cfg.SecureProject
	case j.cfg.DebugProject != "":
		return j.cfg.DebugProject
	default:
		return j.cfg.SecureProject
	}
}

func (j *Job) prepare(ctx context.Context, logger *zap.Logger) error {
	dir := j.buildDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return common.WrapErrNo(common.PrepareErr, err)
	}
	logger.Info("pulling branch", zap.String("dir", dir))
	if err := j.deps.Source.Pull(ctx, dir, j.cfg.Branch); err != nil {
		return common.WrapErrNo(common.PrepareErr, err)
	}
	return nil
}

func (j *Job) buildVariant(ctx context.Context, logger *zap.Logger, v Variant, project, dateTag string) (VariantResult, error) {
	dir := j.buildDir()
	vr := VariantResult{Variant: v, Project: project}
	logger = logger.With(zap.String("variant", string(v)), zap.String("project", project))

	logger.Info("building")
	opts := silo.BuildOptions{Debug: v == Debug, BuildID: dateTag}
	if err := j.deps.Builder.Build(ctx, dir, project, opts); err != nil {
		return vr, common.WrapErrNo(common.BuildErr, err)
	}
	a, err := artifact.Inspect(silo.OutputDir(dir, project))
	if err != nil {
		return vr, err
	}
	vr.VersionHash = a.VersionHash

	if v == Debug {
		vr.Tag = fmt.Sprintf("bluelab_%s_%s", dateTag, a.VersionHash)
		logger.Info("tagging", zap.String("tag", vr.Tag))
		if err := j.deps.Source.Tag(ctx, dir, j.cfg.Branch, vr.Tag); err != nil {
			return vr, common.WrapErrNo(common.BuildErr, err)
		}
	}

	variantDir := filepath.Join(dir, string(v))
	temp := filepath.Join(dir, tempDir)
	if err := os.RemoveAll(temp); err != nil {
		return vr, common.WrapErrNo(common.ArchiveErr, err)
	}
	if err := artifact.Extract(a.PackagePath, temp); err != nil {
		return vr, common.WrapErrNo(common.ArchiveErr, err)
	}
	vr.Package = filepath.Join(variantDir, filepath.Base(a.PackagePath))
	if err := copyFile(a.PackagePath, vr.Package); err != nil {
		return vr, common.WrapErrNo(common.ArchiveErr, err)
	}

	if j.cfg.GenerateUSBRecovery {
		logger.Info("generating USB recovery")
		if vr.Recovery, err = j.usbRecovery(v, temp, variantDir); err != nil {
			return vr, err
		}
	}

	if j.cfg.RemoteLocation != "" {
		dst := filepath.Join(j.cfg.RemoteLocation, dateTag, string(v))
		logger.Info("copying packages to remote location", zap.String("dest", dst))
		if err := copyDir(variantDir, dst); err != nil {
			return vr, common.WrapErrNo(common.ArchiveErr, err)
		}
		vr.ArchivedTo = dst
	}
	return vr, nil
}

// usbRecovery pulls the boot image and logo out of the inner package and
// stores them under the names the recovery stick expects.
func (j *Job) usbRecovery(v Variant, temp, variantDir string) ([]string, error) {
	bootName, logoName := j.cfg.DebugBootimageFilename, j.cfg.DebugLogoFilename
	if v == Secure {
		bootName, logoName = j.cfg.SecureBootimageFilename, j.cfg.SecureLogoFilename
	}

	inner, err := artifact.Find(temp, innerPackage)
	if err != nil {
		return nil, err
	}
	if len(inner) == 0 {
		return nil, common.Errorf(common.ArchiveErr, "no %s in %s", innerPackage, temp)
	}

	out := filepath.Join(variantDir, recoveryDir)
	scratch := filepath.Join(temp, recoveryDir)
	var written []string
	for _, m := range []struct{ prefix, name string }{
		{bootImagePrefix, bootName},
		{logoPrefix, logoName},
	} {
		if m.name == "" {
			continue
		}
		extracted, err := artifact.ExtractMember(inner[0], scratch, m.prefix)
		if err != nil {
			return written, common.WrapErrNo(common.ArchiveErr, err)
		}
		dst := filepath.Join(out, m.name)
		if err := copyFile(extracted, dst); err != nil {
			return written, common.WrapErrNo(common.ArchiveErr, err)
		}
		written = append(written, dst)
	}
	return written, nil
}

// sweep removes archive directories at least REMOVE_FILES_AFTER_DAYS whole
// days old.
func (j *Job) sweep(now time.Time) ([]string, error) {
	if j.cfg.RemoteLocation == "" || j.cfg.RemoveFilesAfterDays <= 0 {
		return nil, nil
	}
	entries, err := os.ReadDir(j.cfg.RemoteLocation)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, common.WrapErrNo(common.ArchiveErr, err)
	}
	var removed []string
	var errs []error
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if AgeInDays(now, info.ModTime()) < j.cfg.RemoveFilesAfterDays {
			continue
		}
		p := filepath.Join(j.cfg.RemoteLocation, e.Name())
		if err := os.RemoveAll(p); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, p)
	}
	if len(errs) > 0 {
		return removed, common.WrapErrNo(common.ArchiveErr, errors.Join(errs...))
	}
	return removed, nil
}

// AgeInDays counts whole days between then and now.
func AgeInDays(now, then time.Time) int {
	return int(now.Sub(then) / (24 * time.Hour))
}

// cleanup drops the scratch and variant directories. The checkout itself
// stays so the next night only pulls the difference.
func (j *Job) cleanup() error {
	dir := j.buildDir()
	var errs []error
	for _, p := range []string{tempDir, string(Debug), string(Secure)} {
		if err := os.RemoveAll(filepath.Join(dir, p)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// copyDir replaces dst with a copy of src.
func copyDir(src, dst string) error {
	if err := os.RemoveAll(dst); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.CopyFS(dst, os.DirFS(src))
}

type recorder struct {
	deps   Deps
	logger *zap.Logger
	run    *model.PipelineRun
}

func (r *recorder) stage(ctx context.Context, name string, err error) {
	if r.deps.Recorder == nil {
		return
	}
	rec := &model.StageExecution{RunUUID: r.run.RunUUID, StageName: name, Status: model.StatusSuccess}
	if err != nil {
		rec.Status = model.StatusFailed
		rec.Error = err.Error()
		rec.Output, _ = shell.Output(err)
	}
	if err := r.deps.Recorder.UpsertStage(context.WithoutCancel(ctx), rec); err != nil {
		r.logger.Warn("stage history not recorded", zap.String("stage", name), zap.Error(err))
	}
}

func (r *recorder) save(ctx context.Context, status, failedStage string, err error) {
	if r.deps.Recorder == nil {
		return
	}
	r.run.Status = status
	r.run.FailureStage = failedStage
	if status != model.StatusRunning {
		finished := r.deps.Clock.Now()
		r.run.FinishedAt = &finished
	}
	if err != nil {
		r.run.Error = err.Error()
	}
	if err := r.deps.Recorder.UpsertRun(context.WithoutCancel(ctx), r.run); err != nil {
		r.logger.Warn("history not recorded", zap.Error(err))
	}
}

// Outcome is the result of one job of a RunAll batch.
type Outcome struct {
	Branch string
	Result Result
	Err    error
}

// RunAll runs the jobs one after another. A failing job does not stop the
// ones after it.
func RunAll(ctx context.Context, jobs []*Job) []Outcome {
	out := make([]Outcome, 0, len(jobs))
	for _, j := range jobs {
		res, err := j.Run(ctx)
		if err != nil {
			j.deps.Logger.Error("nightly build failed", zap.String("branch", j.cfg.Branch), zap.Error(err))
		}
		out = append(out, Outcome{Branch: j.cfg.Branch, Result: res, Err: err})
	}
	return out
}
