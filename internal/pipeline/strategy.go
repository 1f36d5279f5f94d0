package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"bluelab/internal/artifact"
	"bluelab/internal/common"
	"bluelab/internal/silo"

	"go.uber.org/zap"
)

const (
	tagPrefix   = "bluelab_"
	releasesDir = "releases"
)

var errSkipped = errors.New("stage skipped")

// strategy holds the mode-dependent part of a run. Device upgrade and
// notify are the same for every mode and live in the orchestrator.
type strategy interface {
	prepare(ctx context.Context, r *run) error
	build(ctx context.Context, r *run) error
	transfer(ctx context.Context, r *run) error
	cleanupPaths(r *run) []string
}

func (o *Orchestrator) strategyFor(m Mode) strategy {
	switch m {
	case ReleaseCandidate:
		return releaseStrategy{o}
	case LocalArtifact:
		return localStrategy{o}
	default:
		return checkoutStrategy{o}
	}
}

// checkoutStrategy serves Single and Fleet: pull the branch, build, tag.
type checkoutStrategy struct{ o *Orchestrator }

func (s checkoutStrategy) prepare(ctx context.Context, r *run) error {
	if err := os.MkdirAll(r.workDir, 0o755); err != nil {
		return common.WrapErrNo(common.PrepareErr, err)
	}
	r.logger.Info("pulling branch", zap.String("dir", r.workDir))
	if err := s.o.deps.Source.Pull(ctx, r.workDir, r.req.Branch); err != nil {
		return common.WrapErrNo(common.PrepareErr, err)
	}
	return nil
}

func (s checkoutStrategy) build(ctx context.Context, r *run) error {
	if err := s.o.buildAndInspect(ctx, r); err != nil {
		return err
	}
	tag := tagPrefix + r.artifact.VersionHash
	r.logger.Info("tagging", zap.String("tag", tag))
	if err := s.o.deps.Source.Tag(ctx, r.workDir, r.req.Branch, tag); err != nil {
		return common.WrapErrNo(common.BuildErr, err)
	}
	return nil
}

func (s checkoutStrategy) transfer(ctx context.Context, r *run) error {
	return s.o.stage(ctx, r)
}

func (s checkoutStrategy) cleanupPaths(r *run) []string {
	return buildPaths(r)
}

// localStrategy builds a tree the caller already has on disk.
type localStrategy struct{ o *Orchestrator }

func (s localStrategy) prepare(ctx context.Context, r *run) error {
	info, err := os.Stat(r.workDir)
	if err != nil {
		return common.WrapErrNo(common.PrepareErr, err)
	}
	if !info.IsDir() {
		return common.Errorf(common.PrepareErr, "%s is not a directory", r.workDir)
	}
	return nil
}

func (s localStrategy) build(ctx context.Context, r *run) error {
	return s.o.buildAndInspect(ctx, r)
}

func (s localStrategy) transfer(ctx context.Context, r *run) error {
	return s.o.stage(ctx, r)
}

func (s localStrategy) cleanupPaths(r *run) []string {
	return buildPaths(r)
}

// releaseStrategy installs a published release. Nothing is built or
// uploaded; the package goes straight into the deployment directory.
type releaseStrategy struct{ o *Orchestrator }

func (s releaseStrategy) prepare(ctx context.Context, r *run) error {
	if s.o.cfg.ReleaseLocation == "" {
		return common.Errorf(common.ConfigErr, "UPGRADE: missing RELEASE_LOCATION")
	}
	remote := path.Join(s.o.cfg.ReleaseLocation, r.req.Project)
	local, err := s.o.deps.Releases.Download(ctx, remote, filepath.Dir(r.workDir))
	if err != nil {
		return err
	}
	r.workDir = local
	return nil
}

func (s releaseStrategy) build(ctx context.Context, r *run) error {
	pkg := r.workDir
	info, err := os.Stat(pkg)
	if err != nil {
		return common.WrapErrNo(common.BuildArtifactNotFound, err)
	}
	if info.IsDir() {
		if pkg, err = artifact.FindUpgradePackage(r.workDir); err != nil {
			return err
		}
	}
	hash, err := artifact.ReadVersionHash(pkg)
	if err != nil {
		return err
	}
	r.artifact = artifact.BuildArtifact{VersionHash: hash, PackagePath: pkg, LocalStagingPath: filepath.Dir(pkg)}
	r.logger.Info("release package", zap.String("package", pkg), zap.String("hash", hash))

	if err := artifact.Extract(pkg, r.deployDir); err != nil {
		return common.WrapErrNo(common.TransferErr, err)
	}
	return nil
}

func (s releaseStrategy) transfer(ctx context.Context, r *run) error {
	return errSkipped
}

func (s releaseStrategy) cleanupPaths(r *run) []string {
	return nil
}

func buildPaths(r *run) []string {
	paths := []string{r.outputDir, r.deployDir}
	if r.artifact.PackagePath != "" {
		paths = append([]string{r.artifact.PackagePath}, paths...)
	}
	return paths
}

// buildAndInspect runs pysilo in the run's tree and reads the version hash
// of the package it produced.
func (o *Orchestrator) buildAndInspect(ctx context.Context, r *run) error {
	r.logger.Info("building", zap.String("dir", r.workDir))
	if err := o.deps.Builder.Build(ctx, r.workDir, r.req.Project, silo.BuildOptions{Debug: true}); err != nil {
		return common.WrapErrNo(common.BuildErr, err)
	}
	a, err := artifact.Inspect(r.outputDir)
	if err != nil {
		return err
	}
	r.artifact = a
	r.logger = r.logger.With(zap.String("hash", a.VersionHash))
	r.logger.Info("build done", zap.String("package", a.PackagePath))
	return nil
}

// stage uploads the build output to REMOTE_LOCATION/{hash} and extracts the
// package for the upgrade server.
func (o *Orchestrator) stage(ctx context.Context, r *run) error {
	hashDir := path.Join(o.cfg.RemoteLocation, r.artifact.VersionHash)
	remote := path.Join(hashDir, filepath.Base(r.outputDir))
	uploaded, err := o.deps.Stager.Upload(ctx, r.outputDir, remote, hashDir)
	if err != nil {
		return err
	}
	r.logger.Info("staged build", zap.String("remote", remote), zap.Bool("uploaded", uploaded))

	if err := artifact.Extract(r.artifact.PackagePath, r.deployDir); err != nil {
		return common.WrapErrNo(common.TransferErr, fmt.Errorf("extract to %s: %w", r.deployDir, err))
	}
	return nil
}
