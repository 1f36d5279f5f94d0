// Package silo drives the two external tools of the STB build system:
// nosilo for source control (pull, clean, tag) and pysilo for builds.
package silo

import (
	"context"
	"path/filepath"

	"bluelab/internal/shell"
)

const (
	nosilo = "nosilo"
	pysilo = "pysilo"

	revertAndPurge = "hg revert --all && hg purge"
)

// debugEnv turns on debug symbols and keeps stack frames in the image.
var debugEnv = []string{"SvDebug=yes", "SvDebugBuild=yes", "SvKeepStack=yes"}

type BuildOptions struct {
	Debug bool
	// BuildID is exported as SRM_BUILD_ID when set.
	BuildID string
}

type Silo struct {
	runner shell.Runner
}

func New(runner shell.Runner) *Silo {
	return &Silo{runner: runner}
}

// Pull fetches branch into dir.
func (s *Silo) Pull(ctx context.Context, dir, branch string) error {
	_, err := s.runner.Run(ctx, shell.Command{
		Dir:  dir,
		Name: nosilo,
		Args: []string{"pull", branch, "-ym"},
	})
	return err
}

// Tag reverts build leftovers in every repository of dir and tags branch
// with name.
func (s *Silo) Tag(ctx context.Context, dir, branch, name string) error {
	if _, err := s.runner.Run(ctx, shell.Command{
		Dir:  dir,
		Name: nosilo,
		Args: []string{"foreach", revertAndPurge},
	}); err != nil {
		return err
	}
	_, err := s.runner.Run(ctx, shell.Command{
		Dir:  dir,
		Name: nosilo,
		Args: []string{"tag", branch, "--name=" + name},
	})
	return err
}

// Build runs pysilo for project in dir. Output lands in dir/sbuild-<project>.
func (s *Silo) Build(ctx context.Context, dir, project string, opts BuildOptions) error {
	var env []string
	if opts.BuildID != "" {
		env = append(env, "SRM_BUILD_ID="+opts.BuildID)
	}
	if opts.Debug {
		env = append(env, debugEnv...)
	}
	_, err := s.runner.Run(ctx, shell.Command{
		Dir:  dir,
		Env:  env,
		Name: pysilo,
		Args: []string{"--project", project},
	})
	return err
}

// OutputDir is where pysilo leaves the artifacts of project.
func OutputDir(dir, project string) string {
	return filepath.Join(dir, "sbuild-"+project)
}
