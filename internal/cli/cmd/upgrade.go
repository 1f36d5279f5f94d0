package cmd

import (
	"fmt"

	"bluelab/internal/app"
	"bluelab/internal/common"
	"bluelab/internal/pipeline"

	"github.com/spf13/cobra"
)

const upgradeExamples = `  upgrader --type all
  upgrader --type single --ip 10.0.0.5 --project stb --branch 3800 [--key ~/.ssh/box]
  upgrader --type local --ip 10.0.0.5 --project stb --path /work/3800
  upgrader --type rc --ip 10.0.0.5 --project stb --version 1.2.3`

type upgradeFlags struct {
	kind    string
	ip      string
	project string
	branch  string
	key     string
	path    string
	version string
}

// request maps the flags to a pipeline request. Fleet upgrades have none.
func (f upgradeFlags) request() (pipeline.Request, error) {
	req := pipeline.Request{Project: f.project, Branch: f.branch, DeviceAddress: f.ip, KeyPath: f.key}
	var missing []string
	need := func(flag, v string) {
		if v == "" {
			missing = append(missing, "--"+flag)
		}
	}
	switch f.kind {
	case "single":
		req.Mode = pipeline.Single
		need("ip", f.ip)
		need("project", f.project)
		need("branch", f.branch)
	case "local":
		req.Mode = pipeline.LocalArtifact
		req.SourcePath = f.path
		need("ip", f.ip)
		need("project", f.project)
		need("path", f.path)
	case "rc":
		req.Mode = pipeline.ReleaseCandidate
		req.Project = f.project + "-" + f.version
		need("ip", f.ip)
		need("project", f.project)
		need("version", f.version)
	default:
		return req, common.Errorf(common.RequestInvalid, "--type must be one of single, all, local, rc")
	}
	if len(missing) > 0 {
		return req, common.Errorf(common.RequestInvalid, "--type %s needs %v", f.kind, missing)
	}
	return req, nil
}

func NewUpgradeCommand() *cobra.Command {
	var f upgradeFlags
	cmd := &cobra.Command{
		Use:     "upgrader",
		Short:   "Upgrade lab boxes",
		Example: upgradeExamples,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpgrade(cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.kind, "type", "", "upgrade type: single, all, local or rc")
	cmd.Flags().StringVar(&f.ip, "ip", "", "box address")
	cmd.Flags().StringVar(&f.project, "project", "", "project to build or release to install")
	cmd.Flags().StringVar(&f.branch, "branch", "", "branch to build (single)")
	cmd.Flags().StringVar(&f.key, "key", "", "box SSH key, defaults to UPGRADE.LAB_KEY_PATH")
	cmd.Flags().StringVar(&f.path, "path", "", "existing checkout to build (local)")
	cmd.Flags().StringVar(&f.version, "version", "", "release version (rc)")
	cmd.MarkFlagRequired("type")
	return cmd
}

func runUpgrade(cmd *cobra.Command, f upgradeFlags) error {
	var req pipeline.Request
	if f.kind != "all" {
		r, err := f.request()
		if err != nil {
			return err
		}
		req = r
	}
	cmd.SilenceUsage = true

	a, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer a.Close()

	out := cmd.OutOrStdout()
	if f.kind == "all" {
		results, err := a.UpgradeFleet(cmd.Context())
		if err != nil {
			return err
		}
		for _, r := range results {
			fmt.Fprintln(out, r.Message())
		}
		return app.FleetError(results)
	}

	res, err := a.Upgrade(cmd.Context(), req)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, res.Message())
	if !res.Succeeded {
		return common.Errorf(common.DeviceUpgradeErr, "%s", res.Message())
	}
	return nil
}
