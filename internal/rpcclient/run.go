package rpcclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"bluelab/internal/common"
	"bluelab/pkg/upgraderpc"
)

// Run connects, performs the one call p selects, prints the reply to out
// and closes. A reply reporting a failed run is returned as an error.
func Run(ctx context.Context, p Params, out io.Writer) error {
	if err := p.Validate(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	c, err := NewClient(ctx, p.Addr())
	if err != nil {
		return err
	}
	defer c.Close()

	var (
		reply     any
		succeeded bool
	)
	switch {
	case p.Mode == ModeNightly:
		fmt.Fprintln(out, "Building nightly software ...")
		resp, err := c.BuildNightlySoftware(ctx)
		if err != nil {
			return err
		}
		reply, succeeded = resp, resp.Succeeded()
	case p.Mode == ModeSingle && p.Release:
		fmt.Fprintf(out, "Upgrade box: %s with project %s release %s ...\n", p.BoxIP, p.Project, p.ReleaseVersion)
		resp, err := c.UpgradeBoxWithReleaseCandidate(ctx, &upgraderpc.ReleaseCandidateRequest{
			BoxIP:   p.BoxIP,
			Project: p.Project,
			Version: p.ReleaseVersion,
			KeyPath: p.KeyPath,
		})
		if err != nil {
			return err
		}
		reply, succeeded = resp, resp.Succeeded()
	case p.Mode == ModeSingle:
		fmt.Fprintf(out, "Upgrade box: %s from branch %s with project %s ...\n", p.BoxIP, p.Branch, p.Project)
		resp, err := c.UpgradeBox(ctx, &upgraderpc.UpgradeBoxRequest{
			BoxIP:   p.BoxIP,
			Project: p.Project,
			Branch:  p.Branch,
			KeyPath: p.KeyPath,
		})
		if err != nil {
			return err
		}
		reply, succeeded = resp, resp.Succeeded()
	default:
		fmt.Fprintln(out, "Upgrading all boxes in Generic Lab ...")
		resp, err := c.UpgradeAllBoxes(ctx)
		if err != nil {
			return err
		}
		reply, succeeded = resp, resp.Succeeded()
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(reply); err != nil {
		return err
	}
	if !succeeded {
		return common.Errorf(common.ServiceErr, "%s: run did not succeed", p.Mode)
	}
	return nil
}
