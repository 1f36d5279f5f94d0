// Package rpcclient triggers pipelines on the lab server from a CI job.
package rpcclient

import (
	"context"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"

	"bluelab/internal/common"
	"bluelab/pkg/upgraderpc"
)

type Client struct {
	rpcClient *rpc.Client
}

func NewClient(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, common.WrapErrNo(common.ServiceErr, err)
	}
	return &Client{
		rpcClient: jsonrpc.NewClient(conn),
	}, nil
}

func (c *Client) Close() error {
	return c.rpcClient.Close()
}

// call gives up waiting when ctx is done. The server keeps running the
// pipeline; nothing is retried.
func (c *Client) call(ctx context.Context, method string, args, reply any) error {
	pending := c.rpcClient.Go(method, args, reply, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		return common.Errorf(common.ServiceErr, "%s abandoned: %w", method, ctx.Err())
	case done := <-pending.Done:
		if done.Error != nil {
			return common.Errorf(common.ServiceErr, "%s: %w", method, done.Error)
		}
		return nil
	}
}

func (c *Client) UpgradeBox(ctx context.Context, req *upgraderpc.UpgradeBoxRequest) (*upgraderpc.UpgradeResponse, error) {
	var resp upgraderpc.UpgradeResponse
	err := c.call(ctx, upgraderpc.MethodUpgradeBox, req, &resp)
	return &resp, err
}

func (c *Client) UpgradeBoxWithReleaseCandidate(ctx context.Context, req *upgraderpc.ReleaseCandidateRequest) (*upgraderpc.UpgradeResponse, error) {
	var resp upgraderpc.UpgradeResponse
	err := c.call(ctx, upgraderpc.MethodUpgradeBoxWithReleaseCandidate, req, &resp)
	return &resp, err
}

func (c *Client) UpgradeAllBoxes(ctx context.Context) (*upgraderpc.UpgradeResponse, error) {
	var resp upgraderpc.UpgradeResponse
	err := c.call(ctx, upgraderpc.MethodUpgradeAllBoxes, &upgraderpc.UpgradeAllBoxesRequest{}, &resp)
	return &resp, err
}

func (c *Client) BuildNightlySoftware(ctx context.Context) (*upgraderpc.BuildNightlyResponse, error) {
	var resp upgraderpc.BuildNightlyResponse
	err := c.call(ctx, upgraderpc.MethodBuildNightlySoftware, &upgraderpc.BuildNightlyRequest{}, &resp)
	return &resp, err
}
