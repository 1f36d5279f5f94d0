// Package rpcserver exposes the pipelines over JSON-RPC. Calls block until
// their pipeline finishes and run one at a time.
package rpcserver

import (
	"context"
	"errors"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"sync"

	"bluelab/internal/common"
	"bluelab/internal/nightly"
	"bluelab/internal/pipeline"
	"bluelab/pkg/upgraderpc"

	"go.uber.org/zap"
)

// Pipelines is what the server dispatches to.
type Pipelines interface {
	Upgrade(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
	UpgradeFleet(ctx context.Context) ([]pipeline.Result, error)
	BuildNightly(ctx context.Context) ([]nightly.Outcome, error)
}

// Server implements upgraderpc.UpgradeService.
type Server struct {
	pipelines Pipelines
	logger    *zap.Logger

	// ctx bounds every pipeline run; cancelled on shutdown.
	ctx context.Context
	mu  sync.Mutex
}

var _ upgraderpc.UpgradeService = (*Server)(nil)

func NewServer(ctx context.Context, pipelines Pipelines, logger *zap.Logger) *Server {
	return &Server{ctx: ctx, pipelines: pipelines, logger: logger}
}

// dispatch holds the server lock for the whole run.
func (s *Server) dispatch(method string, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	logger := s.logger.With(zap.String("method", method))
	logger.Info("rpc call started")
	err := fn(s.ctx)
	if err != nil {
		logger.Error("rpc call rejected", zap.Error(err))
		return err
	}
	logger.Info("rpc call finished")
	return nil
}

func (s *Server) UpgradeBox(req *upgraderpc.UpgradeBoxRequest, resp *upgraderpc.UpgradeResponse) error {
	return s.dispatch("UpgradeBox", func(ctx context.Context) error {
		return s.upgrade(ctx, pipeline.Request{
			Project:       req.Project,
			Branch:        req.Branch,
			DeviceAddress: req.BoxIP,
			KeyPath:       req.KeyPath,
			Mode:          pipeline.Single,
		}, resp)
	})
}

func (s *Server) UpgradeBoxWithReleaseCandidate(req *upgraderpc.ReleaseCandidateRequest, resp *upgraderpc.UpgradeResponse) error {
	return s.dispatch("UpgradeBoxWithReleaseCandidate", func(ctx context.Context) error {
		if req.Project == "" || req.Version == "" {
			return common.Errorf(common.RequestInvalid, "release candidate needs project and version")
		}
		return s.upgrade(ctx, pipeline.Request{
			Project:       req.Project + "-" + req.Version,
			DeviceAddress: req.BoxIP,
			KeyPath:       req.KeyPath,
			Mode:          pipeline.ReleaseCandidate,
		}, resp)
	})
}

func (s *Server) UpgradeAllBoxes(req *upgraderpc.UpgradeAllBoxesRequest, resp *upgraderpc.UpgradeResponse) error {
	return s.dispatch("UpgradeAllBoxes", func(ctx context.Context) error {
		results, err := s.pipelines.UpgradeFleet(ctx)
		if err != nil {
			return err
		}
		for _, r := range results {
			resp.Results = append(resp.Results, toUpgradeResult(r))
		}
		return nil
	})
}

func (s *Server) BuildNightlySoftware(req *upgraderpc.BuildNightlyRequest, resp *upgraderpc.BuildNightlyResponse) error {
	return s.dispatch("BuildNightlySoftware", func(ctx context.Context) error {
		outcomes, err := s.pipelines.BuildNightly(ctx)
		if err != nil {
			return err
		}
		for _, o := range outcomes {
			resp.Results = append(resp.Results, toNightlyResult(o))
		}
		return nil
	})
}

// RunNightly is the scheduled entry. It queues behind any running call.
func (s *Server) RunNightly() {
	var resp upgraderpc.BuildNightlyResponse
	if err := s.BuildNightlySoftware(&upgraderpc.BuildNightlyRequest{}, &resp); err != nil {
		return
	}
	for _, r := range resp.Results {
		if r.Error != "" {
			s.logger.Warn("scheduled nightly build failed", zap.String("branch", r.Branch), zap.String("error", r.Error))
		}
	}
}

// upgrade reports a failed run in resp. Only a request or configuration
// that never got to run is returned as an RPC error.
func (s *Server) upgrade(ctx context.Context, req pipeline.Request, resp *upgraderpc.UpgradeResponse) error {
	res, err := s.pipelines.Upgrade(ctx, req)
	if err != nil && res.RunID == "" {
		return err
	}
	resp.Results = append(resp.Results, toUpgradeResult(res))
	return nil
}

func toUpgradeResult(r pipeline.Result) upgraderpc.UpgradeResult {
	out := upgraderpc.UpgradeResult{
		RunID:           r.RunID,
		BoxIP:           r.DeviceAddress,
		Project:         r.Project,
		Succeeded:       r.Succeeded,
		VersionHash:     r.VersionHash,
		ReportedVersion: r.ReportedVersion,
		FailureStage:    string(r.FailureStage),
	}
	if !r.Succeeded {
		out.Error = r.Message()
	}
	return out
}

func toNightlyResult(o nightly.Outcome) upgraderpc.NightlyResult {
	out := upgraderpc.NightlyResult{
		RunID:      o.Result.RunID,
		Branch:     o.Branch,
		Skipped:    o.Result.Skipped,
		DateTag:    o.Result.DateTag,
		FixVersion: o.Result.FixVersion,
		Issues:     o.Result.Issues,
	}
	if o.Err != nil {
		out.Error = o.Err.Error()
	}
	return out
}

// Register adds the service to rs under upgraderpc.ServiceName.
func (s *Server) Register(rs *rpc.Server) error {
	return rs.RegisterName(upgraderpc.ServiceName, s)
}

// Serve accepts JSON-RPC connections on l until it is closed.
func (s *Server) Serve(l net.Listener) error {
	rs := rpc.NewServer()
	if err := s.Register(rs); err != nil {
		return err
	}
	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("accept failed", zap.Error(err))
			continue
		}
		go rs.ServeCodec(jsonrpc.NewServerCodec(conn))
	}
}
