package rpcclient

import (
	"bytes"
	"context"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"testing"
	"time"

	"bluelab/pkg/upgraderpc"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubService struct {
	succeed bool
	block   chan struct{}
	last    any
}

func (s *stubService) result(box string) upgraderpc.UpgradeResult {
	r := upgraderpc.UpgradeResult{BoxIP: box, Succeeded: s.succeed, VersionHash: "abc123"}
	if !s.succeed {
		r.Error = box + " reports version \"def456\", expected \"abc123\""
	}
	return r
}

func (s *stubService) UpgradeBox(req *upgraderpc.UpgradeBoxRequest, resp *upgraderpc.UpgradeResponse) error {
	if s.block != nil {
		<-s.block
	}
	s.last = *req
	resp.Results = append(resp.Results, s.result(req.BoxIP))
	return nil
}

func (s *stubService) UpgradeAllBoxes(req *upgraderpc.UpgradeAllBoxesRequest, resp *upgraderpc.UpgradeResponse) error {
	s.last = *req
	resp.Results = append(resp.Results, s.result("10.0.0.5"), s.result("10.0.0.6"))
	return nil
}

func (s *stubService) UpgradeBoxWithReleaseCandidate(req *upgraderpc.ReleaseCandidateRequest, resp *upgraderpc.UpgradeResponse) error {
	s.last = *req
	resp.Results = append(resp.Results, s.result(req.BoxIP))
	return nil
}

func (s *stubService) BuildNightlySoftware(req *upgraderpc.BuildNightlyRequest, resp *upgraderpc.BuildNightlyResponse) error {
	s.last = *req
	resp.Results = append(resp.Results, upgraderpc.NightlyResult{Branch: "3800", Skipped: true})
	return nil
}

func serve(t *testing.T, svc *stubService) Params {
	t.Helper()
	rs := rpc.NewServer()
	require.NoError(t, rs.RegisterName(upgraderpc.ServiceName, svc))
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go rs.ServeCodec(jsonrpc.NewServerCodec(conn))
		}
	}()
	host, port, err := net.SplitHostPort(l.Addr().String())
	require.NoError(t, err)
	return Params{ServerIP: host, ServerPort: port, Timeout: 5 * time.Second}
}

func TestRunSingle(t *testing.T) {
	svc := &stubService{succeed: true}
	p := serve(t, svc)
	p.Mode, p.BoxIP, p.Project, p.Branch = ModeSingle, "10.0.0.5", "stb", "3800"
	var out bytes.Buffer

	require.NoError(t, Run(context.Background(), p, &out))

	assert.Equal(t, upgraderpc.UpgradeBoxRequest{BoxIP: "10.0.0.5", Project: "stb", Branch: "3800"}, svc.last)
	assert.Contains(t, out.String(), "Upgrade box: 10.0.0.5 from branch 3800 with project stb ...")
	assert.Contains(t, out.String(), `"succeeded": true`)
}

func TestRunRelease(t *testing.T) {
	svc := &stubService{succeed: true}
	p := serve(t, svc)
	p.Mode, p.BoxIP, p.Project, p.Release, p.ReleaseVersion = ModeSingle, "10.0.0.5", "stb", true, "1.2.3"

	require.NoError(t, Run(context.Background(), p, &bytes.Buffer{}))

	assert.Equal(t, upgraderpc.ReleaseCandidateRequest{BoxIP: "10.0.0.5", Project: "stb", Version: "1.2.3"}, svc.last)
}

func TestRunAllReportsFailure(t *testing.T) {
	svc := &stubService{}
	p := serve(t, svc)
	p.Mode = ModeAll
	var out bytes.Buffer

	err := Run(context.Background(), p, &out)

	require.Error(t, err)
	assert.Contains(t, out.String(), "Upgrading all boxes in Generic Lab ...")
	assert.Contains(t, out.String(), "10.0.0.6")
}

func TestRunNightly(t *testing.T) {
	svc := &stubService{}
	p := serve(t, svc)
	p.Mode = ModeNightly
	var out bytes.Buffer

	require.NoError(t, Run(context.Background(), p, &out))
	assert.Contains(t, out.String(), `"skipped": true`)
}

func TestRunAbandonsAfterTimeout(t *testing.T) {
	svc := &stubService{block: make(chan struct{})}
	defer close(svc.block)
	p := serve(t, svc)
	p.Mode, p.BoxIP, p.Project, p.Branch = ModeSingle, "10.0.0.5", "stb", "3800"
	p.Timeout = 50 * time.Millisecond

	err := Run(context.Background(), p, &bytes.Buffer{})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunServerDown(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	host, port, _ := net.SplitHostPort(l.Addr().String())
	l.Close()

	err = Run(context.Background(), Params{Mode: ModeAll, ServerIP: host, ServerPort: port, Timeout: time.Second}, &bytes.Buffer{})
	assert.Error(t, err)
}
