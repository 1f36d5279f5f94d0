package pipeline

import (
	"archive/tar"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"bluelab/internal/clock"
	"bluelab/internal/common"
	"bluelab/internal/notify"
	"bluelab/internal/server/model"
	"bluelab/internal/silo"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writePackage(path, hash string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	md5 := "\n"
	if hash != "" {
		md5 = hash + "  rootfs.img\n"
	}
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for _, m := range []struct{ name, body string }{
		{"upgrade/rootfs.img", "image"},
		{"upgrade/rootfs.md5", md5},
	} {
		if err := tw.WriteHeader(&tar.Header{Name: m.name, Mode: 0o644, Size: int64(len(m.body)), Typeflag: tar.TypeReg}); err != nil {
			return err
		}
		if _, err := tw.Write([]byte(m.body)); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

// fakeSilo stands in for nosilo and pysilo. Build drops an upgrade package
// carrying hash into sbuild-<project>.
type fakeSilo struct {
	mu       sync.Mutex
	calls    []string
	hash     string
	noOutput bool
	pullErr  error
	buildErr error
	tagErr   error
	tags     []string
	builtIn  []string
}

func (s *fakeSilo) Pull(ctx context.Context, dir, branch string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "pull "+branch)
	return s.pullErr
}

func (s *fakeSilo) Tag(ctx context.Context, dir, branch, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "tag "+branch+" "+name)
	s.tags = append(s.tags, name)
	return s.tagErr
}

func (s *fakeSilo) Build(ctx context.Context, dir, project string, opts silo.BuildOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "build "+project)
	s.builtIn = append(s.builtIn, dir)
	if s.buildErr != nil {
		return s.buildErr
	}
	if s.noOutput {
		return os.MkdirAll(silo.OutputDir(dir, project), 0o755)
	}
	return writePackage(filepath.Join(silo.OutputDir(dir, project), project+"-upgrade-CURRENT.tgz"), s.hash)
}

// fakeReleases serves releases from a local directory.
type fakeReleases struct {
	hash      string
	downloads []string
	err       error
}

func (f *fakeReleases) Download(ctx context.Context, remotePath, localDir string) (string, error) {
	f.downloads = append(f.downloads, remotePath)
	if f.err != nil {
		return "", common.WrapErrNo(common.PrepareErr, f.err)
	}
	local := filepath.Join(localDir, filepath.Base(remotePath))
	return local, writePackage(filepath.Join(local, "stb-upgrade.tgz"), f.hash)
}

// fakeStager remembers which remote directories exist.
type fakeStager struct {
	remote  map[string]bool
	uploads []string
	err     error
}

func (f *fakeStager) Upload(ctx context.Context, localDir, remoteDir, chmodRoot string) (bool, error) {
	if f.err != nil {
		return false, common.WrapErrNo(common.TransferErr, f.err)
	}
	if f.remote == nil {
		f.remote = map[string]bool{}
	}
	if f.remote[remoteDir] {
		return false, nil
	}
	f.remote[remoteDir] = true
	f.uploads = append(f.uploads, remoteDir)
	return true, nil
}

// fakeDevice reports a fixed version per box after an upgrade.
type fakeDevice struct {
	reported map[string]string
	errs     map[string]error
	upgrades []string
	urls     []string
	keys     []string
}

func (f *fakeDevice) Upgrade(ctx context.Context, addr, keyPath, upgradeURL string) (string, error) {
	f.upgrades = append(f.upgrades, addr)
	f.urls = append(f.urls, upgradeURL)
	f.keys = append(f.keys, keyPath)
	if err := f.errs[addr]; err != nil {
		return "", common.WrapErrNo(common.DeviceUpgradeErr, err)
	}
	return f.reported[addr], nil
}

type fakeNotifier struct {
	reports []notify.Report
	err     error
}

func (f *fakeNotifier) Notify(ctx context.Context, r notify.Report) error {
	f.reports = append(f.reports, r)
	return f.err
}

type memRecorder struct {
	runs   map[string]model.PipelineRun
	stages []model.StageExecution
}

func (m *memRecorder) UpsertRun(ctx context.Context, run *model.PipelineRun) error {
	if m.runs == nil {
		m.runs = map[string]model.PipelineRun{}
	}
	m.runs[run.RunUUID] = *run
	return nil
}

func (m *memRecorder) UpsertStage(ctx context.Context, stage *model.StageExecution) error {
	m.stages = append(m.stages, *stage)
	return nil
}

func (m *memRecorder) stageStatus(runID string) map[string]string {
	out := map[string]string{}
	for _, s := range m.stages {
		if s.RunUUID == runID {
			out[s.StageName] = s.Status
		}
	}
	return out
}

type fixture struct {
	cfg      common.UpgradeConfig
	silo     *fakeSilo
	releases *fakeReleases
	stager   *fakeStager
	device   *fakeDevice
	notifier *fakeNotifier
	recorder *memRecorder
}

func newFixture(t testing.TB, root string) *fixture {
	return &fixture{
		cfg: common.UpgradeConfig{
			RemoteLocation:  "/srv/stb",
			WorkDir:         filepath.Join(root, "work"),
			Server:          "lab-server",
			Username:        "lab",
			LabKeyPath:      "/keys/lab",
			UpgradeBaseDir:  filepath.Join(root, "upgrade"),
			UpgradeBaseURL:  "http://lab/upgrade/",
			ReleaseLocation: "/srv/releases",
			FromMailAddress: "lab@example.com",
			ToMailAddress:   "team@example.com",
		},
		silo:     &fakeSilo{hash: "abc123"},
		releases: &fakeReleases{hash: "rc777"},
		stager:   &fakeStager{},
		device:   &fakeDevice{reported: map[string]string{}, errs: map[string]error{}},
		notifier: &fakeNotifier{},
		recorder: &memRecorder{},
	}
}

func (f *fixture) orchestrator() *Orchestrator {
	return New(f.cfg, Deps{
		Source:   f.silo,
		Builder:  f.silo,
		Releases: f.releases,
		Stager:   f.stager,
		Device:   f.device,
		Notifier: f.notifier,
		Recorder: f.recorder,
		Clock:    clock.NewFake(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)),
		Logger:   zap.NewNop(),
	})
}

func mkdir(t *testing.T, p string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(p, 0o755))
	return p
}
