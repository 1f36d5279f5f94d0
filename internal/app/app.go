// Package app builds the pipelines from a loaded configuration and the real
// collaborators: local shell, SFTP staging, SSH boxes, SMTP and Jira.
package app

import (
	"context"
	"errors"
	"time"

	"bluelab/internal/clock"
	"bluelab/internal/common"
	"bluelab/internal/device"
	"bluelab/internal/nightly"
	"bluelab/internal/notify"
	"bluelab/internal/pipeline"
	"bluelab/internal/server/dao"
	"bluelab/internal/shell"
	"bluelab/internal/silo"
	"bluelab/internal/sshconn"
	"bluelab/internal/tracker"
	"bluelab/internal/transport"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const smtpTimeout = 30 * time.Second

type App struct {
	cfg     *common.Config
	logger  *zap.Logger
	clock   clock.Clock
	db      *gorm.DB
	history *dao.History
}

// New opens the history database when HISTORY is configured.
func New(cfg *common.Config, logger *zap.Logger) (*App, error) {
	db, err := dao.Open(cfg.History)
	if err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, logger: logger, clock: clock.Real(), db: db}
	if db != nil {
		a.history = dao.NewHistory(db)
	}
	return a, nil
}

func (a *App) Close() error {
	if a.db == nil {
		return nil
	}
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (a *App) Config() *common.Config { return a.cfg }

// History is nil when run history is disabled.
func (a *App) History() *dao.History { return a.history }

// Orchestrator validates UPGRADE and wires the upgrade pipeline.
func (a *App) Orchestrator() (*pipeline.Orchestrator, error) {
	u := a.cfg.Upgrade
	if err := u.Validate(); err != nil {
		return nil, err
	}
	sender, err := notify.NewSMTPSender(u.SMTPServer, smtpTimeout)
	if err != nil {
		return nil, err
	}

	s := silo.New(shell.NewExecRunner(a.logger))
	stager := transport.NewStager(transport.SFTPDialer{
		Addr: u.Server,
		Options: sshconn.Options{
			User:           u.Username,
			KeyPath:        u.LabKeyPath,
			KnownHostsPath: u.KnownHostsPath,
			Timeout:        u.DeviceCommandTimeout(),
		},
	}, a.logger)
	box := device.NewController(device.SSHDialer{
		User:           u.DeviceUser,
		KnownHostsPath: u.KnownHostsPath,
		Timeout:        u.DeviceCommandTimeout(),
	}, a.clock, device.Options{
		UpgradeWait:    u.UpgradeWait(),
		ActivationWait: u.ActivationWait(),
	}, a.logger)

	deps := pipeline.Deps{
		Source:   s,
		Builder:  s,
		Releases: stager,
		Stager:   stager,
		Device:   box,
		Notifier: notify.NewNotifier(sender, u.FromMailAddress, notify.SplitAddresses(u.ToMailAddress), a.logger),
		Clock:    a.clock,
		Logger:   a.logger,
	}
	if a.history != nil {
		deps.Recorder = a.history
	}
	return pipeline.New(u, deps), nil
}

// NightlyJobs validates JIRA and every NIGHTLY_BUILD entry.
func (a *App) NightlyJobs() ([]*nightly.Job, error) {
	if len(a.cfg.NightlyBuild) == 0 {
		return nil, common.Errorf(common.ConfigErr, "NIGHTLY_BUILD: no jobs configured")
	}
	gate, err := tracker.FromConfig(a.cfg.Jira, a.logger)
	if err != nil {
		return nil, err
	}
	s := silo.New(shell.NewExecRunner(a.logger))

	jobs := make([]*nightly.Job, 0, len(a.cfg.NightlyBuild))
	for _, nb := range a.cfg.NightlyBuild {
		if err := nb.Validate(); err != nil {
			return nil, err
		}
		deps := nightly.Deps{
			Source:  s,
			Builder: s,
			Gate:    gate,
			Clock:   a.clock,
			Logger:  a.logger,
		}
		if a.history != nil {
			deps.Recorder = a.history
		}
		jobs = append(jobs, nightly.NewJob(nb, deps))
	}
	return jobs, nil
}

func (a *App) Upgrade(ctx context.Context, req pipeline.Request) (pipeline.Result, error) {
	o, err := a.Orchestrator()
	if err != nil {
		return pipeline.Result{Project: req.Project, DeviceAddress: req.DeviceAddress, Err: err}, err
	}
	return o.Run(ctx, req)
}

func (a *App) UpgradeFleet(ctx context.Context) ([]pipeline.Result, error) {
	o, err := a.Orchestrator()
	if err != nil {
		return nil, err
	}
	if len(a.cfg.Upgrade.BoxesList) == 0 {
		return nil, common.Errorf(common.ConfigErr, "UPGRADE: BOXES_LIST is empty")
	}
	return o.RunFleet(ctx), nil
}

func (a *App) BuildNightly(ctx context.Context) ([]nightly.Outcome, error) {
	jobs, err := a.NightlyJobs()
	if err != nil {
		return nil, err
	}
	return nightly.RunAll(ctx, jobs), nil
}

// FirstError returns the first failure of a batch, nil when all succeeded.
func FirstError(outcomes []nightly.Outcome) error {
	for _, o := range outcomes {
		if o.Err != nil {
			return o.Err
		}
	}
	return nil
}

// FleetError joins the failures of a fleet run.
func FleetError(results []pipeline.Result) error {
	var errs []error
	for _, r := range results {
		if !r.Succeeded {
			errs = append(errs, errors.New(r.Message()))
		}
	}
	return errors.Join(errs...)
}
