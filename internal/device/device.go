// Package device drives the STB side of an upgrade over SSH: start the
// upgrade, reboot, and read the installed version back once the box is up.
package device

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bluelab/internal/clock"
	"bluelab/internal/common"

	"go.uber.org/zap"
)

const (
	rebootCommand  = "/sbin/reboot"
	versionCommand = "/usr/local/bin/setnv | grep SV_VERSION | cut -d'=' -f2"
)

func UpgradeCommand(upgradeURL string) string {
	return "upgrade --with-gui --upgrade-server " + upgradeURL
}

// Session is one control connection to a box.
type Session interface {
	// Start launches cmd without waiting for it to finish.
	Start(cmd string) error
	// Output runs cmd to completion and returns its stdout.
	Output(ctx context.Context, cmd string) (string, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, addr, keyPath string) (Session, error)
}

type Options struct {
	UpgradeWait    time.Duration // between starting the upgrade and the reboot
	ActivationWait time.Duration // between the reboot and the version readback
}

type Controller struct {
	dialer Dialer
	clock  clock.Clock
	opts   Options
	logger *zap.Logger
}

func NewController(dialer Dialer, clk clock.Clock, opts Options, logger *zap.Logger) *Controller {
	return &Controller{dialer: dialer, clock: clk, opts: opts, logger: logger}
}

// Upgrade installs the package served at upgradeURL on the box at addr and
// returns the version the box reports after rebooting. Comparing it to the
// expected version is up to the caller.
func (c *Controller) Upgrade(ctx context.Context, addr, keyPath, upgradeURL string) (string, error) {
	logger := c.logger.With(zap.String("box", addr))

	logger.Info("starting upgrade", zap.String("url", upgradeURL))
	if err := c.startAndReboot(ctx, addr, keyPath, upgradeURL); err != nil {
		return "", common.WrapErrNo(common.DeviceUpgradeErr, err)
	}

	logger.Info("waiting for activation", zap.Duration("wait", c.opts.ActivationWait))
	if err := c.clock.Sleep(ctx, c.opts.ActivationWait); err != nil {
		return "", common.WrapErrNo(common.DeviceUpgradeErr, err)
	}

	version, err := c.readVersion(ctx, addr, keyPath)
	if err != nil {
		return "", common.WrapErrNo(common.DeviceUpgradeErr, err)
	}
	logger.Info("box reports version", zap.String("version", version))
	return version, nil
}

func (c *Controller) startAndReboot(ctx context.Context, addr, keyPath, upgradeURL string) error {
	s, err := c.dialer.Dial(ctx, addr, keyPath)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer s.Close()

	if err := s.Start(UpgradeCommand(upgradeURL)); err != nil {
		return fmt.Errorf("start upgrade: %w", err)
	}
	if err := c.clock.Sleep(ctx, c.opts.UpgradeWait); err != nil {
		return err
	}
	if err := s.Start(rebootCommand); err != nil {
		return fmt.Errorf("reboot: %w", err)
	}
	return nil
}

func (c *Controller) readVersion(ctx context.Context, addr, keyPath string) (string, error) {
	s, err := c.dialer.Dial(ctx, addr, keyPath)
	if err != nil {
		return "", fmt.Errorf("reconnect: %w", err)
	}
	defer s.Close()

	out, err := s.Output(ctx, versionCommand)
	if err != nil {
		return "", fmt.Errorf("read version: %w", err)
	}
	line, _, _ := strings.Cut(out, "\n")
	line = strings.TrimRight(line, " \t\r")
	if line == "" {
		return "", fmt.Errorf("read version: box reported nothing")
	}
	return line, nil
}
