package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bluelab/internal/rpcserver"
	"bluelab/internal/scheduler"
	"bluelab/internal/server/handler"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func NewRPCServerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rpcserver",
		Short: "Serve upgrade and nightly build requests over JSON-RPC",
		Args:  cobra.NoArgs,
		RunE:  runRPCServer,
	}
}

func runRPCServer(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	a, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer a.Close()
	cfg := a.Config().RPC

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := rpcserver.NewServer(ctx, a, logger)
	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return err
	}
	defer listener.Close()

	sched := scheduler.NewScheduler(logger)
	if err := sched.Schedule(cfg.NightlySchedule, srv.RunNightly); err != nil {
		return err
	}
	sched.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		sched.Stop(stopCtx)
	}()

	var status *http.Server
	if cfg.HTTPAddress != "" {
		var history handler.HistoryReader
		if h := a.History(); h != nil {
			history = h
		}
		gin.SetMode(gin.ReleaseMode)
		status = &http.Server{
			Addr:    cfg.HTTPAddress,
			Handler: handler.NewRouter(handler.NewHandler(history), logger),
		}
		go func() {
			logger.Info("status api listening", zap.String("addr", cfg.HTTPAddress))
			if err := status.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status api stopped", zap.Error(err))
			}
		}()
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(listener) }()
	logger.Info("rpc server listening", zap.String("addr", listener.Addr().String()))

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-errc:
	}
	listener.Close()
	if status != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if serr := status.Shutdown(shutdownCtx); serr != nil {
			logger.Warn("status api shutdown", zap.Error(serr))
		}
	}
	return err
}
