package cmd

import (
	"fmt"
	"io"

	"bluelab/internal/app"
	"bluelab/internal/common"
	"bluelab/internal/shell"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const defaultConfigPath = "conf.json"

// AddConfigFlag gives cmd and its children the --config flag.
func AddConfigFlag(cmd *cobra.Command) {
	cmd.PersistentFlags().StringP("config", "c", defaultConfigPath, "path to conf.json (or a .yaml file)")
}

// RegisterCommands adds every entry point to rootCmd, for a combined binary.
func RegisterCommands(rootCmd *cobra.Command) {
	AddConfigFlag(rootCmd)
	rootCmd.AddCommand(NewUpgradeCommand())
	rootCmd.AddCommand(NewNightlyCommand())
	rootCmd.AddCommand(NewRPCServerCommand())
	rootCmd.AddCommand(NewRPCClientCommand())
	rootCmd.AddCommand(NewHistoryCommand())
}

// Execute runs rootCmd and returns the process exit code. The captured
// output of a failed external command is printed below the error.
func Execute(rootCmd *cobra.Command, stderr io.Writer) int {
	rootCmd.SilenceErrors = true
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if out, ok := shell.Output(err); ok && out != "" {
			fmt.Fprintln(stderr, out)
		}
		return 1
	}
	return 0
}

// setup loads the configuration named by --config and builds the app.
func setup(cmd *cobra.Command) (*app.App, *zap.Logger, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, nil, err
	}
	cfg, err := common.LoadConfig(path)
	if err != nil {
		return nil, nil, err
	}
	logger, err := common.NewLogger(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Sync()
		return nil, nil, err
	}
	return a, logger, nil
}
