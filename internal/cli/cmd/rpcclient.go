package cmd

import (
	"os"

	"bluelab/internal/rpcclient"

	"github.com/spf13/cobra"
)

const rpcClientLong = `Triggers one pipeline on the rpc server and waits for its result.
Parameters come from the environment, as set by a Jenkins job:
  Mode            Single, All (default) or Nightly
  ServerIP        rpc server address (default localhost)
  ServerPort      rpc server port (default 9001)
  BoxIP, Project  box and project for Single
  Branch          branch for Single
  Release         true to install ReleaseVersion instead of building Branch
  ReleaseVersion  release to install
  KeyPath         box SSH key on the server
  Timeout         seconds to wait before giving up (default 14400)`

func NewRPCClientCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rpcclient",
		Short: "Trigger a pipeline on the rpc server",
		Long:  rpcClientLong,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := rpcclient.ParamsFromEnv(os.Getenv)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true
			return rpcclient.Run(cmd.Context(), p, cmd.OutOrStdout())
		},
	}
}
