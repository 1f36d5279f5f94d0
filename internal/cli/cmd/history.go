package cmd

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"bluelab/internal/cli/client"
	"bluelab/pkg/api"

	"github.com/spf13/cobra"
)

const defaultStatusURL = "http://localhost:8080"

// NewHistoryCommand creates the history command
func NewHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show pipeline run history from the status api",
		Args:  cobra.NoArgs,
		RunE:  runHistory,
	}

	cmd.Flags().String("server", defaultStatusURL, "status api base url")
	cmd.Flags().StringP("id", "i", "", "show one run with its stages")
	cmd.Flags().String("kind", "", "upgrade or nightly")
	cmd.Flags().String("box", "", "only runs for this box")
	cmd.Flags().Int("limit", 0, "maximum number of runs")

	return cmd
}

func runHistory(cmd *cobra.Command, args []string) error {
	server, _ := cmd.Flags().GetString("server")
	id, _ := cmd.Flags().GetString("id")
	kind, _ := cmd.Flags().GetString("kind")
	box, _ := cmd.Flags().GetString("box")
	limit, _ := cmd.Flags().GetInt("limit")
	cmd.SilenceUsage = true

	c := client.New(server)
	var result any
	if id != "" {
		var detail api.RunDetail
		if err := c.Get(cmd.Context(), "/history/"+url.PathEscape(id), &detail); err != nil {
			return err
		}
		result = detail
	} else {
		q := url.Values{}
		if kind != "" {
			q.Set("kind", kind)
		}
		if box != "" {
			q.Set("box", box)
		}
		if limit > 0 {
			q.Set("limit", strconv.Itoa(limit))
		}
		path := "/history"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}
		var runs []api.RunBrief
		if err := c.Get(cmd.Context(), path, &runs); err != nil {
			return err
		}
		result = runs
	}

	formatted, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("format output: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(formatted))
	return nil
}
