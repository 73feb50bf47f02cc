package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/peerquery/internal/version"
)

type globalFlags struct {
	addr     string
	token    string
	insecure bool
	timeout  time.Duration
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:          "peerqueryctl",
		Short:        "Submit scatter-gather queries to a peerquery node",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.addr, "addr", envOr("PEERQUERY_ADDR", "http://localhost:8080"),
		"node base URL")
	root.PersistentFlags().StringVar(&flags.token, "token", os.Getenv("PEERQUERY_TOKEN"),
		"bearer token for the node API")
	root.PersistentFlags().BoolVar(&flags.insecure, "insecure", false,
		"skip TLS certificate verification")

	root.AddCommand(newQueryCmd(flags), newHealthCmd(flags), newVersionCmd())
	return root
}

func newQueryCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query [text...]",
		Short: "Broadcast a query and print the merged results, one line per entry",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(flags)
			resp, err := c.Query(cmd.Context(), strings.Join(args, " "), flags.timeout)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, line := range resp.Results {
				_, _ = fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 0,
		"collection window; 0 uses the node's default")
	return cmd
}

func newHealthCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Print the node health report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := newClient(flags).Health(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "status: %s\n", report.Status)
			for _, name := range sortedKeys(report.Checks) {
				_, _ = fmt.Fprintf(out, "  %s: %s\n", name, report.Checks[name])
			}
			if report.Status != "ok" {
				return fmt.Errorf("node is %s", report.Status)
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the client version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "peerqueryctl", version.String())
		},
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
