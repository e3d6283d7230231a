// Command storefront browses the pharmacy storefront API from the terminal
// and serves list feeds over HTTP.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const (
	appName    = "storefront"
	appVersion = "0.1.0"
)

func newRootCommand() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:           appName,
		Short:         "Pharmacy storefront API client",
		Long:          `storefront pages through the storefront catalog, branches and orders, and serves list feeds with metrics.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default ./storefront.yaml)")

	root.AddCommand(
		newBrowseCommand(&configFile),
		newLoginCommand(&configFile),
		newLogoutCommand(&configFile),
		newServeCommand(&configFile),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, appVersion)
			},
		},
	)
	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
