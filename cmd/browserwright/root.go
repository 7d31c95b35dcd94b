// Package cli implements the browserwright command line.
package cli

import (
	"github.com/spf13/cobra"
)

// Version is stamped at build time.
var Version = "dev"

var (
	flagConfig string
	flagHost   string
	flagPort   int
	flagToken  string
	flagQuiet  bool
)

// SetupRootCmd builds the root command.
func SetupRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "browserwright",
		Short:   "CDP relay between a browser extension and automation clients",
		Long:    "browserwright relays Chrome DevTools Protocol traffic between an in-browser\nextension and standard CDP clients, multiplexing many client sessions onto\nthe single tab the extension exposes.",
		Version: Version,
	}

	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "path to YAML config file")
	root.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress log output")

	root.AddCommand(serveCmd())
	return root
}
