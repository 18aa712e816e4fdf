package cmd

import (
	"github.com/spf13/cobra"
)

// AttachCLIFlags attaches command line flags to command
func AttachCLIFlags(rootCmd *cobra.Command) {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringP("env", "e", "", "environment, one of dev, stage or prod")
	rootCmd.PersistentFlags().StringP("port", "p", "", "port the http server listens on")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().StringP("log-file", "l", "", "directory of the log file")
}
