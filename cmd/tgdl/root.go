package main

import (
	"github.com/spf13/cobra"

	"tgdl/config"
)

var rootCmd = &cobra.Command{
	Use:   "tgdl",
	Short: "tgdl is a Telegram media-downloader control surface and worker pool.",
}

func init() {
	config.SetFlagsFromConfig(runCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(qrloginCmd)
}
