package main

import (
	"os"

	"go.uber.org/zap"

	"tgdl/internal/logging"
)

// versionString is overridden at build time via -ldflags "-X main.versionString=...".
var versionString = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		logging.L().Error("command failed", zap.Error(err))
		os.Exit(1)
	}
}
