package main

import (
	"github.com/fulmenhq/gofulmen/foundry"

	"github.com/studyforge/studyforge/internal/cmd"
	"github.com/studyforge/studyforge/internal/server/handlers"
)

// Version information set via ldflags during build
// Example: go build -ldflags="-X main.version=1.0.0 -X main.commit=abc123 -X main.buildDate=2025-10-28"
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)
	handlers.SetBuildInfo(handlers.BuildInfo{Version: version, Commit: commit, BuildDate: buildDate})

	if err := cmd.Execute(); err != nil {
		cmd.ExitWithCodeStderr(foundry.ExitFailure, "Command execution failed", err)
	}
}
