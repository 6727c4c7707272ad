package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/austindbirch/activitylogger/internal/config"
	"github.com/austindbirch/activitylogger/internal/delivery"
)

var (
	// These will be set by ldflags during build
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// versionInfo describes the build and the wire contracts it speaks.
type versionInfo struct {
	Version       string   `json:"version"`
	GitCommit     string   `json:"gitCommit"`
	BuildTime     string   `json:"buildTime"`
	GoVersion     string   `json:"goVersion"`
	Platform      string   `json:"platform"`
	FailureSchema string   `json:"failureSchema"`
	Connections   []string `json:"queueConnections"`
	AuthTypes     []string `json:"authTypes"`
}

func currentVersion() versionInfo {
	return versionInfo{
		Version:       Version,
		GitCommit:     GitCommit,
		BuildTime:     BuildTime,
		GoVersion:     runtime.Version(),
		Platform:      runtime.GOOS + "/" + runtime.GOARCH,
		FailureSchema: delivery.FailureType + "@" + delivery.FailureVersion,
		Connections: []string{
			config.ConnectionSync, config.ConnectionMemory,
			config.ConnectionNSQ, config.ConnectionRedis,
		},
		AuthTypes: []string{config.AuthToken, config.AuthBasic, config.AuthNone},
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build and the delivery contracts it supports",
	Long: `Print the activityctl build together with the failure envelope schema
it writes to the failure channel, the queue connections it can dispatch to
and the collector auth types it understands.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		info := currentVersion()
		out := cmd.OutOrStdout()
		if outputJSON {
			return printJSON(out, info)
		}
		fmt.Fprintf(out, "activityctl %s (%s, built %s)\n", info.Version, info.GitCommit, info.BuildTime)
		fmt.Fprintf(out, "  go:                %s %s\n", info.GoVersion, info.Platform)
		fmt.Fprintf(out, "  failure envelope:  %s\n", info.FailureSchema)
		fmt.Fprintf(out, "  queue connections: %s\n", strings.Join(info.Connections, ", "))
		fmt.Fprintf(out, "  collector auth:    %s\n", strings.Join(info.AuthTypes, ", "))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
