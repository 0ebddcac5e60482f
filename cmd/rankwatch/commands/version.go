package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	BuiltBy   = "unknown"
)

// SetVersionInfo updates the version variables with build-time information
func SetVersionInfo(version, commit, buildTime, builtBy string) {
	if version != "" {
		Version = version
	}
	if commit != "" {
		Commit = commit
	}
	if buildTime != "" {
		BuildTime = buildTime
	}
	if builtBy != "" {
		BuiltBy = builtBy
	}
}

func newVersionCommand(c *cli) *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVersion(c, short)
		},
	}

	cmd.Flags().BoolVar(&short, "short", false, "show only version number")
	return cmd
}

func runVersion(c *cli, short bool) error {
	if short {
		_, err := fmt.Fprintln(c.out, Version)
		return err
	}

	_, err := fmt.Fprintf(c.out, "rankwatch %s\n  commit: %s\n  built: %s\n  built by: %s\n",
		Version, Commit, BuildTime, BuiltBy)
	return err
}
