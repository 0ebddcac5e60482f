package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	rwerrors "github.com/yairfalse/rankwatch/internal/errors"
	"github.com/yairfalse/rankwatch/internal/logger"
	"github.com/yairfalse/rankwatch/pkg/config"
)

// cli carries the state shared by every command of one invocation
type cli struct {
	cfgFile string
	noColor bool
	verbose bool

	cfg *config.Config
	log logger.Logger

	out    io.Writer
	errOut io.Writer
}

// Execute runs the command line and returns the process exit code
func Execute() int {
	return run(os.Args[1:], os.Stdout, os.Stderr)
}

func run(args []string, stdout, stderr io.Writer) int {
	c := &cli{out: stdout, errOut: stderr}
	root := newRootCommand(c)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(context.Background())
	if err == nil {
		return rwerrors.ExitOK
	}

	if errors.Is(err, rwerrors.ErrSourcesFailed) {
		// failures are already listed in the run report
		fmt.Fprintln(stderr, "rankwatch: one or more sources failed")
	} else {
		rwerrors.DisplayError(stderr, err, c.noColor)
	}
	return rwerrors.ExitCode(err)
}

func newRootCommand(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:   "rankwatch",
		Short: "Incremental sync and change detection for ranking tables",
		Long: `rankwatch keeps a local history of published ranking tables.

Each run checks the sources that are due, stores a new snapshot only when a
table really changed, and reports what moved: new entrants, drops, rank
changes and points updates.

  rankwatch sync                 # check every source that is due
  rankwatch sync --source rankings --force
  rankwatch status               # last check of every source
  rankwatch diff rankings        # compare the two latest snapshots
  rankwatch watch                # run on the configured cron schedule`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion, _ := cmd.Flags().GetBool("version"); showVersion {
				return runVersion(c, false)
			}
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" || cmd.Name() == "help" {
				return nil
			}
			return c.init(cmd)
		},
	}

	root.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (default is $HOME/.rankwatch/config.yaml)")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "verbose output (debug logging)")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&c.noColor, "no-color", false, "disable colored output")
	root.Flags().Bool("version", false, "show version information")

	viper.BindPFlag("logging.level", root.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("output.no_color", root.PersistentFlags().Lookup("no-color"))

	root.AddCommand(newSyncCommand(c))
	root.AddCommand(newWatchCommand(c))
	root.AddCommand(newStatusCommand(c))
	root.AddCommand(newResetCommand(c))
	root.AddCommand(newHistoryCommand(c))
	root.AddCommand(newDiffCommand(c))
	root.AddCommand(newSourcesCommand(c))
	root.AddCommand(newDoctorCommand(c))
	root.AddCommand(newVersionCommand(c))

	return root
}

// init loads configuration and builds the logger
func (c *cli) init(cmd *cobra.Command) error {
	cfg, err := config.Load(c.cfgFile)
	if err != nil {
		return rwerrors.Configuration("failed to load configuration").Wrap(err)
	}

	if c.verbose {
		cfg.Logging.Level = "debug"
	}
	if c.noColor || rwerrors.ColorDisabled() {
		cfg.Output.NoColor = true
	}
	c.noColor = cfg.Output.NoColor
	if c.noColor {
		color.NoColor = true
	}

	if err := cfg.Validate(); err != nil {
		return rwerrors.Configuration("invalid configuration").Wrap(err)
	}

	log, err := logger.New(logger.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
	if err != nil {
		return rwerrors.Configuration("invalid logging configuration").Wrap(err)
	}

	c.cfg = cfg
	c.log = log
	return nil
}
