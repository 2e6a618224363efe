package main

import (
	"fmt"
	"os"

	"github.com/petems/meeting-tray/internal/config"
	"github.com/petems/meeting-tray/internal/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   levelFlag
}

// levelFlag is a pflag.Value accepting zerolog level names.
type levelFlag string

func (l *levelFlag) String() string { return string(*l) }
func (l *levelFlag) Type() string   { return "level" }

func (l *levelFlag) Set(v string) error {
	if _, err := zerolog.ParseLevel(v); err != nil || v == "" {
		return fmt.Errorf("unknown log level %q", v)
	}
	*l = levelFlag(v)
	return nil
}

func (g *globalFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&g.configPath, "config", "", "config file (default is the per-user config directory)")
	fs.Var(&g.logLevel, "log-level", "override log level (trace, debug, info, warn, error)")
}

// load reads the config and builds the logger it asks for.
func (g *globalFlags) load() (*config.Config, zerolog.Logger, error) {
	var (
		cfg *config.Config
		err error
	)
	if g.configPath != "" {
		cfg, err = config.LoadFrom(g.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, logging.New(), err
	}
	if g.logLevel != "" {
		cfg.LogLevel = string(g.logLevel)
	}
	return cfg, logging.NewWithLevel(cfg.LogLevel), nil
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "meeting-tray",
		Short:         "Record system audio and microphone into one file",
		Long:          `MeetingTray captures what you hear and what you say, mixes both into a mono WAV, and optionally uploads it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags.register(root.PersistentFlags())

	root.AddCommand(
		newRunCmd(flags),
		newDevicesCmd(flags),
		newRecordCmd(flags),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "MeetingTray %s (%s)\n", Version, Commit)
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
