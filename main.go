package main

import (
	"fmt"
	"os"

	"github.com/epalmerini/burrow/internal/config"
	"github.com/epalmerini/burrow/internal/xdg"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var version = "dev"

var debug bool

func main() {
	rootCmd := &cobra.Command{
		Use:   "burrow [config]",
		Short: "Watch RabbitMQ exchanges from the terminal",
		Long: `burrow subscribes to the exchanges listed in its config file and shows
their messages as they arrive. Toggle exchanges on and off, pause to scroll
back through history, copy to file logs and publish test payloads.

The config is read from the given path, or ./burrow.toml, the XDG config
directory or ~/burrow.toml, in that order.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			configureLogging()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd.Context(), firstArg(args))
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	rootCmd.AddCommand(newVersionCommand())
	rootCmd.AddCommand(newImportCommand())
	rootCmd.AddCommand(newCleanupCommand())
	rootCmd.AddCommand(newHistoryCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the burrow version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("burrow %s\n", version)
		},
	}
}

func configureLogging() {
	logrus.SetOutput(os.Stderr)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05"})
	if debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
}

// loadConfig resolves and reads the config file. An explicit path must exist.
func loadConfig(explicit string) (*config.FileConfig, error) {
	configDir, err := xdg.Dir(xdg.Config)
	if err != nil {
		return nil, fmt.Errorf("resolving config directory: %w", err)
	}
	path, err := config.Find(explicit, configDir)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logrus.WithField("path", path).Debug("Config loaded")
	return cfg, nil
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
