// Package cmd builds the gridlens command tree.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gridlens/gridlens/cmd/config"
	"github.com/gridlens/gridlens/cmd/dataset"
	"github.com/gridlens/gridlens/cmd/feedback"
	"github.com/gridlens/gridlens/cmd/serve"
	"github.com/gridlens/gridlens/internal/conf"
	"github.com/gridlens/gridlens/internal/logger"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "gridlens",
		Short:         "Transformer thermal inspection backend",
		Version:       settings.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	if err := setupFlags(rootCmd, settings); err != nil {
		rootCmd.PrintErrln(err)
	}

	configCmd := config.Command(settings)
	rootCmd.AddCommand(
		serve.Command(settings),
		feedback.Command(settings),
		dataset.Command(settings),
		configCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// config show prints to stdout and must not be mixed with log lines
		if cmd.HasParent() && cmd.Parent() == configCmd {
			return nil
		}
		return initLogging(settings)
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	// parsed early by main; declared here so cobra accepts it
	rootCmd.PersistentFlags().String("config", viper.GetString("config"), "Path to config.yaml")
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}

// initLogging replaces the fallback console logger with one built from
// the logging settings.
func initLogging(settings *conf.Settings) error {
	cfg := settings.Logging
	if settings.Debug {
		cfg.DefaultLevel = "debug"
		if cfg.Console != nil {
			console := *cfg.Console
			console.Level = "debug"
			cfg.Console = &console
		}
	}
	if cfg.FileOutput != nil && cfg.FileOutput.Enabled && cfg.FileOutput.Path != "" {
		file := *cfg.FileOutput
		file.Path = settings.ResolvePath(file.Path)
		cfg.FileOutput = &file
	}

	cl, err := logger.NewCentralLogger(&cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(cl)
	return nil
}
