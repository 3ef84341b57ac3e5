// Package config holds the configuration commands.
package config

import (
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/gridlens/gridlens/internal/conf"
)

// Command returns the config command group.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	cmd.AddCommand(showCommand(settings))
	return cmd
}

func showCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if f := viper.ConfigFileUsed(); f != "" {
				cmd.PrintErrf("# loaded from %s\n", f)
			}
			return Show(cmd.OutOrStdout(), settings)
		},
	}
}

// Show writes settings as YAML with credentials masked.
func Show(w io.Writer, settings *conf.Settings) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(settings.Redacted()); err != nil {
		return err
	}
	return enc.Close()
}
