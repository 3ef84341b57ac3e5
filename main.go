package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/gridlens/gridlens/cmd"
	"github.com/gridlens/gridlens/internal/conf"
)

// Set at build time with -ldflags "-X main.version=... -X main.buildDate=...".
var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// --config has to be known before the settings are loaded, which in
	// turn happens before the command tree is built
	pre := pflag.NewFlagSet("gridlens", pflag.ContinueOnError)
	pre.ParseErrorsWhitelist.UnknownFlags = true
	pre.Usage = func() {}
	configPath := pre.String("config", os.Getenv(conf.EnvPrefix+"_CONFIG"), "")
	_ = pre.Parse(args)
	if *configPath != "" {
		viper.Set("config", *configPath)
	}

	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		return 1
	}
	settings.Version = version
	settings.BuildDate = buildDate

	rootCmd := cmd.RootCommand(settings)
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return 0
}
