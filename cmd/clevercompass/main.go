package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/PabloGalante/clevercompass/internal/config"
)

type rootOptions struct {
	configFile string
	logLevel   string
	v          *viper.Viper
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "clevercompass",
		Short:         "AI tutoring chat for math, physics and chemistry",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			config.LoadDotEnv()
			opts.v = config.NewViper()
			if cmd.Flags().Changed("log-level") {
				opts.v.Set("log_level", opts.logLevel)
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (yaml, toml or json)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn or error")

	cmd.AddCommand(newServeCmd(opts), newChatCmd(opts))
	return cmd
}

func (o *rootOptions) load() (*config.Config, error) {
	if o.v == nil {
		o.v = config.NewViper()
	}
	return config.Load(o.v, o.configFile)
}
