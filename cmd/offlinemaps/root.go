package main

import (
	"github.com/signalsfoundry/offline-maps/internal/config"
	"github.com/signalsfoundry/offline-maps/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type rootOptions struct {
	configFile string
	v          *viper.Viper
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{v: config.New()}

	cmd := &cobra.Command{
		Use:           "offlinemaps",
		Short:         "Offline map region downloads over gRPC",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "YAML config file")
	cmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	cmd.PersistentFlags().String("log-format", "text", "log format: text or json")

	cmd.AddCommand(
		newServeCmd(opts),
		newDownloadCmd(opts),
		newRegionsCmd(opts),
		newCancelCmd(opts),
		newDeleteCmd(opts),
		newDeleteAllCmd(opts),
		newWatchCmd(opts),
	)
	return cmd
}

// load binds cmd's flags and resolves the configuration.
func (o *rootOptions) load(cmd *cobra.Command) (config.Config, logging.Logger, error) {
	if err := config.BindFlags(o.v, cmd.Flags()); err != nil {
		return config.Config{}, nil, err
	}
	cfg, err := config.Load(o.v, o.configFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	cfg.Log.Output = cmd.ErrOrStderr()
	return cfg, logging.New(cfg.Log), nil
}
