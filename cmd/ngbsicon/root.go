package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/infrastructure/config"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/ngbs"
)

// rootOptions holds the persistent flags.
type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "ngbsicon",
		Short: "NGBS Icon thermostat bridge",
		Long: `ngbsicon runs NGBS Icon thermostats as MQTT devices. Controllers are
reached over the vendor service protocol or Modbus-TCP; paired thermostats
publish their state and accept commands on the broker.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "",
		fmt.Sprintf("config file path (env: %s, default: %s)", config.EnvConfigPath, config.DefaultPath))
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level: debug, info, warn, error")

	cmd.AddCommand(
		newRunCmd(opts),
		newScanCmd(opts),
		newPairCmd(opts),
		newMigrateCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// loadConfig reads the config file. One-shot commands pass required=false
// and fall back to built-in defaults when no file exists.
func (o *rootOptions) loadConfig(required bool) (*config.Config, error) {
	path := config.ResolvePath(o.configPath)

	var cfg *config.Config
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) && !required && o.configPath == "" {
		cfg = config.Default()
	} else {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}

	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	return cfg, nil
}

// controllerOptions converts the controllers section into transport options.
func controllerOptions(cfg config.ControllersConfig) ngbs.Options {
	opts := ngbs.DefaultOptions()
	if cfg.Modbus.Port > 0 {
		opts.ModbusPort = cfg.Modbus.Port
	}
	if cfg.Modbus.UnitID > 0 && cfg.Modbus.UnitID <= 255 {
		opts.UnitID = byte(cfg.Modbus.UnitID)
	}
	if cfg.Service.Port > 0 {
		opts.ServicePort = cfg.Service.Port
	}
	if cfg.Timeout > 0 {
		opts.Timeout = cfg.Timeout
	}
	return opts
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ngbsicon %s\ncommit: %s\nbuilt:  %s\n", version, commit, date)
		},
	}
}
