package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/discovery"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/infrastructure/logging"
)

func newScanCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Look for an NGBS Icon controller on the local network",
		Long: `scan probes every host of the local /24 network for a controller that
reports a system id over Modbus-TCP and prints the first one found.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig(false)
			if err != nil {
				return err
			}
			log := logging.New(cfg.Logging, version)
			defer log.Close() //nolint:errcheck // best effort

			res, err := newScanner(cfg, log).Scan(cmd.Context(), progressPrinter(cmd))
			if err != nil {
				return fmt.Errorf("scanning: %w", err)
			}
			if res == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "no controller found")
				return nil
			}
			return printJSON(cmd, res)
		},
	}
}

// progressPrinter reports scan progress on stderr.
func progressPrinter(cmd *cobra.Command) discovery.ProgressFunc {
	return func(percent int) {
		if percent == discovery.Indeterminate {
			fmt.Fprintln(cmd.ErrOrStderr())
			return
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "\rscanning... %3d%%", percent)
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
