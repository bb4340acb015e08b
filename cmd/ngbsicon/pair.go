package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/clients"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/device"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/infrastructure/config"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/infrastructure/database"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/infrastructure/logging"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/pairing"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/thermostat"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/migrations"
)

type pairOptions struct {
	kind     string
	host     string
	sysid    string
	discover bool
	save     bool
}

func newPairCmd(root *rootOptions) *cobra.Command {
	opts := &pairOptions{}
	cmd := &cobra.Command{
		Use:   "pair",
		Short: "List the thermostats of a controller and optionally pair them",
		Long: `pair connects to a controller and prints one candidate per thermostat.
With --save every candidate not paired yet is stored; the bridge starts them
on its next start.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig(false)
			if err != nil {
				return err
			}
			return runPair(cmd, cfg, opts)
		},
	}
	cmd.Flags().StringVar(&opts.kind, "kind", string(thermostat.KindThermostat), "driver kind: thermostat or modbus_thermostat")
	cmd.Flags().StringVar(&opts.host, "host", "", "controller host or host:port")
	cmd.Flags().StringVar(&opts.sysid, "sysid", "", "controller system id (service protocol)")
	cmd.Flags().BoolVar(&opts.discover, "discover", false, "scan the network to fill host and system id")
	cmd.Flags().BoolVar(&opts.save, "save", false, "store the listed thermostats as paired devices")
	return cmd
}

func runPair(cmd *cobra.Command, cfg *config.Config, opts *pairOptions) error {
	ctx := cmd.Context()
	log := logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // best effort

	catalog, err := pairing.LoadCatalog()
	if err != nil {
		return fmt.Errorf("loading pairing messages: %w", err)
	}
	registry := clients.NewWithOptions(controllerOptions(cfg.Controllers), clients.WithLogger(log))
	sess, err := pairing.NewSession(pairing.Config{
		Kind:       thermostat.Kind(opts.kind),
		Registry:   registry,
		Discoverer: newScanner(cfg, log),
		Catalog:    catalog,
		Locale:     cfg.Locale,
		Logger:     log,
	})
	if err != nil {
		return err
	}

	if opts.discover {
		res, err := sess.Prefill(ctx, progressPrinter(cmd))
		if err != nil {
			return fmt.Errorf("scanning: %w", err)
		}
		if res == nil {
			return errors.New("no controller found on the local network")
		}
	}
	if opts.host != "" {
		sess.SetAddress(opts.host)
	}
	if opts.sysid != "" {
		if err := sess.SetSysID(opts.sysid); err != nil {
			return err
		}
	}

	candidates, err := sess.ListDevices(ctx)
	if err != nil {
		return err
	}
	if !opts.save {
		return printJSON(cmd, candidates)
	}
	paired, err := saveCandidates(ctx, cfg, sess.Kind(), candidates)
	if err != nil {
		return err
	}
	return printJSON(cmd, paired)
}

// saveCandidates stores every candidate that is not paired yet.
func saveCandidates(ctx context.Context, cfg *config.Config, kind thermostat.Kind, candidates []pairing.Candidate) ([]device.Device, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	defer db.Close() //nolint:errcheck // read-mostly handle
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	if err := registry.RefreshCache(ctx); err != nil {
		return nil, fmt.Errorf("loading device registry: %w", err)
	}

	paired := make([]device.Device, 0, len(candidates))
	for _, c := range candidates {
		if _, err := registry.FindThermostat(ctx, c.Data.URL, c.Data.ID); err == nil {
			continue
		}
		d := &device.Device{Name: c.Name, Kind: kind, Address: c.Data.URL, ThermostatID: c.Data.ID}
		if err := registry.CreateDevice(ctx, d); err != nil {
			return paired, fmt.Errorf("pairing %q: %w", c.Name, err)
		}
		paired = append(paired, *d)
	}
	return paired, nil
}
