package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilianp07/evflex/config"
	coremetrics "github.com/kilianp07/evflex/core/metrics"
	"github.com/kilianp07/evflex/core/sim"
	"github.com/kilianp07/evflex/core/tariff"
	"github.com/kilianp07/evflex/infra/logger"
	"github.com/kilianp07/evflex/infra/metrics"
	"github.com/kilianp07/evflex/infra/mqtt"
	"github.com/kilianp07/evflex/infra/store"
	"github.com/kilianp07/evflex/internal/eventbus"
)

var resume bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the timeslot simulation",
	RunE:  runSimulation,
}

func init() {
	runCmd.Flags().BoolVar(&resume, "resume", false, "restore engines from the latest boot records")
	rootCmd.AddCommand(runCmd)
}

func runSimulation(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logg := logger.New("run")

	var sinks []coremetrics.MetricsSink
	if cfg.Metrics.PrometheusEnabled {
		sink, err := metrics.NewPromSink(nil)
		if err != nil {
			return fmt.Errorf("prom sink: %w", err)
		}
		sinks = append(sinks, sink)
		go func() {
			if err := metrics.StartPromServer(cfg.Metrics.PrometheusPort); err != nil {
				logg.Errorf("prom server: %v", err)
			}
		}()
	}
	if cfg.Metrics.InfluxEnabled {
		sinks = append(sinks, metrics.NewInfluxSinkWithFallback(cfg.Metrics))
	}
	var sink coremetrics.MetricsSink = metrics.NopSink{}
	if len(sinks) == 1 {
		sink = sinks[0]
	} else if len(sinks) > 1 {
		sink = metrics.NewMultiSink(sinks...)
	}

	bus := eventbus.New()
	defer bus.Close()

	registry := tariff.NewRegistry(cfg.Engine.UnitCapacity, cfg.Engine.MaxHorizon, bus, logg)
	for _, tc := range cfg.Tariffs {
		if _, err := registry.AddTariff(tc.Name, tc.Subscribers); err != nil {
			return fmt.Errorf("tariff %s: %w", tc.Name, err)
		}
	}

	generator, err := sim.NewGenerator(cfg.Demand)
	if err != nil {
		return fmt.Errorf("demand generator: %w", err)
	}

	driver, err := sim.NewDriver(registry, generator, sink, bus, logg)
	if err != nil {
		return err
	}

	recordStore, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("boot-record store: %w", err)
	}
	defer func() {
		if err := recordStore.Close(); err != nil {
			logg.Errorf("store close: %v", err)
		}
	}()
	if cfg.Simulation.SnapshotEvery > 0 {
		driver.SetSnapshots(recordStore, cfg.Simulation.SnapshotEvery)
	}

	start := cfg.Simulation.StartTimeslot
	if resume {
		start, err = restoreEngines(ctx, registry, recordStore, start, logg)
		if err != nil {
			return err
		}
	}

	if cfg.MQTT.Enabled {
		publisher, err := mqtt.NewPublisher(cfg.MQTT, logg)
		if err != nil {
			return fmt.Errorf("mqtt publisher: %w", err)
		}
		defer publisher.Close()
		driver.SetPublisher(publisher)
		if err := publisher.SubscribeRegulation(driver.AddRegulation); err != nil {
			return fmt.Errorf("regulation subscribe: %w", err)
		}
	}

	logg.Infof("simulating %d timeslots from %d", cfg.Simulation.Timeslots, start)
	if err := driver.Run(ctx, start, cfg.Simulation.Timeslots); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// restoreEngines rebuilds every engine from its latest boot record and
// returns the timeslot to resume from. Tariffs without a record keep their
// empty state.
func restoreEngines(ctx context.Context, registry *tariff.Registry, recordStore *store.SQLiteStore, start int, logg logger.Logger) (int, error) {
	resumeFrom := start
	for _, entry := range registry.Entries() {
		rec, err := recordStore.Latest(ctx, entry.Sub.Tariff())
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("latest record for %s: %w", entry.Sub.Tariff(), err)
		}
		if err := entry.State.RestoreState(rec.Timeslot, rec.Record); err != nil {
			return 0, fmt.Errorf("restore %s: %w", entry.Sub.Tariff(), err)
		}
		logg.Infof("restored %s from timeslot %d", entry.Sub.Tariff(), rec.Timeslot)
		if rec.Timeslot+1 > resumeFrom {
			resumeFrom = rec.Timeslot + 1
		}
	}
	return resumeFrom, nil
}
