// Sandman Core - adjustable bed controller
//
// Sandman drives the motorised actuators of an adjustable bed over
// GPIO, with wired buttons for local control and MQTT for remote
// control and state reporting. It is designed to run unattended on a
// small board next to the bed: physical input always wins, every
// motion has a hard time ceiling, and a single emergency stop halts
// everything.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/sandman-core/internal/actuator"
	"github.com/nerrad567/sandman-core/internal/bridge"
	"github.com/nerrad567/sandman-core/internal/buttons"
	"github.com/nerrad567/sandman-core/internal/command"
	"github.com/nerrad567/sandman-core/internal/gpio"
	"github.com/nerrad567/sandman-core/internal/history"
	"github.com/nerrad567/sandman-core/internal/infrastructure/config"
	"github.com/nerrad567/sandman-core/internal/infrastructure/database"
	"github.com/nerrad567/sandman-core/internal/infrastructure/logging"
	"github.com/nerrad567/sandman-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/sandman-core/internal/router"
	"github.com/nerrad567/sandman-core/internal/safety"
	"github.com/nerrad567/sandman-core/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

// historyWriteTimeout bounds each async transition-log insert.
const historyWriteTimeout = 2 * time.Second

// pruneInterval is how often old transition rows are swept.
const pruneInterval = 12 * time.Hour

// pruneTimeout bounds each retention sweep.
const pruneTimeout = 30 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Sandman Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath, "bed", cfg.Bed.ID)

	log = logging.New(cfg.Logging, version)

	// GPIO backend
	chip, err := openChip(cfg.GPIO)
	if err != nil {
		return fmt.Errorf("opening GPIO backend: %w", err)
	}
	defer func() {
		log.Info("closing GPIO backend")
		if closeErr := chip.Close(); closeErr != nil {
			log.Error("error closing GPIO backend", "error", closeErr)
		}
	}()
	log.Info("GPIO backend ready", "backend", cfg.GPIO.Backend)

	// Actuator driver over the configured output lines
	lines, err := openActuatorLines(chip, cfg.Actuators)
	if err != nil {
		return fmt.Errorf("opening actuator lines: %w", err)
	}
	driver, err := actuator.New(cfg.DeadTime(), lines)
	if err != nil {
		return fmt.Errorf("creating actuator driver: %w", err)
	}
	defer func() {
		log.Info("stopping actuators")
		if closeErr := driver.Close(); closeErr != nil {
			log.Error("error closing actuator driver", "error", closeErr)
		}
	}()
	driver.SetLogger(log.Component("actuator"))
	log.Info("actuator driver ready", "actuators", len(lines))

	// Safety supervisor
	supervisor := safety.New(driver,
		cfg.Safety.MaxActive,
		cfg.WatchdogInterval(),
		cfg.RunawayGrace(),
	)
	supervisor.SetLogger(log.Component("safety"))

	// Command router
	dispatch := router.New(supervisor, cfg.DeadTime(), cfg.Tick())
	dispatch.SetLogger(log.Component("router"))

	// Transition log (optional)
	var transitions *history.Repository
	if cfg.Database.Enabled {
		db, openErr := database.Open(cfg.Database)
		if openErr != nil {
			return fmt.Errorf("opening database: %w", openErr)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()

		transitions = history.New(db.DB)
		if schemaErr := transitions.EnsureSchema(ctx); schemaErr != nil {
			return fmt.Errorf("preparing transition log: %w", schemaErr)
		}
		log.Info("transition log ready", "path", db.Path())

		if retention := cfg.HistoryRetention(); retention > 0 {
			go pruneHistory(ctx, transitions, retention, pruneInterval, log)
			log.Info("transition log retention active", "retention", retention)
		}
	} else {
		log.Info("transition log disabled")
	}

	// Telemetry (optional)
	var influx *telemetry.Client
	if cfg.InfluxDB.Enabled {
		influx, err = telemetry.Connect(cfg.InfluxDB, cfg.Bed.ID)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influx.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influx.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// MQTT
	topics := mqtt.Topics{Bed: cfg.Bed.ID}
	mqttClient, err := mqtt.Connect(cfg.MQTT, topics)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Bridge between broker and router
	// #nosec G115 -- QoS validated by config to be 0..2
	qos := byte(cfg.MQTT.QoS)
	mqttBridge := bridge.New(mqttClient, topics, dispatch, supervisor, qos, cfg.CommandTTL())
	mqttBridge.SetLogger(log.Component("bridge"))
	if err := mqttBridge.Start(ctx); err != nil {
		return fmt.Errorf("starting MQTT bridge: %w", err)
	}

	// Fan snapshots out to the bridge, the transition log and telemetry.
	driver.SetOnSnapshot(func(snap actuator.Snapshot) {
		mqttBridge.PublishSnapshot(snap)
		if transitions != nil {
			go func() {
				writeCtx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
				defer cancel()
				if recErr := transitions.Record(writeCtx, snap); recErr != nil {
					log.Error("recording transition", "actuator", snap.Actuator, "error", recErr)
				}
			}()
		}
		if influx != nil {
			influx.WriteTransition(snap)
		}
	})
	if influx != nil {
		driver.SetOnRunDone(func(rec actuator.RunRecord) {
			influx.WriteRunDuration(rec.Actuator, rec.Direction.String(), rec.Ran)
		})
	}
	supervisor.SetOnHalted(mqttBridge.PublishHalted)
	dispatch.SetOnReject(mqttBridge.PublishReject)

	// Publish the initial retained picture.
	for _, snap := range driver.Snapshots() {
		mqttBridge.PublishSnapshot(snap)
	}
	mqttBridge.PublishHalted(supervisor.Halted())

	// Button monitor
	monitor := buttons.New(chip,
		buttonSpecs(cfg.Buttons),
		cfg.Debounce(),
		cfg.CommandTTL(),
		dispatch,
		supervisor,
	)
	monitor.SetLogger(log.Component("buttons"))
	if cfg.Safety.EStopLine != nil {
		monitor.SetEmergencyStop(*cfg.Safety.EStopLine, func() {
			if stopErr := supervisor.EmergencyStop(); stopErr != nil {
				log.Error("emergency stop reported errors", "error", stopErr)
			}
		})
	}
	if err := monitor.Start(ctx); err != nil {
		return fmt.Errorf("starting button monitor: %w", err)
	}
	defer func() {
		log.Info("stopping button monitor")
		monitor.Close()
	}()
	log.Info("button monitor started", "buttons", len(cfg.Buttons))

	// Control loops
	go supervisor.Start(ctx)
	go dispatch.Run(ctx)

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: buttons, MQTT, InfluxDB,
	// database, actuator driver (outputs released), GPIO backend.

	log.Info("Sandman Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses SANDMAN_CONFIG if set, otherwise the default.
func getConfigPath() string {
	if path := os.Getenv("SANDMAN_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// pruneHistory sweeps transition rows older than the retention window,
// once at startup and then on every interval, until ctx is cancelled.
func pruneHistory(ctx context.Context, repo *history.Repository, retention, interval time.Duration, log *logging.Logger) {
	sweep := func() {
		pruneCtx, cancel := context.WithTimeout(ctx, pruneTimeout)
		defer cancel()
		removed, err := repo.Prune(pruneCtx, retention)
		if err != nil {
			log.Error("pruning transition log", "error", err)
			return
		}
		if removed > 0 {
			log.Info("transition log pruned", "removed", removed, "retention", retention)
		}
	}

	sweep()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}

// openChip selects the GPIO backend from configuration.
func openChip(cfg config.GPIOConfig) (gpio.Chip, error) {
	switch cfg.Backend {
	case "sim":
		return gpio.NewSim(), nil
	case "periph", "":
		return gpio.NewPeriph()
	default:
		return nil, fmt.Errorf("unknown gpio backend %q", cfg.Backend)
	}
}

// openActuatorLines claims both output lines for every actuator.
// Already-claimed lines are released again on any failure via the
// chip's Close in the caller's defer chain.
func openActuatorLines(chip gpio.Chip, actuators []config.ActuatorConfig) ([]actuator.Lines, error) {
	lines := make([]actuator.Lines, 0, len(actuators))
	for _, a := range actuators {
		extend, err := chip.OpenOutput(a.ExtendLine)
		if err != nil {
			return nil, fmt.Errorf("actuator %q extend line %d: %w", a.ID, a.ExtendLine, err)
		}
		retract, err := chip.OpenOutput(a.RetractLine)
		if err != nil {
			return nil, fmt.Errorf("actuator %q retract line %d: %w", a.ID, a.RetractLine, err)
		}
		lines = append(lines, actuator.Lines{
			ID:      a.ID,
			Extend:  extend,
			Retract: retract,
			MaxRun:  a.MaxRun(),
		})
	}
	return lines, nil
}

// buttonSpecs converts configuration entries to monitor specs.
// Directions were validated at config load.
func buttonSpecs(cfgButtons []config.ButtonConfig) []buttons.Spec {
	specs := make([]buttons.Spec, 0, len(cfgButtons))
	for _, b := range cfgButtons {
		dir := command.DirectionExtend
		if b.Direction == "retract" {
			dir = command.DirectionRetract
		}
		specs = append(specs, buttons.Spec{
			Line:      b.Line,
			Actuator:  b.Actuator,
			Direction: dir,
			ActiveLow: b.ActiveLow,
		})
	}
	return specs
}
