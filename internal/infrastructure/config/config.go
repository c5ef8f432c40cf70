package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Sandman Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bed       BedConfig        `yaml:"bed"`
	MQTT      MQTTConfig       `yaml:"mqtt"`
	GPIO      GPIOConfig       `yaml:"gpio"`
	Control   ControlConfig    `yaml:"control"`
	Safety    SafetyConfig     `yaml:"safety"`
	Actuators []ActuatorConfig `yaml:"actuators"`
	Buttons   []ButtonConfig   `yaml:"buttons"`
	Database  DatabaseConfig   `yaml:"database"`
	InfluxDB  InfluxDBConfig   `yaml:"influxdb"`
	Logging   LoggingConfig    `yaml:"logging"`
}

// BedConfig identifies this bed. The ID doubles as the MQTT topic prefix.
type BedConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
// Delays are in seconds; the client backs off exponentially between them.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// GPIOConfig selects the GPIO backend.
type GPIOConfig struct {
	// Backend is "periph" for real hardware or "sim" for the in-memory
	// backend used in tests and desktop runs.
	Backend string `yaml:"backend"`
}

// ControlConfig contains timing parameters for the control loop.
type ControlConfig struct {
	// DebounceMS is the debounce window for button inputs in milliseconds.
	DebounceMS int `yaml:"debounce_ms"`

	// CommandTTLMS is how long a command stays valid before it is
	// discarded as stale, in milliseconds.
	CommandTTLMS int `yaml:"command_ttl_ms"`

	// DeadTimeMS is the mandatory pause between deactivating one motor
	// direction and activating the opposite one, in milliseconds.
	DeadTimeMS int `yaml:"dead_time_ms"`

	// TickMS is the router dispatch tick in milliseconds.
	TickMS int `yaml:"tick_ms"`
}

// SafetyConfig contains supervisor settings.
type SafetyConfig struct {
	// MaxActive caps how many actuators may move concurrently.
	MaxActive int `yaml:"max_active"`

	// WatchdogIntervalMS is how often the runaway watchdog scans actuator
	// state, in milliseconds.
	WatchdogIntervalMS int `yaml:"watchdog_interval_ms"`

	// RunawayGraceMS is how far past its deadline an actuator may remain
	// active before it is forced to Fault, in milliseconds.
	RunawayGraceMS int `yaml:"runaway_grace_ms"`

	// EStopLine is an optional dedicated emergency-stop input line.
	// Nil disables the hardware emergency stop.
	EStopLine *int `yaml:"estop_line,omitempty"`
}

// ActuatorConfig describes one actuator's output lines and limits.
type ActuatorConfig struct {
	ID          string `yaml:"id"`
	ExtendLine  int    `yaml:"extend_line"`
	RetractLine int    `yaml:"retract_line"`

	// MaxRunMS is the hard ceiling on a single activation in milliseconds.
	MaxRunMS int `yaml:"max_run_ms"`
}

// ButtonConfig maps an input line to an actuator direction.
type ButtonConfig struct {
	Line      int    `yaml:"line"`
	Actuator  string `yaml:"actuator"`
	Direction string `yaml:"direction"`
	ActiveLow bool   `yaml:"active_low"`
}

// DatabaseConfig contains SQLite database settings for the transition log.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// RetentionDays is how long transition rows are kept before the
	// periodic prune removes them. Zero disables pruning.
	RetentionDays int `yaml:"retention_days"`
}

// InfluxDBConfig contains InfluxDB connection settings for telemetry.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SANDMAN_SECTION_KEY
// (e.g. SANDMAN_MQTT_HOST, SANDMAN_DATABASE_PATH).
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path) // #nosec G304 -- path comes from operator flag/env
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bed: BedConfig{
			ID:   "bed",
			Name: "Sandman",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "sandman-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		GPIO: GPIOConfig{
			Backend: "periph",
		},
		Control: ControlConfig{
			DebounceMS:   20,
			CommandTTLMS: 2000,
			DeadTimeMS:   150,
			TickMS:       10,
		},
		Safety: SafetyConfig{
			MaxActive:          2,
			WatchdogIntervalMS: 100,
			RunawayGraceMS:     250,
		},
		Database: DatabaseConfig{
			Enabled:       true,
			Path:          "./data/sandman.db",
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SANDMAN_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SANDMAN_BED_ID"); v != "" {
		cfg.Bed.ID = v
	}

	// MQTT
	if v := os.Getenv("SANDMAN_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SANDMAN_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SANDMAN_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Database
	if v := os.Getenv("SANDMAN_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("SANDMAN_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Bed.ID == "" {
		errs = append(errs, "bed.id is required")
	}
	// The bed ID becomes the MQTT topic prefix verbatim, so slashes are fine
	// ("bedroom/bed") but wildcards would corrupt every subscription.
	if strings.ContainsAny(c.Bed.ID, "+#") {
		errs = append(errs, "bed.id must not contain MQTT wildcard characters (+ #)")
	}
	if strings.HasPrefix(c.Bed.ID, "/") || strings.HasSuffix(c.Bed.ID, "/") {
		errs = append(errs, "bed.id must not begin or end with /")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	switch c.GPIO.Backend {
	case "periph", "sim":
	default:
		errs = append(errs, "gpio.backend must be \"periph\" or \"sim\"")
	}

	// Every timing knob feeds a ticker or sleep; zero or negative values
	// would panic time.NewTicker or spin the control loop.
	for _, t := range []struct {
		name string
		ms   int
	}{
		{"control.debounce_ms", c.Control.DebounceMS},
		{"control.command_ttl_ms", c.Control.CommandTTLMS},
		{"control.dead_time_ms", c.Control.DeadTimeMS},
		{"control.tick_ms", c.Control.TickMS},
		{"safety.watchdog_interval_ms", c.Safety.WatchdogIntervalMS},
		{"safety.runaway_grace_ms", c.Safety.RunawayGraceMS},
	} {
		if t.ms <= 0 {
			errs = append(errs, fmt.Sprintf("%s must be positive", t.name))
		}
	}

	if len(c.Actuators) == 0 {
		errs = append(errs, "at least one actuator is required")
	}

	// Actuator IDs must be unique and output lines must not collide.
	ids := make(map[string]bool, len(c.Actuators))
	lines := make(map[int]string)
	for _, a := range c.Actuators {
		if a.ID == "" {
			errs = append(errs, "actuator id is required")
			continue
		}
		if strings.ContainsAny(a.ID, "/+#") {
			errs = append(errs, fmt.Sprintf("actuator %q: id must not contain MQTT topic characters", a.ID))
		}
		if ids[a.ID] {
			errs = append(errs, fmt.Sprintf("actuator %q: duplicate id", a.ID))
		}
		ids[a.ID] = true

		if a.ExtendLine == a.RetractLine {
			errs = append(errs, fmt.Sprintf("actuator %q: extend_line and retract_line must differ", a.ID))
		}
		for _, line := range []int{a.ExtendLine, a.RetractLine} {
			if owner, taken := lines[line]; taken {
				errs = append(errs, fmt.Sprintf("actuator %q: line %d already used by %q", a.ID, line, owner))
			}
			lines[line] = a.ID
		}

		if a.MaxRunMS <= 0 {
			errs = append(errs, fmt.Sprintf("actuator %q: max_run_ms must be positive", a.ID))
		}
	}

	// Buttons must reference known actuators and valid directions.
	inputs := make(map[int]bool)
	for _, b := range c.Buttons {
		if !ids[b.Actuator] {
			errs = append(errs, fmt.Sprintf("button on line %d: unknown actuator %q", b.Line, b.Actuator))
		}
		switch b.Direction {
		case "extend", "retract":
		default:
			errs = append(errs, fmt.Sprintf("button on line %d: direction must be \"extend\" or \"retract\"", b.Line))
		}
		if inputs[b.Line] {
			errs = append(errs, fmt.Sprintf("button on line %d: duplicate input line", b.Line))
		}
		inputs[b.Line] = true
	}
	if c.Safety.EStopLine != nil && inputs[*c.Safety.EStopLine] {
		errs = append(errs, fmt.Sprintf("safety.estop_line %d collides with a button line", *c.Safety.EStopLine))
	}

	if c.Safety.MaxActive < 1 {
		errs = append(errs, "safety.max_active must be at least 1")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database.enabled is true")
	}
	if c.Database.RetentionDays < 0 {
		errs = append(errs, "database.retention_days must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Debounce returns the button debounce window as a Duration.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Control.DebounceMS) * time.Millisecond
}

// CommandTTL returns the command time-to-live as a Duration.
func (c *Config) CommandTTL() time.Duration {
	return time.Duration(c.Control.CommandTTLMS) * time.Millisecond
}

// DeadTime returns the direction-reversal dead-time as a Duration.
func (c *Config) DeadTime() time.Duration {
	return time.Duration(c.Control.DeadTimeMS) * time.Millisecond
}

// Tick returns the router dispatch tick as a Duration.
func (c *Config) Tick() time.Duration {
	return time.Duration(c.Control.TickMS) * time.Millisecond
}

// WatchdogInterval returns the runaway watchdog scan interval as a Duration.
func (c *Config) WatchdogInterval() time.Duration {
	return time.Duration(c.Safety.WatchdogIntervalMS) * time.Millisecond
}

// RunawayGrace returns the runaway grace period as a Duration.
func (c *Config) RunawayGrace() time.Duration {
	return time.Duration(c.Safety.RunawayGraceMS) * time.Millisecond
}

// HistoryRetention returns how long transition rows are kept as a Duration.
// Zero means pruning is disabled.
func (c *Config) HistoryRetention() time.Duration {
	return time.Duration(c.Database.RetentionDays) * 24 * time.Hour
}

// MaxRun returns the activation ceiling for one actuator as a Duration.
func (a ActuatorConfig) MaxRun() time.Duration {
	return time.Duration(a.MaxRunMS) * time.Millisecond
}
