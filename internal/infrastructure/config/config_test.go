package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
bed:
  id: bed-1
  name: Guest Bed
mqtt:
  broker:
    host: broker.local
    port: 8883
    tls: true
    client_id: sandman-guest
  qos: 1
gpio:
  backend: sim
control:
  debounce_ms: 25
  command_ttl_ms: 1500
actuators:
  - id: head
    extend_line: 17
    retract_line: 27
    max_run_ms: 8000
  - id: foot
    extend_line: 22
    retract_line: 23
    max_run_ms: 6000
buttons:
  - line: 5
    actuator: head
    direction: extend
    active_low: true
  - line: 6
    actuator: head
    direction: retract
    active_low: true
database:
  enabled: false
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Bed.ID != "bed-1" {
		t.Errorf("Bed.ID = %q, want %q", cfg.Bed.ID, "bed-1")
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
	if !cfg.MQTT.Broker.TLS {
		t.Error("MQTT.Broker.TLS = false, want true")
	}
	if len(cfg.Actuators) != 2 {
		t.Fatalf("len(Actuators) = %d, want 2", len(cfg.Actuators))
	}
	if got := cfg.Actuators[0].MaxRun(); got != 8*time.Second {
		t.Errorf("Actuators[0].MaxRun() = %v, want 8s", got)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Values absent from the YAML fall back to defaults.
	if got := cfg.DeadTime(); got != 150*time.Millisecond {
		t.Errorf("DeadTime() = %v, want 150ms", got)
	}
	if got := cfg.Tick(); got != 10*time.Millisecond {
		t.Errorf("Tick() = %v, want 10ms", got)
	}
	if cfg.Safety.MaxActive != 2 {
		t.Errorf("Safety.MaxActive = %d, want 2", cfg.Safety.MaxActive)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}

	// Values present override defaults.
	if got := cfg.Debounce(); got != 25*time.Millisecond {
		t.Errorf("Debounce() = %v, want 25ms", got)
	}
	if got := cfg.CommandTTL(); got != 1500*time.Millisecond {
		t.Errorf("CommandTTL() = %v, want 1.5s", got)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SANDMAN_MQTT_HOST", "override.local")
	t.Setenv("SANDMAN_MQTT_PASSWORD", "hunter2")

	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.MQTT.Broker.Host != "override.local" {
		t.Errorf("MQTT.Broker.Host = %q, want env override", cfg.MQTT.Broker.Host)
	}
	if cfg.MQTT.Auth.Password != "hunter2" {
		t.Errorf("MQTT.Auth.Password = %q, want env override", cfg.MQTT.Auth.Password)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load() with missing file: expected error")
	}
}

func TestValidateAcceptsSlashedBedID(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// The bed ID is used verbatim as the topic prefix, so a hierarchical
	// prefix like "bedroom/bed" must pass validation.
	cfg.Bed.ID = "bedroom/bed"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing bed id",
			mutate:  func(c *Config) { c.Bed.ID = "" },
			wantErr: "bed.id is required",
		},
		{
			name:    "wildcard in bed id",
			mutate:  func(c *Config) { c.Bed.ID = "bed/+" },
			wantErr: "MQTT wildcard characters",
		},
		{
			name:    "bed id with trailing slash",
			mutate:  func(c *Config) { c.Bed.ID = "bedroom/bed/" },
			wantErr: "begin or end with /",
		},
		{
			name:    "invalid qos",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "unknown gpio backend",
			mutate:  func(c *Config) { c.GPIO.Backend = "banana" },
			wantErr: "gpio.backend",
		},
		{
			name:    "no actuators",
			mutate:  func(c *Config) { c.Actuators = nil },
			wantErr: "at least one actuator",
		},
		{
			name: "same line both directions",
			mutate: func(c *Config) {
				c.Actuators[0].RetractLine = c.Actuators[0].ExtendLine
			},
			wantErr: "must differ",
		},
		{
			name: "output line collision across actuators",
			mutate: func(c *Config) {
				c.Actuators[1].ExtendLine = c.Actuators[0].ExtendLine
			},
			wantErr: "already used",
		},
		{
			name:    "non-positive max run",
			mutate:  func(c *Config) { c.Actuators[0].MaxRunMS = 0 },
			wantErr: "max_run_ms",
		},
		{
			name: "button references unknown actuator",
			mutate: func(c *Config) {
				c.Buttons = append(c.Buttons, ButtonConfig{Line: 9, Actuator: "ghost", Direction: "extend"})
			},
			wantErr: "unknown actuator",
		},
		{
			name: "button bad direction",
			mutate: func(c *Config) {
				c.Buttons = append(c.Buttons, ButtonConfig{Line: 9, Actuator: "head", Direction: "sideways"})
			},
			wantErr: "direction must be",
		},
		{
			name:    "max active below one",
			mutate:  func(c *Config) { c.Safety.MaxActive = 0 },
			wantErr: "max_active",
		},
		{
			name:    "zero dispatch tick",
			mutate:  func(c *Config) { c.Control.TickMS = 0 },
			wantErr: "control.tick_ms must be positive",
		},
		{
			name:    "negative debounce",
			mutate:  func(c *Config) { c.Control.DebounceMS = -5 },
			wantErr: "control.debounce_ms must be positive",
		},
		{
			name:    "zero command ttl",
			mutate:  func(c *Config) { c.Control.CommandTTLMS = 0 },
			wantErr: "control.command_ttl_ms must be positive",
		},
		{
			name:    "zero dead time",
			mutate:  func(c *Config) { c.Control.DeadTimeMS = 0 },
			wantErr: "control.dead_time_ms must be positive",
		},
		{
			name:    "zero watchdog interval",
			mutate:  func(c *Config) { c.Safety.WatchdogIntervalMS = 0 },
			wantErr: "safety.watchdog_interval_ms must be positive",
		},
		{
			name:    "zero runaway grace",
			mutate:  func(c *Config) { c.Safety.RunawayGraceMS = 0 },
			wantErr: "safety.runaway_grace_ms must be positive",
		},
		{
			name:    "negative retention",
			mutate:  func(c *Config) { c.Database.RetentionDays = -1 },
			wantErr: "retention_days",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, validYAML))
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			tt.mutate(cfg)

			err = cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}
