// Package config provides configuration loading for Sandman Core.
//
// Configuration is read from a YAML file with three layers of precedence:
//
//  1. Hardcoded defaults
//  2. YAML file values
//  3. SANDMAN_* environment variables (secrets, deployment overrides)
//
// The loaded Config is read-only after startup and shared by reference
// across all components. Duration-valued settings are stored as integer
// milliseconds/seconds in YAML and exposed as time.Duration via accessor
// methods.
package config
