// Package buttons turns raw GPIO edges from wired controls into
// debounced hold-to-run commands: press emits the button's direction,
// release emits a stop. An optional dedicated e-stop line bypasses the
// command path entirely.
package buttons
