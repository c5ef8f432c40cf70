// Package history is the local transition log: every actuator state
// change is appended to SQLite so recent motion can be inspected after
// the fact, independent of the broker.
package history
