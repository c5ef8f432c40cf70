// Package router merges commands from physical controls and the
// network bridge into a single dispatch stream with fixed precedence:
// physical input always wins. It also owns the stop/wait/retry sequence
// that turns a direction reversal into a safe dead-time-separated pair
// of motions.
package router
