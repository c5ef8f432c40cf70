// Package database manages the SQLite connection backing the local
// transition log: file creation, pragmas, pooling and health checks.
package database
