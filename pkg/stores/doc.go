// Package stores provides the persistence layer for the icon generator history.
// It includes a SQLite-based store with WAL mode, an embedded schema migration,
// lazy single-flight initialization, and the save, list, delete, clear, count
// and trim operations over history items.
package stores
