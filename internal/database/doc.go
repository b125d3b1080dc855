// Package database opens the PostgreSQL pool backing the hub's
// notification history when hub.history_backend is postgres.
package database
