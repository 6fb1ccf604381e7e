// Package postgres provides a PostgreSQL-backed message queue for the agent.
//
// It stands in for Azure Storage Queues where a self-hosted backend is
// preferred and mirrors their delivery semantics: a received message is
// hidden for a visibility timeout and stamped with a fresh pop receipt, and
// only the holder of the current pop receipt may delete it. Messages that
// are not deleted reappear once the timeout lapses.
//
// The database/sql interface is used with the pgx driver; schema
// migrations are embedded and applied with goose.
package postgres
