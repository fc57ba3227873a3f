// Package storage holds the durable adapters behind the broadcast core's
// ports: follow graphs on Postgres and Redis, and post logs on Postgres and
// in memory.
package storage
