// Package storage provides the data-layer plumbing shared by the rest of
// the service: the PostgreSQL connection pool, the Redis client, and a
// blob Store abstraction used for call recordings with filesystem and S3
// implementations.
package storage
