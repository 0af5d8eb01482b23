// Package store declares the persistence interfaces the progress pipeline
// depends on. Concrete backends (Postgres via pgx, in-memory fakes) live
// elsewhere; nothing here may import a driver.
package store
