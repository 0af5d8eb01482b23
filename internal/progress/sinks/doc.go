// Package sinks holds the built-in progress.Sink implementations: structured
// logging, Prometheus counters, and a store-backed sink that persists events
// for the progress API.
package sinks
