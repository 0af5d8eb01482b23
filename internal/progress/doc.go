// Package progress carries live crawl telemetry from workers to observers.
// Workers emit fire-and-forget events into a Hub, which batches them on a
// background goroutine and delivers the batches to configured sinks (logs,
// Prometheus, the progress store). Emission never blocks crawling.
package progress
