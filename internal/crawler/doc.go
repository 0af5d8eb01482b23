// Package crawler implements the crawl engine: per-task frontier, visited
// set, worker pool and inactivity monitor, orchestrated behind StartCrawl,
// GetStatus and the stop/pause/resume controls. Fetching, artifact storage
// and repository metadata live behind the interfaces in interfaces.go.
package crawler
