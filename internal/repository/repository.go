// Package repository manages the metadata and on-disk layout of crawled
// content collections. Each repository is a directory holding one artifact
// per accepted URL, a repository.json metadata file, and a manifest.json
// sidecar mapping URLs to artifact filenames.
package repository

import (
	"errors"
	"time"
)

// Status tracks whether a repository's content is usable downstream.
type Status string

// Repository statuses persisted in repository.json.
const (
	StatusIncomplete Status = "incomplete"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
)

// Source records how content enters a repository.
type Source string

// Repository sources.
const (
	SourceCrawler Source = "crawler"
	SourceUpload  Source = "upload"
)

// Frequency is the auto-update cadence for crawler-sourced repositories.
type Frequency string

// Auto-update frequencies.
const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyYearly  Frequency = "yearly"
)

// Valid reports whether f is a known cadence.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyYearly:
		return true
	default:
		return false
	}
}

// Repository is the metadata stored per collection.
type Repository struct {
	Name            string     `json:"name"`
	Source          Source     `json:"source"`
	URLs            []string   `json:"urls,omitempty"`
	Status          Status     `json:"status"`
	AutoUpdate      bool       `json:"auto_update"`
	UpdateFrequency Frequency  `json:"update_frequency,omitempty"`
	LastAutoUpdate  *time.Time `json:"last_auto_update,omitempty"`
	DirectImport    bool       `json:"direct_import"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Errors shared by store implementations.
var (
	ErrNotFound      = errors.New("repository not found")
	ErrAlreadyExists = errors.New("repository already exists")
	ErrInvalidName   = errors.New("invalid repository name")
	ErrNotCrawler    = errors.New("repository is not crawler sourced")
)
