// Package backup snapshots the embedded sqlite store, prunes old snapshots
// by age tier and restores from a verified snapshot.
package backup

import (
	"time"
)

// Config holds backup service configuration.
type Config struct {
	// DBPath is the sqlite database file to snapshot.
	DBPath string

	// Dir is where snapshots are written.
	Dir string

	// Interval between snapshots while Run is active (default: 1 hour).
	Interval time.Duration

	Retention RetentionPolicy

	// Verify runs integrity_check on each snapshot.
	Verify bool
}

// RetentionPolicy is how many snapshots to keep in each age tier:
// hourly (<24h), daily (<7d), weekly (<30d) and monthly (<365d).
// Anything older than a year is always pruned.
type RetentionPolicy struct {
	Hourly  int
	Daily   int
	Weekly  int
	Monthly int
}

// DefaultRetention keeps a day of hourlies, a week of dailies, a month of
// weeklies and a year of monthlies.
func DefaultRetention() RetentionPolicy {
	return RetentionPolicy{Hourly: 24, Daily: 7, Weekly: 4, Monthly: 12}
}

// Info describes one snapshot file.
type Info struct {
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
	Size      int64     `json:"size"`
}

// Result is the outcome of one snapshot.
type Result struct {
	Path     string        `json:"path"`
	Duration time.Duration `json:"duration"`
	Size     int64         `json:"size"`
	Verified bool          `json:"verified"`
	Pruned   int           `json:"pruned"`
}

// Health summarizes the snapshot directory.
type Health struct {
	Status        string    `json:"status"` // healthy or warning
	Message       string    `json:"message"`
	LastBackup    time.Time `json:"last_backup,omitzero"`
	TotalBackups  int       `json:"total_backups"`
	DiskSpaceUsed int64     `json:"disk_space_used"`
	Dir           string    `json:"dir"`
}
