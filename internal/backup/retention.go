package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const snapshotExt = ".db"

// list returns the snapshots in dir, newest first.
func list(dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read backup directory: %w", err)
	}

	var out []Info
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), snapshotExt) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, Info{
			Path:      filepath.Join(dir, entry.Name()),
			Timestamp: info.ModTime(),
			Size:      info.Size(),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

// expired picks the snapshots the policy does not keep as of now. Input
// must be newest first.
func expired(snapshots []Info, policy RetentionPolicy, now time.Time) []string {
	const day = 24 * time.Hour

	tiers := []struct {
		maxAge time.Duration
		keep   int
		seen   int
	}{
		{day, policy.Hourly, 0},
		{7 * day, policy.Daily, 0},
		{30 * day, policy.Weekly, 0},
		{365 * day, policy.Monthly, 0},
	}

	var drop []string
	for _, s := range snapshots {
		age := now.Sub(s.Timestamp)
		kept := false
		for i := range tiers {
			if age >= tiers[i].maxAge {
				continue
			}
			tiers[i].seen++
			kept = tiers[i].seen <= tiers[i].keep
			break
		}
		if !kept {
			drop = append(drop, s.Path)
		}
	}
	return drop
}

// prune deletes expired snapshots and returns how many were removed.
func prune(dir string, policy RetentionPolicy, now time.Time) (int, error) {
	snapshots, err := list(dir)
	if err != nil {
		return 0, err
	}

	var (
		removed int
		lastErr error
	)
	for _, path := range expired(snapshots, policy, now) {
		if err := os.Remove(path); err != nil {
			lastErr = err
			continue
		}
		removed++
	}
	if lastErr != nil {
		return removed, fmt.Errorf("delete expired snapshots: %w", lastErr)
	}
	return removed, nil
}

func diskUsage(snapshots []Info) int64 {
	var total int64
	for _, s := range snapshots {
		total += s.Size
	}
	return total
}
