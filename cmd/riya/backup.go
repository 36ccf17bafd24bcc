package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/scrypster/riya/internal/backup"
	"github.com/scrypster/riya/internal/clock"
)

var errBackupEngine = errors.New("backups are only supported for the sqlite storage engine")

func (c *cli) backupService() (*backup.Service, error) {
	if c.cfg.Storage.Engine != "sqlite" {
		return nil, errBackupEngine
	}
	return backup.New(backup.Config{
		DBPath:   c.cfg.SQLitePath(),
		Dir:      c.cfg.BackupDir(),
		Interval: c.cfg.Backup.Interval,
		Verify:   c.cfg.Backup.Verify,
	}, clock.System(), c.logger)
}

func newBackupCmd(c *cli) *cobra.Command {
	var (
		listOnly bool
		health   bool
		restore  string
	)
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot, list or restore the sqlite store",
		Long: `Snapshot, list or restore the sqlite store.

Without flags a single verified snapshot is written and expired snapshots
are pruned. --restore must not be used while "riya serve" is running.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := c.backupService()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			switch {
			case restore != "":
				return svc.Restore(cmd.Context(), restore)
			case listOnly:
				snapshots, err := svc.List()
				if err != nil {
					return err
				}
				return printJSON(out, snapshots)
			case health:
				h, err := svc.Health()
				if err != nil {
					return err
				}
				return printJSON(out, h)
			default:
				res, err := svc.Snapshot(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(out, res)
			}
		},
	}
	cmd.Flags().BoolVar(&listOnly, "list", false, "list snapshots, newest first")
	cmd.Flags().BoolVar(&health, "health", false, "report snapshot health")
	cmd.Flags().StringVar(&restore, "restore", "", "restore the database from this snapshot file")
	cmd.MarkFlagsMutuallyExclusive("list", "health", "restore")
	return cmd
}
