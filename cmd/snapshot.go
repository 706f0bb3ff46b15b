package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/evflex/config"
	"github.com/kilianp07/evflex/infra/store"
)

var snapshotSession string

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "List persisted boot records",
	RunE:  listSnapshots,
}

func init() {
	snapshotCmd.Flags().StringVar(&snapshotSession, "session", "", "session ID to list (defaults to the most recent)")
	rootCmd.AddCommand(snapshotCmd)
}

func listSnapshots(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	recordStore, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("boot-record store: %w", err)
	}
	defer func() { _ = recordStore.Close() }()

	ctx := context.Background()
	session := snapshotSession
	if session == "" {
		sessions, err := recordStore.Sessions(ctx)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("no boot records")
			return nil
		}
		session = sessions[0]
	}

	records, err := recordStore.List(ctx, session)
	if err != nil {
		return err
	}
	fmt.Printf("session %s: %d records\n", session, len(records))
	for _, rec := range records {
		fmt.Printf("  ts %4d  %-12s  %s\n", rec.Timeslot, rec.Tariff, rec.Record)
	}
	return nil
}
