package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// snapshotCmd is the parent command for snapshot operations
var snapshotCmd = &cobra.Command{
	Use:     "snapshot",
	Aliases: []string{"snapshots"},
	Short:   "Manage snapshots",
	Long: `Commands for capturing and listing snapshots.

A snapshot is the fully resolved secret view of a folder (imports applied,
local overrides last), encrypted under the project's data key and written to
object storage. Requires snapshot storage to be configured on the server.`,
}

// snapshotTakeCmd captures a snapshot
var snapshotTakeCmd = &cobra.Command{
	Use:   "take",
	Short: "Take a snapshot",
	Long:  `Capture the resolved secret view of a folder into object storage.`,
	Example: `  # Snapshot the staging backend folder
  keyfold-ctl snapshot take --project 6f1b0f3c-... --env staging --path /backend`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		scope := readScope(cmd)

		ShowSpinner("Taking snapshot...")
		snap, err := apiClient.TakeSnapshot(ctx, scope.projectID, scope.environment, scope.path)
		HideSpinner()

		if err != nil {
			return fmt.Errorf("failed to take snapshot: %w", err)
		}

		if outputFormat == "json" {
			return printJSON(snap)
		}

		Success(fmt.Sprintf("Captured %d secrets from %s:%s",
			snap.SecretCount, Bold(snap.Environment), Bold(snap.SecretPath)))
		fmt.Printf("  Stored at: %s\n", Dim(snap.Path))
		return nil
	},
}

// snapshotListCmd lists stored snapshots
var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots",
	Long:  `List a project's stored snapshots.`,
	Example: `  # List snapshots
  keyfold-ctl snapshot list --project 6f1b0f3c-...`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		projectID, _ := cmd.Flags().GetString("project")

		ShowSpinner("Fetching snapshots...")
		snapshots, err := apiClient.ListSnapshots(ctx, projectID)
		HideSpinner()

		if err != nil {
			return fmt.Errorf("failed to list snapshots: %w", err)
		}

		if outputFormat == "json" {
			return printJSON(snapshots)
		}
		if len(snapshots) == 0 {
			fmt.Println(Dim("No snapshots found."))
			return nil
		}

		headers := []string{"PATH", "SIZE", "TAKEN"}
		rows := make([][]string, len(snapshots))
		for i, s := range snapshots {
			rows[i] = []string{
				s.Path,
				formatBytes(s.Size),
				formatTimestamp(s.LastModified),
			}
		}
		printTable(headers, rows)

		return nil
	},
}

func init() {
	addScopeFlags(snapshotTakeCmd)

	snapshotListCmd.Flags().String("project", "", "Project ID (required)")
	snapshotListCmd.MarkFlagRequired("project")

	snapshotCmd.AddCommand(snapshotTakeCmd)
	snapshotCmd.AddCommand(snapshotListCmd)
}
