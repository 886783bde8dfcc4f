package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// importCmd is the parent command for secret import operations
var importCmd = &cobra.Command{
	Use:     "import",
	Aliases: []string{"imports"},
	Short:   "Manage secret imports",
	Long: `Commands for wiring folders together through the secret import graph.

An import makes the secrets of another folder visible in the importing
folder. Imports are evaluated in position order: when two imports define the
same key, the one with the higher position wins, and the folder's own
secrets always win over imported ones.`,
}

// importAddCmd appends an import edge
var importAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a secret import",
	Long: `Add an import edge to a folder.

The new edge is appended at the end of the folder's import list, giving it
the highest precedence among imports.`,
	Example: `  # Import the dev root into staging's backend folder
  keyfold-ctl import add --project 6f1b0f3c-... --env staging --path /backend \
    --from-env dev --from-path /`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		scope := readScope(cmd)
		fromEnv, _ := cmd.Flags().GetString("from-env")
		fromPath, _ := cmd.Flags().GetString("from-path")

		imp, err := apiClient.CreateImport(ctx, scope.projectID, scope.environment, scope.path, fromEnv, fromPath)
		if err != nil {
			return fmt.Errorf("failed to create import: %w", err)
		}

		if outputFormat == "json" {
			return printJSON(imp)
		}

		Success(fmt.Sprintf("Created import from %s:%s at position %d",
			Bold(imp.ImportEnv.Slug), Bold(imp.ImportPath), imp.Position))
		return nil
	},
}

// importListCmd lists a folder's import edges
var importListCmd = &cobra.Command{
	Use:   "list",
	Short: "List secret imports",
	Long:  `List a folder's import edges in position order (lowest precedence first).`,
	Example: `  # List imports
  keyfold-ctl import list --project 6f1b0f3c-... --env staging --path /backend`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		scope := readScope(cmd)

		ShowSpinner("Fetching imports...")
		edges, err := apiClient.ListImports(ctx, scope.projectID, scope.environment, scope.path)
		HideSpinner()

		if err != nil {
			return fmt.Errorf("failed to list imports: %w", err)
		}

		if outputFormat == "json" {
			return printJSON(edges)
		}
		if len(edges) == 0 {
			fmt.Println(Dim("No imports found."))
			return nil
		}

		headers := []string{"ID", "POSITION", "FROM ENV", "FROM PATH", "CREATED"}
		rows := make([][]string, len(edges))
		for i, e := range edges {
			rows[i] = []string{
				truncate(e.ID, 12),
				fmt.Sprintf("%d", e.Position),
				e.ImportEnv.Slug,
				e.ImportPath,
				formatTimestamp(e.CreatedAt),
			}
		}
		printTable(headers, rows)

		return nil
	},
}

// importSecretsCmd shows the resolved content of each import edge
var importSecretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Show secrets per import",
	Long: `Show the secrets contributed by each import edge, grouped by edge in
position order. Unlike 'secret list --resolve', keys are not deduplicated
across groups, so the provenance of every value is visible.`,
	Example: `  # Show imported secrets with provenance
  keyfold-ctl import secrets --project 6f1b0f3c-... --env staging --path /backend`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		scope := readScope(cmd)
		showValues, _ := cmd.Flags().GetBool("show-values")

		ShowSpinner("Resolving imports...")
		groups, err := apiClient.GetImportedSecrets(ctx, scope.projectID, scope.environment, scope.path)
		HideSpinner()

		if err != nil {
			return fmt.Errorf("failed to fetch imported secrets: %w", err)
		}

		if outputFormat == "json" {
			return printJSON(groups)
		}
		if len(groups) == 0 {
			fmt.Println(Dim("No imports found."))
			return nil
		}

		for _, g := range groups {
			fmt.Printf("%s %s:%s\n", Bold("Import"), Cyan(g.Environment), Cyan(g.SecretPath))
			if len(g.Secrets) == 0 {
				fmt.Println(Dim("  (empty)"))
				continue
			}

			headers := []string{"KEY", "VALUE", "VERSION"}
			rows := make([][]string, len(g.Secrets))
			for i, s := range g.Secrets {
				rows[i] = []string{
					s.Key,
					displayValue(s.Value, showValues),
					fmt.Sprintf("%d", s.Version),
				}
			}
			printTable(headers, rows)
			fmt.Println()
		}

		return nil
	},
}

// importMoveCmd changes an edge's position
var importMoveCmd = &cobra.Command{
	Use:   "move <import-id> <position>",
	Short: "Move an import to a new position",
	Long: `Move an import edge to a new 1-based position within its folder.

Siblings between the old and new position shift by one so positions stay
dense. Higher positions take precedence during resolution.`,
	Example: `  # Make an import the highest-precedence one of three
  keyfold-ctl import move 9a2e44b1-... 3 --project 6f1b0f3c-...`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		projectID, _ := cmd.Flags().GetString("project")

		var position int
		if _, err := fmt.Sscanf(args[1], "%d", &position); err != nil {
			return fmt.Errorf("position must be an integer: %s", args[1])
		}

		imp, err := apiClient.UpdateImport(ctx, projectID, args[0], nil, nil, &position)
		if err != nil {
			return fmt.Errorf("failed to move import: %w", err)
		}

		if outputFormat == "json" {
			return printJSON(imp)
		}

		Success(fmt.Sprintf("Moved import to position %d", imp.Position))
		return nil
	},
}

// importRetargetCmd changes what an edge imports
var importRetargetCmd = &cobra.Command{
	Use:   "retarget <import-id>",
	Short: "Change an import's source",
	Long:  `Change the environment and/or path an import edge pulls from. The edge keeps its position.`,
	Example: `  # Point an import at a different folder
  keyfold-ctl import retarget 9a2e44b1-... --project 6f1b0f3c-... --from-path /backend/payments`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		projectID, _ := cmd.Flags().GetString("project")

		var fromEnv, fromPath *string
		if cmd.Flags().Changed("from-env") {
			v, _ := cmd.Flags().GetString("from-env")
			fromEnv = &v
		}
		if cmd.Flags().Changed("from-path") {
			v, _ := cmd.Flags().GetString("from-path")
			fromPath = &v
		}
		if fromEnv == nil && fromPath == nil {
			return fmt.Errorf("at least one of --from-env or --from-path is required")
		}

		imp, err := apiClient.UpdateImport(ctx, projectID, args[0], fromEnv, fromPath, nil)
		if err != nil {
			return fmt.Errorf("failed to retarget import: %w", err)
		}

		if outputFormat == "json" {
			return printJSON(imp)
		}

		Success(fmt.Sprintf("Import now pulls from %s:%s", Bold(imp.ImportEnv.Slug), Bold(imp.ImportPath)))
		return nil
	},
}

// importRemoveCmd deletes an import edge
var importRemoveCmd = &cobra.Command{
	Use:     "remove <import-id>",
	Aliases: []string{"rm", "delete"},
	Short:   "Remove a secret import",
	Long:    `Remove an import edge. Siblings above it shift down to close the position gap.`,
	Example: `  # Remove an import
  keyfold-ctl import remove 9a2e44b1-... --project 6f1b0f3c-...`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		projectID, _ := cmd.Flags().GetString("project")

		imp, err := apiClient.DeleteImport(ctx, projectID, args[0])
		if err != nil {
			return fmt.Errorf("failed to remove import: %w", err)
		}

		if outputFormat == "json" {
			return printJSON(imp)
		}

		Success(fmt.Sprintf("Removed import from %s:%s", Bold(imp.ImportEnv.Slug), Bold(imp.ImportPath)))
		return nil
	},
}

func init() {
	addScopeFlags(importAddCmd)
	addScopeFlags(importListCmd)
	addScopeFlags(importSecretsCmd)

	importAddCmd.Flags().String("from-env", "", "Source environment slug (required)")
	importAddCmd.Flags().String("from-path", "/", "Source folder path")
	importAddCmd.MarkFlagRequired("from-env")

	importSecretsCmd.Flags().Bool("show-values", false, "Print secret values instead of masking them")

	importMoveCmd.Flags().String("project", "", "Project ID (required)")
	importMoveCmd.MarkFlagRequired("project")

	importRetargetCmd.Flags().String("project", "", "Project ID (required)")
	importRetargetCmd.Flags().String("from-env", "", "New source environment slug")
	importRetargetCmd.Flags().String("from-path", "", "New source folder path")
	importRetargetCmd.MarkFlagRequired("project")

	importRemoveCmd.Flags().String("project", "", "Project ID (required)")
	importRemoveCmd.MarkFlagRequired("project")

	importCmd.AddCommand(importAddCmd)
	importCmd.AddCommand(importListCmd)
	importCmd.AddCommand(importSecretsCmd)
	importCmd.AddCommand(importMoveCmd)
	importCmd.AddCommand(importRetargetCmd)
	importCmd.AddCommand(importRemoveCmd)
}
