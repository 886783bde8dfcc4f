package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// projectCmd is the parent command for project operations
var projectCmd = &cobra.Command{
	Use:     "project",
	Aliases: []string{"projects"},
	Short:   "Manage projects",
	Long:    `Commands for creating projects and inspecting their environments.`,
}

// projectCreateCmd creates a new project
var projectCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new project",
	Long: `Create a new project.

The project is provisioned with a fresh data encryption key and three default
environments: Development, Staging, and Production.`,
	Example: `  # Create a project
  keyfold-ctl project create "Payment Service" --slug payment-service`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		name := args[0]
		slug, _ := cmd.Flags().GetString("slug")
		if slug == "" {
			return fmt.Errorf("--slug is required")
		}

		ShowSpinner("Creating project...")
		project, envs, err := apiClient.CreateProject(ctx, name, slug)
		HideSpinner()

		if err != nil {
			return fmt.Errorf("failed to create project: %w", err)
		}

		if outputFormat == "json" {
			return printJSON(map[string]interface{}{
				"project":      project,
				"environments": envs,
			})
		}

		Success(fmt.Sprintf("Created project %s (%s)", Bold(project.Name), project.ID))

		headers := []string{"ENVIRONMENT", "SLUG", "POSITION"}
		rows := make([][]string, len(envs))
		for i, e := range envs {
			rows[i] = []string{e.Name, e.Slug, fmt.Sprintf("%d", e.Position)}
		}
		printTable(headers, rows)

		return nil
	},
}

// projectEnvsCmd lists a project's environments
var projectEnvsCmd = &cobra.Command{
	Use:   "environments <project-id>",
	Short: "List project environments",
	Long:  `List the environments of a project in position order.`,
	Example: `  # List environments
  keyfold-ctl project environments 6f1b0f3c-...`,
	Aliases: []string{"envs"},
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		ShowSpinner("Fetching environments...")
		envs, err := apiClient.ListEnvironments(ctx, args[0])
		HideSpinner()

		if err != nil {
			return fmt.Errorf("failed to list environments: %w", err)
		}

		if outputFormat == "json" {
			return printJSON(envs)
		}

		if len(envs) == 0 {
			fmt.Println(Dim("No environments found."))
			return nil
		}

		headers := []string{"ID", "NAME", "SLUG", "POSITION", "CREATED"}
		rows := make([][]string, len(envs))
		for i, e := range envs {
			rows[i] = []string{
				truncate(e.ID, 12),
				e.Name,
				e.Slug,
				fmt.Sprintf("%d", e.Position),
				formatTimestamp(e.CreatedAt),
			}
		}
		printTable(headers, rows)

		return nil
	},
}

// folderCreateCmd creates a folder within an environment
var projectFolderCmd = &cobra.Command{
	Use:   "mkdir <path>",
	Short: "Create a secret folder",
	Long: `Create a folder at the given path, creating missing ancestors.

Paths are canonicalized: trailing slashes and "." / ".." segments are
resolved before the folder is created.`,
	Example: `  # Create a nested folder
  keyfold-ctl project mkdir /backend/payments --project 6f1b0f3c-... --env dev`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		projectID, _ := cmd.Flags().GetString("project")
		env, _ := cmd.Flags().GetString("env")

		folder, err := apiClient.CreateFolder(ctx, projectID, env, args[0])
		if err != nil {
			return fmt.Errorf("failed to create folder: %w", err)
		}

		if outputFormat == "json" {
			return printJSON(folder)
		}

		Success(fmt.Sprintf("Created folder %s", Bold(folder.Path)))
		return nil
	},
}

// projectFoldersCmd lists an environment's folders
var projectFoldersCmd = &cobra.Command{
	Use:   "folders",
	Short: "List secret folders",
	Long:  `List all folders of an environment ordered by path.`,
	Example: `  # List folders
  keyfold-ctl project folders --project 6f1b0f3c-... --env dev`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		projectID, _ := cmd.Flags().GetString("project")
		env, _ := cmd.Flags().GetString("env")

		ShowSpinner("Fetching folders...")
		folders, err := apiClient.ListFolders(ctx, projectID, env)
		HideSpinner()

		if err != nil {
			return fmt.Errorf("failed to list folders: %w", err)
		}

		if outputFormat == "json" {
			return printJSON(folders)
		}

		if len(folders) == 0 {
			fmt.Println(Dim("No folders found."))
			return nil
		}

		headers := []string{"ID", "PATH", "CREATED"}
		rows := make([][]string, len(folders))
		for i, f := range folders {
			rows[i] = []string{
				truncate(f.ID, 12),
				f.Path,
				formatTimestamp(f.CreatedAt),
			}
		}
		printTable(headers, rows)

		return nil
	},
}

func init() {
	projectCreateCmd.Flags().String("slug", "", "URL-safe project identifier (required)")

	projectFolderCmd.Flags().String("project", "", "Project ID (required)")
	projectFolderCmd.Flags().String("env", "", "Environment slug (required)")
	projectFolderCmd.MarkFlagRequired("project")
	projectFolderCmd.MarkFlagRequired("env")

	projectFoldersCmd.Flags().String("project", "", "Project ID (required)")
	projectFoldersCmd.Flags().String("env", "", "Environment slug (required)")
	projectFoldersCmd.MarkFlagRequired("project")
	projectFoldersCmd.MarkFlagRequired("env")

	projectCmd.AddCommand(projectCreateCmd)
	projectCmd.AddCommand(projectEnvsCmd)
	projectCmd.AddCommand(projectFolderCmd)
	projectCmd.AddCommand(projectFoldersCmd)
}
