package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// secretScope holds the project/environment/path flags shared by all secret
// subcommands.
type secretScope struct {
	projectID   string
	environment string
	path        string
}

// addScopeFlags registers the shared scope flags on a command.
func addScopeFlags(cmd *cobra.Command) {
	cmd.Flags().String("project", "", "Project ID (required)")
	cmd.Flags().String("env", "", "Environment slug (required)")
	cmd.Flags().String("path", "/", "Folder path")
	cmd.MarkFlagRequired("project")
	cmd.MarkFlagRequired("env")
}

// readScope reads the shared scope flags.
func readScope(cmd *cobra.Command) secretScope {
	projectID, _ := cmd.Flags().GetString("project")
	env, _ := cmd.Flags().GetString("env")
	path, _ := cmd.Flags().GetString("path")
	return secretScope{projectID: projectID, environment: env, path: path}
}

// secretCmd is the parent command for secret operations
var secretCmd = &cobra.Command{
	Use:     "secret",
	Aliases: []string{"secrets"},
	Short:   "Manage secrets",
	Long:    `Commands for creating, reading, updating, and deleting encrypted secrets.`,
}

// secretSetCmd creates a secret
var secretSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Create a secret",
	Long: `Create a new secret in a folder.

The value is envelope-encrypted under the project's data key before it is
stored. Fails if the key already exists in the folder; use 'secret update'
to change an existing value.`,
	Example: `  # Create a secret at the environment root
  keyfold-ctl secret set DB_URL postgres://... --project 6f1b0f3c-... --env dev

  # Create a secret in a nested folder
  keyfold-ctl secret set API_KEY abc123 --project 6f1b0f3c-... --env dev --path /backend`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		scope := readScope(cmd)
		secret, err := apiClient.CreateSecret(ctx, scope.projectID, scope.environment, scope.path, args[0], args[1])
		if err != nil {
			return fmt.Errorf("failed to create secret: %w", err)
		}

		if outputFormat == "json" {
			return printJSON(secret)
		}

		Success(fmt.Sprintf("Created secret %s (version %d)", Bold(secret.Key), secret.Version))
		return nil
	},
}

// secretUpdateCmd updates an existing secret
var secretUpdateCmd = &cobra.Command{
	Use:   "update <key> <value>",
	Short: "Update a secret's value",
	Long: `Replace a secret's value.

The previous value is pushed into the version history and the secret's
version is incremented.`,
	Example: `  # Rotate a secret
  keyfold-ctl secret update DB_URL postgres://... --project 6f1b0f3c-... --env dev`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		scope := readScope(cmd)
		secret, err := apiClient.UpdateSecret(ctx, scope.projectID, scope.environment, scope.path, args[0], args[1])
		if err != nil {
			return fmt.Errorf("failed to update secret: %w", err)
		}

		if outputFormat == "json" {
			return printJSON(secret)
		}

		Success(fmt.Sprintf("Updated secret %s to version %d", Bold(secret.Key), secret.Version))
		return nil
	},
}

// secretListCmd lists secrets
var secretListCmd = &cobra.Command{
	Use:   "list",
	Short: "List secrets",
	Long: `List the secrets visible in a folder.

By default only the folder's own secrets are shown. With --resolve the full
merged view is returned: imports are evaluated in position order and local
secrets override last, so each key appears exactly once with its winning
value and source.`,
	Example: `  # List a folder's own secrets
  keyfold-ctl secret list --project 6f1b0f3c-... --env dev

  # List the merged view including imports
  keyfold-ctl secret list --project 6f1b0f3c-... --env dev --resolve`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		scope := readScope(cmd)
		resolve, _ := cmd.Flags().GetBool("resolve")
		showValues, _ := cmd.Flags().GetBool("show-values")

		if resolve {
			ShowSpinner("Resolving secrets...")
			resolved, err := apiClient.ResolveSecrets(ctx, scope.projectID, scope.environment, scope.path)
			HideSpinner()
			if err != nil {
				return fmt.Errorf("failed to resolve secrets: %w", err)
			}

			if outputFormat == "json" {
				return printJSON(resolved)
			}
			if len(resolved) == 0 {
				fmt.Println(Dim("No secrets found."))
				return nil
			}

			headers := []string{"KEY", "VALUE", "VERSION", "SOURCE"}
			rows := make([][]string, len(resolved))
			for i, s := range resolved {
				source := fmt.Sprintf("%s:%s", s.SourceEnv, s.SourcePath)
				if s.Local {
					source = Green("local")
				}
				rows[i] = []string{
					s.Key,
					displayValue(s.Value, showValues),
					fmt.Sprintf("%d", s.Version),
					source,
				}
			}
			printTable(headers, rows)
			return nil
		}

		ShowSpinner("Fetching secrets...")
		secrets, err := apiClient.ListSecrets(ctx, scope.projectID, scope.environment, scope.path)
		HideSpinner()
		if err != nil {
			return fmt.Errorf("failed to list secrets: %w", err)
		}

		if outputFormat == "json" {
			return printJSON(secrets)
		}
		if len(secrets) == 0 {
			fmt.Println(Dim("No secrets found."))
			return nil
		}

		headers := []string{"KEY", "VALUE", "VERSION", "UPDATED"}
		rows := make([][]string, len(secrets))
		for i, s := range secrets {
			rows[i] = []string{
				s.Key,
				displayValue(s.Value, showValues),
				fmt.Sprintf("%d", s.Version),
				formatTimestamp(s.UpdatedAt),
			}
		}
		printTable(headers, rows)

		return nil
	},
}

// secretDeleteCmd deletes a secret
var secretDeleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Delete a secret",
	Long:  `Delete a secret and its version history from a folder.`,
	Example: `  # Delete a secret
  keyfold-ctl secret delete API_KEY --project 6f1b0f3c-... --env dev`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		scope := readScope(cmd)
		if err := apiClient.DeleteSecret(ctx, scope.projectID, scope.environment, scope.path, args[0]); err != nil {
			return fmt.Errorf("failed to delete secret: %w", err)
		}

		Success(fmt.Sprintf("Deleted secret %s", Bold(args[0])))
		return nil
	},
}

// secretHistoryCmd lists a secret's version history
var secretHistoryCmd = &cobra.Command{
	Use:   "history <key>",
	Short: "Show a secret's version history",
	Long:  `List a secret's versions, newest first. Values are decrypted on the server.`,
	Example: `  # Show version history
  keyfold-ctl secret history DB_URL --project 6f1b0f3c-... --env dev`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		scope := readScope(cmd)
		showValues, _ := cmd.Flags().GetBool("show-values")

		versions, err := apiClient.ListSecretVersions(ctx, scope.projectID, scope.environment, scope.path, args[0])
		if err != nil {
			return fmt.Errorf("failed to list versions: %w", err)
		}

		if outputFormat == "json" {
			return printJSON(versions)
		}
		if len(versions) == 0 {
			fmt.Println(Dim("No versions found."))
			return nil
		}

		headers := []string{"VERSION", "VALUE", "CREATED"}
		rows := make([][]string, len(versions))
		for i, v := range versions {
			rows[i] = []string{
				fmt.Sprintf("%d", v.Version),
				displayValue(v.Value, showValues),
				formatTimestamp(v.CreatedAt),
			}
		}
		printTable(headers, rows)

		return nil
	},
}

// displayValue masks secret values unless explicitly requested.
func displayValue(value string, show bool) string {
	if show {
		return value
	}
	return Dim("****")
}

func init() {
	addScopeFlags(secretSetCmd)
	addScopeFlags(secretUpdateCmd)
	addScopeFlags(secretListCmd)
	addScopeFlags(secretDeleteCmd)
	addScopeFlags(secretHistoryCmd)

	secretListCmd.Flags().Bool("resolve", false, "Include imported secrets in the merged view")
	secretListCmd.Flags().Bool("show-values", false, "Print secret values instead of masking them")
	secretHistoryCmd.Flags().Bool("show-values", false, "Print secret values instead of masking them")

	secretCmd.AddCommand(secretSetCmd)
	secretCmd.AddCommand(secretUpdateCmd)
	secretCmd.AddCommand(secretListCmd)
	secretCmd.AddCommand(secretDeleteCmd)
	secretCmd.AddCommand(secretHistoryCmd)
}
