package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cptrest/cptrest/internal/model"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create, list, delete and migrate the bearer API keys that open the REST namespace.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyDeleteCmd())
	cmd.AddCommand(newKeyMigrateCmd())

	return cmd
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		label      string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Generate a new API key. The secret is shown once and cannot be retrieved again.",
		Example: `  cptrest key create --label "CI pipeline"
  cptrest key create --label mobile --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			created, err := a.keys.Create(cmd.Context(), label)
			if err != nil {
				return fmt.Errorf("create api key: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(created)
			}
			fmt.Fprintln(out, "API Key created:")
			fmt.Fprintln(out)
			fmt.Fprintf(out, "  ID:    %s\n", created.ID)
			fmt.Fprintf(out, "  Label: %s\n", created.Label)
			fmt.Fprintf(out, "  Key:   %s\n", created.Secret)
			fmt.Fprintln(out)
			fmt.Fprintln(out, "  Save this key now - it cannot be retrieved again.")
			return nil
		},
	}

	cmd.Flags().StringVar(&label, "label", "", "Human-readable label for the key (required)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.MarkFlagRequired("label")

	return cmd
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			keys, err := a.keys.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("list api keys: %w", err)
			}
			views := make([]model.APIKeyView, len(keys))
			for i := range keys {
				views[i] = keys[i].View()
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(views)
			}

			if len(views) == 0 {
				fmt.Fprintln(out, "No API keys configured. Use 'cptrest key create' to create one.")
				return nil
			}

			fmt.Fprintf(out, "%-38s %-14s %-24s %-20s %-6s\n", "ID", "PREFIX", "LABEL", "CREATED", "LEGACY")
			fmt.Fprintf(out, "%-38s %-14s %-24s %-20s %-6s\n", "--", "------", "-----", "-------", "------")
			for _, k := range views {
				legacy := "no"
				if k.Legacy {
					legacy = "yes"
				}
				fmt.Fprintf(out, "%-38s %-14s %-24s %-20s %-6s\n",
					k.ID, k.KeyPrefix, k.Label, k.CreatedAt.Format("2006-01-02 15:04"), legacy)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- key delete ----------

func newKeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm", "revoke"},
		Short:   "Delete an API key by its id",
		Long:    "Delete an API key. Requests using it are rejected immediately.",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			removed, err := a.keys.Delete(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("delete api key: %w", err)
			}
			if !removed {
				return fmt.Errorf("no API key found with id %q", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted API key %s\n", args[0])
			return nil
		},
	}
}

// ---------- key migrate ----------

func newKeyMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Replace plaintext API keys with hashed storage",
		Long: `Remove every stored key when any key still uses plaintext storage.
Clients must be issued new keys afterwards.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.keys.MigrateToHashed(cmd.Context())
			if err != nil {
				return fmt.Errorf("migrate api keys: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, result.Message)
			if result.Migrated {
				fmt.Fprintf(out, "  Removed %d key(s). Create new keys with 'cptrest key create'.\n", result.Removed)
			}
			return nil
		},
	}
}
