package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/cptrest/cptrest/internal/config"
	"github.com/cptrest/cptrest/internal/handler"
	"github.com/cptrest/cptrest/internal/model"
	"github.com/cptrest/cptrest/internal/service"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage admin users",
		Long:  "Create and list administrators who manage keys and settings through the admin API.",
	}

	cmd.AddCommand(newAdminCreateCmd())
	cmd.AddCommand(newAdminListCmd())

	return cmd
}

// ---------- admin create ----------

func newAdminCreateCmd() *cobra.Command {
	var (
		email    string
		password string
		name     string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new admin user",
		Example: `  cptrest admin create --email admin@example.com --password secret123
  cptrest admin create --email admin@example.com  # prompts for password`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !strings.Contains(email, "@") {
				return fmt.Errorf("invalid email address: %q", email)
			}
			if password == "" {
				pw, err := promptPassword(cmd.OutOrStdout())
				if err != nil {
					return err
				}
				password = pw
			}
			if len(password) < handler.MinPasswordLength {
				return fmt.Errorf("password must be at least %d characters", handler.MinPasswordLength)
			}

			a, err := openApp(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if _, err := a.store.GetAdminByEmail(ctx, email); err == nil {
				return fmt.Errorf("admin %q already exists", email)
			} else if !errors.Is(err, config.ErrNotFound) {
				return fmt.Errorf("look up admin: %w", err)
			}

			hash, err := service.HashPassword(password)
			if err != nil {
				return err
			}
			admin := &model.Admin{Email: email, PasswordHash: hash, Name: name}
			if err := a.store.CreateAdmin(ctx, admin); err != nil {
				return fmt.Errorf("create admin: %w", err)
			}
			a.logger.Info("admin created", "event", "admin_created", "admin_id", admin.ID)

			fmt.Fprintf(cmd.OutOrStdout(), "Created admin user %q (id %d)\n", email, admin.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Admin email address (required)")
	cmd.Flags().StringVar(&password, "password", "", "Admin password (prompted if omitted)")
	cmd.Flags().StringVar(&name, "name", "", "Admin display name")
	cmd.MarkFlagRequired("email")

	return cmd
}

func promptPassword(out io.Writer) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("--password is required when stdin is not a terminal")
	}

	fmt.Fprint(out, "Password: ")
	pwBytes, err := term.ReadPassword(fd)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Fprintln(out)

	fmt.Fprint(out, "Confirm password: ")
	confirmBytes, err := term.ReadPassword(fd)
	if err != nil {
		return "", fmt.Errorf("failed to read confirmation: %w", err)
	}
	fmt.Fprintln(out)

	if string(pwBytes) != string(confirmBytes) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(pwBytes), nil
}

// ---------- admin list ----------

func newAdminListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all admin users",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			admins, err := a.store.ListAdmins(cmd.Context())
			if err != nil {
				return fmt.Errorf("list admins: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(admins)
			}

			if len(admins) == 0 {
				fmt.Fprintln(out, "No admin users configured. Use 'cptrest admin create' to create one.")
				return nil
			}

			fmt.Fprintf(out, "%-6s %-30s %-24s %-20s\n", "ID", "EMAIL", "NAME", "LAST LOGIN")
			fmt.Fprintf(out, "%-6s %-30s %-24s %-20s\n", "--", "-----", "----", "----------")
			for _, ad := range admins {
				last := "never"
				if ad.LastLoginAt != nil {
					last = ad.LastLoginAt.Format("2006-01-02 15:04")
				}
				fmt.Fprintf(out, "%-6d %-30s %-24s %-20s\n", ad.ID, ad.Email, ad.Name, last)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
