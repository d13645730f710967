package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"

	"github.com/spf13/cobra"

	"github.com/cptrest/cptrest/internal/catalog"
	"github.com/cptrest/cptrest/internal/config"
	"github.com/cptrest/cptrest/internal/model"
)

// Post type names follow the host registry's key rules.
var typeNamePattern = regexp.MustCompile(`^[a-z0-9_-]{1,20}$`)

func newTypeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "type",
		Aliases: []string{"types"},
		Short:   "Manage the host post type registry",
		Long: `Register and unregister post types in the host store. Registering a type
does not expose it; select it with 'cptrest settings set --active'.`,
	}

	cmd.AddCommand(newTypeAddCmd())
	cmd.AddCommand(newTypeRemoveCmd())
	cmd.AddCommand(newTypeListCmd())

	return cmd
}

// ---------- type add ----------

func newTypeAddCmd() *cobra.Command {
	var (
		pt   model.PostType
		meta []string
	)

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Register or update a post type",
		Example: `  cptrest type add event --label Events --public --meta venue,capacity
  cptrest type add internal_note --show-ui`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pt.Name = args[0]
			if !typeNamePattern.MatchString(pt.Name) {
				return fmt.Errorf("invalid post type name %q", pt.Name)
			}
			if slices.Contains(catalog.CoreTypes, pt.Name) {
				return fmt.Errorf("%q is a built-in post type", pt.Name)
			}
			if pt.Label == "" {
				pt.Label = pt.Name
			}

			a, err := openApp(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := cmd.Context()

			if err := a.store.UpsertPostType(ctx, pt); err != nil {
				return err
			}
			for _, key := range meta {
				if err := a.store.RegisterMeta(ctx, pt.Name, key); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered post type %q\n", pt.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&pt.Label, "label", "", "Display label")
	cmd.Flags().StringVar(&pt.Description, "description", "", "Description used in the OpenAPI document")
	cmd.Flags().BoolVar(&pt.Public, "public", false, "Publicly visible type")
	cmd.Flags().BoolVar(&pt.PubliclyQueryable, "publicly-queryable", false, "Non-public but front-end queryable")
	cmd.Flags().BoolVar(&pt.ShowUI, "show-ui", false, "Non-public but shown in the admin UI")
	cmd.Flags().StringSliceVar(&meta, "meta", nil, "Meta keys to allow for this type")

	return cmd
}

// ---------- type remove ----------

func newTypeRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm"},
		Short:   "Unregister a post type",
		Long:    "Unregister a post type. Its posts stay in the store but are no longer routed.",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.DeletePostType(cmd.Context(), args[0]); err != nil {
				if errors.Is(err, config.ErrNotFound) {
					return fmt.Errorf("post type %q is not registered or is built in", args[0])
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed post type %q\n", args[0])
			return nil
		},
	}
}

// ---------- type list ----------

type typeRow struct {
	model.PostType
	Meta      []string `json:"meta"`
	Available bool     `json:"available"`
	Active    bool     `json:"active"`
}

func newTypeListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List registered post types",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := cmd.Context()

			types, err := a.store.ListPostTypes(ctx)
			if err != nil {
				return err
			}
			available, err := a.catalog.Available(ctx)
			if err != nil {
				return err
			}
			active, err := a.catalog.Active(ctx)
			if err != nil {
				return err
			}

			rows := make([]typeRow, 0, len(types))
			for _, pt := range types {
				meta, err := a.store.RegisteredMeta(ctx, pt.Name)
				if err != nil {
					return err
				}
				rows = append(rows, typeRow{
					PostType:  pt,
					Meta:      meta,
					Available: slices.Contains(available, pt.Name),
					Active:    slices.Contains(active, pt.Name),
				})
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}

			fmt.Fprintf(out, "%-20s %-24s %-10s %-10s %-7s\n", "NAME", "LABEL", "BUILTIN", "AVAILABLE", "ACTIVE")
			fmt.Fprintf(out, "%-20s %-24s %-10s %-10s %-7s\n", "----", "-----", "-------", "---------", "------")
			for _, r := range rows {
				fmt.Fprintf(out, "%-20s %-24s %-10s %-10s %-7s\n",
					r.Name, r.Label, yesNo(r.Builtin), yesNo(r.Available), yesNo(r.Active))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
