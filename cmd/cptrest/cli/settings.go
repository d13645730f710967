package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cptrest/cptrest/internal/model"
	"github.com/cptrest/cptrest/internal/settings"
)

const reloadHint = "A running server re-plans its routes when settings change through the admin API; restart it to pick up CLI changes."

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show and change gateway settings",
		Long:  "Read and update the base segment, active post types, relationship toggle and non-public inclusion rules.",
	}

	cmd.AddCommand(newSettingsShowCmd())
	cmd.AddCommand(newSettingsSetCmd())
	cmd.AddCommand(newSettingsResetTypesCmd())

	return cmd
}

type settingsView struct {
	model.Settings
	Namespace string   `json:"namespace"`
	Available []string `json:"available_types"`
	Effective []string `json:"effective_active_types"`
}

func (a *app) settingsView(cmd *cobra.Command) (*settingsView, error) {
	ctx := cmd.Context()
	snap, err := a.settings.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	available, err := a.catalog.Available(ctx)
	if err != nil {
		return nil, err
	}
	plan, _, err := a.catalog.CurrentPlan(ctx)
	if err != nil {
		return nil, err
	}
	return &settingsView{
		Settings:  snap,
		Namespace: plan.Namespace(),
		Available: available,
		Effective: plan.ActiveTypes,
	}, nil
}

func printSettings(cmd *cobra.Command, v *settingsView, jsonOutput bool) error {
	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	nonPublic := "(unset: all non-public types allowed)"
	if v.NonPublic != nil {
		nonPublic = "[" + strings.Join(v.NonPublic, ", ") + "]"
	}
	fmt.Fprintf(out, "Namespace:            /%s\n", v.Namespace)
	fmt.Fprintf(out, "Base segment:         %s\n", v.BaseSegment)
	fmt.Fprintf(out, "Relationships:        %t\n", v.RelationsEnabled)
	fmt.Fprintf(out, "Non-public inclusion: %s\n", nonPublic)
	fmt.Fprintf(out, "Available types:      %s\n", strings.Join(v.Available, ", "))
	fmt.Fprintf(out, "Selected types:       %s\n", strings.Join(v.ActiveTypes, ", "))
	fmt.Fprintf(out, "Routed types:         %s\n", strings.Join(v.Effective, ", "))
	return nil
}

// ---------- settings show ----------

func newSettingsShowCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the current settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			v, err := a.settingsView(cmd)
			if err != nil {
				return err
			}
			return printSettings(cmd, v, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- settings set ----------

func newSettingsSetCmd() *cobra.Command {
	var (
		segment        string
		active         []string
		relations      bool
		nonPublic      []string
		clearNonPublic bool
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update one or more settings",
		Example: `  cptrest settings set --base-segment api
  cptrest settings set --active event,venue --relations
  cptrest settings set --nonpublic publicly_queryable,show_ui
  cptrest settings set --clear-nonpublic`,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			var u settings.Update
			if flags.Changed("base-segment") {
				u.BaseSegment = &segment
			}
			if flags.Changed("relations") {
				u.RelationsEnabled = &relations
			}
			if flags.Changed("nonpublic") {
				u.NonPublic = &nonPublic
			}
			if !flags.Changed("active") && u == (settings.Update{}) && !clearNonPublic {
				return fmt.Errorf("nothing to change; see 'cptrest settings set --help'")
			}

			a, err := openApp(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := cmd.Context()

			if clearNonPublic {
				if err := a.settings.ClearNonPublic(ctx); err != nil {
					return err
				}
			}
			// Inclusion rules change availability, so they go first.
			if u != (settings.Update{}) {
				if err := a.settings.Apply(ctx, u, nil); err != nil {
					return err
				}
			}
			if flags.Changed("active") {
				available, err := a.catalog.Available(ctx)
				if err != nil {
					return err
				}
				if err := a.settings.Apply(ctx, settings.Update{ActiveTypes: &active}, available); err != nil {
					return err
				}
			}

			v, err := a.settingsView(cmd)
			if err != nil {
				return err
			}
			if err := printSettings(cmd, v, false); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout())
			fmt.Fprintln(cmd.OutOrStdout(), reloadHint)
			return nil
		},
	}

	cmd.Flags().StringVar(&segment, "base-segment", "", "Base path segment of the namespace")
	cmd.Flags().StringSliceVar(&active, "active", nil, "Post types to expose (replaces the current list)")
	cmd.Flags().BoolVar(&relations, "relations", false, "Enable relationship routes")
	cmd.Flags().StringSliceVar(&nonPublic, "nonpublic", nil, "Non-public visibility classes to include (publicly_queryable, show_ui, private)")
	cmd.Flags().BoolVar(&clearNonPublic, "clear-nonpublic", false, "Remove the non-public inclusion rules")

	return cmd
}

// ---------- settings reset-types ----------

func newSettingsResetTypesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-types",
		Short: "Deactivate every post type",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.settings.ResetActiveTypes(cmd.Context()); err != nil {
				return err
			}
			a.logger.Info("active post types reset", "event", "active_types_reset", "source", "cli")
			fmt.Fprintln(cmd.OutOrStdout(), "All post types deactivated.")
			fmt.Fprintln(cmd.OutOrStdout(), reloadHint)
			return nil
		},
	}
}
