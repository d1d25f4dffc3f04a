package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/civicforge/deliberate/internal/model"
)

var themesCmd = &cobra.Command{
	Use:   "themes",
	Short: "Manage deliberation themes",
}

var (
	themeDescription  string
	themeCustomPrompt string
	themeInactive     bool
	themesActiveOnly  bool
)

var themesCreateCmd = &cobra.Command{
	Use:   "create <title> <slug>",
	Short: "Create a theme",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		theme, err := st.CreateTheme(cmd.Context(), model.Theme{
			Title:        args[0],
			Slug:         args[1],
			Description:  themeDescription,
			CustomPrompt: themeCustomPrompt,
			Active:       !themeInactive,
		})
		if err != nil {
			return err
		}
		fmt.Printf("created theme %s (%s)\n", theme.ID, theme.Slug)
		return nil
	},
}

var themesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List themes",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		themes, err := st.ListThemes(cmd.Context(), themesActiveOnly)
		if err != nil {
			return err
		}
		for _, t := range themes {
			state := "active"
			if !t.Active {
				state = "inactive"
			}
			fmt.Printf("%s  %-20s  %-10s  %s\n", t.ID, t.Slug, state, t.Title)
		}
		return nil
	},
}

func init() {
	themesCreateCmd.Flags().StringVar(&themeDescription, "description", "", "theme description")
	themesCreateCmd.Flags().StringVar(&themeCustomPrompt, "custom-prompt", "", "extra extraction instructions for this theme")
	themesCreateCmd.Flags().BoolVar(&themeInactive, "inactive", false, "create the theme inactive")
	themesListCmd.Flags().BoolVar(&themesActiveOnly, "active", false, "only active themes")
	themesCmd.AddCommand(themesCreateCmd, themesListCmd)
	rootCmd.AddCommand(themesCmd)
}
