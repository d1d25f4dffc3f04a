package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Run statement extraction",
}

var extractThreadCmd = &cobra.Command{
	Use:   "thread <thread-id>",
	Short: "Extract statements from a chat thread's latest user message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		return env.Engine.ExtractFromChat(cmd.Context(), args[0])
	},
}

var extractImportsCmd = &cobra.Command{
	Use:   "imports <theme-id>",
	Short: "Process all pending imported items for a theme",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		processed, err := env.Engine.ProcessPendingImports(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("processed %d items\n", processed)
		return nil
	},
}

func init() {
	extractCmd.AddCommand(extractThreadCmd, extractImportsCmd)
	rootCmd.AddCommand(extractCmd)
}
