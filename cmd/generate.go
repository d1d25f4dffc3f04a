package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var generateCmd = &cobra.Command{
	Use:   "generate <kind> <question-id>",
	Short: "Generate a document for a question",
	Long:  "Kinds: policy_draft, digest, report_example, debate_analysis, visual_report. Each run appends a new version.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		generate, ok := env.documentGenerator(args[0])
		if !ok {
			return eris.Errorf("unknown document kind %q", args[0])
		}

		doc, err := generate(cmd.Context(), args[1])
		if err != nil {
			return err
		}
		fmt.Printf("generated %s v%d (%s)\n", doc.Kind, doc.Version, doc.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(generateCmd)
}
