package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var questionsCmd = &cobra.Command{
	Use:   "questions",
	Short: "Manage sharp questions",
}

var questionsSynthCmd = &cobra.Command{
	Use:   "synth <theme-id>",
	Short: "Synthesize sharp questions from the theme's problem statements",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		inserted, err := env.Engine.SynthesizeQuestions(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("inserted %d new questions\n", inserted)
		return nil
	},
	Args: cobra.ExactArgs(1),
}

var questionsListCmd = &cobra.Command{
	Use:   "list <theme-id>",
	Short: "List a theme's questions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		questions, err := st.ListQuestionsByTheme(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		for _, q := range questions {
			fmt.Printf("%s  %s\n", q.ID, q.Text)
		}
		return nil
	},
}

func init() {
	questionsCmd.AddCommand(questionsSynthCmd, questionsListCmd)
	rootCmd.AddCommand(questionsCmd)
}
