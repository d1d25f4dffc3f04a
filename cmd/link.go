package main

import (
	"github.com/spf13/cobra"
)

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Run relevance linking",
}

var linkStatementCmd = &cobra.Command{
	Use:   "statement <statement-id>",
	Short: "Judge one statement against every question in its theme",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		return env.Engine.LinkStatementToQuestions(cmd.Context(), args[0])
	},
}

var linkQuestionCmd = &cobra.Command{
	Use:   "question <question-id>",
	Short: "Judge every statement in the theme against one question",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		return env.Engine.LinkQuestionToAllItems(cmd.Context(), args[0])
	},
}

func init() {
	linkCmd.AddCommand(linkStatementCmd, linkQuestionCmd)
	rootCmd.AddCommand(linkCmd)
}
