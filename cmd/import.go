package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/civicforge/deliberate/internal/model"
)

var (
	importSourceKind string
	importProcess    bool
)

// importLine is one record of a JSONL import file. Plain-text lines (not
// valid JSON) are accepted as bare content.
type importLine struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

var importCmd = &cobra.Command{
	Use:   "import <theme-id> <file>",
	Short: "Queue imported items from a JSONL or plain-text file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		themeID := args[0]

		f, err := os.Open(args[1])
		if err != nil {
			return eris.Wrap(err, "open import file")
		}
		defer f.Close() //nolint:errcheck

		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		theme, err := env.Store.GetTheme(cmd.Context(), themeID)
		if err != nil {
			return err
		}
		if theme == nil {
			return eris.Errorf("theme %s not found", themeID)
		}

		queued := 0
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			text := strings.TrimSpace(scanner.Text())
			if text == "" {
				continue
			}

			line := importLine{Content: text}
			if strings.HasPrefix(text, "{") {
				if err := json.Unmarshal([]byte(text), &line); err != nil || line.Content == "" {
					line = importLine{Content: text}
				}
			}

			if _, err := env.Store.CreateImportedItem(cmd.Context(), model.ImportedItem{
				ThemeID:    themeID,
				SourceKind: importSourceKind,
				Content:    line.Content,
				Metadata:   line.Metadata,
			}); err != nil {
				return err
			}
			queued++
		}
		if err := scanner.Err(); err != nil {
			return eris.Wrap(err, "read import file")
		}

		fmt.Printf("queued %d items\n", queued)

		if importProcess {
			processed, err := env.Engine.ProcessPendingImports(cmd.Context(), themeID)
			if err != nil {
				return err
			}
			fmt.Printf("processed %d items\n", processed)
		}
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importSourceKind, "source", "other_import", "source kind label (e.g. tweet)")
	importCmd.Flags().BoolVar(&importProcess, "process", false, "run extraction immediately after queueing")
	rootCmd.AddCommand(importCmd)
}
