package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/giantswarm/prompt-testing/internal/server"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available prompts and their test cases",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}

			sc := &server.ServerContext{SuitesDir: settings.SuitesDir}
			prompts, errs, err := sc.ListPrompts()
			if err != nil {
				return err
			}

			if len(prompts) == 0 && len(errs) == 0 {
				fmt.Println("No prompts found.")
				return nil
			}

			fmt.Printf("Available prompts:\n\n")
			for _, p := range prompts {
				fmt.Printf("  - %s\n", p.Name)
				if p.Description != "" {
					fmt.Printf("    Description: %s\n", p.Description)
				}
				fmt.Printf("    Test cases: %s\n", joinOrNone(p.TestCases))
				fmt.Printf("    Mocked tools: %s\n\n", joinOrNone(p.Tools))
			}
			for _, e := range errs {
				fmt.Printf("  ! %v\n", e)
			}

			return nil
		},
	}
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return strings.Join(items, ", ")
}
