package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models [filter]",
		Short: "List models offered by the chat API",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			client, err := newLLMClient(settings, nil)
			if err != nil {
				return err
			}

			models, err := client.ListModels(cmd.Context())
			if err != nil {
				return err
			}

			for _, m := range models {
				if len(args) == 1 && !strings.Contains(m, args[0]) {
					continue
				}
				fmt.Println(m)
			}
			return nil
		},
	}
}
