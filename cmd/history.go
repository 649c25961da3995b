package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/giantswarm/prompt-testing/internal/report"
	"github.com/giantswarm/prompt-testing/internal/store"
)

func newHistoryCmd() *cobra.Command {
	var (
		limit  int
		detail bool
	)

	cmd := &cobra.Command{
		Use:   "history [test-case]",
		Short: "Show past executions stored in the results database",
		Long: `List executions recorded in the SQLite results database, newest first.
Without a test case id every execution is listed. Requires --db.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			if settings.DBPath == "" {
				return errors.New("history needs a results database (--db or PROMPT_TESTING_DB_PATH)")
			}

			st, err := store.OpenSQLite(cmd.Context(), settings.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			var testCaseID string
			if len(args) == 1 {
				testCaseID = args[0]
			}
			executions, err := st.ListExecutions(cmd.Context(), testCaseID)
			if err != nil {
				return err
			}
			if len(executions) == 0 {
				fmt.Println("No executions found.")
				return nil
			}
			if limit > 0 && len(executions) > limit {
				executions = executions[:limit]
			}

			for i := range executions {
				exec := &executions[i]
				fmt.Printf("%s  ", exec.StartedAt.Local().Format("2006-01-02 15:04:05"))
				if detail {
					fmt.Println()
					report.Execution(os.Stdout, exec, false)
					fmt.Println()
					continue
				}
				fmt.Println(report.Summary(exec))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of executions to show (0 for all)")
	cmd.Flags().BoolVar(&detail, "detail", false, "Show the step tree of every execution")

	return cmd
}
