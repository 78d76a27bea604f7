package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect deployment run history",
	}

	cmd.AddCommand(newRunsListCommand())
	cmd.AddCommand(newRunsShowCommand())

	return cmd
}

func newRunsListCommand() *cobra.Command {
	var (
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := newRuntime(ctx, "", true)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			if rt.store == nil {
				return fmt.Errorf("run history is disabled (no store path configured)")
			}

			runs, err := rt.store.ListRuns(ctx, limit, offset)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tDEPLOYMENT\tENV\tSTATUS\tSTARTED")
			for _, run := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					run.ID, run.Deployment, run.Environment, run.Status,
					run.StartedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "runs to skip")

	return cmd
}

func newRunsShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run with its step results and rollback actions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := newRuntime(ctx, "", true)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			if rt.store == nil {
				return fmt.Errorf("run history is disabled (no store path configured)")
			}

			run, err := rt.store.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			actions, err := rt.store.RollbackActions(ctx, args[0])
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Run      any `json:"run"`
					Rollback any `json:"rollback_actions,omitempty"`
				}{run, actions})
			}

			printRun(run)
			if len(actions) > 0 {
				fmt.Println("  rollback actions:")
				for _, action := range actions {
					if action.Error != "" {
						fmt.Printf("    %s: FAILED: %s\n", action.Resource, action.Error)
					} else {
						fmt.Printf("    %s: cleaned\n", action.Resource)
					}
				}
			}
			return nil
		},
	}

	return cmd
}
