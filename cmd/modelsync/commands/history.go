package commands

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCommand() *cobra.Command {
	var (
		limit      int
		withEvents bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded synchronization passes",
		Example: `  modelsync history --db history.db
  modelsync history --db history.db --limit 5 --events`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, "history", func(ctx context.Context, rt *app) error {
				if rt.store == nil {
					return errors.New("no pass history database configured")
				}

				passes, err := rt.store.ListPasses(ctx, limit, 0)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), passes)
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tMODE\tSTATUS\tSTARTED\tOPERATIONS\tEXCLUDED\tUNRESOLVED")
				for _, p := range passes {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
						p.ID, p.Mode, p.Status, p.StartedAt.Format(time.RFC3339),
						p.Operations, p.Excluded, p.Unresolved)
				}
				if err := w.Flush(); err != nil {
					return err
				}

				if !withEvents {
					return nil
				}
				for _, p := range passes {
					id := p.ID
					events, err := rt.store.GetEvents(ctx, &id, nil, 100, 0)
					if err != nil {
						return err
					}
					for _, e := range events {
						fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s: %s\n", p.ID, e.Level, e.Type, e.Message)
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of passes to list")
	cmd.Flags().BoolVar(&withEvents, "events", false, "print the events of each pass")

	return cmd
}
