package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/austindbirch/activitylogger/internal/db"
	"github.com/austindbirch/activitylogger/internal/deadletter"
)

var failuresLimit int

// failureLister is the read side of the failure store.
type failureLister interface {
	List(ctx context.Context, limit int) ([]deadletter.Record, error)
}

var failuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "Inspect permanently failed deliveries",
}

var failuresListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the most recent failed deliveries stored in Postgres",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		pool, err := db.Connect(ctx, cfg.DSN())
		if err != nil {
			return err
		}
		defer pool.Close()
		return listFailures(ctx, cmd, deadletter.NewPostgresStore(pool), failuresLimit)
	},
}

func listFailures(ctx context.Context, cmd *cobra.Command, store failureLister, limit int) error {
	records, err := store.List(ctx, limit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if outputJSON {
		return printJSON(out, records)
	}
	if len(records) == 0 {
		fmt.Fprintln(out, "no failed deliveries")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FAILED AT\tJOB\tEVENT\tREASON\tATTEMPTS\tSTATUS")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\n",
			r.FailedAt.UTC().Format(time.RFC3339), r.JobID, r.Event, r.Reason, r.Attempts, r.HTTPStatus)
	}
	return tw.Flush()
}

func init() {
	rootCmd.AddCommand(failuresCmd)
	failuresCmd.AddCommand(failuresListCmd)
	failuresListCmd.Flags().IntVar(&failuresLimit, "limit", 20, "number of failures to show")
}
