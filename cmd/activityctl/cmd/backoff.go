package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/austindbirch/activitylogger/internal/config"
	"github.com/austindbirch/activitylogger/internal/delivery"
)

var (
	backoffAttempts int
	backoffBase     int
	backoffMax      int
	backoffJitter   bool
)

// scheduleRow is the wait before one retry attempt, in seconds.
type scheduleRow struct {
	Attempt int `json:"attempt"`
	Min     int `json:"min_seconds"`
	Max     int `json:"max_seconds"`
}

var backoffCmd = &cobra.Command{
	Use:   "backoff",
	Short: "Preview the retry schedule",
	Long: `Print the wait that precedes each retry attempt. Unset flags fall back to
http.retry in the loaded configuration. With jitter the wait is drawn from
the printed range.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		policy := config.Default().Delivery.HTTP.Retry
		if cfg, err := loadConfig(); err == nil {
			policy = cfg.Delivery.HTTP.Retry
		}
		flags := cmd.Flags()
		if flags.Changed("attempts") {
			policy.Attempts = backoffAttempts
		}
		if flags.Changed("base") {
			policy.Backoff = backoffBase
		}
		if flags.Changed("max") {
			policy.MaxBackoff = backoffMax
		}
		if flags.Changed("jitter") {
			policy.Jitter = backoffJitter
		}

		rows := schedule(policy)
		out := cmd.OutOrStdout()
		if outputJSON {
			return printJSON(out, rows)
		}
		if len(rows) == 0 {
			fmt.Fprintln(out, "single attempt, no retries")
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ATTEMPT\tWAIT")
		for _, r := range rows {
			wait := fmt.Sprintf("%ds", r.Max)
			if r.Min != r.Max {
				wait = fmt.Sprintf("%d-%ds", r.Min, r.Max)
			}
			fmt.Fprintf(tw, "%d\t%s\n", r.Attempt, wait)
		}
		return tw.Flush()
	},
}

// schedule returns the wait range before attempts 2..N of the normalized policy.
func schedule(r config.Retry) []scheduleRow {
	r = r.Normalize()
	lowest := func(int) int { return 0 }
	highest := func(n int) int { return n - 1 }

	rows := make([]scheduleRow, 0, r.Attempts)
	for k := 2; k <= r.Attempts; k++ {
		rows = append(rows, scheduleRow{
			Attempt: k,
			Min:     delivery.Backoff(r.Backoff, k, r.MaxBackoff, r.Jitter, lowest),
			Max:     delivery.Backoff(r.Backoff, k, r.MaxBackoff, r.Jitter, highest),
		})
	}
	return rows
}

func init() {
	rootCmd.AddCommand(backoffCmd)
	backoffCmd.Flags().IntVar(&backoffAttempts, "attempts", 3, "total attempts")
	backoffCmd.Flags().IntVar(&backoffBase, "base", 5, "base backoff in seconds")
	backoffCmd.Flags().IntVar(&backoffMax, "max", 60, "maximum backoff in seconds")
	backoffCmd.Flags().BoolVar(&backoffJitter, "jitter", true, "randomize each wait")
}
