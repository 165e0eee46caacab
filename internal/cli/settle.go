package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/credo-app/credo/internal/app/settlement"
	"github.com/credo-app/credo/internal/daemon"
)

func init() {
	settleCmd.Flags().StringVar(&settleWeek, "week", "", "ISO week to settle, e.g. 2026-W41 (default: the week that just ended)")
	rootCmd.AddCommand(settleCmd)
}

var settleWeek string

var settleCmd = &cobra.Command{
	Use:   "settle",
	Short: "Settle a closed week now",
	Long: `Apply completion bonuses and failure penalties for a closed week.
Accounts already settled for that week are left untouched, so re-running is safe.`,
	RunE: runSettle,
}

func runSettle(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	ctx := context.Background()
	var report settlement.Report
	if settleWeek == "" {
		report, err = d.Job.Run(ctx)
	} else {
		week, perr := d.Settlement.ParseWeek(settleWeek)
		if perr != nil {
			return perr
		}
		report, err = d.Settlement.SettleWeek(ctx, week)
		if err == nil {
			err = report.Err()
		}
	}

	printReport(report)
	return err
}

func printReport(r settlement.Report) {
	fmt.Printf("Week:     %s\n", r.Week)
	fmt.Printf("Accounts: %d\n", r.Accounts)
	fmt.Printf("Settled:  %d\n", r.Settled)
	fmt.Printf("Already:  %d\n", r.Already)
	fmt.Printf("Failed:   %d\n", r.Failed)
	fmt.Printf("Net:      %+.1f\n", r.Net)
	fmt.Printf("Took:     %s\n", r.Duration.Round(time.Millisecond))
	for _, e := range r.Errors {
		fmt.Printf("  error: %s\n", e)
	}
}
