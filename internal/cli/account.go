package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/credo-app/credo/internal/daemon"
)

func init() {
	accountCmd.AddCommand(accountOpenCmd, accountShowCmd, accountHistoryCmd)
	accountHistoryCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum entries to show")
	rootCmd.AddCommand(accountCmd)
}

var historyLimit int

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage credibility accounts",
}

var accountOpenCmd = &cobra.Command{
	Use:   "open USER FREQUENCY",
	Short: "Open an account committing to FREQUENCY goals per week",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		freq, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("frequency: %w", err)
		}
		d, err := daemon.New()
		if err != nil {
			return err
		}
		defer d.Close()

		acct, err := d.Credibility.OpenAccount(context.Background(), args[0], freq)
		if err != nil {
			return err
		}
		fmt.Printf("Opened %s (%d goals/week, score %.1f)\n", acct.UserID, acct.Frequency, acct.Score)
		return nil
	},
}

var accountShowCmd = &cobra.Command{
	Use:   "show USER",
	Short: "Show a credibility account and its open week",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := daemon.New()
		if err != nil {
			return err
		}
		defer d.Close()

		acct, err := d.Credibility.Account(context.Background(), args[0])
		if err != nil {
			return err
		}
		week := d.Credibility.CurrentWeek()

		fmt.Printf("User:      %s\n", acct.UserID)
		fmt.Printf("Score:     %.1f\n", acct.Score)
		fmt.Printf("Frequency: %d/week\n", acct.Frequency)
		fmt.Printf("Progress:  %d/%d (%s)\n", acct.CurrentProgress, acct.Frequency, week.Key)
		fmt.Printf("Opened:    %s\n", acct.CreatedAt.Format("2006-01-02 15:04:05"))
		return nil
	},
}

var accountHistoryCmd = &cobra.Command{
	Use:   "history USER",
	Short: "Show credibility ledger entries, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := daemon.New()
		if err != nil {
			return err
		}
		defer d.Close()

		entries, err := d.Credibility.History(context.Background(), args[0], historyLimit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No ledger entries yet.")
			return nil
		}
		for _, e := range entries {
			fmt.Printf("%s  %-17s %+6.1f  %s\n",
				e.CreatedAt.Format("2006-01-02 15:04"), e.Kind, e.Delta, e.Week)
		}
		return nil
	},
}
