package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/civicband/civic-observer-sub002/internal/notify"
)

var digestFrequency string

var digestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Send the aggregated digest for flagged saved searches",
	Long: `Drain the pending flags for one notification frequency: every owner with
flagged saved searches gets one aggregated message covering all of them.
Intended to run from cron (daily and weekly).`,
	RunE: runDigest,
}

func init() {
	digestCmd.Flags().StringVar(&digestFrequency, "frequency", "daily", "digest stream: daily or weekly")
}

func runDigest(cmd *cobra.Command, _ []string) error {
	p, err := buildPipeline()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	var summary *notify.DigestSummary
	switch digestFrequency {
	case "daily":
		summary, err = p.daily.RunDaily(ctx)
	case "weekly":
		summary, err = p.daily.RunWeekly(ctx)
	default:
		return fmt.Errorf("unknown frequency %q (want daily or weekly)", digestFrequency)
	}
	if err != nil {
		return err
	}

	fmt.Printf("emails_sent=%d searches_notified=%d searches_remaining=%d\n",
		summary.EmailsSent, summary.SearchesNotified, summary.SearchesRemaining)
	return nil
}
