package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/iyulab/threat-forecaster/internal/events"
)

func newFeedCmd() *cobra.Command {
	var (
		input  string
		output string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Curate a CVE feed by EPSS and CVSS signal",
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := events.LoadFeed(input)
			if err != nil {
				return err
			}
			curated := events.Curate(rows, limit)
			if err := events.SaveFeed(output, curated, time.Now()); err != nil {
				return err
			}
			fmt.Printf("Kept %d of %d CVEs: %s\n", len(curated), len(rows), output)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&input, "input", "i", "cve_rows.json", "raw CVE rows")
	f.StringVarP(&output, "output", "o", "forecast_feed.json", "curated feed file")
	f.IntVarP(&limit, "limit", "n", 150, "maximum CVEs to keep (0 = all)")
	return cmd
}
