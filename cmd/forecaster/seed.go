package main

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/spf13/cobra"

	"github.com/iyulab/threat-forecaster/internal/events"
)

func newSeedCmd() *cobra.Command {
	var (
		feedPath string
		output   string
		seed     uint64
		opts     = events.DefaultSimulateOptions()
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Synthesise detection events from a CVE feed",
		Long: `seed spreads synthetic detections of the feed's CVEs over the lookback
window. Severe and analysed CVEs are detected more often. Use it to try the
pipeline without a real event export.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := events.LoadFeed(feedPath)
			if err != nil {
				return err
			}
			if seed == 0 {
				seed = uint64(time.Now().UnixNano())
			}
			evs := events.Simulate(rows, opts, rand.New(rand.NewPCG(seed, seed>>1)))
			if err := events.Save(output, evs); err != nil {
				return err
			}
			fmt.Printf("Wrote %d events from a feed of %d CVEs to %s\n", len(evs), len(rows), output)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&feedPath, "feed", "forecast_feed.json", "CVE feed file")
	f.StringVarP(&output, "output", "o", "events.json", "where to write the events")
	f.IntVar(&opts.LookbackDays, "days", opts.LookbackDays, "days of history to spread events over")
	f.IntVar(&opts.SampleSize, "sample", opts.SampleSize, "CVEs to sample from the feed")
	f.Uint64Var(&seed, "seed", 0, "random seed for reproducible output (0 = time based)")
	return cmd
}
