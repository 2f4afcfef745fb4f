package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/newthinker/dexfeed/internal/app"
	"github.com/newthinker/dexfeed/internal/core"
	"github.com/newthinker/dexfeed/internal/poller"
	"github.com/spf13/cobra"
)

var (
	fetchTimeout time.Duration
	fetchPairs   []string
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <adapter> <feed>",
	Short: "Run one forced cycle of a feed and print the outcome",
	Example: `  dexfeed fetch native levels -c config.yaml
  dexfeed fetch native levels --pair 0xc02a...:0xa0b8...`,
	Args: cobra.ExactArgs(2),
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().DurationVar(&fetchTimeout, "timeout", 30*time.Second, "overall timeout")
	fetchCmd.Flags().StringSliceVar(&fetchPairs, "pair", nil, "base:quote token addresses to price after the fetch")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	application, err := app.New(cfg, log)
	if err != nil {
		return fmt.Errorf("creating app: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()

	res, err := application.Fetch(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s in %s\n", res.Feed, res.Outcome, res.Duration.Round(time.Millisecond))
	if res.Outcome != poller.OutcomeSucceeded {
		return res.Err
	}

	if len(fetchPairs) == 0 {
		return nil
	}
	pairs, err := parsePairs(fetchPairs)
	if err != nil {
		return err
	}
	prices, err := application.Prices(ctx, args[0], pairs)
	if err != nil {
		return err
	}
	for _, p := range prices {
		if !p.Available {
			fmt.Printf("  %s  unavailable\n", p.Pair)
			continue
		}
		fmt.Printf("  %s  bid=%s ask=%s\n", p.Pair, p.Bid, p.Ask)
	}
	return nil
}

func parsePairs(raw []string) ([]core.Pair, error) {
	out := make([]core.Pair, 0, len(raw))
	for _, r := range raw {
		base, quote, ok := strings.Cut(r, ":")
		if !ok || base == "" || quote == "" {
			return nil, fmt.Errorf("invalid pair %q, want base:quote", r)
		}
		out = append(out, core.NewPair(base, quote))
	}
	return out, nil
}
