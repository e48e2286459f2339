package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iyulab/threat-forecaster/internal/recovery"
)

func newRepairCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "repair <response.txt>",
		Short: "Recover a forecast from a saved raw model response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, false)
			if err != nil {
				return err
			}
			logger, err := newLogger(cmd, cfg)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			if output == "" {
				output = strings.TrimSuffix(args[0], ".txt") + ".repaired.json"
			}
			strategy, err := repairFile(args[0], output, recovery.NewEngine(nil, logger))
			if err != nil {
				return err
			}
			fmt.Printf("Recovered with %q strategy: %s\n", strategy, output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "where to write the recovered JSON (default <input>.repaired.json)")
	return cmd
}

func repairFile(in, out string, engine *recovery.Engine) (string, error) {
	raw, err := os.ReadFile(in)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	rec, err := engine.Recover(string(raw))
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(rec.Object, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal repaired response: %w", err)
	}
	if err := os.WriteFile(out, data, 0644); err != nil {
		return "", fmt.Errorf("write repaired response: %w", err)
	}
	return rec.Strategy, nil
}
