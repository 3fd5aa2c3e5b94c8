package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/cwbudde/dicesim/internal/csvio"
	"github.com/cwbudde/dicesim/internal/dice"
	"github.com/spf13/cobra"
)

var paramsCmd = &cobra.Command{
	Use:   "params <dest.csv>",
	Short: "Write the resolved parameter set as an input CSV",
	Long: `Resolves the preset, --config file and --set overrides and writes every
scalar, exogenous path and initial condition as a key,value CSV. The file is a
valid driver input and a starting point for custom scenarios.`,
	Args: cobra.ExactArgs(1),
	RunE: runParams,
}

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List the built-in calibration presets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := dice.Presets()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PRESET\tDESCRIPTION")
		for _, name := range names {
			desc, err := dice.PresetDescription(name)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%s\n", name, desc)
		}
		return w.Flush()
	},
}

func init() {
	f := paramsCmd.Flags()
	f.StringVar(&runPreset, "preset", "", "Calibration preset")
	f.IntVar(&runHorizon, "horizon", 0, "Number of decision periods")
	f.StringToStringVar(&runSet, "set", nil, "Scalar parameter overrides (key=value,...)")
	rootCmd.AddCommand(paramsCmd)
	rootCmd.AddCommand(presetsCmd)
}

func runParams(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyDriverFlags(cmd, cfg); err != nil {
		return err
	}
	p, err := cfg.Parameters()
	if err != nil {
		return err
	}
	ic, err := cfg.InitialConditions(p)
	if err != nil {
		return err
	}

	f, err := os.Create(args[0])
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	if err := csvio.WriteParameters(f, p, ic); err != nil {
		f.Close()
		return fmt.Errorf("failed to write parameters: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (preset %s, horizon %d)\n", args[0], cfg.Preset, p.Horizon())
	return nil
}
