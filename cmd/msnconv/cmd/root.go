// Package cmd provides CLI command implementations
package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var (
	// Flags for convert command
	levelArg       string
	outputFile     string
	keepName       bool
	configFile     string
	strategy       string
	cutoffPercent  float64
	maxPeaks       int
	windowSize     float32
	ionsPerWindow  int
	workers        int
	normalize      bool
	saveScanHeader bool
	instruments    []string
	activations    []string
	atomicOutput   bool
	indexDB        string
	quiet          bool
)

var rootCmd = &cobra.Command{
	Use:   "msnconv",
	Short: "msnconv - MS1/MS2/MS3 text export for mass spectrometry runs",
	Long: `msnconv reads the scans of an acquisition run, reduces each peak list and
writes the spectra of one MS level to the tab-separated MS1/MS2/MS3 format.

Supports:
- Relative intensity cutoff with a global peak cap
- Per m/z window peak picking
- Optional unit-norm intensity scaling
- SQLite scan index alongside the text export`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// ExecuteContext runs the root command with ctx.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(infoCmd)

	// Convert command flags
	convertCmd.Flags().StringVarP(&levelArg, "level", "l", "", "MS level to export: 1, 2 or 3")
	convertCmd.Flags().StringVarP(&outputFile, "out", "o", "", "Output file name; its extension becomes .ms<level> unless --keep-name (default: input name)")
	convertCmd.Flags().BoolVar(&keepName, "keep-name", false, "Use the --out name as given")
	convertCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to msnconv.toml (default: next to input or in working directory)")
	convertCmd.Flags().StringVar(&strategy, "strategy", "", "Peak selection: threshold, window or both")
	convertCmd.Flags().Float64Var(&cutoffPercent, "cutoff", 0, "Intensity cutoff as % of base peak")
	convertCmd.Flags().IntVar(&maxPeaks, "max-peaks", 0, "Keep only top N most intense peaks (0 = no limit)")
	convertCmd.Flags().Float32Var(&windowSize, "window-size", 0, "m/z width of a picking window")
	convertCmd.Flags().IntVar(&ionsPerWindow, "ions-per-window", 0, "Peaks kept per window")
	convertCmd.Flags().IntVar(&workers, "workers", 0, "Number of concurrent scan decoders")
	convertCmd.Flags().BoolVar(&normalize, "normalize", false, "Scale intensities to unit norm")
	convertCmd.Flags().BoolVar(&saveScanHeader, "scan-header", false, "Keep the scan filter string (index database only)")
	convertCmd.Flags().StringSliceVar(&instruments, "instrument", nil, "Only export scans from these analyzers, e.g. FTMS,ITMS")
	convertCmd.Flags().StringSliceVar(&activations, "activation", nil, "Only export scans with these activations, e.g. HCD,CID")
	convertCmd.Flags().BoolVar(&atomicOutput, "atomic", false, "Only replace the output file once it is complete")
	convertCmd.Flags().StringVar(&indexDB, "index-db", "", "Also write a SQLite scan index to this path")
	convertCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress output")
}
