package cmd

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/ChrisMcGann/msnconv/pkg/reader/ms2"
	"github.com/ChrisMcGann/msnconv/pkg/reader/mzml"
	"github.com/ChrisMcGann/msnconv/pkg/source"
)

var infoCmd = &cobra.Command{
	Use:   "info [file]",
	Short: "Summarize the scans of an acquisition run",
	Long: `Print the scan range, the number of scans per MS level and the retention time range of a run.

Files named *.ms1, *.ms2 or *.ms3 are read as exported text; everything else as mzML.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInfo(cmd.Context(), args[0], cmd.OutOrStdout())
	},
}

// runSummary holds the statistics printed by info.
type runSummary struct {
	First, Last  int
	Scans        int
	Centroided   int
	Levels       map[int]int
	MinRT, MaxRT float64
}

func (s *runSummary) add(level int, rt float64, centroided bool) {
	if s.Scans == 0 || rt < s.MinRT {
		s.MinRT = rt
	}
	if s.Scans == 0 || rt > s.MaxRT {
		s.MaxRT = rt
	}
	s.Scans++
	s.Levels[level]++
	if centroided {
		s.Centroided++
	}
}

func summarize(ctx context.Context, run *mzml.File) (runSummary, error) {
	s := runSummary{Levels: make(map[int]int)}
	s.First, s.Last = run.ScanRange()

	for _, n := range run.ScanNumbers() {
		raw, err := run.Scan(ctx, n)
		if err != nil {
			return runSummary{}, fmt.Errorf("scan %d: %w", n, err)
		}
		s.add(raw.MSLevel, raw.RetentionTime, raw.Centroided)
	}
	return s, nil
}

// summarizeText reads an exported MSn file. Exported peaks are always
// centroided.
func summarizeText(path string, msnLevel int) (runSummary, error) {
	f, err := os.Open(path)
	if err != nil {
		return runSummary{}, fmt.Errorf("failed to open input file: %w", err)
	}
	defer f.Close()

	s := runSummary{Levels: make(map[int]int)}
	reader := ms2.NewReader(f, msnLevel)
	for reader.Next() {
		spec := reader.Spectrum()
		if s.Scans == 0 || spec.ScanNumber < s.First {
			s.First = spec.ScanNumber
		}
		if s.Scans == 0 || spec.ScanNumber > s.Last {
			s.Last = spec.ScanNumber
		}
		s.add(int(spec.MSLevel), spec.RetentionTime, true)
	}
	if err := reader.Err(); err != nil {
		return runSummary{}, fmt.Errorf("error reading input file: %w", err)
	}
	return s, nil
}

func runInfo(ctx context.Context, path string, out io.Writer) error {
	if err := source.CheckPath(path); err != nil {
		return err
	}
	var (
		s   runSummary
		err error
	)
	if level, ok := ms2.LevelFromPath(path); ok {
		s, err = summarizeText(path, level)
	} else {
		var run *mzml.File
		if run, err = mzml.Open(path); err != nil {
			return err
		}
		defer run.Close()
		s, err = summarize(ctx, run)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "File: %s\n", path)
	fmt.Fprintf(out, "Scans: %d\n", s.Scans)
	if s.Scans == 0 {
		return nil
	}
	fmt.Fprintf(out, "Scan range: %d-%d\n", s.First, s.Last)
	fmt.Fprintf(out, "Retention time: %.2f-%.2f min\n", s.MinRT, s.MaxRT)
	for _, level := range slices.Sorted(maps.Keys(s.Levels)) {
		fmt.Fprintf(out, "MS%d: %d\n", level, s.Levels[level])
	}
	fmt.Fprintf(out, "Centroided: %d\n", s.Centroided)
	return nil
}
