package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ChrisMcGann/msnconv/pkg/config"
	"github.com/ChrisMcGann/msnconv/pkg/core"
	"github.com/ChrisMcGann/msnconv/pkg/reader/mzml"
	"github.com/ChrisMcGann/msnconv/pkg/source"
	"github.com/ChrisMcGann/msnconv/pkg/writer/msn"
	"github.com/ChrisMcGann/msnconv/pkg/writer/sqlite"
)

// Supported export levels
const (
	minLevel = 1
	maxLevel = 3
)

var levelPattern = regexp.MustCompile(`^\d+$`)

var warnColor = color.New(color.FgYellow)

// ErrUsage marks invalid command line input.
var ErrUsage = errors.New("usage: msnconv convert <file> --level <1-3>")

var convertCmd = &cobra.Command{
	Use:   "convert [file]",
	Short: "Convert an acquisition run to MS1/MS2/MS3 text",
	Long: `Convert the scans of one MS level to the tab-separated MSn text format.

Settings are read from msnconv.toml next to the input file or in the working
directory; flags override the file. Without arguments on a terminal the file
and level are prompted for.

Examples:
  # Export MS2 spectra to run01.ms2
  msnconv convert run01.mzML --level 2

  # Per-window peak picking, four decoders, with a scan index
  msnconv convert run01.mzML --level 2 --strategy window --workers 4 --index-db run01.db`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConvert,
}

// ParseLevel validates an MS level typed by the user.
func ParseLevel(s string) (int, error) {
	s = strings.TrimSpace(s)
	if !levelPattern.MatchString(s) {
		return 0, fmt.Errorf("invalid MS level '%s': %w", s, ErrUsage)
	}
	level, err := strconv.Atoi(s)
	if err != nil || level < minLevel || level > maxLevel {
		return 0, fmt.Errorf("MS level must be between %d and %d, got '%s': %w", minLevel, maxLevel, s, ErrUsage)
	}
	return level, nil
}

// convertJob is one fully resolved conversion.
type convertJob struct {
	Input  string
	Level  int
	Output string
	Config config.Config
	Quiet  bool
}

func runConvert(cmd *cobra.Command, args []string) error {
	var (
		input string
		level int
		err   error
	)

	switch {
	case len(args) == 1:
		input = args[0]
		if levelArg == "" {
			return fmt.Errorf("missing --level: %w", ErrUsage)
		}
		if level, err = ParseLevel(levelArg); err != nil {
			return err
		}
	case term.IsTerminal(int(os.Stdin.Fd())):
		input, level, err = prompt(os.Stdin, cmd.OutOrStdout())
		if err != nil {
			return err
		}
	default:
		return ErrUsage
	}

	// Validate input file exists
	if err := source.CheckPath(input); err != nil {
		return err
	}

	cfg, cfgPath, err := config.Resolve(configFile, input)
	if err != nil {
		return err
	}
	applyFlags(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	base := input
	if outputFile != "" {
		base = outputFile
	}
	out := msn.OutputPath(base, level, cfg.Export.KeepOriginalName)
	if filepath.Clean(out) == filepath.Clean(input) {
		return fmt.Errorf("output %s would overwrite the input, give another --out: %w", out, ErrUsage)
	}

	if !quiet && cfgPath != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Config: %s\n", cfgPath)
	}

	job := convertJob{Input: input, Level: level, Output: out, Config: cfg, Quiet: quiet}
	return convert(cmd.Context(), job, cmd.OutOrStdout(), cmd.ErrOrStderr())
}

// applyFlags copies explicitly set flags over the file configuration.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("strategy") {
		cfg.Filter.Strategy = strategy
	}
	if flags.Changed("cutoff") {
		cfg.Filter.RelativeThresholdPercent = cutoffPercent
	}
	if flags.Changed("max-peaks") {
		cfg.Filter.MaxPeaks = maxPeaks
	}
	if flags.Changed("window-size") {
		cfg.Filter.WindowSize = windowSize
	}
	if flags.Changed("ions-per-window") {
		cfg.Filter.IonsPerWindow = ionsPerWindow
	}
	if flags.Changed("workers") {
		cfg.Parse.Workers = workers
	}
	if flags.Changed("normalize") {
		cfg.Parse.Normalize = normalize
	}
	if flags.Changed("scan-header") {
		cfg.Parse.SaveScanHeader = saveScanHeader
	}
	if flags.Changed("instrument") {
		cfg.Parse.Instruments = instruments
	}
	if flags.Changed("activation") {
		cfg.Parse.Activations = activations
	}
	if flags.Changed("keep-name") {
		cfg.Export.KeepOriginalName = keepName
	}
	if flags.Changed("atomic") {
		cfg.Export.Atomic = atomicOutput
	}
	if flags.Changed("index-db") {
		cfg.Export.IndexDB = indexDB
	}
}

// convert parses the run and writes the text export and optional index.
func convert(ctx context.Context, job convertJob, stdout, stderr io.Writer) error {
	opts, err := job.Config.ParseOptions(job.Level)
	if err != nil {
		return err
	}
	opts.Warning = func(scanNumber int, err error) {
		warnColor.Fprintf(stderr, "Warning: scan %d: %v\n", scanNumber, err)
	}
	if !job.Quiet {
		fmt.Fprintf(stdout, "Converting %s to %s...\n", job.Input, job.Output)
		fmt.Fprintf(stdout, "MS level: %d\n", job.Level)
		fmt.Fprintf(stdout, "Peak selection: %s\n", job.Config.Filter.Strategy)
		opts.Progress = func(p source.Progress) {
			if p.Percent()%10 == 0 {
				fmt.Fprintf(stdout, "Parsing: %d%%\n", p.Percent())
			}
		}
	}

	spectra, err := source.ParseFile(ctx, mzml.OpenRun, job.Input, opts)
	if err != nil {
		return err
	}
	if len(spectra) == 0 {
		warnColor.Fprintf(stderr, "Warning: no MS%d spectra in %s, nothing written\n", job.Level, job.Input)
		return nil
	}

	// Both outputs carry the same creation date.
	now := time.Now()
	exportOpts := job.Config.ExportOptions()
	exportOpts.Now = func() time.Time { return now }
	if !job.Quiet {
		exportOpts.Progress = func(done, total int) {
			if done%1000 == 0 {
				fmt.Fprintf(stdout, "Written %d/%d spectra...\n", done, total)
			}
		}
	}
	if err := msn.ExportFile(spectra, job.Output, job.Level, exportOpts); err != nil {
		return err
	}

	if job.Config.Export.IndexDB != "" {
		if err := writeIndex(job, spectra, now); err != nil {
			return err
		}
	}

	if !job.Quiet {
		fmt.Fprintf(stdout, "\nConversion complete!\n")
		fmt.Fprintf(stdout, "Spectra: %d\n", len(spectra))
		fmt.Fprintf(stdout, "Output: %s\n", job.Output)
		if job.Config.Export.IndexDB != "" {
			fmt.Fprintf(stdout, "Index: %s\n", job.Config.Export.IndexDB)
		}
	}
	return nil
}

// writeIndex stores every exported spectrum in the SQLite scan index.
func writeIndex(job convertJob, spectra []core.Spectrum, created time.Time) error {
	writer, err := sqlite.NewWriter(job.Config.Export.IndexDB)
	if err != nil {
		return fmt.Errorf("failed to create index database: %w", err)
	}

	for _, spec := range spectra {
		if err := writer.WriteSpectrum(spec); err != nil {
			writer.Abort()
			return err
		}
	}

	err = writer.WriteHeader(sqlite.Header{
		CreationDate: created,
		SourceFile:   job.Input,
		Extractor:    job.Config.Export.Extractor,
		Version:      job.Config.Export.Version,
		MSnLevel:     job.Level,
		FirstScan:    spectra[0].ScanNumber,
		LastScan:     spectra[len(spectra)-1].ScanNumber,
	})
	if err != nil {
		writer.Abort()
		return err
	}

	if err := writer.Finalize(); err != nil {
		return fmt.Errorf("failed to finalize index database: %w", err)
	}
	return nil
}

// prompt asks for the run file and the MS level, re-asking until the path
// is non-empty and the level is valid.
func prompt(in io.Reader, out io.Writer) (string, int, error) {
	scanner := bufio.NewScanner(in)

	var path string
	for path == "" {
		fmt.Fprint(out, "Enter the path to the run file: ")
		if !scanner.Scan() {
			return "", 0, inputEnded(scanner)
		}
		path = strings.Trim(strings.TrimSpace(scanner.Text()), `"`)
	}

	for {
		fmt.Fprintf(out, "Enter the MS level to export (%d-%d): ", minLevel, maxLevel)
		if !scanner.Scan() {
			return "", 0, inputEnded(scanner)
		}
		level, err := ParseLevel(scanner.Text())
		if err == nil {
			return path, level, nil
		}
		warnColor.Fprintf(out, "%s is not a valid MS level\n", strings.TrimSpace(scanner.Text()))
	}
}

func inputEnded(scanner *bufio.Scanner) error {
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	return ErrUsage
}
