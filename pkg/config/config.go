// Package config loads msnconv.toml conversion settings
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/ChrisMcGann/msnconv/pkg/core"
	"github.com/ChrisMcGann/msnconv/pkg/filter"
	"github.com/ChrisMcGann/msnconv/pkg/source"
	"github.com/ChrisMcGann/msnconv/pkg/writer/msn"
)

// FileName is the configuration file looked up by Discover.
const FileName = "msnconv.toml"

// Config is the full set of conversion settings.
type Config struct {
	Filter FilterConfig `toml:"filter"`
	Parse  ParseConfig  `toml:"parse"`
	Export ExportConfig `toml:"export"`
}

// FilterConfig selects and tunes the peak selection strategy.
type FilterConfig struct {
	Strategy                 string  `toml:"strategy"`
	RelativeThresholdPercent float64 `toml:"relative_threshold_percent"`
	MaxPeaks                 int     `toml:"max_peaks"`
	WindowSize               float32 `toml:"window_size"`
	IonsPerWindow            int     `toml:"ions_per_window"`
}

// ParseConfig controls scan traversal.
type ParseConfig struct {
	Workers        int   `toml:"workers"`
	SaveScanHeader bool  `toml:"save_scan_header"`
	Normalize      bool  `toml:"normalize"`
	FileIndex      int16 `toml:"file_index"`

	// Instrument and activation names, e.g. ["FTMS"] or ["HCD", "CID"].
	// Empty keeps every scan.
	Instruments []string `toml:"instruments"`
	Activations []string `toml:"activations"`
}

// ExportConfig controls the written files.
type ExportConfig struct {
	Extractor        string `toml:"extractor"`
	Version          string `toml:"version"`
	KeepOriginalName bool   `toml:"keep_original_name"`
	Atomic           bool   `toml:"atomic"`
	IndexDB          string `toml:"index_db"`
}

// Default returns the settings used when no file is present.
func Default() Config {
	fc := filter.DefaultConfig()
	return Config{
		Filter: FilterConfig{
			Strategy:                 fc.Strategy,
			RelativeThresholdPercent: fc.RelativeThresholdPercent,
			MaxPeaks:                 fc.MaxPeaks,
			WindowSize:               fc.WindowSize,
			IonsPerWindow:            fc.IonsPerWindow,
		},
		Parse: ParseConfig{
			Workers:   1,
			FileIndex: core.SingleFile,
		},
		Export: ExportConfig{
			Extractor: msn.DefaultExtractor,
			Version:   msn.DefaultVersion,
		},
	}
}

// Load reads path on top of Default. Keys missing from the file keep
// their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%s: unknown key %q", path, undecoded[0].String())
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Discover looks for FileName next to inputPath, then in the working
// directory. It returns "" when neither exists.
func Discover(inputPath string) (string, error) {
	dirs := []string{filepath.Dir(inputPath), "."}
	for _, dir := range dirs {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
	}
	return "", nil
}

// Resolve loads explicitPath when given, otherwise the discovered file,
// otherwise the defaults. The returned path is "" for defaults.
func Resolve(explicitPath, inputPath string) (Config, string, error) {
	path := explicitPath
	if path == "" {
		found, err := Discover(inputPath)
		if err != nil {
			return Config{}, "", err
		}
		path = found
	}
	if path == "" {
		return Default(), "", nil
	}
	cfg, err := Load(path)
	if err != nil {
		return Config{}, "", err
	}
	return cfg, path, nil
}

// Validate rejects values no conversion can honour.
func (c Config) Validate() error {
	if c.Filter.RelativeThresholdPercent < 0 || c.Filter.RelativeThresholdPercent > 100 {
		return fmt.Errorf("filter.relative_threshold_percent must be between 0 and 100, got %v", c.Filter.RelativeThresholdPercent)
	}
	if c.Filter.MaxPeaks < 0 {
		return fmt.Errorf("filter.max_peaks must be >= 0, got %d", c.Filter.MaxPeaks)
	}
	if c.Parse.Workers < 0 {
		return fmt.Errorf("parse.workers must be >= 0, got %d", c.Parse.Workers)
	}
	if _, err := filter.New(c.FilterConfig()); err != nil {
		return fmt.Errorf("filter: %w", err)
	}
	if _, err := c.instrumentTypes(); err != nil {
		return fmt.Errorf("parse.instruments: %w", err)
	}
	if _, err := c.activationTypes(); err != nil {
		return fmt.Errorf("parse.activations: %w", err)
	}
	return nil
}

// FilterConfig converts the [filter] section.
func (c Config) FilterConfig() filter.Config {
	return filter.Config{
		Strategy:                 c.Filter.Strategy,
		RelativeThresholdPercent: c.Filter.RelativeThresholdPercent,
		MaxPeaks:                 c.Filter.MaxPeaks,
		WindowSize:               c.Filter.WindowSize,
		IonsPerWindow:            c.Filter.IonsPerWindow,
	}
}

// ParseOptions builds the traversal options for one MS level.
func (c Config) ParseOptions(msLevel int) (source.Options, error) {
	selector, err := filter.New(c.FilterConfig())
	if err != nil {
		return source.Options{}, err
	}
	instruments, err := c.instrumentTypes()
	if err != nil {
		return source.Options{}, err
	}
	activations, err := c.activationTypes()
	if err != nil {
		return source.Options{}, err
	}
	return source.Options{
		MSLevel:        msLevel,
		FileIndex:      c.Parse.FileIndex,
		SaveScanHeader: c.Parse.SaveScanHeader,
		Selector:       selector,
		Normalize:      c.Parse.Normalize,
		Workers:        c.Parse.Workers,
		Instruments:    instruments,
		Activations:    activations,
	}, nil
}

func (c Config) instrumentTypes() ([]core.InstrumentType, error) {
	var types []core.InstrumentType
	for _, name := range c.Parse.Instruments {
		t, err := core.ParseInstrumentType(name)
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, nil
}

func (c Config) activationTypes() ([]core.ActivationType, error) {
	var types []core.ActivationType
	for _, name := range c.Parse.Activations {
		t, err := core.ParseActivationType(name)
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, nil
}

// ExportOptions converts the [export] section.
func (c Config) ExportOptions() msn.Options {
	return msn.Options{
		Extractor: c.Export.Extractor,
		Version:   c.Export.Version,
		Atomic:    c.Export.Atomic,
	}
}
