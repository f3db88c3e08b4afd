// Package config defines the in-memory configuration shape the core
// consumes, its defaults and validation, and LoadFile, which decodes a
// YAML file onto those defaults.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v2"
)

// LogLevel mirrors the application.log_level option.
type LogLevel string

const (
	LogLevelDebug    LogLevel = "DEBUG"
	LogLevelInfo     LogLevel = "INFO"
	LogLevelWarning  LogLevel = "WARNING"
	LogLevelError    LogLevel = "ERROR"
	LogLevelCritical LogLevel = "CRITICAL"
)

// RateSmoothing selects the smoother applied to the progress engine's
// rate series (SPEC_FULL §4.3 supplement over spec.md §4.4).
type RateSmoothing string

const (
	RateSmoothingSimple      RateSmoothing = "simple_moving_average"
	RateSmoothingWeighted    RateSmoothing = "weighted_moving_average"
	RateSmoothingExponential RateSmoothing = "exponential"
)

// Monitoring holds §6.3's "monitoring" section.
type Monitoring struct {
	PIDFile          string   `yaml:"pid_file"`
	PIDCheckInterval int      `yaml:"pid_check_interval"`
	SamplingInterval int      `yaml:"sampling_interval"`
	ProcessTimeout   int      `yaml:"process_timeout"`
	ExclusionPaths   []string `yaml:"exclusion_paths"`

	// Paths are the source paths the sampler measures. Not itemized in
	// spec.md §6.3 (which only calls out exclusion_paths as passed
	// through to the sampler); supplemented here since the sampler
	// contract (§6.5) requires concrete paths to measure.
	Paths []string `yaml:"paths"`

	// ProcessNameHint enables the pattern-based identification supplement
	// (SPEC_FULL §4.4): when non-empty, process.IsRunningWithHint
	// additionally confirms /proc/{pid}/comm contains this substring.
	ProcessNameHint string `yaml:"process_name_hint"`

	// RateSmoothing selects the progress engine's rate smoother. Defaults
	// to simple moving average per spec.md §4.4.
	RateSmoothing RateSmoothing `yaml:"rate_smoothing"`

	// RateSmoothingAlpha is used only when RateSmoothing is exponential.
	RateSmoothingAlpha float64 `yaml:"rate_smoothing_alpha"`

	// WindowSize bounds the progress engine's retained sample history.
	WindowSize int `yaml:"window_size"`
}

// Notifications holds §6.3's "notifications" section.
type Notifications struct {
	Thresholds        []float64 `yaml:"thresholds"`
	CompletionEnabled bool      `yaml:"completion_enabled"`

	// ProgressEnabled defaults to true (SPEC_FULL §4.5 resolves spec.md
	// §9's third open question this way).
	ProgressEnabled bool `yaml:"progress_enabled"`

	RetryAttempts int `yaml:"retry_attempts"`
}

// Application holds §6.3's "application" section.
type Application struct {
	LogLevel      LogLevel `yaml:"log_level"`
	DryRun        bool     `yaml:"dry_run"`
	VersionCheck  bool     `yaml:"version_check"`
	SyslogEnabled bool     `yaml:"syslog_enabled"`
}

// Config is the fully-populated, already-validated configuration value
// the core receives. Validate() enforces the load-time invariants §6.3
// assigns to the external loader, so the core itself never re-checks
// them at every call site.
type Config struct {
	Monitoring    Monitoring      `yaml:"monitoring"`
	Notifications Notifications   `yaml:"notifications"`
	Providers     map[string]bool `yaml:"providers"`
	Application   Application     `yaml:"application"`
}

// Default returns a Config with the documented defaults applied:
// progress notifications enabled, simple-moving-average rate smoothing,
// a 10-sample window.
func Default() Config {
	return Config{
		Monitoring: Monitoring{
			PIDCheckInterval: 5,
			SamplingInterval: 10,
			ProcessTimeout:   5,
			RateSmoothing:    RateSmoothingSimple,
			WindowSize:       10,
		},
		Notifications: Notifications{
			CompletionEnabled: true,
			ProgressEnabled:   true,
			RetryAttempts:     3,
		},
		Providers: map[string]bool{},
		Application: Application{
			LogLevel: LogLevelInfo,
		},
	}
}

// LoadFile reads a YAML document at path and decodes it onto Default(),
// so any section the file omits keeps its documented default rather than
// becoming a zero value. Does not call Validate; callers are expected to
// do that themselves once overlays (e.g. flags) have been applied.
func LoadFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	cfg := Default()
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config file: %w", err)
	}
	return cfg, nil
}

// Validate enforces the invariants spec.md §6.3 assigns to the external
// loader: threshold dedup and [0,100] range, positive intervals, a
// non-empty PID file path.
func (c *Config) Validate() error {
	var errs []string

	if strings.TrimSpace(c.Monitoring.PIDFile) == "" {
		errs = append(errs, "monitoring.pid_file must not be empty")
	}
	if c.Monitoring.PIDCheckInterval <= 0 {
		errs = append(errs, "monitoring.pid_check_interval must be positive")
	}
	if c.Monitoring.SamplingInterval <= 0 {
		errs = append(errs, "monitoring.sampling_interval must be positive")
	}
	if c.Monitoring.ProcessTimeout <= 0 {
		errs = append(errs, "monitoring.process_timeout must be positive")
	}
	if c.Monitoring.WindowSize <= 0 {
		errs = append(errs, "monitoring.window_size must be positive")
	}
	switch c.Monitoring.RateSmoothing {
	case "", RateSmoothingSimple, RateSmoothingWeighted, RateSmoothingExponential:
	default:
		errs = append(errs, fmt.Sprintf("monitoring.rate_smoothing %q is not recognized", c.Monitoring.RateSmoothing))
	}
	if c.Monitoring.RateSmoothing == RateSmoothingExponential {
		if c.Monitoring.RateSmoothingAlpha < 0 || c.Monitoring.RateSmoothingAlpha > 1 {
			errs = append(errs, "monitoring.rate_smoothing_alpha must be in [0,1]")
		}
	}

	seen := make(map[float64]struct{}, len(c.Notifications.Thresholds))
	deduped := c.Notifications.Thresholds[:0:0]
	for _, t := range c.Notifications.Thresholds {
		if t < 0 || t > 100 {
			errs = append(errs, fmt.Sprintf("notifications.thresholds value %v out of [0,100]", t))
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		deduped = append(deduped, t)
	}
	sort.Float64s(deduped)
	c.Notifications.Thresholds = deduped

	if c.Notifications.RetryAttempts < 0 {
		errs = append(errs, "notifications.retry_attempts must be >= 0")
	}

	switch c.Application.LogLevel {
	case "", LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError, LogLevelCritical:
	default:
		errs = append(errs, fmt.Sprintf("application.log_level %q is not recognized", c.Application.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

// EnabledProviders returns the identifiers whose flag is true, sorted for
// deterministic iteration order.
func (c *Config) EnabledProviders() []string {
	out := make([]string, 0, len(c.Providers))
	for id, enabled := range c.Providers {
		if enabled {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
