// Package config loads runtime configuration for the refinement loop from a
// YAML file, environment variables, and built-in defaults, in that precedence
// order (env > file > default).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Defaults applied before any file or environment override.
const (
	DefaultMaxIterations           = 10
	DefaultQualityThreshold        = 0.8
	DefaultHysteresisConfirmations = 1
	DefaultDegradationThreshold    = 0.10
	DefaultPlateauWindow           = 3
	DefaultPlateauScoreEpsilon     = 0.01
	DefaultPatchFailureWindow      = 5
	DefaultPatchFailureRepeat      = 3
	DefaultOverloadUtilization     = 0.8
	DefaultOverloadFileCap         = 40
	DefaultContextWindowTokens     = 128000
	DefaultMaxFiles                = 10
	DefaultMaxLOC                  = 1000
	DefaultGenerateRetries         = 3
	DefaultLLMModel                = "gpt-4o-mini"
	DefaultLLMStrongModel          = "gpt-4o"
	DefaultLLMBaseURL              = "https://api.openai.com/v1"
)

var (
	DefaultGenerateTimeout   = 120 * time.Second
	DefaultPausePollInterval = 250 * time.Millisecond
)

// Config carries every tunable the loop controller and its collaborators read.
// Only EvaluationThreshold is live-adjustable on a running loop; all other
// fields are fixed for the lifetime of a loop instance.
type Config struct {
	// Loop control.
	MaxIterations           int           `mapstructure:"max_iterations"`
	QualityThreshold        float64       `mapstructure:"quality_threshold"`
	HysteresisConfirmations int           `mapstructure:"hysteresis_confirmations"`
	DegradationThreshold    float64       `mapstructure:"degradation_threshold"`
	PausePollInterval       time.Duration `mapstructure:"pause_poll_interval"`

	// Termination signals.
	PlateauWindow       int     `mapstructure:"plateau_window"`
	PlateauScoreEpsilon float64 `mapstructure:"plateau_score_epsilon"`
	PatchFailureWindow  int     `mapstructure:"patch_failure_window"`
	PatchFailureRepeat  int     `mapstructure:"patch_failure_repeat"`

	// Context monitoring.
	OverloadUtilization float64 `mapstructure:"overload_utilization"`
	OverloadFileCap     int     `mapstructure:"overload_file_cap"`
	ContextWindowTokens int     `mapstructure:"context_window_tokens"`
	ReductionStrategy   string  `mapstructure:"reduction_strategy"`

	// Workspace budgets and allow-list.
	MaxFiles  int      `mapstructure:"max_files"`
	MaxLOC    int      `mapstructure:"max_loc"`
	AllowList []string `mapstructure:"allow_list"`

	// Execution mode: strict, auto, or dryrun.
	Mode string `mapstructure:"mode"`

	// Generation backend.
	LLMBaseURL      string        `mapstructure:"llm_base_url"`
	LLMModel        string        `mapstructure:"llm_model"`
	LLMStrongModel  string        `mapstructure:"llm_strong_model"`
	LLMAPIKeyEnv    string        `mapstructure:"llm_api_key_env"`
	GenerateTimeout time.Duration `mapstructure:"generate_timeout"`
	GenerateRetries int           `mapstructure:"generate_retries"`

	// Evaluation checks run after each iteration.
	EvalChecks []EvalCheck `mapstructure:"eval_checks"`
}

// EvalCheck is one configured scoring command, run in the workspace root.
type EvalCheck struct {
	Name    string  `mapstructure:"name"`
	Command string  `mapstructure:"command"`
	Weight  float64 `mapstructure:"weight"`
}

// New returns a Config populated with defaults only.
func New() Config {
	return Config{
		MaxIterations:           DefaultMaxIterations,
		QualityThreshold:        DefaultQualityThreshold,
		HysteresisConfirmations: DefaultHysteresisConfirmations,
		DegradationThreshold:    DefaultDegradationThreshold,
		PausePollInterval:       DefaultPausePollInterval,
		PlateauWindow:           DefaultPlateauWindow,
		PlateauScoreEpsilon:     DefaultPlateauScoreEpsilon,
		PatchFailureWindow:      DefaultPatchFailureWindow,
		PatchFailureRepeat:      DefaultPatchFailureRepeat,
		OverloadUtilization:     DefaultOverloadUtilization,
		OverloadFileCap:         DefaultOverloadFileCap,
		ContextWindowTokens:     DefaultContextWindowTokens,
		ReductionStrategy:       "task_relevant",
		MaxFiles:                DefaultMaxFiles,
		MaxLOC:                  DefaultMaxLOC,
		AllowList:               []string{"**"},
		Mode:                    "auto",
		LLMBaseURL:              DefaultLLMBaseURL,
		LLMModel:                DefaultLLMModel,
		LLMStrongModel:          DefaultLLMStrongModel,
		LLMAPIKeyEnv:            "REFINERY_API_KEY",
		GenerateTimeout:         DefaultGenerateTimeout,
		GenerateRetries:         DefaultGenerateRetries,
	}
}

// Load reads refinery.yaml (from the given path, the working directory, or
// $HOME/.refinery) and applies REFINERY_* environment overrides on top of the
// defaults. A missing config file is not an error.
func Load(path string) (Config, error) {
	cfg := New()

	v := viper.New()
	v.SetConfigName("refinery")
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.refinery")
	}
	v.SetEnvPrefix("REFINERY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if ok := errors.As(err, &notFound); !ok {
			return cfg, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the loop cannot run with.
func (c Config) Validate() error {
	if c.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be positive, got %d", c.MaxIterations)
	}
	if c.QualityThreshold <= 0 || c.QualityThreshold > 1 {
		return fmt.Errorf("quality_threshold must be in (0, 1], got %g", c.QualityThreshold)
	}
	if c.DegradationThreshold < 0 || c.DegradationThreshold >= 1 {
		return fmt.Errorf("degradation_threshold must be in [0, 1), got %g", c.DegradationThreshold)
	}
	if c.OverloadUtilization <= 0 || c.OverloadUtilization > 1 {
		return fmt.Errorf("overload_utilization must be in (0, 1], got %g", c.OverloadUtilization)
	}
	if c.MaxFiles <= 0 || c.MaxLOC <= 0 {
		return fmt.Errorf("budgets must be positive (max_files=%d, max_loc=%d)", c.MaxFiles, c.MaxLOC)
	}
	switch c.Mode {
	case "strict", "auto", "dryrun":
	default:
		return fmt.Errorf("mode must be strict, auto, or dryrun, got %q", c.Mode)
	}
	return nil
}
