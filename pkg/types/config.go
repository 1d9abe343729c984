package types

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Config holds backend selection and the tunables of every component. It is
// loaded from config.yaml by the CLI and passed to Store.Attach and the
// component constructors.
type Config struct {
	Backend   string          `json:"backend" yaml:"backend" mapstructure:"backend"`
	DataDir   string          `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir"`
	Agent     AgentConfig     `json:"agent" yaml:"agent" mapstructure:"agent"`
	Selector  SelectorConfig  `json:"selector" yaml:"selector" mapstructure:"selector"`
	Timing    TimingConfig    `json:"timing" yaml:"timing" mapstructure:"timing"`
	Learn     LearnConfig     `json:"learn" yaml:"learn" mapstructure:"learn"`
	Embedding EmbeddingConfig `json:"embedding" yaml:"embedding" mapstructure:"embedding"`
	Converge  ConvergeConfig  `json:"converge" yaml:"converge" mapstructure:"converge"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics" mapstructure:"metrics"`
	Log       LogConfig       `json:"log" yaml:"log" mapstructure:"log"`
	Audience  AudienceConfig  `json:"audience" yaml:"audience" mapstructure:"audience"`
}

// AgentConfig identifies the agent on the chat platform.
type AgentConfig struct {
	ID              string   `json:"id" yaml:"id" mapstructure:"id"`
	Name            string   `json:"name" yaml:"name" mapstructure:"name"`
	AlwaysRespond   string   `json:"always_respond" yaml:"always_respond" mapstructure:"always_respond"`
	CommandPrefixes []string `json:"command_prefixes" yaml:"command_prefixes" mapstructure:"command_prefixes"`
}

// SelectorConfig tunes nearest-neighbour retrieval.
type SelectorConfig struct {
	K            int     `json:"k" yaml:"k" mapstructure:"k"`
	MaxDistance  float64 `json:"max_distance" yaml:"max_distance" mapstructure:"max_distance"`
	Curve        string  `json:"curve" yaml:"curve" mapstructure:"curve"`
	AnchorWeight float64 `json:"anchor_weight" yaml:"anchor_weight" mapstructure:"anchor_weight"`
}

// TimingConfig tunes the reply timing policy.
type TimingConfig struct {
	ImmediateFloor float64       `json:"immediate_floor" yaml:"immediate_floor" mapstructure:"immediate_floor"`
	DelayedFloor   float64       `json:"delayed_floor" yaml:"delayed_floor" mapstructure:"delayed_floor"`
	MinDelay       time.Duration `json:"min_delay" yaml:"min_delay" mapstructure:"min_delay"`
	MaxDelay       time.Duration `json:"max_delay" yaml:"max_delay" mapstructure:"max_delay"`
	EMAAlpha       float64       `json:"ema_alpha" yaml:"ema_alpha" mapstructure:"ema_alpha"`
	EMAScale       float64       `json:"ema_scale" yaml:"ema_scale" mapstructure:"ema_scale"`
	AmbientScale   float64       `json:"ambient_scale" yaml:"ambient_scale" mapstructure:"ambient_scale"`
}

// LearnConfig tunes the learn-eligibility gate.
type LearnConfig struct {
	AnchorWindow time.Duration `json:"anchor_window" yaml:"anchor_window" mapstructure:"anchor_window"`
	HistorySize  int           `json:"history_size" yaml:"history_size" mapstructure:"history_size"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Provider   string  `json:"provider" yaml:"provider" mapstructure:"provider"`
	Model      string  `json:"model" yaml:"model" mapstructure:"model"`
	Dimensions int     `json:"dimensions" yaml:"dimensions" mapstructure:"dimensions"`
	BaseURL    string  `json:"base_url" yaml:"base_url" mapstructure:"base_url"`
	APIKey     string  `json:"api_key" yaml:"api_key" mapstructure:"api_key"`
	RPS        float64 `json:"rps" yaml:"rps" mapstructure:"rps"`
}

// ConvergeConfig tunes the store/index convergence loop.
type ConvergeConfig struct {
	Interval  time.Duration `json:"interval" yaml:"interval" mapstructure:"interval"`
	BatchSize int           `json:"batch_size" yaml:"batch_size" mapstructure:"batch_size"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `json:"addr" yaml:"addr" mapstructure:"addr"`
}

// LogConfig sets the default log level and per-component overrides.
type LogConfig struct {
	Level      string            `json:"level" yaml:"level" mapstructure:"level"`
	Components map[string]string `json:"components" yaml:"components" mapstructure:"components"`
}

// AudienceConfig is a static membership table: channel ID to member IDs.
// It backs the console transport's audience oracle.
type AudienceConfig struct {
	Channels map[string][]string `json:"channels" yaml:"channels" mapstructure:"channels"`
}

// Supported backend names.
const (
	BackendSQLite = "sqlite"
)

// Supported embedding providers.
const (
	EmbeddingHash   = "hash"
	EmbeddingOpenAI = "openai"
)

// Supported confidence curves.
const (
	CurveLinear = "linear"
	CurveCosine = "cosine"
)

// Config validation errors.
var (
	ErrBackendEmpty         = errors.New("backend must not be empty")
	ErrBackendUnknown       = errors.New("unknown backend")
	ErrProviderUnknown      = errors.New("unknown embedding provider")
	ErrCurveUnknown         = errors.New("unknown confidence curve")
	ErrPoolSizeInvalid      = errors.New("candidate pool size must be positive")
	ErrMaxDistanceInvalid   = errors.New("max distance must be in (0, 2]")
	ErrFloorInvalid         = errors.New("confidence floor must be in [0, 1]")
	ErrDelayInvalid         = errors.New("delay bounds must satisfy 0 <= min <= max")
	ErrAlphaInvalid         = errors.New("ema alpha must be in (0, 1]")
	ErrDimensionsInvalid    = errors.New("embedding dimensions must be positive")
	ErrIntervalInvalid      = errors.New("converge interval must be positive")
	ErrAlwaysRespondInvalid = errors.New("always_respond is not a valid pattern")
)

// knownBackends lists the backends that Validate accepts.
var knownBackends = map[string]bool{
	BackendSQLite: true,
}

var knownProviders = map[string]bool{
	EmbeddingHash:   true,
	EmbeddingOpenAI: true,
}

var knownCurves = map[string]bool{
	CurveLinear: true,
	CurveCosine: true,
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() Config {
	return Config{
		Backend: BackendSQLite,
		Agent: AgentConfig{
			ID:              "quotebot",
			Name:            "quotebot",
			CommandPrefixes: []string{"/", "!"},
		},
		Selector: SelectorConfig{
			K:            16,
			MaxDistance:  0.6,
			Curve:        CurveLinear,
			AnchorWeight: 0.3,
		},
		Timing: TimingConfig{
			ImmediateFloor: 0.1,
			DelayedFloor:   0.4,
			MinDelay:       2 * time.Second,
			MaxDelay:       60 * time.Second,
			EMAAlpha:       0.2,
			EMAScale:       1.5,
			AmbientScale:   1000,
		},
		Learn: LearnConfig{
			AnchorWindow: 5 * time.Minute,
			HistorySize:  64,
		},
		Embedding: EmbeddingConfig{
			Provider:   EmbeddingHash,
			Model:      "text-embedding-3-small",
			Dimensions: 384,
			RPS:        5,
		},
		Converge: ConvergeConfig{
			Interval:  time.Minute,
			BatchSize: 100,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks that the Config is well-formed. It returns a sentinel error
// from this package on failure.
func (c Config) Validate() error {
	if c.Backend == "" {
		return ErrBackendEmpty
	}
	if !knownBackends[c.Backend] {
		return ErrBackendUnknown
	}
	if c.Agent.AlwaysRespond != "" {
		if _, err := regexp.Compile(c.Agent.AlwaysRespond); err != nil {
			return fmt.Errorf("%w: %v", ErrAlwaysRespondInvalid, err)
		}
	}
	if c.Selector.K <= 0 {
		return ErrPoolSizeInvalid
	}
	if c.Selector.MaxDistance <= 0 || c.Selector.MaxDistance > 2 {
		return ErrMaxDistanceInvalid
	}
	if !knownCurves[c.Selector.Curve] {
		return ErrCurveUnknown
	}
	if !inUnit(c.Timing.ImmediateFloor) || !inUnit(c.Timing.DelayedFloor) || !inUnit(c.Selector.AnchorWeight) {
		return ErrFloorInvalid
	}
	if c.Timing.MinDelay < 0 || c.Timing.MaxDelay < c.Timing.MinDelay {
		return ErrDelayInvalid
	}
	if c.Timing.EMAAlpha <= 0 || c.Timing.EMAAlpha > 1 {
		return ErrAlphaInvalid
	}
	if !knownProviders[c.Embedding.Provider] {
		return ErrProviderUnknown
	}
	if c.Embedding.Dimensions <= 0 {
		return ErrDimensionsInvalid
	}
	if c.Converge.Interval <= 0 {
		return ErrIntervalInvalid
	}
	return nil
}

func inUnit(f float64) bool {
	return f >= 0 && f <= 1
}
