// Package config loads analyst settings from defaults, an optional YAML
// file and the environment, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server       Server       `yaml:"server"`
	Log          Log          `yaml:"log"`
	Orchestrator Orchestrator `yaml:"orchestrator"`
	Planner      Planner      `yaml:"planner"`
	Verifier     Verifier     `yaml:"verifier"`
	LLM          LLM          `yaml:"llm"`
	Store        Store        `yaml:"store"`
	Tools        Tools        `yaml:"tools"`
}

type Server struct {
	Port              int `yaml:"port"`
	MaxConcurrentRuns int `yaml:"max_concurrent_runs"`
}

type Log struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type Orchestrator struct {
	MaxRetries            int           `yaml:"max_retries"`
	VerificationThreshold float64       `yaml:"verification_threshold"`
	PlannerTimeout        time.Duration `yaml:"planner_timeout"`
	ToolTimeout           time.Duration `yaml:"tool_timeout"`
	VerifierTimeout       time.Duration `yaml:"verifier_timeout"`
	ReplannerTimeout      time.Duration `yaml:"replanner_timeout"`
}

type Planner struct {
	MaxAttempts int `yaml:"max_attempts"`
}

type Verifier struct {
	// RuleWeight is the share of the rule score in the combined score.
	RuleWeight float64 `yaml:"rule_weight"`
	PolicyFile string  `yaml:"policy_file"`
	MaxOutput  int     `yaml:"max_output_chars"`
}

type LLM struct {
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// Enabled reports whether model-backed collaborators can be built.
func (l LLM) Enabled() bool {
	return l.APIKey != ""
}

type Store struct {
	DSN string `yaml:"dsn"`
}

type Tools struct {
	DataDir         string  `yaml:"data_dir"`
	UserAgent       string  `yaml:"user_agent"`
	FetchRatePerSec float64 `yaml:"fetch_rate_per_sec"`
	FetchBurst      int     `yaml:"fetch_burst"`
	MaxRows         int     `yaml:"max_rows"`
}

func Default() *Config {
	return &Config{
		Server: Server{Port: 8080, MaxConcurrentRuns: 32},
		Log:    Log{Level: "info", Pretty: false},
		Orchestrator: Orchestrator{
			MaxRetries:            3,
			VerificationThreshold: 0.7,
			PlannerTimeout:        90 * time.Second,
			ToolTimeout:           60 * time.Second,
			VerifierTimeout:       60 * time.Second,
			ReplannerTimeout:      90 * time.Second,
		},
		Planner:  Planner{MaxAttempts: 2},
		Verifier: Verifier{RuleWeight: 0.3, MaxOutput: 2000},
		LLM:      LLM{Model: "gpt-4", Temperature: 0.1, MaxTokens: 4000},
		Store:    Store{DSN: "file:analyst.db?cache=shared&mode=rwc"},
		Tools: Tools{
			DataDir:         "./data",
			UserAgent:       "Mozilla/5.0 (compatible; go-analyst/1.0)",
			FetchRatePerSec: 2,
			FetchBurst:      4,
			MaxRows:         10000,
		},
	}
}

// Load reads path (if not empty) over the defaults and applies env overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Orchestrator.MaxRetries < 1 {
		return fmt.Errorf("orchestrator.max_retries must be at least 1, got %d", c.Orchestrator.MaxRetries)
	}
	if t := c.Orchestrator.VerificationThreshold; t < 0 || t > 1 {
		return fmt.Errorf("orchestrator.verification_threshold must be in [0,1], got %v", t)
	}
	if w := c.Verifier.RuleWeight; w < 0 || w > 1 {
		return fmt.Errorf("verifier.rule_weight must be in [0,1], got %v", w)
	}
	if c.Planner.MaxAttempts < 1 {
		return fmt.Errorf("planner.max_attempts must be at least 1, got %d", c.Planner.MaxAttempts)
	}
	if c.Server.MaxConcurrentRuns < 1 {
		return fmt.Errorf("server.max_concurrent_runs must be at least 1, got %d", c.Server.MaxConcurrentRuns)
	}
	return nil
}

// Public is the non-sensitive view of the settings served to clients.
func (c *Config) Public() map[string]any {
	o := c.Orchestrator
	return map[string]any{
		"log_level":              c.Log.Level,
		"llm_model":              c.LLM.Model,
		"llm_enabled":            c.LLM.Enabled(),
		"max_retries":            o.MaxRetries,
		"verification_threshold": o.VerificationThreshold,
		"rule_weight":            c.Verifier.RuleWeight,
		"max_concurrent_runs":    c.Server.MaxConcurrentRuns,
		"planner_max_attempts":   c.Planner.MaxAttempts,
		"timeouts": map[string]string{
			"planner":   o.PlannerTimeout.String(),
			"tool":      o.ToolTimeout.String(),
			"verifier":  o.VerifierTimeout.String(),
			"replanner": o.ReplannerTimeout.String(),
		},
	}
}

// applyEnv overrides settings from the environment. A set but unparseable
// value is an error rather than a silent fallback.
func (c *Config) applyEnv() error {
	e := envReader{}
	c.Server.Port = e.integer("ANALYST_HTTP_PORT", c.Server.Port)
	c.Server.MaxConcurrentRuns = e.integer("ANALYST_MAX_CONCURRENT_RUNS", c.Server.MaxConcurrentRuns)
	c.Log.Level = e.str("ANALYST_LOG_LEVEL", c.Log.Level)
	c.Orchestrator.MaxRetries = e.integer("ANALYST_MAX_RETRIES", c.Orchestrator.MaxRetries)
	c.Orchestrator.VerificationThreshold = e.number("ANALYST_VERIFICATION_THRESHOLD", c.Orchestrator.VerificationThreshold)
	c.Orchestrator.ToolTimeout = e.duration("ANALYST_TOOL_TIMEOUT", c.Orchestrator.ToolTimeout)
	c.LLM.APIKey = e.str("OPENAI_API_KEY", c.LLM.APIKey)
	c.LLM.BaseURL = e.str("OPENAI_BASE_URL", c.LLM.BaseURL)
	c.LLM.Model = e.str("ANALYST_LLM_MODEL", c.LLM.Model)
	c.Store.DSN = e.str("ANALYST_DATABASE_URL", c.Store.DSN)
	c.Tools.DataDir = e.str("ANALYST_DATA_DIR", c.Tools.DataDir)
	return e.err
}

// envReader keeps the first parse error.
type envReader struct {
	err error
}

func (e *envReader) str(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func (e *envReader) integer(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		e.fail(key, err)
		return defaultVal
	}
	return i
}

func (e *envReader) number(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		e.fail(key, err)
		return defaultVal
	}
	return f
}

func (e *envReader) duration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		e.fail(key, err)
		return defaultVal
	}
	return d
}

func (e *envReader) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("env %s: %w", key, err)
	}
}
