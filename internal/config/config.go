// Package config loads prompt-testing settings from defaults, an optional
// YAML file, a .env file and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/giantswarm/prompt-testing/internal/llm"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "PROMPT_TESTING"

// Settings is the resolved configuration. It is passed explicitly to the
// components that need it.
type Settings struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	JudgeModel string `mapstructure:"judge_model"`
	// AppReferer and AppTitle are sent as HTTP-Referer and X-Title.
	AppReferer string `mapstructure:"app_referer"`
	AppTitle   string `mapstructure:"app_title"`

	MaxTurns int   `mapstructure:"max_turns"`
	Retry    Retry `mapstructure:"retry"`

	SuitesDir string `mapstructure:"suites_dir"`
	// DBPath selects the SQLite store. Empty keeps results in memory.
	DBPath       string `mapstructure:"db_path"`
	HTTPAddr     string `mapstructure:"http_addr"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// Retry mirrors llm.RetryPolicy.
type Retry struct {
	MaxRetries   int           `mapstructure:"max_retries"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
}

// legacyEnv lists the unprefixed variable names accepted for some keys.
var legacyEnv = map[string]string{
	"api_key":     "OPENROUTER_API_KEY",
	"model":       "DEFAULT_MODEL",
	"judge_model": "DEFAULT_JUDGE_MODEL",
}

// Load resolves settings. path names a YAML config file; when empty,
// prompt-testing.yaml is looked up in the working directory and skipped if
// absent. envFiles are loaded into the environment first without overriding
// variables that are already set; by default ".env" is tried.
func Load(path string, envFiles ...string) (*Settings, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		// Missing env files are fine.
		_ = godotenv.Load(f)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		if err := v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(key), legacy); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path == "" {
		v.SetConfigName("prompt-testing")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &s, nil
}

func setDefaults(v *viper.Viper) {
	retry := llm.DefaultRetryPolicy()

	v.SetDefault("api_key", "")
	v.SetDefault("base_url", llm.DefaultBaseURL)
	v.SetDefault("model", llm.DefaultModel)
	v.SetDefault("judge_model", llm.DefaultModel)
	v.SetDefault("app_referer", "https://github.com/giantswarm/prompt-testing")
	v.SetDefault("app_title", "prompt-testing")

	v.SetDefault("max_turns", 5)
	v.SetDefault("retry.max_retries", retry.MaxRetries)
	v.SetDefault("retry.initial_delay", retry.InitialDelay)
	v.SetDefault("retry.max_delay", retry.MaxDelay)
	v.SetDefault("retry.multiplier", retry.Multiplier)

	v.SetDefault("suites_dir", "")
	v.SetDefault("db_path", "")
	v.SetDefault("http_addr", ":3000")
	v.SetDefault("otlp_endpoint", "")
}

// Validate checks the settings needed to talk to the chat API.
func (s *Settings) Validate() error {
	var problems []string
	if s.APIKey == "" {
		problems = append(problems, fmt.Sprintf("API key is required (set %s_API_KEY or OPENROUTER_API_KEY)", EnvPrefix))
	}
	if s.MaxTurns < 1 {
		problems = append(problems, "max_turns must be at least 1")
	}
	if s.Retry.MaxRetries < 0 {
		problems = append(problems, "retry.max_retries must not be negative")
	}
	if s.Retry.InitialDelay < 0 || s.Retry.MaxDelay < 0 {
		problems = append(problems, "retry delays must not be negative")
	}
	if s.Retry.Multiplier < 1 {
		problems = append(problems, "retry.multiplier must be at least 1")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// RetryPolicy converts the retry settings.
func (s *Settings) RetryPolicy() llm.RetryPolicy {
	return llm.RetryPolicy{
		MaxRetries:   s.Retry.MaxRetries,
		InitialDelay: s.Retry.InitialDelay,
		MaxDelay:     s.Retry.MaxDelay,
		Multiplier:   s.Retry.Multiplier,
	}
}

// ClientOptions returns the chat client options for these settings.
func (s *Settings) ClientOptions() []llm.Option {
	return []llm.Option{
		llm.WithAPIKey(s.APIKey),
		llm.WithBaseURL(s.BaseURL),
		llm.WithModel(s.Model),
		llm.WithAppInfo(s.AppReferer, s.AppTitle),
		llm.WithRetryPolicy(s.RetryPolicy()),
	}
}
