// Package config loads hydra settings from .hydra.yaml, .env files, and
// environment variables. Env vars win over the file; secrets may also come
// from the OS keychain.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	hydraerr "github.com/hydrasec/hydra/internal/errors"
	"github.com/hydrasec/hydra/internal/sandbox"
)

// Config holds all hydra settings
type Config struct {
	Agents      AgentsConfig      `yaml:"agents" mapstructure:"agents"`
	Adversarial AdversarialConfig `yaml:"adversarial" mapstructure:"adversarial"`
	Patch       PatchConfig       `yaml:"patch" mapstructure:"patch"`
	LLM         LLMConfig         `yaml:"llm" mapstructure:"llm"`
	Sandbox     sandbox.Config    `yaml:"sandbox" mapstructure:"sandbox"`
	Daemon      DaemonConfig      `yaml:"daemon" mapstructure:"daemon"`
	Webhook     WebhookConfig     `yaml:"webhook" mapstructure:"webhook"`
}

// AgentsConfig bounds the scanner dispatcher
type AgentsConfig struct {
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	TimeoutMS     int `yaml:"timeout_ms" mapstructure:"timeout_ms"`
}

// Timeout returns the per-agent deadline
func (a AgentsConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutMS) * time.Millisecond
}

// AdversarialConfig bounds the red/blue/judge debates
type AdversarialConfig struct {
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	MinConfidence int `yaml:"min_confidence" mapstructure:"min_confidence"`
}

// PatchConfig bounds the patch pipeline
type PatchConfig struct {
	MaxConcurrent int  `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	SkipReview    bool `yaml:"skip_review" mapstructure:"skip_review"`
}

// LLMConfig selects and keys the reasoner provider
type LLMConfig struct {
	Provider    string  `yaml:"provider" mapstructure:"provider"` // "openai", "gemini", ""
	OpenAIKey   string  `yaml:"openai_key" mapstructure:"openai_key"`
	OpenAIModel string  `yaml:"openai_model" mapstructure:"openai_model"`
	GeminiKey   string  `yaml:"gemini_key" mapstructure:"gemini_key"`
	GeminiModel string  `yaml:"gemini_model" mapstructure:"gemini_model"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"` // requests per second
	Cache       bool    `yaml:"cache" mapstructure:"cache"`
	CachePath   string  `yaml:"cache_path" mapstructure:"cache_path"`
}

// DaemonConfig configures the HTTP trigger surface
type DaemonConfig struct {
	Host                  string   `yaml:"host" mapstructure:"host"`
	Port                  int      `yaml:"port" mapstructure:"port"`
	Token                 string   `yaml:"token" mapstructure:"token"`
	AllowedPaths          []string `yaml:"allowed_paths" mapstructure:"allowed_paths"`
	AllowInsecureDefaults bool     `yaml:"allow_insecure_defaults" mapstructure:"allow_insecure_defaults"`
	MaxStoredRuns         int      `yaml:"max_stored_runs" mapstructure:"max_stored_runs"`
	ArchivePath           string   `yaml:"archive_path" mapstructure:"archive_path"`
	LogFile               string   `yaml:"log_file" mapstructure:"log_file"`
}

// WebhookConfig maps GitHub repositories onto local checkouts
type WebhookConfig struct {
	Secret string            `yaml:"secret" mapstructure:"secret"`
	Repos  map[string]string `yaml:"repos" mapstructure:"repos"` // full_name -> local path
}

// Default returns the shipped configuration
func Default() *Config {
	return &Config{
		Agents: AgentsConfig{
			MaxConcurrent: 3,
			TimeoutMS:     90_000,
		},
		Adversarial: AdversarialConfig{
			MaxConcurrent: 2,
			MinConfidence: 50,
		},
		Patch: PatchConfig{
			MaxConcurrent: 2,
		},
		LLM: LLMConfig{
			OpenAIModel: "gpt-4o-mini",
			GeminiModel: "gemini-2.0-flash",
			RateLimit:   2,
			CachePath:   filepath.Join(".hydra", "llm-cache.db"),
		},
		Sandbox: sandbox.DefaultConfig(),
		Daemon: DaemonConfig{
			Host:          "127.0.0.1",
			Port:          8743,
			MaxStoredRuns: 200,
		},
	}
}

// Load reads configuration: defaults, then .hydra.yaml (explicit path, cwd,
// or $HOME), then environment variables.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	cfg := Default()
	v.SetDefault("agents", cfg.Agents)
	v.SetDefault("adversarial", cfg.Adversarial)
	v.SetDefault("patch", cfg.Patch)
	v.SetDefault("llm", cfg.LLM)
	v.SetDefault("sandbox", cfg.Sandbox)
	v.SetDefault("daemon", cfg.Daemon)

	v.SetEnvPrefix("HYDRA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(".hydra")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// No config file is fine, defaults apply
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadEnvFiles loads .env files in order of precedence
func loadEnvFiles() {
	for _, file := range []string{".env.local", ".env"} {
		if _, err := os.Stat(file); err == nil {
			godotenv.Load(file)
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		homeEnv := filepath.Join(home, ".hydra", ".env")
		if _, err := os.Stat(homeEnv); err == nil {
			godotenv.Load(homeEnv)
		}
	}
}

// applyEnvOverrides applies the HYDRA_* environment variables. Numeric knobs
// must be positive integers; anything else is a startup error, never a
// silent fallback.
func applyEnvOverrides(cfg *Config) error {
	if raw := os.Getenv("HYDRA_MAX_CONCURRENT_AGENTS"); raw != "" {
		n, err := parsePositiveInt("HYDRA_MAX_CONCURRENT_AGENTS", raw)
		if err != nil {
			return err
		}
		cfg.Agents.MaxConcurrent = n
	}
	if raw := os.Getenv("HYDRA_AGENT_TIMEOUT_MS"); raw != "" {
		n, err := parsePositiveInt("HYDRA_AGENT_TIMEOUT_MS", raw)
		if err != nil {
			return err
		}
		cfg.Agents.TimeoutMS = n
	}
	if token := os.Getenv("HYDRA_DAEMON_TOKEN"); token != "" {
		cfg.Daemon.Token = token
	}
	if raw := os.Getenv("HYDRA_ALLOWED_PATHS"); raw != "" {
		var paths []string
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				paths = append(paths, p)
			}
		}
		cfg.Daemon.AllowedPaths = paths
	}
	if os.Getenv("HYDRA_ALLOW_INSECURE_DEFAULTS") == "1" {
		cfg.Daemon.AllowInsecureDefaults = true
	}

	// Reasoner wiring. Env keys win; the keychain fills remaining gaps.
	if provider := os.Getenv("HYDRA_LLM_PROVIDER"); provider != "" {
		cfg.LLM.Provider = provider
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.LLM.OpenAIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		cfg.LLM.GeminiKey = key
	}
	if secret := os.Getenv("HYDRA_GITHUB_WEBHOOK_SECRET"); secret != "" {
		cfg.Webhook.Secret = secret
	}

	km := NewKeyringManager()
	if cfg.LLM.OpenAIKey == "" && km.IsAvailable() {
		if key, err := km.Get(KeyringOpenAIItem); err == nil && key != "" {
			cfg.LLM.OpenAIKey = key
		}
	}
	if cfg.LLM.GeminiKey == "" && km.IsAvailable() {
		if key, err := km.Get(KeyringGeminiItem); err == nil && key != "" {
			cfg.LLM.GeminiKey = key
		}
	}
	if cfg.Webhook.Secret == "" && km.IsAvailable() {
		if secret, err := km.Get(KeyringWebhookItem); err == nil && secret != "" {
			cfg.Webhook.Secret = secret
		}
	}
	return nil
}

func parsePositiveInt(name, raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, hydraerr.ConfigErrorf("%s must be a positive integer, got %q", name, raw)
	}
	return n, nil
}

// WriteDefault writes a commented default .hydra.yaml at path. Refuses to
// overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("marshaling default config: %w", err)
	}

	header := "# hydra configuration. Environment variables (HYDRA_*) override\n" +
		"# values in this file; API keys may also live in the OS keychain.\n"
	return os.WriteFile(path, append([]byte(header), data...), 0644)
}

// SetValue updates one dotted key (e.g. "daemon.port") in the yaml file at
// path, creating the file when missing. Values parse as bool or int when
// they look like one, else stay strings.
func SetValue(path, key, value string) error {
	doc := map[string]interface{}{}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	parts := strings.Split(key, ".")
	node := doc
	for _, part := range parts[:len(parts)-1] {
		child, ok := node[part].(map[string]interface{})
		if !ok {
			child = map[string]interface{}{}
			node[part] = child
		}
		node = child
	}
	node[parts[len(parts)-1]] = coerce(value)

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

func coerce(value string) interface{} {
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	if n, err := strconv.Atoi(value); err == nil {
		return n
	}
	return value
}
