// Package config loads flowarch settings from defaults, a YAML file, the
// environment and command-line flags, in increasing order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/rendis/flowarch/internal/agent"
	"github.com/rendis/flowarch/internal/capability"
	"github.com/rendis/flowarch/internal/diagnostics"
	"github.com/rendis/flowarch/internal/llm"
	"github.com/rendis/flowarch/internal/scheduler"
	"github.com/rendis/flowarch/pkg/schema"
)

// Model providers.
const (
	ProviderGemini  = "gemini"
	ProviderOffline = "offline"
)

// Config holds all flowarch configuration.
type Config struct {
	Model     ModelConfig       `koanf:"model"`
	Agent     AgentConfig       `koanf:"agent"`
	Breaker   BreakerConfig     `koanf:"breaker"`
	Store     StoreConfig       `koanf:"store"`
	Session   SessionConfig     `koanf:"session"`
	Server    ServerConfig      `koanf:"server"`
	Log       LogConfig         `koanf:"log"`
	Checks    ChecksConfig      `koanf:"checks"`
	Guards    map[string]string `koanf:"guards"`
	Render    RenderConfig      `koanf:"render"`
	Telemetry TelemetryConfig   `koanf:"telemetry"`
}

// ModelConfig selects the remote model.
type ModelConfig struct {
	Provider string        `koanf:"provider"`
	Name     string        `koanf:"name"`
	APIKey   string        `koanf:"api_key"`
	Timeout  time.Duration `koanf:"timeout"`
	Retry    RetryConfig   `koanf:"retry"`
}

// RetryConfig repeats transient model failures.
type RetryConfig struct {
	Attempts int           `koanf:"attempts"`
	Delay    time.Duration `koanf:"delay"`
	Backoff  string        `koanf:"backoff"`
	MaxDelay time.Duration `koanf:"max_delay"`
}

// AgentConfig bounds the agent loop.
type AgentConfig struct {
	MaxRounds       int `koanf:"max_rounds"`
	MaxHistoryTurns int `koanf:"max_history_turns"`
}

// BreakerConfig configures the model circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           `koanf:"failure_threshold"`
	Cooldown         time.Duration `koanf:"cooldown"`
}

// StoreConfig configures persistence. An empty Path disables it.
type StoreConfig struct {
	Path              string `koanf:"path"`
	Autosave          string `koanf:"autosave"`
	SnapshotRetention int    `koanf:"snapshot_retention"`
}

// SessionConfig names the session to open or resume.
type SessionConfig struct {
	ID    string `koanf:"id"`
	Title string `koanf:"title"`
}

// ServerConfig configures the HTTP shell.
type ServerConfig struct {
	ListenAddr     string   `koanf:"listen_addr"`
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// LogConfig configures the root logger.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ChecksConfig configures the post-turn diagram checks.
type ChecksConfig struct {
	Enabled       bool               `koanf:"enabled"`
	IsolatedNodes bool               `koanf:"isolated_nodes"`
	Rules         []diagnostics.Rule `koanf:"rules"`
}

// RenderConfig configures diagram rendering.
type RenderConfig struct {
	// ASCIIBin names a mermaid-ascii binary; empty uses the built-in renderer.
	ASCIIBin string `koanf:"ascii_bin"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	ServiceName  string `koanf:"service_name"`
	Insecure     bool   `koanf:"insecure"`
}

// Dir returns the flowarch home directory (~/.flowarch).
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flowarch"
	}
	return filepath.Join(home, ".flowarch")
}

// defaults is the lowest configuration layer.
func defaults() map[string]any {
	breaker := llm.DefaultBreakerConfig()
	retry := llm.DefaultRetryPolicy()
	return map[string]any{
		"model.provider":            ProviderGemini,
		"model.name":                llm.DefaultGeminiModel,
		"model.timeout":             "60s",
		"model.retry.attempts":      retry.Attempts,
		"model.retry.delay":         retry.Delay.String(),
		"model.retry.backoff":       retry.Backoff,
		"model.retry.max_delay":     retry.MaxDelay.String(),
		"agent.max_rounds":          agent.DefaultMaxRounds,
		"agent.max_history_turns":   0,
		"breaker.failure_threshold": breaker.FailureThreshold,
		"breaker.cooldown":          breaker.Cooldown.String(),
		"store.path":                filepath.Join(Dir(), "flowarch.db"),
		"store.autosave":            scheduler.DefaultSpec,
		"store.snapshot_retention":  50,
		"session.id":                "default",
		"session.title":             "Flow Architecture",
		"server.listen_addr":        ":4200",
		"server.allowed_origins":    []string{"*"},
		"log.level":                 "info",
		"log.format":                "text",
		"checks.enabled":            true,
		"checks.isolated_nodes":     true,
		"render.ascii_bin":          "",
		"telemetry.otlp_endpoint":   "",
		"telemetry.service_name":    "flowarch",
		"telemetry.insecure":        false,
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if !slices.Contains([]string{ProviderGemini, ProviderOffline}, c.Model.Provider) {
		return invalid("model.provider", "unknown provider %q (want %s or %s)", c.Model.Provider, ProviderGemini, ProviderOffline)
	}
	if c.Model.Timeout < 0 {
		return invalid("model.timeout", "must not be negative")
	}
	if c.Model.Retry.Attempts < 1 {
		return invalid("model.retry.attempts", "must be at least 1, got %d", c.Model.Retry.Attempts)
	}
	if !slices.Contains([]string{llm.BackoffNone, llm.BackoffConstant, llm.BackoffLinear, llm.BackoffExponential}, c.Model.Retry.Backoff) {
		return invalid("model.retry.backoff", "unknown backoff %q", c.Model.Retry.Backoff)
	}
	if c.Agent.MaxRounds < 1 {
		return invalid("agent.max_rounds", "must be at least 1, got %d", c.Agent.MaxRounds)
	}
	if c.Agent.MaxHistoryTurns < 0 {
		return invalid("agent.max_history_turns", "must not be negative")
	}
	if c.Breaker.FailureThreshold < 1 {
		return invalid("breaker.failure_threshold", "must be at least 1")
	}
	if !slices.Contains([]string{"debug", "info", "warn", "warning", "error"}, strings.ToLower(c.Log.Level)) {
		return invalid("log.level", "unknown level %q", c.Log.Level)
	}
	if !slices.Contains([]string{"text", "json"}, strings.ToLower(c.Log.Format)) {
		return invalid("log.format", "unknown format %q", c.Log.Format)
	}
	if c.Session.ID == "" {
		return invalid("session.id", "must not be empty")
	}
	if _, err := c.GuardRules(); err != nil {
		return err
	}
	for i, r := range c.Checks.Rules {
		if strings.TrimSpace(r.When) == "" {
			return invalid(fmt.Sprintf("checks.rules[%d].when", i), "must not be empty")
		}
	}
	return nil
}

// GuardRules converts the guards section into per-capability predicates.
func (c *Config) GuardRules() (map[capability.Kind]string, error) {
	if len(c.Guards) == 0 {
		return nil, nil
	}
	out := make(map[capability.Kind]string, len(c.Guards))
	for name, expr := range c.Guards {
		kind, err := capability.ParseKind(name)
		if err != nil {
			return nil, invalid("guards."+name, "not a capability (want one of %v)", capability.Kinds())
		}
		if strings.TrimSpace(expr) == "" {
			return nil, invalid("guards."+name, "empty expression")
		}
		out[kind] = expr
	}
	return out, nil
}

// LLMBreaker returns the breaker settings for the model adapter.
func (c *Config) LLMBreaker() llm.BreakerConfig {
	b := llm.DefaultBreakerConfig()
	b.FailureThreshold = c.Breaker.FailureThreshold
	if c.Breaker.Cooldown > 0 {
		b.Cooldown = c.Breaker.Cooldown
	}
	return b
}

// LLMRetry returns the retry policy for the model adapter.
func (c *Config) LLMRetry() llm.RetryPolicy {
	return llm.RetryPolicy{
		Attempts: c.Model.Retry.Attempts,
		Delay:    c.Model.Retry.Delay,
		Backoff:  c.Model.Retry.Backoff,
		MaxDelay: c.Model.Retry.MaxDelay,
	}
}

func invalid(key, format string, args ...any) error {
	return schema.NewErrorf(schema.ErrCodeValidation, "config %s: "+format, append([]any{key}, args...)...).
		WithDetails(map[string]any{"key": key})
}
