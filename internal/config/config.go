// Package config loads nullclaw's YAML configuration and environment
// overrides, and watches the config files for hot reload.
package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/basket/nullclaw/internal/policy"
)

// DoctorConfig tunes the diagnostic profile.
type DoctorConfig struct {
	// Profile is "full" or "software_only"; software_only suppresses
	// hardware readiness warnings.
	Profile string `yaml:"profile"`
}

// HardwareConfig gates GPIO/serial probing.
type HardwareConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Transport string `yaml:"transport"` // "none" disables probing
}

// PeripheralsConfig gates board enumeration.
type PeripheralsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// SandboxConfig selects the shell sandbox backend.
type SandboxConfig struct {
	// Backend is "auto", "none", or a concrete backend tag; auto selects
	// the best available on the platform.
	Backend string `yaml:"backend"`
}

// SecurityConfig is the instance security policy surface.
type SecurityConfig struct {
	Sandbox                      SandboxConfig `yaml:"sandbox"`
	WorkspaceDir                 string        `yaml:"workspace_dir"`
	WorkspaceOnly                bool          `yaml:"workspace_only"`
	AllowedCommands              []string      `yaml:"allowed_commands"`
	MaxActionsPerHour            int           `yaml:"max_actions_per_hour"`
	RequireApprovalForMediumRisk bool          `yaml:"require_approval_for_medium_risk"`
	BlockHighRiskCommands        *bool         `yaml:"block_high_risk_commands"` // nil = default true
}

// AutonomyConfig sets the agent action level.
type AutonomyConfig struct {
	Level string `yaml:"level"` // read_only | supervised | full
}

// GatewayConfig is the local HTTP surface.
type GatewayConfig struct {
	Host string `yaml:"host"` // default loopback
	Port int    `yaml:"port"`
}

// SecretScopeConfig sets the default scope for stored secrets.
type SecretScopeConfig struct {
	DefaultScope string `yaml:"default_scope"` // global | session | workspace | group
}

// SyncConfig wires the huginn/muninn peer link.
type SyncConfig struct {
	NodeID              string `yaml:"node_id"`
	PeerURL             string `yaml:"peer_url"` // empty disables federation
	Codec               string `yaml:"codec"`    // json (default) | cbor
	HeartbeatIntervalMS int64  `yaml:"heartbeat_interval_ms"`
	DegradedAfterMissed int    `yaml:"degraded_after_missed"`
	OfflineAfterMissed  int    `yaml:"offline_after_missed"`
}

// ToolsConfig tunes the reliability envelope.
type ToolsConfig struct {
	MaxRetries    int   `yaml:"max_retries"`
	BaseDelayMS   int64 `yaml:"base_delay_ms"`
	MaxDelayMS    int64 `yaml:"max_delay_ms"`
	CacheCapacity int   `yaml:"cache_capacity"`
	CacheTTLSec   int64 `yaml:"cache_ttl_sec"`
	BreakerEnabled *bool `yaml:"breaker_enabled"` // nil = enabled
}

// MemoryConfig locates the memory backend.
type MemoryConfig struct {
	Path           string  `yaml:"path"`            // sqlite file; default <home>/memory.db
	RelevanceAlpha float64 `yaml:"relevance_alpha"` // blend weight, default 0.7
}

// PipelineConfig enables the planner/executor/verifier pipeline.
type PipelineConfig struct {
	Enabled       bool  `yaml:"enabled"`
	StepRetries   int   `yaml:"step_retries"`
	BaseDelayMS   int64 `yaml:"base_delay_ms"`
	MaxDelayMS    int64 `yaml:"max_delay_ms"`
}

// ScheduleConfig is one cron-driven outbound producer.
type ScheduleConfig struct {
	Name     string `yaml:"name"`
	CronExpr string `yaml:"cron"`
	Channel  string `yaml:"channel"`
	ChatID   string `yaml:"chat_id"`
	Message  string `yaml:"message"`
}

// OtelConfig enables metrics export.
type OtelConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // stdout | none
}

// Config is the full nullclaw configuration.
type Config struct {
	HomeDir string `yaml:"-"`

	LogLevel string `yaml:"log_level"`

	Autonomy    AutonomyConfig    `yaml:"autonomy"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	Doctor      DoctorConfig      `yaml:"doctor"`
	Hardware    HardwareConfig    `yaml:"hardware"`
	Peripherals PeripheralsConfig `yaml:"peripherals"`
	Security    SecurityConfig    `yaml:"security"`
	SecretScope SecretScopeConfig `yaml:"secret_scope"`
	Sync        SyncConfig        `yaml:"sync"`
	Tools       ToolsConfig       `yaml:"tools"`
	Memory      MemoryConfig      `yaml:"memory"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Otel        OtelConfig        `yaml:"otel"`

	Schedules []ScheduleConfig `yaml:"schedules"`

	// WorkspacePolicies are per-workspace overrides keyed by workspace dir.
	WorkspacePolicies map[string]policy.WorkspacePolicy `yaml:"workspace_policies"`
}

// HomeDir resolves the data directory: $NULLCLAW_HOME or ~/.nullclaw.
func HomeDir() string {
	if override := os.Getenv("NULLCLAW_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".nullclaw")
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// PolicyPath returns the path to policy.yaml within the given home directory.
func PolicyPath(homeDir string) string {
	return filepath.Join(homeDir, "policy.yaml")
}

// Load reads config.yaml from the nullclaw home, applies env overrides and
// defaults. A missing file yields the defaults.
func Load() (Config, error) {
	return LoadFrom(HomeDir())
}

// LoadFrom reads configuration rooted at the given home directory.
func LoadFrom(homeDir string) (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = homeDir

	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create nullclaw home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(homeDir))
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		LogLevel: "info",
		Autonomy: AutonomyConfig{Level: "supervised"},
		Gateway:  GatewayConfig{Host: "127.0.0.1", Port: 18790},
		Doctor:   DoctorConfig{Profile: "full"},
		Security: SecurityConfig{
			Sandbox:           SandboxConfig{Backend: "auto"},
			MaxActionsPerHour: 120,
		},
		SecretScope: SecretScopeConfig{DefaultScope: "session"},
		Sync: SyncConfig{
			Codec:               "json",
			HeartbeatIntervalMS: 30_000,
			DegradedAfterMissed: 2,
			OfflineAfterMissed:  5,
		},
		Tools: ToolsConfig{
			MaxRetries:    2,
			BaseDelayMS:   250,
			MaxDelayMS:    10_000,
			CacheCapacity: 128,
			CacheTTLSec:   300,
		},
		Memory:   MemoryConfig{RelevanceAlpha: 0.7},
		Pipeline: PipelineConfig{Enabled: false, StepRetries: 2, BaseDelayMS: 500, MaxDelayMS: 10_000},
	}
}

func normalize(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Autonomy.Level == "" {
		cfg.Autonomy.Level = "supervised"
	}
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = "127.0.0.1"
	}
	if cfg.Doctor.Profile == "" {
		cfg.Doctor.Profile = "full"
	}
	if cfg.Security.Sandbox.Backend == "" {
		cfg.Security.Sandbox.Backend = "auto"
	}
	if cfg.SecretScope.DefaultScope == "" {
		cfg.SecretScope.DefaultScope = "session"
	}
	if cfg.Sync.Codec == "" {
		cfg.Sync.Codec = "json"
	}
	if cfg.Sync.NodeID == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "nullclaw"
		}
		if len(host) > 64 {
			host = host[:64]
		}
		cfg.Sync.NodeID = host
	}
	if cfg.Sync.HeartbeatIntervalMS <= 0 {
		cfg.Sync.HeartbeatIntervalMS = 30_000
	}
	if cfg.Memory.Path == "" {
		cfg.Memory.Path = filepath.Join(cfg.HomeDir, "memory.db")
	}
	if cfg.Memory.RelevanceAlpha <= 0 || cfg.Memory.RelevanceAlpha > 1 {
		cfg.Memory.RelevanceAlpha = 0.7
	}
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("NULLCLAW_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("NULLCLAW_AUTONOMY"); raw != "" {
		cfg.Autonomy.Level = raw
	}
	if raw := os.Getenv("NULLCLAW_GATEWAY_HOST"); raw != "" {
		cfg.Gateway.Host = raw
	}
	if raw := os.Getenv("NULLCLAW_NODE_ID"); raw != "" {
		cfg.Sync.NodeID = raw
	}
	if raw := os.Getenv("NULLCLAW_PEER_URL"); raw != "" {
		cfg.Sync.PeerURL = raw
	}
	if raw := os.Getenv("NULLCLAW_MAX_ACTIONS_PER_HOUR"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Security.MaxActionsPerHour = v
		}
	}
	if raw := os.Getenv("NULLCLAW_PIPELINE_ENABLED"); raw != "" {
		cfg.Pipeline.Enabled = raw == "1" || strings.EqualFold(raw, "true")
	}
}

// SecurityEngine builds the instance policy engine from the config.
func (c Config) SecurityEngine() *policy.Engine {
	eng := policy.Default()
	eng.Autonomy = policy.ParseAutonomy(c.Autonomy.Level)
	eng.WorkspaceDir = c.Security.WorkspaceDir
	eng.WorkspaceOnly = c.Security.WorkspaceOnly
	eng.MaxActionsPerHour = c.Security.MaxActionsPerHour
	eng.RequireApprovalForMediumRisk = c.Security.RequireApprovalForMediumRisk
	if c.Security.BlockHighRiskCommands != nil {
		eng.BlockHighRiskCommands = *c.Security.BlockHighRiskCommands
	}
	if len(c.Security.AllowedCommands) > 0 {
		eng.AllowedCommands = append(policy.DefaultAllowedCommands(), c.Security.AllowedCommands...)
	}
	if eng.MaxActionsPerHour > 0 {
		eng.SetRateTracker(policy.NewRateTracker(eng.MaxActionsPerHour))
	}
	return eng
}

// WorkspaceEngine derives the effective engine for a workspace dir, or the
// instance engine when no override exists.
func (c Config) WorkspaceEngine(instance *policy.Engine, workspaceDir string) *policy.Engine {
	wp, ok := c.WorkspacePolicies[workspaceDir]
	if !ok {
		return instance
	}
	return wp.Apply(instance)
}

// Fingerprint returns a stable hash of the load-bearing config fields.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "log=%s|autonomy=%s|gateway=%s:%d|node=%s|peer=%s|codec=%s|pipeline=%v",
		c.LogLevel, c.Autonomy.Level, c.Gateway.Host, c.Gateway.Port,
		c.Sync.NodeID, c.Sync.PeerURL, c.Sync.Codec, c.Pipeline.Enabled)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}
