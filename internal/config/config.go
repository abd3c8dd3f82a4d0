// Package config loads the sandbox service configuration from YAML.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"codesandbox/internal/sandbox/engine"
	"codesandbox/internal/sandbox/policy"
	"codesandbox/internal/sandbox/profile"
	"codesandbox/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8090"
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 60 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 15 * time.Second
	defaultWorkRoot        = "tmpCode"
	defaultCompileTimeout  = 30 * time.Second
	defaultRunTimeout      = 5 * time.Second
	defaultHeapMB          = 256
	defaultMaxOutputBytes  = 64 * 1024
	defaultMaxCodeBytes    = 64 * 1024
	defaultImage           = "eclipse-temurin:17-jre"
	defaultMemoryMB        = 100
	defaultCPUs            = 1.0
	defaultPidsLimit       = 64
	defaultTmpfsSize       = "16m"
	defaultSampleInterval  = 100 * time.Millisecond
	defaultTeardown        = 10 * time.Second
	defaultAuthHeader      = "auth"
	defaultMetricsPath     = "/metrics"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// AuthConfig holds the caller shared secret. A secret is required unless
// Disabled is set.
type AuthConfig struct {
	Header   string `yaml:"header"`
	Secret   string `yaml:"secret"`
	Disabled bool   `yaml:"disabled"`
}

// RateLimitConfig bounds inbound judgments.
type RateLimitConfig struct {
	RPS           float64 `yaml:"rps"`
	Burst         int     `yaml:"burst"`
	MaxConcurrent int64   `yaml:"maxConcurrent"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// SandboxConfig holds settings shared by every backend.
type SandboxConfig struct {
	DefaultBackend string        `yaml:"defaultBackend"`
	WorkRoot       string        `yaml:"workRoot"`
	MaxCodeBytes   int           `yaml:"maxCodeBytes"`
	MaxCases       int           `yaml:"maxCases"`
	Blacklist      []string      `yaml:"blacklist"`
	CompileTimeout time.Duration `yaml:"compileTimeout"`
	MaxOutputBytes int64         `yaml:"maxOutputBytes"`
}

// RlimitConfig mirrors the limits the init helper applies.
type RlimitConfig struct {
	CPUSeconds    uint64 `yaml:"cpuSeconds"`
	FileSizeBytes uint64 `yaml:"fileSizeBytes"`
	OpenFiles     uint64 `yaml:"openFiles"`
	DisableCore   bool   `yaml:"disableCore"`
}

// ProcessConfig holds host process backend settings.
type ProcessConfig struct {
	TimeLimit       time.Duration `yaml:"timeLimit"`
	HeapMB          int64         `yaml:"heapMB"`
	InputMode       string        `yaml:"inputMode"`
	StderrIsError   *bool         `yaml:"stderrIsError"`
	SecurityManager *bool         `yaml:"securityManager"`
	Seccomp         bool          `yaml:"seccomp"`
	HelperPath      string        `yaml:"helperPath"`
	Deny            []string      `yaml:"deny"`
	Rlimits         RlimitConfig  `yaml:"rlimits"`
}

// ContainerConfig holds container backend settings.
type ContainerConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Image           string        `yaml:"image"`
	KeeperCmd       []string      `yaml:"keeperCmd"`
	PullOnStart     bool          `yaml:"pullOnStart"`
	MemoryMB        int64         `yaml:"memoryMB"`
	CPUs            float64       `yaml:"cpus"`
	PidsLimit       int64         `yaml:"pidsLimit"`
	TmpfsSize       string        `yaml:"tmpfsSize"`
	HeapMB          int64         `yaml:"heapMB"`
	TimeLimit       time.Duration `yaml:"timeLimit"`
	SampleInterval  time.Duration `yaml:"sampleInterval"`
	TeardownTimeout time.Duration `yaml:"teardownTimeout"`
	InputMode       string        `yaml:"inputMode"`
	StderrIsError   *bool         `yaml:"stderrIsError"`
}

// AppConfig holds the sandbox service config.
type AppConfig struct {
	Server    ServerConfig         `yaml:"server"`
	Logger    logger.Config        `yaml:"logger"`
	Auth      AuthConfig           `yaml:"auth"`
	RateLimit RateLimitConfig      `yaml:"rateLimit"`
	Metrics   MetricsConfig        `yaml:"metrics"`
	Sandbox   SandboxConfig        `yaml:"sandbox"`
	Language  profile.LanguageSpec `yaml:"language"`
	Process   ProcessConfig        `yaml:"process"`
	Container ContainerConfig      `yaml:"container"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

// Load reads path, applies defaults and validates the result.
func Load(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a config with every default applied.
func Default() *AppConfig {
	var cfg AppConfig
	cfg.ApplyDefaults()
	return &cfg
}

// ApplyDefaults fills zero values.
func (c *AppConfig) ApplyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = defaultHTTPAddr
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = defaultReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = defaultWriteTimeout
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = defaultIdleTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Format == "" {
		c.Logger.Format = "json"
	}
	if c.Auth.Header == "" {
		c.Auth.Header = defaultAuthHeader
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = defaultMetricsPath
	}

	if c.Sandbox.DefaultBackend == "" {
		c.Sandbox.DefaultBackend = engine.BackendNative
	}
	if c.Sandbox.WorkRoot == "" {
		c.Sandbox.WorkRoot = defaultWorkRoot
	}
	if c.Sandbox.MaxCodeBytes == 0 {
		c.Sandbox.MaxCodeBytes = defaultMaxCodeBytes
	}
	if len(c.Sandbox.Blacklist) == 0 {
		c.Sandbox.Blacklist = append([]string(nil), policy.DefaultBlacklist...)
	}
	if c.Sandbox.CompileTimeout == 0 {
		c.Sandbox.CompileTimeout = defaultCompileTimeout
	}
	if c.Sandbox.MaxOutputBytes == 0 {
		c.Sandbox.MaxOutputBytes = defaultMaxOutputBytes
	}

	java := profile.Java()
	if c.Language.ID == "" {
		c.Language.ID = java.ID
	}
	if c.Language.SourceFile == "" {
		c.Language.SourceFile = java.SourceFile
	}
	if c.Language.MainClass == "" {
		c.Language.MainClass = java.MainClass
	}
	if c.Language.CompileCmdTpl == "" {
		c.Language.CompileCmdTpl = java.CompileCmdTpl
	}
	if c.Language.RunCmdTpl == "" {
		c.Language.RunCmdTpl = java.RunCmdTpl
	}

	if c.Process.TimeLimit == 0 {
		c.Process.TimeLimit = defaultRunTimeout
	}
	if c.Process.HeapMB == 0 {
		c.Process.HeapMB = defaultHeapMB
	}
	if c.Process.InputMode == "" {
		c.Process.InputMode = engine.InputModeArgs
	}
	if c.Process.StderrIsError == nil {
		c.Process.StderrIsError = boolPtr(true)
	}
	if c.Process.SecurityManager == nil {
		c.Process.SecurityManager = boolPtr(true)
	}
	if len(c.Process.Deny) == 0 {
		for _, capability := range policy.AllCapabilities {
			c.Process.Deny = append(c.Process.Deny, string(capability))
		}
	}

	if c.Container.Image == "" {
		c.Container.Image = defaultImage
	}
	if c.Container.MemoryMB == 0 {
		c.Container.MemoryMB = defaultMemoryMB
	}
	if c.Container.CPUs == 0 {
		c.Container.CPUs = defaultCPUs
	}
	if c.Container.PidsLimit == 0 {
		c.Container.PidsLimit = defaultPidsLimit
	}
	if c.Container.TmpfsSize == "" {
		c.Container.TmpfsSize = defaultTmpfsSize
	}
	if c.Container.HeapMB == 0 {
		// Leave room for the JVM's own memory inside the ceiling.
		c.Container.HeapMB = c.Container.MemoryMB * 3 / 4
	}
	if c.Container.TimeLimit == 0 {
		c.Container.TimeLimit = defaultRunTimeout
	}
	if c.Container.SampleInterval == 0 {
		c.Container.SampleInterval = defaultSampleInterval
	}
	if c.Container.TeardownTimeout == 0 {
		c.Container.TeardownTimeout = defaultTeardown
	}
	if c.Container.InputMode == "" {
		c.Container.InputMode = engine.InputModeArgs
	}
	if c.Container.StderrIsError == nil {
		c.Container.StderrIsError = boolPtr(true)
	}
}

// Validate rejects inconsistent settings.
func (c *AppConfig) Validate() error {
	if !c.Auth.Disabled && strings.TrimSpace(c.Auth.Secret) == "" {
		return fmt.Errorf("auth.secret is required unless auth.disabled is set")
	}
	switch c.Sandbox.DefaultBackend {
	case engine.BackendNative:
	case engine.BackendDocker:
		if !c.Container.Enabled {
			return fmt.Errorf("default backend %q requires container.enabled", c.Sandbox.DefaultBackend)
		}
	default:
		return fmt.Errorf("unknown default backend %q", c.Sandbox.DefaultBackend)
	}
	for name, mode := range map[string]string{"process": c.Process.InputMode, "container": c.Container.InputMode} {
		if mode != engine.InputModeArgs && mode != engine.InputModeStdin {
			return fmt.Errorf("%s.inputMode must be %q or %q, got %q", name, engine.InputModeArgs, engine.InputModeStdin, mode)
		}
	}
	if c.Process.TimeLimit < 0 || c.Container.TimeLimit < 0 || c.Sandbox.CompileTimeout < 0 {
		return fmt.Errorf("time limits must not be negative")
	}
	if c.Process.HeapMB < 0 || c.Container.HeapMB < 0 {
		return fmt.Errorf("heap size must not be negative")
	}
	if c.Container.Enabled {
		if c.Container.MemoryMB <= 0 {
			return fmt.Errorf("container.memoryMB must be positive")
		}
		if c.Container.HeapMB >= c.Container.MemoryMB {
			return fmt.Errorf("container.heapMB (%d) must be below container.memoryMB (%d)", c.Container.HeapMB, c.Container.MemoryMB)
		}
		if c.Container.CPUs <= 0 {
			return fmt.Errorf("container.cpus must be positive")
		}
	}
	if c.Process.Seccomp && c.Process.HelperPath == "" {
		return fmt.Errorf("process.helperPath is required when process.seccomp is enabled")
	}
	for _, d := range c.Process.Deny {
		if !knownCapability(d) {
			return fmt.Errorf("unknown capability %q in process.deny", d)
		}
	}
	if strings.TrimSpace(c.Language.RunCmdTpl) == "" || strings.TrimSpace(c.Language.CompileCmdTpl) == "" {
		return fmt.Errorf("language command templates are required")
	}
	return nil
}

// RuntimePolicy builds the process backend policy.
func (c *AppConfig) RuntimePolicy() policy.RuntimePolicy {
	p := policy.RuntimePolicy{
		JVMSecurityManager: boolValue(c.Process.SecurityManager, true),
		Seccomp:            c.Process.Seccomp,
	}
	for _, d := range c.Process.Deny {
		p.Deny = append(p.Deny, policy.Capability(d))
	}
	return p
}

// ProcessEngineConfig converts the process section for the engine.
func (c *AppConfig) ProcessEngineConfig() engine.ProcessConfig {
	return engine.ProcessConfig{
		TimeLimit:     c.Process.TimeLimit,
		HeapMB:        c.Process.HeapMB,
		InputMode:     c.Process.InputMode,
		StderrIsError: boolValue(c.Process.StderrIsError, true),
		Policy:        c.RuntimePolicy(),
		Rlimits: policy.Rlimits{
			CPUSeconds:    c.Process.Rlimits.CPUSeconds,
			FileSizeBytes: c.Process.Rlimits.FileSizeBytes,
			OpenFiles:     c.Process.Rlimits.OpenFiles,
			DisableCore:   c.Process.Rlimits.DisableCore,
		},
	}
}

// ContainerEngineConfig converts the container section for the engine.
func (c *AppConfig) ContainerEngineConfig() engine.ContainerConfig {
	return engine.ContainerConfig{
		Image:           c.Container.Image,
		KeeperCmd:       c.Container.KeeperCmd,
		MemoryBytes:     c.Container.MemoryMB << 20,
		NanoCPUs:        int64(c.Container.CPUs * 1e9),
		PidsLimit:       c.Container.PidsLimit,
		TmpfsSize:       c.Container.TmpfsSize,
		HeapMB:          c.Container.HeapMB,
		TimeLimit:       c.Container.TimeLimit,
		SampleInterval:  c.Container.SampleInterval,
		TeardownTimeout: c.Container.TeardownTimeout,
		MaxOutputBytes:  c.Sandbox.MaxOutputBytes,
		InputMode:       c.Container.InputMode,
		StderrIsError:   boolValue(c.Container.StderrIsError, true),
	}
}

func knownCapability(name string) bool {
	for _, capability := range policy.AllCapabilities {
		if string(capability) == name {
			return true
		}
	}
	return false
}

func boolPtr(v bool) *bool {
	return &v
}

func boolValue(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
