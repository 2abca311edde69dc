package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/core-tools/hsu-procsup/pkg/errors"
	"github.com/core-tools/hsu-procsup/pkg/logging"
	"github.com/core-tools/hsu-procsup/pkg/logging/zaplogging"
	"github.com/core-tools/hsu-procsup/pkg/registry"

	"gopkg.in/yaml.v3"
)

// Config represents the top-level configuration file structure
type Config struct {
	Network    NetworkConfig     `yaml:"network"`
	Logging    zaplogging.Config `yaml:"logging"`
	Supervisor SupervisorConfig  `yaml:"supervisor"`
	Metrics    MetricsConfig     `yaml:"metrics"`
	Processes  []ProcessConfig   `yaml:"processes"`

	// Named sections not interpreted by the supervisor itself
	Sections map[string]map[string]string `yaml:"sections,omitempty"`
}

// NetworkConfig describes the UDP control endpoint
type NetworkConfig struct {
	Host            string `yaml:"host,omitempty"`
	Port            int    `yaml:"port,omitempty"`
	MaxDatagramSize int    `yaml:"max_datagram_size,omitempty"`
}

// SupervisorConfig describes how workers are located, launched and stopped
type SupervisorConfig struct {
	ProcessesDir    string        `yaml:"processes_dir,omitempty"`
	Interpreter     *string       `yaml:"interpreter,omitempty"`      // nil means default, "" means execute directly
	ScriptExtension *string       `yaml:"script_extension,omitempty"` // nil means default
	GracePeriod     time.Duration `yaml:"grace_period,omitempty"`
	KillWait        time.Duration `yaml:"kill_wait,omitempty"`
	WaitDelay       time.Duration `yaml:"wait_delay,omitempty"`
	RunDuration     int           `yaml:"run_duration,omitempty"` // seconds, debug feature
}

// MetricsConfig describes the optional Prometheus/status HTTP endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Address string `yaml:"address,omitempty"`
}

// ProcessConfig is one [process:<name>] entry
type ProcessConfig struct {
	Name   string    `yaml:"name"`
	Params StringMap `yaml:"params,omitempty"`
}

// Enabled reports whether the reserved enable parameter is "true"
func (pc ProcessConfig) Enabled() bool {
	return registry.IsEnabledValue(pc.Params[registry.EnableKey])
}

// StringMap decodes any YAML mapping of scalars as literal strings, so that
// `enable: true` and `rate: 48000` both become string values.
type StringMap map[string]string

func (m *StringMap) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping of parameters", node.Line)
	}
	result := make(StringMap, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valueNode := node.Content[i], node.Content[i+1]
		if valueNode.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: parameter %q must be a scalar value", valueNode.Line, keyNode.Value)
		}
		value := valueNode.Value
		if valueNode.Tag == "!!null" {
			value = ""
		}
		result[keyNode.Value] = value
	}
	*m = result
	return nil
}

const (
	DefaultHost            = "0.0.0.0"
	DefaultPort            = 30000
	DefaultMaxDatagramSize = 1024
	DefaultProcessesDir    = "processes"
	DefaultInterpreter     = "python"
	DefaultScriptExtension = ".py"
	DefaultGracePeriod     = 5 * time.Second
	DefaultKillWait        = 5 * time.Second
	DefaultWaitDelay       = 2 * time.Second
	DefaultMetricsAddress  = "127.0.0.1:9130"

	maxUDPPayload = 65507
	minDatagram   = 64
)

// LoadConfigFromFile loads configuration from a YAML (.yaml, .yml) or INI (.ini, .cfg, .conf) file
func LoadConfigFromFile(filename string) (*Config, error) {
	var config *Config
	var err error

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".ini", ".cfg", ".conf":
		config, err = loadINI(filename)
	default:
		config, err = loadYAML(filename)
	}
	if err != nil {
		return nil, err
	}

	if err := setConfigDefaults(config); err != nil {
		return nil, errors.NewValidationError("failed to apply configuration defaults", err)
	}

	return config, nil
}

func loadYAML(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.NewValidationError("failed to parse YAML configuration", err).WithContext("filename", filename)
	}
	return &config, nil
}

// setConfigDefaults applies default values to configuration
func setConfigDefaults(config *Config) error {
	if config.Network.Host == "" {
		config.Network.Host = DefaultHost
	}
	if config.Network.Port == 0 {
		config.Network.Port = DefaultPort
	}
	if config.Network.MaxDatagramSize == 0 {
		config.Network.MaxDatagramSize = DefaultMaxDatagramSize
	}

	if config.Logging.LogLevel == "" {
		config.Logging.LogLevel = zaplogging.DefaultLogLevel
	}
	if config.Logging.LogDir == "" {
		config.Logging.LogDir = zaplogging.DefaultLogDir
	}
	if config.Logging.LogFile == "" {
		config.Logging.LogFile = zaplogging.DefaultLogFile
	}
	if config.Logging.RotationTime == "" {
		config.Logging.RotationTime = zaplogging.DefaultRotationTime
	}
	if config.Logging.BackupCount == 0 {
		config.Logging.BackupCount = zaplogging.DefaultBackupCount
	}

	sv := &config.Supervisor
	if sv.ProcessesDir == "" {
		sv.ProcessesDir = DefaultProcessesDir
	}
	if sv.Interpreter == nil {
		interpreter := DefaultInterpreter
		sv.Interpreter = &interpreter
	}
	if sv.ScriptExtension == nil {
		extension := DefaultScriptExtension
		sv.ScriptExtension = &extension
	}
	if sv.GracePeriod == 0 {
		sv.GracePeriod = DefaultGracePeriod
	}
	if sv.KillWait == 0 {
		sv.KillWait = DefaultKillWait
	}
	if sv.WaitDelay == 0 {
		sv.WaitDelay = DefaultWaitDelay
	}

	if config.Metrics.Address == "" {
		config.Metrics.Address = DefaultMetricsAddress
	}

	for i := range config.Processes {
		config.Processes[i].Name = strings.TrimSpace(config.Processes[i].Name)
		if config.Processes[i].Params == nil {
			config.Processes[i].Params = StringMap{}
		}
	}

	if config.Sections == nil {
		config.Sections = map[string]map[string]string{}
	}

	return nil
}

// ValidateConfig validates the entire configuration structure
func ValidateConfig(config *Config) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	if config.Network.Port <= 0 || config.Network.Port > 65535 {
		return errors.NewValidationError(
			fmt.Sprintf("invalid port number: %d", config.Network.Port),
			nil,
		).WithContext("valid_range", "1-65535")
	}
	if config.Network.MaxDatagramSize < minDatagram || config.Network.MaxDatagramSize > maxUDPPayload {
		return errors.NewValidationError(
			fmt.Sprintf("invalid max_datagram_size: %d", config.Network.MaxDatagramSize),
			nil,
		).WithContext("valid_range", fmt.Sprintf("%d-%d", minDatagram, maxUDPPayload))
	}

	if config.Logging.LogLevel != "" {
		if _, ok := logging.ParseLevel(config.Logging.LogLevel); !ok {
			return errors.NewValidationError(
				fmt.Sprintf("invalid log level: %s", config.Logging.LogLevel),
				nil,
			).WithContext("valid_levels", "debug, info, warning, error")
		}
	}

	if config.Supervisor.GracePeriod < 0 {
		return errors.NewValidationError("grace_period must be positive", nil).
			WithContext("grace_period", config.Supervisor.GracePeriod)
	}
	if config.Supervisor.KillWait < 0 {
		return errors.NewValidationError("kill_wait must be positive", nil).
			WithContext("kill_wait", config.Supervisor.KillWait)
	}
	if config.Supervisor.RunDuration < 0 {
		return errors.NewValidationError("run_duration cannot be negative", nil)
	}

	if config.Metrics.Enabled && config.Metrics.Address == "" {
		return errors.NewValidationError("metrics address is required when metrics are enabled", nil)
	}

	return validateProcessesConfig(config.Processes)
}

func validateProcessesConfig(processes []ProcessConfig) error {
	seen := make(map[string]int)
	for i, process := range processes {
		if process.Name == "" {
			return errors.NewValidationError(fmt.Sprintf("empty process name at index %d", i), nil)
		}
		if strings.ContainsAny(process.Name, `/\`) || process.Name == "." || process.Name == ".." {
			return errors.NewValidationError("process name must not contain path separators", nil).
				WithContext("process", process.Name)
		}
		if prev, exists := seen[process.Name]; exists {
			return errors.NewValidationError(
				fmt.Sprintf("duplicate process name '%s' found at indices %d and %d", process.Name, prev, i),
				nil,
			)
		}
		seen[process.Name] = i
	}
	return nil
}

// BuildRegistry creates the read-only process registry from configuration
func BuildRegistry(config *Config) (*registry.Registry, error) {
	if config == nil {
		return nil, errors.NewValidationError("configuration cannot be nil", nil)
	}

	entries := make([]registry.Entry, 0, len(config.Processes))
	for _, process := range config.Processes {
		entries = append(entries, registry.NewEntry(process.Name, process.Params))
	}
	return registry.New(entries)
}

// ValidateConfigFile validates a configuration file without running anything
func ValidateConfigFile(configFile string) (*Config, error) {
	config, err := LoadConfigFromFile(configFile)
	if err != nil {
		return nil, errors.NewIOError("failed to load configuration", err).WithContext("config_file", configFile)
	}
	if err := ValidateConfig(config); err != nil {
		return nil, errors.NewValidationError("configuration validation failed", err).WithContext("config_file", configFile)
	}
	return config, nil
}

// ConfigSummary provides a high-level overview of configuration
type ConfigSummary struct {
	Address          string           `json:"address"`
	LogLevel         string           `json:"log_level"`
	ProcessesDir     string           `json:"processes_dir"`
	TotalProcesses   int              `json:"total_processes"`
	EnabledProcesses int              `json:"enabled_processes"`
	Processes        []ProcessSummary `json:"processes"`
	Sections         []string         `json:"sections,omitempty"`
}

// ProcessSummary provides a summary of one process entry
type ProcessSummary struct {
	Name    string   `json:"name"`
	Enabled bool     `json:"enabled"`
	Params  []string `json:"params,omitempty"`
}

// GetConfigSummary returns a human-readable summary of the configuration
func GetConfigSummary(config *Config) ConfigSummary {
	summary := ConfigSummary{
		Address:      fmt.Sprintf("%s:%d", config.Network.Host, config.Network.Port),
		LogLevel:     config.Logging.LogLevel,
		ProcessesDir: config.Supervisor.ProcessesDir,
		Processes:    make([]ProcessSummary, 0, len(config.Processes)),
	}

	for _, process := range config.Processes {
		params := make([]string, 0, len(process.Params))
		for k, v := range process.Params {
			params = append(params, k+"="+v)
		}
		sort.Strings(params)

		ps := ProcessSummary{Name: process.Name, Enabled: process.Enabled(), Params: params}
		if ps.Enabled {
			summary.EnabledProcesses++
		}
		summary.Processes = append(summary.Processes, ps)
	}
	summary.TotalProcesses = len(summary.Processes)

	for name := range config.Sections {
		summary.Sections = append(summary.Sections, name)
	}
	sort.Strings(summary.Sections)

	return summary
}
