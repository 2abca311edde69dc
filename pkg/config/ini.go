package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/core-tools/hsu-procsup/pkg/errors"

	"gopkg.in/ini.v1"
)

const processSectionPrefix = "process:"

// loadINI reads the classic sectioned layout:
//
//	[network]       host, port, max_datagram_size
//	[logging]       log_level, use_console, enable_file, log_dir, log_file, rotation_time, backup_count
//	[supervisor]    processes_dir, interpreter, script_extension, grace_period, kill_wait, wait_delay, run_duration
//	[metrics]       enabled, address
//	[process:NAME]  launch parameters, including enable
//
// Any other named section is kept verbatim in Config.Sections.
func loadINI(filename string) (*Config, error) {
	file, err := ini.LoadSources(ini.LoadOptions{InsensitiveKeys: true}, filename)
	if err != nil {
		return nil, errors.NewValidationError("failed to parse INI configuration", err).WithContext("filename", filename)
	}

	config := &Config{Sections: map[string]map[string]string{}}
	for _, section := range file.Sections() {
		name := section.Name()
		if name == ini.DefaultSection {
			continue
		}

		var err error
		switch {
		case name == "network":
			err = readNetworkSection(section, &config.Network)
		case name == "logging":
			err = readLoggingSection(section, config)
		case name == "supervisor":
			err = readSupervisorSection(section, &config.Supervisor)
		case name == "metrics":
			err = readMetricsSection(section, &config.Metrics)
		case strings.HasPrefix(name, processSectionPrefix):
			config.Processes = append(config.Processes, ProcessConfig{
				Name:   strings.TrimSpace(strings.TrimPrefix(name, processSectionPrefix)),
				Params: sectionValues(section),
			})
		default:
			config.Sections[name] = sectionValues(section)
		}
		if err != nil {
			return nil, errors.NewValidationError(fmt.Sprintf("invalid [%s] section", name), err).
				WithContext("filename", filename)
		}
	}

	return config, nil
}

func sectionValues(section *ini.Section) StringMap {
	values := make(StringMap, len(section.Keys()))
	for _, key := range section.Keys() {
		values[key.Name()] = key.Value()
	}
	return values
}

func readNetworkSection(section *ini.Section, network *NetworkConfig) error {
	network.Host = section.Key("host").String()
	if section.HasKey("port") {
		port, err := section.Key("port").Int()
		if err != nil {
			return fmt.Errorf("port: %w", err)
		}
		network.Port = port
	}
	if section.HasKey("max_datagram_size") {
		size, err := section.Key("max_datagram_size").Int()
		if err != nil {
			return fmt.Errorf("max_datagram_size: %w", err)
		}
		network.MaxDatagramSize = size
	}
	return nil
}

func readLoggingSection(section *ini.Section, config *Config) error {
	logging := &config.Logging
	logging.LogLevel = section.Key("log_level").String()
	logging.LogDir = section.Key("log_dir").String()
	logging.LogFile = section.Key("log_file").String()
	logging.RotationTime = section.Key("rotation_time").String()

	if section.HasKey("use_console") {
		useConsole, err := section.Key("use_console").Bool()
		if err != nil {
			return fmt.Errorf("use_console: %w", err)
		}
		logging.UseConsole = &useConsole
	}
	if section.HasKey("enable_file") {
		enableFile, err := section.Key("enable_file").Bool()
		if err != nil {
			return fmt.Errorf("enable_file: %w", err)
		}
		logging.EnableFile = &enableFile
	}
	if section.HasKey("backup_count") {
		count, err := section.Key("backup_count").Int()
		if err != nil {
			return fmt.Errorf("backup_count: %w", err)
		}
		logging.BackupCount = count
	}
	return nil
}

func readSupervisorSection(section *ini.Section, supervisor *SupervisorConfig) error {
	supervisor.ProcessesDir = section.Key("processes_dir").String()
	if section.HasKey("interpreter") {
		interpreter := section.Key("interpreter").String()
		supervisor.Interpreter = &interpreter
	}
	if section.HasKey("script_extension") {
		extension := section.Key("script_extension").String()
		supervisor.ScriptExtension = &extension
	}

	if err := readDuration(section, "grace_period", &supervisor.GracePeriod); err != nil {
		return err
	}
	if err := readDuration(section, "kill_wait", &supervisor.KillWait); err != nil {
		return err
	}
	if err := readDuration(section, "wait_delay", &supervisor.WaitDelay); err != nil {
		return err
	}

	if section.HasKey("run_duration") {
		seconds, err := section.Key("run_duration").Int()
		if err != nil {
			return fmt.Errorf("run_duration: %w", err)
		}
		supervisor.RunDuration = seconds
	}
	return nil
}

func readDuration(section *ini.Section, key string, target *time.Duration) error {
	if !section.HasKey(key) {
		return nil
	}
	d, err := section.Key(key).Duration()
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*target = d
	return nil
}

func readMetricsSection(section *ini.Section, metrics *MetricsConfig) error {
	metrics.Address = section.Key("address").String()
	if section.HasKey("enabled") {
		enabled, err := section.Key("enabled").Bool()
		if err != nil {
			return fmt.Errorf("enabled: %w", err)
		}
		metrics.Enabled = enabled
	}
	return nil
}
