// Package config loads the simulator's YAML configuration. Durations use
// Go syntax ("5s", "2ms"); zero or missing values fall back to defaults
// during Load.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Root struct {
	System  SystemConfig  `yaml:"system"`
	Files   FilesConfig   `yaml:"files"`
	Network NetworkConfig `yaml:"network"`
	Plc     PlcConfig     `yaml:"plc"`
	History HistoryConfig `yaml:"history"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

type SystemConfig struct {
	Processing struct {
		MaxWorkers   int `yaml:"max_workers"`
		MaxQueueSize int `yaml:"max_queue_size"`
	} `yaml:"processing"`
	Validity struct {
		Interval time.Duration `yaml:"interval"`
		Timeout  time.Duration `yaml:"timeout"`
	} `yaml:"validity"`
	Retransmit struct {
		InitialInterval time.Duration `yaml:"initial_interval"`
		MaxInterval     time.Duration `yaml:"max_interval"`
	} `yaml:"retransmit"`
}

type FilesConfig struct {
	Nameplates        string `yaml:"nameplates"`
	SubscriberMapping string `yaml:"subscriber_mapping"`
	TypeMapping       string `yaml:"type_mapping"`
}

type NetworkConfig struct {
	Lan1Listen string `yaml:"lan1_listen"`
	Lan2Listen string `yaml:"lan2_listen"`
	Lan1Peer   string `yaml:"lan1_peer"`
	Lan2Peer   string `yaml:"lan2_peer"`
}

type PlcConfig struct {
	Enabled        bool          `yaml:"enabled"`
	ReportAddr     string        `yaml:"report_addr"`
	ReportInterval time.Duration `yaml:"report_interval"`
	CommandListen  string        `yaml:"command_listen"`
}

type HistoryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DBPath       string `yaml:"db_path"`
	MaxQueueSize int    `yaml:"max_queue_size"`
}

type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string) (Root, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Root{}, err
	}
	var cfg Root
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Root{}, err
	}
	// Defaults
	if cfg.System.Processing.MaxWorkers <= 0 {
		cfg.System.Processing.MaxWorkers = 4
	}
	if cfg.System.Processing.MaxQueueSize <= 0 {
		cfg.System.Processing.MaxQueueSize = 1024
	}
	if cfg.System.Validity.Interval <= 0 {
		cfg.System.Validity.Interval = 5 * time.Second
	}
	if cfg.System.Validity.Timeout <= 0 {
		cfg.System.Validity.Timeout = 10 * time.Second
	}
	if cfg.System.Retransmit.InitialInterval <= 0 {
		cfg.System.Retransmit.InitialInterval = 2 * time.Millisecond
	}
	if cfg.System.Retransmit.MaxInterval <= 0 {
		cfg.System.Retransmit.MaxInterval = 5 * time.Second
	}
	if cfg.Plc.ReportInterval <= 0 {
		cfg.Plc.ReportInterval = time.Second
	}
	if cfg.History.MaxQueueSize <= 0 {
		cfg.History.MaxQueueSize = 4096
	}
	if cfg.Metrics.ListenAddress == "" {
		cfg.Metrics.ListenAddress = ":9100"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	// Basic validation
	if cfg.Files.Nameplates == "" {
		return Root{}, fmt.Errorf("files.nameplates must be set")
	}
	if cfg.Files.SubscriberMapping == "" {
		return Root{}, fmt.Errorf("files.subscriber_mapping must be set")
	}
	if cfg.Files.TypeMapping == "" {
		return Root{}, fmt.Errorf("files.type_mapping must be set")
	}
	if cfg.Network.Lan1Listen == "" && cfg.Network.Lan2Listen == "" {
		return Root{}, fmt.Errorf("at least one of network.lan1_listen or network.lan2_listen must be set")
	}
	if cfg.Plc.Enabled && cfg.Plc.ReportAddr == "" {
		return Root{}, fmt.Errorf("plc.report_addr must be set when the PLC link is enabled")
	}
	if cfg.History.Enabled && cfg.History.DBPath == "" {
		return Root{}, fmt.Errorf("history.db_path must be set when history is enabled")
	}
	return cfg, nil
}
