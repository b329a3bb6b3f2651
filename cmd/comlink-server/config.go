package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig mirrors the command-line flags in YAML form. Pointer
// fields distinguish absent keys from zero values, so the file only
// overrides what it names. Durations use Go duration syntax ("5ms").
type FileConfig struct {
	BindAddress *string `yaml:"bind_address"`
	Port        *int    `yaml:"port"`
	Backlog     *int    `yaml:"backlog"`
	MaxConns    *int    `yaml:"max_connections"`
	Pacing      *string `yaml:"send_pacing"`
	PublicKey   *string `yaml:"public_key"`
	PrivateKey  *string `yaml:"private_key"`
	KeyBits     *int    `yaml:"key_bits"`
	Session     *bool   `yaml:"session_cipher"`
	Advertise   *bool   `yaml:"advertise"`
	Instance    *string `yaml:"instance_name"`
	Heartbeat   *string `yaml:"heartbeat"`
	ProtocolLog *string `yaml:"protocol_log"`
	LogLevel    *string `yaml:"log_level"`
}

// flagsSet returns the names of the flags given on the command line.
func flagsSet() map[string]bool {
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

// applyFileConfig loads the YAML configuration file and fills in every
// setting whose flag was not given explicitly. Explicit flags win.
func applyFileConfig(path string, set map[string]bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	if fc.BindAddress != nil && !set["addr"] {
		config.BindAddress = *fc.BindAddress
	}
	if fc.Port != nil && !set["port"] {
		config.Port = *fc.Port
	}
	if fc.Backlog != nil && !set["backlog"] {
		config.Backlog = *fc.Backlog
	}
	if fc.MaxConns != nil && !set["max-conns"] {
		config.MaxConns = *fc.MaxConns
	}
	if fc.Pacing != nil && !set["pacing"] {
		d, err := time.ParseDuration(*fc.Pacing)
		if err != nil {
			return fmt.Errorf("invalid send_pacing: %w", err)
		}
		config.Pacing = d
	}
	if fc.PublicKey != nil && !set["pub"] {
		config.PublicKey = *fc.PublicKey
	}
	if fc.PrivateKey != nil && !set["key"] {
		config.PrivateKey = *fc.PrivateKey
	}
	if fc.KeyBits != nil && !set["bits"] {
		config.KeyBits = *fc.KeyBits
	}
	if fc.Session != nil && !set["session"] {
		config.Session = *fc.Session
	}
	if fc.Advertise != nil && !set["advertise"] {
		config.Advertise = *fc.Advertise
	}
	if fc.Instance != nil && !set["instance"] {
		config.Instance = *fc.Instance
	}
	if fc.Heartbeat != nil && !set["heartbeat"] {
		d, err := time.ParseDuration(*fc.Heartbeat)
		if err != nil {
			return fmt.Errorf("invalid heartbeat: %w", err)
		}
		config.Heartbeat = d
	}
	if fc.ProtocolLog != nil && !set["protocol-log"] {
		config.ProtocolLog = *fc.ProtocolLog
	}
	if fc.LogLevel != nil && !set["log-level"] {
		config.LogLevel = *fc.LogLevel
	}

	return nil
}
