// Package config loads the YAML configuration of a node.
package config

import (
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables consulted for unset values.
const (
	EnvConfig  = "GOS_CONFIG"
	EnvMQTTURL = "GOS_MQTT_URL"
	EnvAddr    = "GOS_ADDR"
)

// Config is the node configuration.
type Config struct {
	Node    NodeConfig    `yaml:"node"`
	Storage StorageConfig `yaml:"storage"`
	Program ProgramConfig `yaml:"program"`
	BootCfg BootCfgConfig `yaml:"bootcfg"`
	IPL     IPLConfig     `yaml:"ipl"`
	Sysmon  SysmonConfig  `yaml:"sysmon"`
	Boot    BootConfig    `yaml:"boot"`
}

// ---- NODE ----

type NodeConfig struct {
	// Name is announced during discovery, at most 16 ASCII characters.
	Name string `yaml:"name"`
}

// ---- STORAGE ----

// StorageConfig describes the external storage holding the catalog and
// the binaries.
type StorageConfig struct {
	Path            string `yaml:"path"`
	Size            uint32 `yaml:"size"`
	CatalogBase     uint32 `yaml:"catalog_base"`
	Capacity        int    `yaml:"capacity"`
	BinaryAreaStart uint32 `yaml:"binary_area_start"`
	ChunkSize       uint32 `yaml:"chunk_size"`
}

// ---- PROGRAM MEMORY ----

type ProgramConfig struct {
	Path       string `yaml:"path"`
	Base       uint32 `yaml:"base"`
	Size       uint32 `yaml:"size"`
	AppStart   uint32 `yaml:"app_start"`
	MaxAppSize uint32 `yaml:"max_app_size"`
}

// ---- UPDATE CONFIGURATION RECORD ----

// BootCfgConfig places the update configuration record. Without Path the
// record is kept on the storage device.
type BootCfgConfig struct {
	Path string `yaml:"path"`
	Addr uint32 `yaml:"addr"`
}

// ---- TRANSPORT LINK ----

type IPLConfig struct {
	Listen string `yaml:"listen"`
	// MaxDiscoverAttempts below zero never parks the link.
	MaxDiscoverAttempts int           `yaml:"max_discover_attempts"`
	Backoff             time.Duration `yaml:"backoff"`
	ResponseTimeout     time.Duration `yaml:"response_timeout"`
	SendTimeout         time.Duration `yaml:"send_timeout"`
	ReceiveTimeout      time.Duration `yaml:"receive_timeout"`
	MaxPayloadLength    uint32        `yaml:"max_payload_length"`
	RequestTimeout      time.Duration `yaml:"request_timeout"`
}

// ---- SYSTEM MONITOR ----

type SysmonConfig struct {
	MQTTURL         string        `yaml:"mqtt_url"`
	Listen          string        `yaml:"listen"`
	WebsocketListen string        `yaml:"websocket_listen"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	FeedbackTimeout time.Duration `yaml:"feedback_timeout"`
}

// ---- INSTALLER ----

type BootConfig struct {
	ChunkSize         int           `yaml:"chunk_size"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	WaitForConnection bool          `yaml:"wait_for_connection"`
}

// Load reads and decodes the configuration file. Unknown fields are rejected.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// Decode decodes a YAML document. An empty document is an empty Config.
func Decode(r io.Reader) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return nil, err
	}
	return &cfg, nil
}

// LoadDefault loads the file named by GOS_CONFIG, or returns an empty
// configuration when it's not set.
func LoadDefault() (*Config, error) {
	if path := os.Getenv(EnvConfig); path != "" {
		return Load(path)
	}
	return &Config{}, nil
}

// ApplyEnv fills unset values from the environment.
func ApplyEnv(cfg *Config) {
	if cfg.Sysmon.MQTTURL == "" {
		cfg.Sysmon.MQTTURL = os.Getenv(EnvMQTTURL)
	}
	if cfg.IPL.Listen == "" {
		cfg.IPL.Listen = os.Getenv(EnvAddr)
	}
}
