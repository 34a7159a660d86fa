package config

import (
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Satel         SatelConfig         `yaml:"satel"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	Partitions    []PartitionConfig   `yaml:"partitions"`
	Zones         []ZoneConfig        `yaml:"zones"`
	Outputs       []OutputConfig      `yaml:"outputs"`
	Log           string              `yaml:"log"`
	Cache         bool                `yaml:"cache"`
}

type SatelConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// Code is the default alarm code for arm/disarm/output commands.
	Code string `yaml:"code"`
	// IntegrationKey enables encrypted communication when set: a
	// 32-character hex string as configured in the ETHM-1 Plus module.
	IntegrationKey string `yaml:"integration_key"`
	// Intervals in seconds.
	PollInterval   int `yaml:"poll_interval"`
	Heartbeat      int `yaml:"heartbeat"`
	ReconnectDelay int `yaml:"reconnect_delay"`
	ReconnectMax   int `yaml:"reconnect_max_delay"`
}

type MQTTConfig struct {
	ClientID  string `yaml:"client_id"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Keepalive int    `yaml:"keepalive"`
	Password  string `yaml:"password"`
	QOS       int    `yaml:"qos"`
	Retain    bool   `yaml:"retain"`
	Username  string `yaml:"username"`
	Prefix    string `yaml:"prefix"`
	Clean     bool   `yaml:"clean"`
}

type HomeAssistantConfig struct {
	Discovery bool   `yaml:"discovery"`
	Prefix    string `yaml:"prefix"`
}

type PartitionConfig struct {
	Number int    `yaml:"number"`
	Name   string `yaml:"name"`
}

type ZoneConfig struct {
	Number      int    `yaml:"number"`
	Name        string `yaml:"name"`
	DeviceClass string `yaml:"device_class"`
}

type OutputConfig struct {
	Number int    `yaml:"number"`
	Name   string `yaml:"name"`
}

func LoadConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %v", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %v", err)
	}

	config.applyDefaults()

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Satel.Port == 0 {
		c.Satel.Port = 7094
	}
	if c.Satel.PollInterval == 0 {
		c.Satel.PollInterval = 30
	}
	if c.Satel.Heartbeat == 0 {
		c.Satel.Heartbeat = 30
	}
	if c.Satel.ReconnectDelay == 0 {
		c.Satel.ReconnectDelay = 2
	}
	if c.Satel.ReconnectMax == 0 {
		c.Satel.ReconnectMax = 120
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "satel2mqtt"
	}
	if c.MQTT.Host == "" {
		c.MQTT.Host = "localhost"
	}
	if c.MQTT.Port == 0 {
		c.MQTT.Port = 1883
	}
	if c.MQTT.Keepalive == 0 {
		c.MQTT.Keepalive = 60
	}
	if c.MQTT.Prefix == "" {
		c.MQTT.Prefix = "satel2mqtt"
	}
	if c.HomeAssistant.Prefix == "" {
		c.HomeAssistant.Prefix = "homeassistant"
	}
	if c.Log == "" {
		c.Log = "info"
	}
}

// validate fails fast on values the protocol layer would reject anyway.
func (c *Config) validate() error {
	if c.Satel.Host == "" {
		return fmt.Errorf("satel.host is required")
	}
	if key := c.Satel.IntegrationKey; key != "" {
		raw, err := hex.DecodeString(key)
		if err != nil {
			return fmt.Errorf("satel.integration_key must be a hex string: %v", err)
		}
		if len(raw) != 16 {
			return fmt.Errorf("satel.integration_key must be 16 bytes (32 hex characters), got %d bytes", len(raw))
		}
	}
	if code := c.Satel.Code; code != "" {
		if len(code) < 4 || len(code) > 8 {
			return fmt.Errorf("satel.code must be 4-8 digits")
		}
		for _, r := range code {
			if r < '0' || r > '9' {
				return fmt.Errorf("satel.code must contain only digits")
			}
		}
	}
	return nil
}
