// SPDX-License-Identifier: MIT

package tapohub

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kirsle/configdir"
	"gopkg.in/yaml.v3"
)

// Credentials are the TP-Link account credentials used for the device login
// and the cloud fallback.
type Credentials struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Set reports whether both username and password are non-blank.
func (c Credentials) Set() bool {
	return strings.TrimSpace(c.Username) != "" && strings.TrimSpace(c.Password) != ""
}

// HubConfig is the host-side configuration record of a hub bridge. Intervals
// of zero or less disable the corresponding scheduler.
type HubConfig struct {
	IPAddress         string      `yaml:"ip_address"`
	ReconnectInterval int         `yaml:"reconnect_interval"` // minutes
	DiscoveryInterval int         `yaml:"discovery_interval"` // minutes
	Credentials       Credentials `yaml:"credentials"`
}

// DeviceConfig is the host-side configuration record of a child device.
type DeviceConfig struct {
	DeviceID        string `yaml:"device_id"`
	MAC             string `yaml:"mac"`
	Model           string `yaml:"model"`
	PollingInterval int    `yaml:"polling_interval"` // seconds
}

// Config is the daemon configuration file.
type Config struct {
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Hub     HubConfig      `yaml:"hub"`
	Devices []DeviceConfig `yaml:"devices"`
}

// DefaultConfigPath returns the per-user config file location.
func DefaultConfigPath() string {
	return filepath.Join(configdir.LocalConfig("tapohubd"), "config.yml")
}

// LoadConfig reads and validates a daemon configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.Hub.IPAddress == "" {
		return nil, fmt.Errorf("hub.ip_address is required")
	}
	for idx, d := range cfg.Devices {
		if d.DeviceID == "" {
			return nil, fmt.Errorf("devices[%d]: device_id is required", idx)
		}
	}
	return &cfg, nil
}
