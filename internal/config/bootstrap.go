// Package config holds the two configuration layers: a Bootstrap read
// once at process start from the environment and an optional YAML file,
// and a hot-reloadable Runtime document persisted as JSON.
//
// The env/YAML-with-overrides shape is grounded on internal/config/config.go;
// narrowed here to the handful of fields a single-board appliance
// actually needs.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Bootstrap holds process-environment configuration, read once at
// startup and never hot-reloaded.
type Bootstrap struct {
	BaseDir             string  `yaml:"base_dir"`
	HTTPHost            string  `yaml:"http_host"`
	HTTPPort            int     `yaml:"http_port"`
	AdminUsername       string  `yaml:"admin_username"`
	AdminPasswordDigest string  `yaml:"admin_password_digest"`
	SessionTTLHours     float64 `yaml:"session_ttl_hours"`
	StorageCapGB        float64 `yaml:"storage_cap_gb"`
	CleanupFraction     float64 `yaml:"cleanup_fraction"`
	RelayPins           []int   `yaml:"relay_pins"`
	WiegandD0Pins       []int   `yaml:"wiegand_d0_pins"`
	WiegandD1Pins       []int   `yaml:"wiegand_d1_pins"`
	RemoteCredsPath     string  `yaml:"remote_credentials_path"`
	EntityID            string  `yaml:"entity_id"`
	RemoteProbeTarget   string  `yaml:"remote_probe_target"`
}

// DefaultBootstrap returns the floor values used when neither the YAML
// file nor the environment specify a setting.
func DefaultBootstrap() Bootstrap {
	return Bootstrap{
		BaseDir:           "/var/lib/accessd",
		HTTPHost:          "0.0.0.0",
		HTTPPort:          5001,
		AdminUsername:     "admin",
		SessionTTLHours:   12,
		StorageCapGB:      1,
		CleanupFraction:   0.5,
		RelayPins:         []int{1},
		WiegandD0Pins:     []int{1},
		WiegandD1Pins:     []int{1},
		EntityID:          "default-appliance",
		RemoteProbeTarget: "8.8.8.8:443",
	}
}

// LoadBootstrap loads an optional .env file, an optional YAML file at
// yamlPath, then applies environment-variable overrides on top of both
// (file first, then env wins).
func LoadBootstrap(yamlPath string) (Bootstrap, error) {
	// Best-effort: a missing .env is normal in production deployments.
	_ = godotenv.Load()

	cfg := DefaultBootstrap()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil && !os.IsNotExist(err) {
			return Bootstrap{}, fmt.Errorf("config: read bootstrap file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Bootstrap{}, fmt.Errorf("config: parse bootstrap file: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Bootstrap) applyEnvOverrides() {
	c.BaseDir = getEnv("ACCESSD_BASE_DIR", c.BaseDir)
	c.HTTPHost = getEnv("ACCESSD_HTTP_HOST", c.HTTPHost)
	c.HTTPPort = getEnvInt("ACCESSD_HTTP_PORT", c.HTTPPort)
	c.AdminUsername = getEnv("ACCESSD_ADMIN_USERNAME", c.AdminUsername)
	c.AdminPasswordDigest = getEnv("ACCESSD_ADMIN_PASSWORD_DIGEST", c.AdminPasswordDigest)
	c.SessionTTLHours = getEnvFloat("ACCESSD_SESSION_TTL_HOURS", c.SessionTTLHours)
	c.StorageCapGB = getEnvFloat("ACCESSD_STORAGE_CAP_GB", c.StorageCapGB)
	c.CleanupFraction = getEnvFloat("ACCESSD_CLEANUP_FRACTION", c.CleanupFraction)
	c.RemoteCredsPath = getEnv("ACCESSD_REMOTE_CREDENTIALS_PATH", c.RemoteCredsPath)
	c.EntityID = getEnv("ACCESSD_ENTITY_ID", c.EntityID)
	c.RemoteProbeTarget = getEnv("ACCESSD_REMOTE_PROBE_TARGET", c.RemoteProbeTarget)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
