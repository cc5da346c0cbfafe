package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Scanner   ScannerConfig   `mapstructure:"scanner"`
	Intel     IntelConfig     `mapstructure:"intel"`
	Filter    FilterConfig    `mapstructure:"filter"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type ServerConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ScannerConfig struct {
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	CacheMaxEntries int           `mapstructure:"cache_max_entries"`
	MaxRiskScore    int           `mapstructure:"max_risk_score"`
	IndicatorTTL    time.Duration `mapstructure:"indicator_ttl"`
	TaxonomyTTL     time.Duration `mapstructure:"taxonomy_ttl"`
	MultiplierStep  float64       `mapstructure:"multiplier_step"`
	MultiplierCap   float64       `mapstructure:"multiplier_cap"`
	BandCritical    int           `mapstructure:"band_critical"`
	BandHigh        int           `mapstructure:"band_high"`
	BandMedium      int           `mapstructure:"band_medium"`
}

type IntelConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
}

type FilterConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	MaxRiskScore   int      `mapstructure:"max_risk_score"`
	BlockCritical  bool     `mapstructure:"block_critical"`
	LogThreats     bool     `mapstructure:"log_threats"`
	TrustedIPs     []string `mapstructure:"trusted_ips"`
	TrustedOrigins []string `mapstructure:"trusted_origins"`
	ScanFields     []string `mapstructure:"scan_fields"`
	BypassHeader   string   `mapstructure:"bypass_header"`
	BypassToken    string   `mapstructure:"bypass_token"`
}

type TelemetryConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	APIKey   string `mapstructure:"api_key"`
	Workers  int    `mapstructure:"workers"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

var globalConfig Config

func Load(configPath string) error {
	if err := loadConfigFile(configPath, "config", &globalConfig); err != nil {
		return err
	}
	setDefaultValues()
	return nil
}

func loadConfigFile(configPath, fileName string, out interface{}) error {
	viper.SetConfigName(fileName)
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configPath)
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// Environment variables alone can carry a full configuration.
			return viper.Unmarshal(out)
		}
		return fmt.Errorf("error reading config file %s.yaml: %w", fileName, err)
	}

	if err := viper.Unmarshal(out); err != nil {
		return fmt.Errorf("failed to unmarshal %s config: %w", fileName, err)
	}

	return nil
}

func setDefaultValues() {
	if globalConfig.Server.Port == 0 {
		globalConfig.Server.Port = 8080
	}
	if globalConfig.Server.MetricsPort == 0 {
		globalConfig.Server.MetricsPort = 9090
	}
	if globalConfig.Redis.Port == 0 {
		globalConfig.Redis.Port = 6379
	}
	if globalConfig.Intel.Timeout == 0 {
		globalConfig.Intel.Timeout = 10 * time.Second
	}
	if globalConfig.Intel.RequestsPerSecond == 0 {
		globalConfig.Intel.RequestsPerSecond = 5
	}
	if globalConfig.Telemetry.Workers == 0 {
		globalConfig.Telemetry.Workers = 2
	}
}

func GetConfig() *Config {
	return &globalConfig
}
