// Package config loads the service configuration from configs/config.yml and
// OPENFAN_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"openfan_micro/internal/engine"
	"openfan_micro/internal/logger"
	"openfan_micro/internal/models"
	"openfan_micro/internal/tempsource"
)

const (
	DefaultPort           = "8080"
	DefaultDBPath         = "app.db"
	DefaultTokenTTL       = time.Hour
	DefaultRequestTimeout = 5 * time.Second
	DefaultWriteTimeout   = 10 * time.Minute
	DefaultSensorInterval = 5 * time.Second
	DefaultCurve          = "45=25, 65=55, 70=100"

	DefaultPollInterval          = 5
	DefaultFailureThreshold      = 3
	DefaultStallThreshold        = 3
	DefaultIntegrateSeconds      = 30
	DefaultUpdateMinIntervalSecs = 10
	DefaultDeadbandPct           = 3
)

// Accepted ranges for device settings.
const (
	MinPollInterval, MaxPollInterval         = 2, 60
	MaxUncalibratedMinPWM                    = 60
	MinIntegrateSeconds, MaxIntegrateSeconds = 5, 900
	MinUpdateInterval, MaxUpdateInterval     = 2, 300
	MaxDeadbandPct                           = 20
	MinThreshold, MaxThreshold               = 1, 10
)

type Config struct {
	Port    string         `mapstructure:"port"`
	Log     LogConfig      `mapstructure:"log"`
	DB      DBConfig       `mapstructure:"db"`
	Auth    AuthConfig     `mapstructure:"auth"`
	MQTT    MQTTConfig     `mapstructure:"mqtt"`
	Sensors SensorsConfig  `mapstructure:"sensors"`
	HTTP    HTTPConfig     `mapstructure:"http"`
	Devices []DeviceConfig `mapstructure:"devices"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type DBConfig struct {
	Path string `mapstructure:"path"`
}

type AuthConfig struct {
	SigningKey string        `mapstructure:"signing_key"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
}

type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	ClientID string `mapstructure:"client_id"`
}

type SensorsConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// HTTPConfig holds the device client timeout and the API server write
// timeout. The write timeout bounds blocking calibration requests.
type HTTPConfig struct {
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
}

// DeviceConfig is one configured fan controller. Zero-valued fields take the
// defaults; TempDeadbandPct is a pointer because zero is a meaningful value.
type DeviceConfig struct {
	ID                    string `mapstructure:"id"`
	Name                  string `mapstructure:"name"`
	Host                  string `mapstructure:"host"`
	MAC                   string `mapstructure:"mac"`
	PollInterval          int    `mapstructure:"poll_interval"`
	FailureThreshold      int    `mapstructure:"failure_threshold"`
	StallThreshold        int    `mapstructure:"stall_threshold"`
	MinPWM                int    `mapstructure:"min_pwm"`
	MinPWMCalibrated      bool   `mapstructure:"min_pwm_calibrated"`
	TempSource            string `mapstructure:"temp_source"`
	TempCurve             string `mapstructure:"temp_curve"`
	TempIntegrateSeconds  int    `mapstructure:"temp_integrate_seconds"`
	TempUpdateMinInterval int    `mapstructure:"temp_update_min_interval"`
	TempDeadbandPct       *int   `mapstructure:"temp_deadband_pct"`
}

// Settings converts the entry to persisted settings, filling defaults.
func (d DeviceConfig) Settings() models.DeviceSettings {
	s := models.DeviceSettings{
		ID:                    strings.TrimSpace(d.ID),
		Name:                  d.Name,
		Host:                  strings.TrimSpace(d.Host),
		MAC:                   d.MAC,
		PollIntervalSec:       orDefault(d.PollInterval, DefaultPollInterval),
		FailureThreshold:      orDefault(d.FailureThreshold, DefaultFailureThreshold),
		StallThreshold:        orDefault(d.StallThreshold, DefaultStallThreshold),
		MinPWM:                d.MinPWM,
		MinPWMCalibrated:      d.MinPWMCalibrated,
		TempSource:            strings.TrimSpace(d.TempSource),
		TempCurve:             d.TempCurve,
		TempIntegrateSec:      orDefault(d.TempIntegrateSeconds, DefaultIntegrateSeconds),
		TempUpdateMinInterval: orDefault(d.TempUpdateMinInterval, DefaultUpdateMinIntervalSecs),
		TempDeadbandPct:       DefaultDeadbandPct,
	}
	if s.Name == "" {
		s.Name = s.ID
	}
	if strings.TrimSpace(s.TempCurve) == "" {
		s.TempCurve = DefaultCurve
	}
	if d.TempDeadbandPct != nil {
		s.TempDeadbandPct = *d.TempDeadbandPct
	}
	return s
}

// Load reads the config file at path, or configs/config.yml when path is
// empty. A missing default file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("OPENFAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("configs")
		v.SetConfigName("config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", DefaultPort)
	v.SetDefault("log.level", logger.InfoLevel)
	v.SetDefault("db.path", DefaultDBPath)
	v.SetDefault("auth.signing_key", "")
	v.SetDefault("auth.token_ttl", DefaultTokenTTL)
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("sensors.enabled", false)
	v.SetDefault("sensors.poll_interval", DefaultSensorInterval)
	v.SetDefault("http.request_timeout", DefaultRequestTimeout)
	v.SetDefault("http.write_timeout", DefaultWriteTimeout)
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Port) == "" {
		errs = append(errs, errors.New("port must not be empty"))
	}
	switch strings.ToLower(c.Log.Level) {
	case logger.DebugLevel, logger.InfoLevel, logger.WarnLevel, logger.ErrorLevel:
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug|info|warn|error", c.Log.Level))
	}
	if strings.TrimSpace(c.Auth.SigningKey) == "" {
		errs = append(errs, errors.New("auth.signing_key must be set"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth.token_ttl must be positive"))
	}
	if c.MQTT.Enabled && strings.TrimSpace(c.MQTT.Broker) == "" {
		errs = append(errs, errors.New("mqtt.broker is required when mqtt is enabled"))
	}
	if c.HTTP.RequestTimeout <= 0 {
		errs = append(errs, errors.New("http.request_timeout must be positive"))
	}
	if c.HTTP.WriteTimeout <= 0 {
		errs = append(errs, errors.New("http.write_timeout must be positive"))
	}

	seen := make(map[string]struct{}, len(c.Devices))
	for i, d := range c.Devices {
		s := d.Settings()
		if s.ID == "" {
			errs = append(errs, fmt.Errorf("devices[%d]: id is required", i))
			continue
		}
		if _, dup := seen[s.ID]; dup {
			errs = append(errs, fmt.Errorf("devices[%d]: duplicate id %q", i, s.ID))
		}
		seen[s.ID] = struct{}{}
		if err := ValidateDevice(s); err != nil {
			errs = append(errs, fmt.Errorf("devices[%d] (%s): %w", i, s.ID, err))
		}
		if src := s.TempSource; src != "" {
			if ref, err := tempsource.Parse(src); err == nil && ref.Kind == tempsource.KindMQTT && !c.MQTT.Enabled {
				errs = append(errs, fmt.Errorf("devices[%d] (%s): source %s needs mqtt.enabled", i, s.ID, src))
			}
		}
	}
	return errors.Join(errs...)
}

// ValidateDevice checks one device's settings against the accepted ranges.
func ValidateDevice(s models.DeviceSettings) error {
	var errs []error
	if strings.TrimSpace(s.Host) == "" {
		errs = append(errs, errors.New("host is required"))
	}
	errs = appendRange(errs, "poll_interval", s.PollIntervalSec, MinPollInterval, MaxPollInterval)
	errs = appendRange(errs, "failure_threshold", s.FailureThreshold, MinThreshold, MaxThreshold)
	errs = appendRange(errs, "stall_threshold", s.StallThreshold, MinThreshold, MaxThreshold)
	maxMinPWM := MaxUncalibratedMinPWM
	if s.MinPWMCalibrated {
		maxMinPWM = 100
	}
	errs = appendRange(errs, "min_pwm", s.MinPWM, 0, maxMinPWM)
	errs = appendRange(errs, "temp_integrate_seconds", s.TempIntegrateSec, MinIntegrateSeconds, MaxIntegrateSeconds)
	errs = appendRange(errs, "temp_update_min_interval", s.TempUpdateMinInterval, MinUpdateInterval, MaxUpdateInterval)
	errs = appendRange(errs, "temp_deadband_pct", s.TempDeadbandPct, 0, MaxDeadbandPct)
	if _, err := engine.ParseCurve(s.TempCurve); err != nil {
		errs = append(errs, fmt.Errorf("temp_curve: %w", err))
	}
	if s.TempSource != "" {
		if _, err := tempsource.Parse(s.TempSource); err != nil {
			errs = append(errs, fmt.Errorf("temp_source: %w", err))
		}
	}
	return errors.Join(errs...)
}

func appendRange(errs []error, key string, v, lo, hi int) []error {
	if v < lo || v > hi {
		return append(errs, fmt.Errorf("%s %d outside %d..%d", key, v, lo, hi))
	}
	return errs
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
