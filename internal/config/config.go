package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ClientConfig captures all tunable parameters for the driver agent.
// Values come from defaults, then an optional YAML file, then environment
// variables, so the binary can run locally with only DRIVER_ID set.
type ClientConfig struct {
	DriverID string `yaml:"driver_id"`

	APIBaseURL string `yaml:"api_base_url"`
	SocketURL  string `yaml:"socket_url"`
	RoutingURL string `yaml:"routing_url"`

	HTTPAddr        string        `yaml:"http_addr"`
	ReadTimeout     time.Duration `yaml:"http_read_timeout"`
	WriteTimeout    time.Duration `yaml:"http_write_timeout"`
	IdleTimeout     time.Duration `yaml:"http_idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"http_shutdown_timeout"`

	BackendTimeout time.Duration `yaml:"backend_timeout"`

	SampleInterval    time.Duration `yaml:"location_sample_interval"`
	EmitInterval      time.Duration `yaml:"location_emit_interval"`
	GeohashPrecision  int           `yaml:"location_geohash_precision"`
	StartLat          float64       `yaml:"location_start_lat"`
	StartLng          float64       `yaml:"location_start_lng"`
	SimulatedSpeedMps float64       `yaml:"location_simulated_speed_mps"`

	RedisAddr        string        `yaml:"redis_addr"`
	RedisPassword    string        `yaml:"redis_password"`
	RedisGeoKey      string        `yaml:"redis_geo_key"`
	DistanceCacheTTL time.Duration `yaml:"distance_cache_ttl"`

	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`

	PGDSN string `yaml:"pg_dsn"`

	LogLevel      string `yaml:"log_level"`
	RunMigrations bool   `yaml:"migrate"`
}

func defaultClientConfig() ClientConfig {
	return ClientConfig{
		APIBaseURL:        "http://localhost:5001/api/v1",
		SocketURL:         "ws://localhost:5001/ws",
		RoutingURL:        "https://router.project-osrm.org",
		HTTPAddr:          ":8090",
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ShutdownTimeout:   15 * time.Second,
		BackendTimeout:    10 * time.Second,
		SampleInterval:    time.Second,
		EmitInterval:      5 * time.Second,
		GeohashPrecision:  7,
		StartLat:          10.7769,
		StartLng:          106.7009,
		SimulatedSpeedMps: 8,
		RedisGeoKey:       "drivers_geo",
		DistanceCacheTTL:  10 * time.Minute,
		KafkaTopic:        "driver-locations",
		LogLevel:          "info",
	}
}

// LoadClientConfig builds the configuration. path may be empty, in which
// case DRIVER_CONFIG is consulted; no file at all is fine. Overrides run
// after the environment and before validation.
func LoadClientConfig(path string, overrides ...func(*ClientConfig)) (ClientConfig, error) {
	cfg := defaultClientConfig()
	var errs []error

	if path == "" {
		path = strings.TrimSpace(os.Getenv("DRIVER_CONFIG"))
	}
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}

	setStringFromEnv(&cfg.DriverID, "DRIVER_ID")
	setStringFromEnv(&cfg.APIBaseURL, "API_BASE_URL")
	setStringFromEnv(&cfg.SocketURL, "SOCKET_URL")
	setStringFromEnv(&cfg.RoutingURL, "ROUTING_URL")

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.BackendTimeout, "BACKEND_TIMEOUT", &errs)

	setDurationFromEnv(&cfg.SampleInterval, "LOCATION_SAMPLE_INTERVAL", &errs)
	setDurationFromEnv(&cfg.EmitInterval, "LOCATION_EMIT_INTERVAL", &errs)
	setIntFromEnv(&cfg.GeohashPrecision, "LOCATION_GEOHASH_PRECISION", &errs)
	setFloatFromEnv(&cfg.StartLat, "LOCATION_START_LAT", &errs)
	setFloatFromEnv(&cfg.StartLng, "LOCATION_START_LNG", &errs)
	setFloatFromEnv(&cfg.SimulatedSpeedMps, "LOCATION_SIMULATED_SPEED_MPS", &errs)

	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")
	setDurationFromEnv(&cfg.DistanceCacheTTL, "DISTANCE_CACHE_TTL", &errs)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	setStringFromEnv(&cfg.PGDSN, "PG_DSN")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("MIGRATE"); v != "" {
		cfg.RunMigrations = strings.EqualFold(v, "true")
	}

	for _, o := range overrides {
		o(&cfg)
	}

	errs = append(errs, cfg.Validate())
	return cfg, errors.Join(errs...)
}

// Validate checks the fields the agent cannot run without.
func (c ClientConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DriverID) == "" {
		errs = append(errs, fmt.Errorf("DRIVER_ID is required"))
	}
	if _, err := url.ParseRequestURI(c.APIBaseURL); err != nil {
		errs = append(errs, fmt.Errorf("invalid API_BASE_URL: %w", err))
	}
	if u, err := url.Parse(c.SocketURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		errs = append(errs, fmt.Errorf("SOCKET_URL must be a ws:// or wss:// url"))
	}
	if c.SampleInterval <= 0 {
		errs = append(errs, fmt.Errorf("LOCATION_SAMPLE_INTERVAL must be > 0"))
	}
	if c.EmitInterval < c.SampleInterval {
		errs = append(errs, fmt.Errorf("LOCATION_EMIT_INTERVAL must be >= LOCATION_SAMPLE_INTERVAL"))
	}
	if c.GeohashPrecision < 1 || c.GeohashPrecision > 12 {
		errs = append(errs, fmt.Errorf("LOCATION_GEOHASH_PRECISION must be in 1..12"))
	}
	if c.StartLat < -90 || c.StartLat > 90 || c.StartLng < -180 || c.StartLng > 180 {
		errs = append(errs, fmt.Errorf("LOCATION_START_LAT/LNG out of range"))
	}
	return errors.Join(errs...)
}

func loadFile(path string, cfg *ClientConfig) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	dec := yaml.NewDecoder(strings.NewReader(string(b)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
