package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadClientConfigRequiresDriverID(t *testing.T) {
	t.Setenv("DRIVER_ID", "")
	t.Setenv("DRIVER_CONFIG", "")
	_, err := LoadClientConfig("")
	if err == nil || !strings.Contains(err.Error(), "DRIVER_ID") {
		t.Fatalf("expected DRIVER_ID error, got %v", err)
	}
}

func TestLoadClientConfigDefaultsAndEnv(t *testing.T) {
	t.Setenv("DRIVER_CONFIG", "")
	t.Setenv("DRIVER_ID", "6778b7848652dafe31a9788f")
	t.Setenv("LOCATION_EMIT_INTERVAL", "10s")
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := LoadClientConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.APIBaseURL != "http://localhost:5001/api/v1" {
		t.Fatalf("unexpected default api base %s", cfg.APIBaseURL)
	}
	if cfg.EmitInterval != 10*time.Second || cfg.SampleInterval != time.Second {
		t.Fatalf("unexpected intervals %v %v", cfg.EmitInterval, cfg.SampleInterval)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers %v", cfg.KafkaBrokers)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected lowercased level, got %s", cfg.LogLevel)
	}
}

func TestLoadClientConfigFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "driver.yaml")
	content := "driver_id: from-file\nsocket_url: wss://rt.example.com/ws\nlocation_sample_interval: 2s\nlocation_emit_interval: 4s\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DRIVER_ID", "from-env")
	t.Setenv("DRIVER_CONFIG", "")

	cfg, err := LoadClientConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DriverID != "from-env" {
		t.Fatalf("env should override file, got %s", cfg.DriverID)
	}
	if cfg.SocketURL != "wss://rt.example.com/ws" || cfg.SampleInterval != 2*time.Second {
		t.Fatalf("file values not applied: %+v", cfg)
	}
}

func TestLoadClientConfigRejectsUnknownFileKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "driver.yaml")
	if err := os.WriteFile(path, []byte("drvier_id: typo\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadClientConfig(path); err == nil {
		t.Fatalf("expected unknown key error")
	}
}

func TestLoadClientConfigCollectsEnvErrors(t *testing.T) {
	t.Setenv("DRIVER_CONFIG", "")
	t.Setenv("DRIVER_ID", "d1")
	t.Setenv("BACKEND_TIMEOUT", "soon")
	t.Setenv("SOCKET_URL", "http://not-a-socket")
	_, err := LoadClientConfig("")
	if err == nil {
		t.Fatalf("expected errors")
	}
	if !strings.Contains(err.Error(), "BACKEND_TIMEOUT") || !strings.Contains(err.Error(), "SOCKET_URL") {
		t.Fatalf("expected both problems reported, got %v", err)
	}
}

func TestLoadClientConfigOverridesWinOverEnv(t *testing.T) {
	t.Setenv("DRIVER_CONFIG", "")
	t.Setenv("DRIVER_ID", "")
	t.Setenv("HTTP_ADDR", ":9000")

	cfg, err := LoadClientConfig("", func(c *ClientConfig) {
		c.DriverID = "from-flag"
		c.HTTPAddr = ":9100"
	})
	if err != nil {
		t.Fatalf("override should satisfy DRIVER_ID: %v", err)
	}
	if cfg.DriverID != "from-flag" || cfg.HTTPAddr != ":9100" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}
