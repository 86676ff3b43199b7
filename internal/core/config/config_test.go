package config

import (
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg := FromEnv()
	if cfg.MaxCloudCover != 20 {
		t.Fatalf("MaxCloudCover=%v want 20", cfg.MaxCloudCover)
	}
	if cfg.OpenEO.Collection != "SENTINEL2_L2A" {
		t.Fatalf("collection=%q", cfg.OpenEO.Collection)
	}
	if cfg.MaxConcurrent != 1 {
		t.Fatalf("MaxConcurrent=%d want 1", cfg.MaxConcurrent)
	}
	if cfg.StretchClip != 2 {
		t.Fatalf("StretchClip=%v want 2", cfg.StretchClip)
	}
	if cfg.QueueTimeout != 30*time.Second {
		t.Fatalf("QueueTimeout=%v want 30s", cfg.QueueTimeout)
	}
}

func TestFromEnv_OverridesAndClamps(t *testing.T) {
	t.Setenv("MAX_CLOUD_COVER", "150")
	t.Setenv("MAX_CONCURRENT", "0")
	t.Setenv("FETCH_TIMEOUT", "90s")
	t.Setenv("OPENEO_URL", "http://backend.local/openeo/")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,,")

	cfg := FromEnv()
	if cfg.MaxCloudCover != 20 {
		t.Fatalf("out-of-range cloud cover should fall back, got %v", cfg.MaxCloudCover)
	}
	if cfg.MaxConcurrent != 1 {
		t.Fatalf("MaxConcurrent=%d want 1", cfg.MaxConcurrent)
	}
	if cfg.FetchTimeout != 90*time.Second {
		t.Fatalf("FetchTimeout=%v", cfg.FetchTimeout)
	}
	if cfg.OpenEO.URL != "http://backend.local/openeo" {
		t.Fatalf("URL=%q want trailing slash trimmed", cfg.OpenEO.URL)
	}
	if got := cfg.Events.BrokerList(); len(got) != 2 || got[1] != "b:9092" {
		t.Fatalf("brokers=%v", got)
	}
}

func TestFromEnv_CORSAndMetrics(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("METRICS_ENABLED", "yes")

	cfg := FromEnv()
	if got := cfg.CORSOriginList(); len(got) != 2 || got[0] != "https://a.example" {
		t.Fatalf("origins=%v", got)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Addr != ":9090" || cfg.Metrics.Path != "/metrics" {
		t.Fatalf("metrics=%+v", cfg.Metrics)
	}
}
