package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type OpenEOCfg struct {
	URL          string
	Provider     string
	ClientID     string
	ClientSecret string
	TokenURL     string
	Collection   string
}

type EventsCfg struct {
	Enabled bool
	Brokers string
	Topic   string
	H3Res   int
	Queue   int
}

type MetricsCfg struct {
	Enabled bool
	Addr    string
	Path    string
}

type Config struct {
	Addr            string
	LogLevel        string
	LogConsole      bool
	CORSOrigins     string
	OpenEO          OpenEOCfg
	MaxCloudCover   float64
	ArchiveDir      string
	OutputDir       string
	OutputURLPrefix string
	OutputRetention time.Duration
	StretchClip     float64
	RenderSize      int
	QueueTimeout    time.Duration
	FetchTimeout    time.Duration
	DeriveTimeout   time.Duration
	RenderTimeout   time.Duration
	MaxConcurrent   int
	TokenStore      string
	RedisAddr       string
	TokenOpTimeout  time.Duration
	Events          EventsCfg
	Metrics         MetricsCfg
}

func FromEnv() Config {
	clip := getfloat("STRETCH_CLIP_PERCENT", 2)
	if clip < 0 || clip >= 50 {
		clip = 2
	}
	cloud := getfloat("MAX_CLOUD_COVER", 20)
	if cloud < 0 || cloud > 100 {
		cloud = 20
	}
	h3Res := getint("EVENTS_H3_RES", 7)
	if h3Res < 0 || h3Res > 15 {
		h3Res = 7
	}
	maxConc := getint("MAX_CONCURRENT", 1)
	if maxConc < 1 {
		maxConc = 1
	}

	return Config{
		Addr:        getenv("ADDR", ":8090"),
		LogLevel:    getenv("LOG_LEVEL", "info"),
		LogConsole:  getbool("LOG_CONSOLE", false),
		CORSOrigins: getenv("CORS_ALLOWED_ORIGINS", "*"),
		OpenEO: OpenEOCfg{
			URL:          strings.TrimRight(getenv("OPENEO_URL", "https://openeo.dataspace.copernicus.eu/openeo/1.2"), "/"),
			Provider:     getenv("OPENEO_OIDC_PROVIDER", "CDSE"),
			ClientID:     getenv("OPENEO_CLIENT_ID", ""),
			ClientSecret: getenv("OPENEO_CLIENT_SECRET", ""),
			TokenURL:     getenv("OPENEO_TOKEN_URL", "https://identity.dataspace.copernicus.eu/auth/realms/CDSE/protocol/openid-connect/token"),
			Collection:   getenv("OPENEO_COLLECTION", "SENTINEL2_L2A"),
		},
		MaxCloudCover:   cloud,
		ArchiveDir:      getenv("ARCHIVE_DIR", "."),
		OutputDir:       getenv("OUTPUT_DIR", "static"),
		OutputURLPrefix: getenv("OUTPUT_URL_PREFIX", "/static/"),
		OutputRetention: getduration("OUTPUT_RETENTION", 0),
		StretchClip:     clip,
		RenderSize:      getint("RENDER_SIZE", 800),
		QueueTimeout:    getduration("QUEUE_TIMEOUT", 30*time.Second),
		FetchTimeout:    getduration("FETCH_TIMEOUT", 5*time.Minute),
		DeriveTimeout:   getduration("DERIVE_TIMEOUT", time.Minute),
		RenderTimeout:   getduration("RENDER_TIMEOUT", time.Minute),
		MaxConcurrent:   maxConc,
		TokenStore:      strings.ToLower(getenv("TOKEN_STORE", "memory")),
		RedisAddr:       getenv("REDIS_ADDR", "localhost:6379"),
		TokenOpTimeout:  getduration("TOKEN_OP_TIMEOUT", 250*time.Millisecond),
		Events: EventsCfg{
			Enabled: getbool("EVENTS_ENABLED", false),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			Topic:   getenv("KAFKA_TOPIC", "s2-renders"),
			H3Res:   h3Res,
			Queue:   getint("EVENTS_QUEUE", 256),
		},
		Metrics: MetricsCfg{
			Enabled: getbool("METRICS_ENABLED", false),
			Addr:    getenv("METRICS_ADDR", ":9090"),
			Path:    getenv("METRICS_PATH", "/metrics"),
		},
	}
}

// BrokerList splits the comma separated broker list
func (e EventsCfg) BrokerList() []string { return splitList(e.Brokers) }

func (c Config) CORSOriginList() []string { return splitList(c.CORSOrigins) }

func splitList(raw string) []string {
	var out []string
	for b := range strings.SplitSeq(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
