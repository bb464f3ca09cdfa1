package main

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Build-time defaults - inject via ldflags
// Example: go build -ldflags "-X main.defaultProxyFile=proxies.txt -X main.defaultWorkers=20"
var (
	defaultProxyFile  string // -X main.defaultProxyFile=...
	defaultWorkers    string // -X main.defaultWorkers=...
	defaultRate       string // -X main.defaultRate=...
	defaultSignatures string // -X main.defaultSignatures=...
)

// Config holds runtime settings for a scan.
type Config struct {
	ProxyFile      string
	Workers        int
	Rate           float64 // requests per second across all workers, 0 = unlimited
	SignaturesFile string
	Profile        string
	LogLevel       string
	LogFile        string
	StaggerDelay   time.Duration
}

// LoadConfig resolves settings from build-time values with environment fallback.
// CLI flags are applied on top by the caller.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		ProxyFile:      valueOrEnv(defaultProxyFile, "CFSCAN_PROXY_FILE"),
		SignaturesFile: valueOrEnv(defaultSignatures, "CFSCAN_SIGNATURES"),
		Profile:        os.Getenv("CFSCAN_PROFILE"),
		LogLevel:       os.Getenv("CFSCAN_LOG_LEVEL"),
		LogFile:        os.Getenv("CFSCAN_LOG_FILE"),
		Workers:        4,
		StaggerDelay:   50 * time.Millisecond,
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	if v := valueOrEnv(defaultWorkers, "CFSCAN_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("workers must be a positive integer, got %q", v)
		}
		cfg.Workers = n
	}

	if v := valueOrEnv(defaultRate, "CFSCAN_RATE"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil || r < 0 {
			return nil, fmt.Errorf("rate must be a non-negative number, got %q", v)
		}
		cfg.Rate = r
	}

	return cfg, nil
}

func valueOrEnv(buildValue, envKey string) string {
	if buildValue != "" {
		return buildValue
	}
	return os.Getenv(envKey)
}
