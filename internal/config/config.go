package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration for the callprobe server.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	DataDir   string
	HTTPPort  int
	LogLevel  string
	LogFormat string // log output format: "text" or "json"

	// PublicURL is the externally reachable base URL of this service; the
	// provider delivers webhooks and media streams to addresses under it.
	PublicURL string

	ProviderBaseURL    string
	ProviderAccountSID string
	ProviderAuthToken  string
	CallerID           string // origin number for outbound calls (E.164)

	TrunkDomain  string // SIP domain of the detection trunk (trunk strategy)
	StreamAppSID string // provider application for media streaming (stream strategy)

	InferenceURL      string  // inference backend streaming endpoint
	DecisionThreshold float64 // minimum confidence for a scored decision

	WebhookRateLimit bool // rate-limit the provider webhook endpoints

	DetectionTimeout  int           // provider-side detection window, seconds
	MaxStreamDuration time.Duration // force-close limit for relay sessions
	ReconcileInterval time.Duration // how often the stale-call sweep runs
	ReconcileMaxAge   time.Duration // age past which a non-terminal call is reconciled
}

// defaults
const (
	defaultDataDir           = "./data"
	defaultHTTPPort          = 8080
	defaultLogLevel          = "info"
	defaultLogFormat         = "text"
	defaultPublicURL         = "http://localhost:8080"
	defaultProviderBaseURL   = "https://api.twilio.com/2010-04-01"
	defaultInferenceURL      = "ws://localhost:8000/ws/stream"
	defaultThreshold         = 0.7
	defaultWebhookRateLimit  = true
	defaultDetectionTimeout  = 30
	defaultMaxStreamDuration = 2 * time.Minute
	defaultReconcileInterval = time.Minute
	defaultReconcileMaxAge   = 10 * time.Minute
)

// envPrefix is the prefix for all callprobe environment variables.
const envPrefix = "CALLPROBE_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	return load(os.Args[1:])
}

// load is the testable core of Load.
func load(args []string) (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("callprobe", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the call database")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP server listen port")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.StringVar(&cfg.PublicURL, "public-url", defaultPublicURL, "externally reachable base URL for provider callbacks")
	fs.StringVar(&cfg.ProviderBaseURL, "provider-base-url", defaultProviderBaseURL, "telephony provider REST API base URL")
	fs.StringVar(&cfg.ProviderAccountSID, "provider-account-sid", "", "telephony provider account SID")
	fs.StringVar(&cfg.ProviderAuthToken, "provider-auth-token", "", "telephony provider auth token")
	fs.StringVar(&cfg.CallerID, "caller-id", "", "origin number for outbound calls (E.164)")
	fs.StringVar(&cfg.TrunkDomain, "trunk-domain", "", "SIP domain of the detection trunk for the trunk strategy")
	fs.StringVar(&cfg.StreamAppSID, "stream-app-sid", "", "provider application SID for the stream strategy")
	fs.StringVar(&cfg.InferenceURL, "inference-url", defaultInferenceURL, "inference backend streaming endpoint")
	fs.Float64Var(&cfg.DecisionThreshold, "decision-threshold", defaultThreshold, "minimum confidence for a scored detection decision")
	fs.BoolVar(&cfg.WebhookRateLimit, "webhook-rate-limit", defaultWebhookRateLimit, "rate-limit the provider webhook endpoints")
	fs.IntVar(&cfg.DetectionTimeout, "detection-timeout", defaultDetectionTimeout, "provider-side detection window in seconds")
	fs.DurationVar(&cfg.MaxStreamDuration, "max-stream-duration", defaultMaxStreamDuration, "force-close limit for media stream sessions")
	fs.DurationVar(&cfg.ReconcileInterval, "reconcile-interval", defaultReconcileInterval, "how often stale non-terminal calls are swept")
	fs.DurationVar(&cfg.ReconcileMaxAge, "reconcile-max-age", defaultReconcileMaxAge, "age past which a non-terminal call is driven to unknown")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the command
	// line. CLI flags take precedence over env vars.
	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. This preserves the precedence:
// CLI flags > env vars > defaults.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	// Track which flags were explicitly set via CLI.
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	// Map of flag name to env var name.
	envMap := map[string]string{
		"data-dir":             envPrefix + "DATA_DIR",
		"http-port":            envPrefix + "HTTP_PORT",
		"log-level":            envPrefix + "LOG_LEVEL",
		"log-format":           envPrefix + "LOG_FORMAT",
		"public-url":           envPrefix + "PUBLIC_URL",
		"provider-base-url":    envPrefix + "PROVIDER_BASE_URL",
		"provider-account-sid": envPrefix + "PROVIDER_ACCOUNT_SID",
		"provider-auth-token":  envPrefix + "PROVIDER_AUTH_TOKEN",
		"caller-id":            envPrefix + "CALLER_ID",
		"trunk-domain":         envPrefix + "TRUNK_DOMAIN",
		"stream-app-sid":       envPrefix + "STREAM_APP_SID",
		"inference-url":        envPrefix + "INFERENCE_URL",
		"decision-threshold":   envPrefix + "DECISION_THRESHOLD",
		"webhook-rate-limit":   envPrefix + "WEBHOOK_RATE_LIMIT",
		"detection-timeout":    envPrefix + "DETECTION_TIMEOUT",
		"max-stream-duration":  envPrefix + "MAX_STREAM_DURATION",
		"reconcile-interval":   envPrefix + "RECONCILE_INTERVAL",
		"reconcile-max-age":    envPrefix + "RECONCILE_MAX_AGE",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "data-dir":
			cfg.DataDir = val
		case "http-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.HTTPPort = v
			}
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		case "public-url":
			cfg.PublicURL = val
		case "provider-base-url":
			cfg.ProviderBaseURL = val
		case "provider-account-sid":
			cfg.ProviderAccountSID = val
		case "provider-auth-token":
			cfg.ProviderAuthToken = val
		case "caller-id":
			cfg.CallerID = val
		case "trunk-domain":
			cfg.TrunkDomain = val
		case "stream-app-sid":
			cfg.StreamAppSID = val
		case "inference-url":
			cfg.InferenceURL = val
		case "decision-threshold":
			if v, err := strconv.ParseFloat(val, 64); err == nil {
				cfg.DecisionThreshold = v
			}
		case "webhook-rate-limit":
			if v, err := strconv.ParseBool(val); err == nil {
				cfg.WebhookRateLimit = v
			}
		case "detection-timeout":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.DetectionTimeout = v
			}
		case "max-stream-duration":
			if v, err := time.ParseDuration(val); err == nil {
				cfg.MaxStreamDuration = v
			}
		case "reconcile-interval":
			if v, err := time.ParseDuration(val); err == nil {
				cfg.ReconcileInterval = v
			}
		case "reconcile-max-age":
			if v, err := time.ParseDuration(val); err == nil {
				cfg.ReconcileMaxAge = v
			}
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	if c.DecisionThreshold <= 0 || c.DecisionThreshold > 1 {
		return fmt.Errorf("decision-threshold must be in (0, 1], got %g", c.DecisionThreshold)
	}
	if c.DetectionTimeout < 1 {
		return fmt.Errorf("detection-timeout must be at least 1 second, got %d", c.DetectionTimeout)
	}
	if c.MaxStreamDuration < 0 {
		return fmt.Errorf("max-stream-duration must not be negative, got %s", c.MaxStreamDuration)
	}

	c.PublicURL = strings.TrimSuffix(c.PublicURL, "/")

	return nil
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
