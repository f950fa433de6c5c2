package config

import (
	"fmt"
	"net/netip"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port int

	// Database
	DatabaseURL string
	DBHost      string
	DBPort      int
	DBName      string
	DBUser      string
	DBPassword  string

	// Price feed
	FeedURL         string
	FeedShape       string
	FeedTimeout     time.Duration
	FeedMaxAttempts int

	// Scanning
	ScanInterval     time.Duration
	ScanInitialDelay time.Duration
	ScanTimeout      time.Duration
	SMAWindow        int

	// Notifications
	TelegramToken  string
	TelegramChatID string
	WebhookURL     string
	BotName        string

	// API
	APIKey             string
	CORSAllowOrigin    string
	RateLimitPerMinute int
	TrustedProxies     []string // addresses or CIDRs allowed to set X-Forwarded-For

	// Redis (optional: listing cache + rate limiting)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Kafka (optional: price update events)
	KafkaBrokers string
	KafkaTopic   string

	// Observability
	OTLPEndpoint string
	LogLevel     string
	LogFormat    string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port: envInt("PORT", 10000),

		DatabaseURL: envStr("DATABASE_URL", ""),
		DBHost:      envStr("DB_HOST", "localhost"),
		DBPort:      envInt("DB_PORT", 5432),
		DBName:      envStr("DB_NAME", "sniper"),
		DBUser:      envStr("DB_USER", "postgres"),
		DBPassword:  envStr("DB_PASSWORD", ""),

		FeedURL:         envStr("FEED_URL", "https://api.skinport.com/v1/items?app_id=730&currency=USD"),
		FeedShape:       strings.ToLower(envStr("FEED_SHAPE", "skinport")),
		FeedTimeout:     envDuration("FEED_TIMEOUT", 20*time.Second),
		FeedMaxAttempts: envInt("FEED_MAX_ATTEMPTS", 1),

		ScanInterval:     envDuration("SCAN_INTERVAL", 30*time.Minute),
		ScanInitialDelay: envDuration("SCAN_INITIAL_DELAY", 5*time.Minute),
		ScanTimeout:      envDuration("SCAN_TIMEOUT", 2*time.Minute),
		SMAWindow:        envInt("SMA_WINDOW", 10),

		TelegramToken:  envStr("TELEGRAM_TOKEN", ""),
		TelegramChatID: envStr("TELEGRAM_CHAT_ID", ""),
		WebhookURL:     envStr("WEBHOOK_URL", ""),
		BotName:        envStr("BOT_NAME", "MarketSniper"),

		APIKey:             envStr("API_KEY", ""),
		CORSAllowOrigin:    envStr("CORS_ALLOW_ORIGIN", "*"),
		RateLimitPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
		TrustedProxies:     envList("TRUSTED_PROXIES"),

		RedisAddr:     envStr("REDIS_ADDR", ""),
		RedisPassword: envStr("REDIS_PASSWORD", ""),
		RedisDB:       envInt("REDIS_DB", 0),

		KafkaBrokers: envStr("KAFKA_BROKERS", ""),
		KafkaTopic:   envStr("KAFKA_TOPIC", "price.updates"),

		OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		LogLevel:     envStr("LOG_LEVEL", "info"),
		LogFormat:    envStr("LOG_FORMAT", "json"),
	}

	return cfg, nil
}

// Validate returns hard errors; soft problems come back as warnings so the
// caller can log them.
func (c *Config) Validate() (warnings []string, err error) {
	var errs []string

	if c.FeedURL == "" {
		errs = append(errs, "FEED_URL is required")
	} else if _, perr := url.ParseRequestURI(c.FeedURL); perr != nil {
		errs = append(errs, fmt.Sprintf("FEED_URL is not a valid URL: %v", perr))
	}
	switch c.FeedShape {
	case "skinport", "backpack":
	default:
		errs = append(errs, fmt.Sprintf("FEED_SHAPE %q is not supported (skinport|backpack)", c.FeedShape))
	}
	if c.FeedTimeout <= 0 {
		errs = append(errs, "FEED_TIMEOUT must be positive")
	}
	if c.ScanInterval <= 0 {
		errs = append(errs, "SCAN_INTERVAL must be positive")
	}
	if c.ScanTimeout <= 0 {
		errs = append(errs, "SCAN_TIMEOUT must be positive")
	}
	if c.SMAWindow <= 0 {
		errs = append(errs, "SMA_WINDOW must be positive")
	}
	for _, p := range c.TrustedProxies {
		if _, perr := parsePrefix(p); perr != nil {
			errs = append(errs, fmt.Sprintf("TRUSTED_PROXIES entry %q: %v", p, perr))
		}
	}
	if (c.TelegramToken == "") != (c.TelegramChatID == "") {
		errs = append(errs, "TELEGRAM_TOKEN and TELEGRAM_CHAT_ID must be set together")
	}

	if c.TelegramToken == "" && c.WebhookURL == "" {
		warnings = append(warnings, "no notification channel configured, alerts are log-only")
	}
	if c.APIKey == "" {
		warnings = append(warnings, "API_KEY not set, REST API has no authentication")
	}
	if c.RedisAddr == "" {
		warnings = append(warnings, "REDIS_ADDR not set, listing cache and rate limiting disabled")
	}

	if len(errs) > 0 {
		return warnings, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return warnings, nil
}

// Summary returns the non-secret settings as key/value pairs for the startup log.
func (c *Config) Summary() map[string]string {
	return map[string]string{
		"port":          strconv.Itoa(c.Port),
		"db":            fmt.Sprintf("%s:%d/%s", c.DBHost, c.DBPort, c.DBName),
		"feed_shape":    c.FeedShape,
		"feed_timeout":  c.FeedTimeout.String(),
		"scan_interval": c.ScanInterval.String(),
		"initial_delay": c.ScanInitialDelay.String(),
		"sma_window":    strconv.Itoa(c.SMAWindow),
		"telegram":      boolLabel(c.TelegramToken != "", "configured", "not set"),
		"webhook":       boolLabel(c.WebhookURL != "", "configured", "not set"),
		"redis":         boolLabel(c.RedisAddr != "", c.RedisAddr, "not set"),
		"kafka":         boolLabel(c.KafkaBrokers != "", c.KafkaBrokers, "not set"),
		"otlp":          boolLabel(c.OTLPEndpoint != "", c.OTLPEndpoint, "not set"),
		"proxies":       boolLabel(len(c.TrustedProxies) > 0, strings.Join(c.TrustedProxies, ","), "none"),
	}
}

func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		url.QueryEscape(c.DBUser), url.QueryEscape(c.DBPassword), c.DBHost, c.DBPort, c.DBName)
}

// --- helpers ---

// ProxyPrefixes returns TrustedProxies as prefixes, bare addresses widened
// to a single-host prefix. Entries Validate rejects are skipped.
func (c *Config) ProxyPrefixes() []netip.Prefix {
	out := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, p := range c.TrustedProxies {
		if pfx, err := parsePrefix(p); err == nil {
			out = append(out, pfx)
		}
	}
	return out
}

func parsePrefix(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		return p.Masked(), err
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// envDuration accepts Go duration strings ("90s", "30m") or a bare number of seconds.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func boolLabel(cond bool, ifTrue, ifFalse string) string {
	if cond {
		return ifTrue
	}
	return ifFalse
}
