package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"time"
)

const (
	EnvSandbox    = "sandbox"
	EnvProduction = "production"
)

var shortCodeRe = regexp.MustCompile(`^[0-9]{5,9}$`)

// Config holds the merchant credentials and tuning knobs for the M-Pesa
// client. Build it with New (or FromEnv); a Config that exists has passed
// validation and is never mutated afterwards.
type Config struct {
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	// BusinessShortCode is the Paybill business number. Defaults to
	// ShortCode, which is correct for Till payments.
	BusinessShortCode string
	PassKey           string
	CallbackURL       string

	// Initiator identity, only needed for transaction status queries.
	InitiatorName     string
	InitiatorPassword string
	CertificatePath   string

	ResultURL       string
	QueueTimeoutURL string

	Environment    string
	RequestTimeout time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
}

// New applies defaults and validates cfg, returning the finished copy.
func New(cfg Config) (*Config, error) {
	if cfg.BusinessShortCode == "" {
		cfg.BusinessShortCode = cfg.ShortCode
	}
	if cfg.ResultURL == "" {
		cfg.ResultURL = cfg.CallbackURL
	}
	if cfg.QueueTimeoutURL == "" {
		cfg.QueueTimeoutURL = cfg.CallbackURL
	}
	if cfg.Environment == "" {
		cfg.Environment = EnvSandbox
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 5 * time.Second
	}

	if cfg.ConsumerKey == "" || cfg.ConsumerSecret == "" {
		return nil, fmt.Errorf("consumer key and secret are required")
	}
	if cfg.PassKey == "" {
		return nil, fmt.Errorf("passkey is required")
	}
	if !shortCodeRe.MatchString(cfg.ShortCode) {
		return nil, fmt.Errorf("shortcode %q must be a 5-9 digit number", cfg.ShortCode)
	}
	if !shortCodeRe.MatchString(cfg.BusinessShortCode) {
		return nil, fmt.Errorf("business shortcode %q must be a 5-9 digit number", cfg.BusinessShortCode)
	}
	if cfg.Environment != EnvSandbox && cfg.Environment != EnvProduction {
		return nil, fmt.Errorf("environment must be %q or %q, got %q", EnvSandbox, EnvProduction, cfg.Environment)
	}
	for name, u := range map[string]string{
		"callback URL":      cfg.CallbackURL,
		"result URL":        cfg.ResultURL,
		"queue timeout URL": cfg.QueueTimeoutURL,
	} {
		if err := validateURL(u); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	if cfg.RequestTimeout < 0 || cfg.RetryDelay < 0 {
		return nil, fmt.Errorf("timeouts must not be negative")
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries must not be negative")
	}

	return &cfg, nil
}

// HasInitiator reports whether the config carries the initiator identity
// needed for privileged status queries.
func (c *Config) HasInitiator() bool {
	return c.InitiatorName != "" && c.InitiatorPassword != "" && c.CertificatePath != ""
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("URL %q must be absolute http(s)", raw)
	}
	return nil
}

// FromEnv builds a Config from MPESA_* environment variables.
func FromEnv() (*Config, error) {
	cfg := Config{
		ConsumerKey:       os.Getenv("MPESA_CONSUMER_KEY"),
		ConsumerSecret:    os.Getenv("MPESA_CONSUMER_SECRET"),
		ShortCode:         os.Getenv("MPESA_SHORTCODE"),
		BusinessShortCode: os.Getenv("MPESA_BUSINESS_SHORTCODE"),
		PassKey:           os.Getenv("MPESA_PASSKEY"),
		CallbackURL:       os.Getenv("MPESA_CALLBACK_URL"),
		InitiatorName:     os.Getenv("MPESA_INITIATOR_NAME"),
		InitiatorPassword: os.Getenv("MPESA_INITIATOR_PASSWORD"),
		CertificatePath:   os.Getenv("MPESA_CERTIFICATE_PATH"),
		ResultURL:         os.Getenv("MPESA_RESULT_URL"),
		QueueTimeoutURL:   os.Getenv("MPESA_QUEUE_TIMEOUT_URL"),
		Environment:       os.Getenv("MPESA_ENVIRONMENT"),
	}

	var err error
	if cfg.RequestTimeout, err = durationEnv("MPESA_REQUEST_TIMEOUT", 0); err != nil {
		return nil, err
	}
	if cfg.RetryDelay, err = durationEnv("MPESA_RETRY_DELAY", 0); err != nil {
		return nil, err
	}
	if v := os.Getenv("MPESA_MAX_RETRIES"); v != "" {
		if cfg.MaxRetries, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("MPESA_MAX_RETRIES: %w", err)
		}
	}

	return New(cfg)
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	// Accept plain seconds as well as Go duration strings.
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
