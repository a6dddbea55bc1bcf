package mpesa

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/seven7-ai/mpesa-gobackend/internal/config"
)

const (
	sandboxBaseURL    = "https://sandbox.safaricom.co.ke"
	productionBaseURL = "https://api.safaricom.co.ke"

	authPath     = "/oauth/v1/generate?grant_type=client_credentials"
	stkPushPath  = "/mpesa/stkpush/v1/processrequest"
	txStatusPath = "/mpesa/transactionstatus/v1/query"
)

// Client drives the M-Pesa STK push payment lifecycle: OAuth token
// acquisition, push initiation, and transaction status reconciliation.
// One Client per merchant config; it holds no mutable state and is safe
// for concurrent use.
type Client struct {
	cfg        *config.Config
	httpClient *http.Client
	baseURL    string
	now        func() time.Time
	sleep      func(d time.Duration) <-chan time.Time
	logger     *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the transport, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBaseURL overrides the environment-derived base URL, mainly for tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithClock injects the wall clock used for request timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithSleep replaces the timer used between status poll attempts, so
// tests can count delays without waiting them out.
func WithSleep(sleep func(time.Duration) <-chan time.Time) Option {
	return func(c *Client) { c.sleep = sleep }
}

// WithLogger injects the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func NewClient(cfg *config.Config, opts ...Option) *Client {
	c := &Client{
		cfg:     cfg,
		baseURL: sandboxBaseURL,
		now:     time.Now,
		sleep:   time.After,
		logger:  slog.Default(),
	}
	if cfg.Environment == config.EnvProduction {
		c.baseURL = productionBaseURL
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	c.logger = c.logger.With(slog.String("component", "mpesa"), slog.String("env", cfg.Environment))
	return c
}
