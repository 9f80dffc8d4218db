package daichi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/joshp123/gohome-daichi/internal/rate"
)

// Client talks to the Daichi Comfort Cloud REST API for one account.
type Client struct {
	cfg        Config
	logger     *slog.Logger
	pool       *connPool
	session    *Session
	transport  *transport
	directory  *directory
	controller *controller
}

type clientOptions struct {
	logger    *slog.Logger
	newHTTP   func() *http.Client
	commandID CommandIDSource
	sleep     sleepFunc
}

// Option customizes a Client.
type Option func(*clientOptions)

func WithLogger(logger *slog.Logger) Option {
	return func(o *clientOptions) { o.logger = logger }
}

// WithHTTPClient overrides the lazily created HTTP client.
func WithHTTPClient(newClient func() *http.Client) Option {
	return func(o *clientOptions) { o.newHTTP = newClient }
}

func WithCommandIDs(source CommandIDSource) Option {
	return func(o *clientOptions) { o.commandID = source }
}

func withSleep(sleep sleepFunc) Option {
	return func(o *clientOptions) { o.sleep = sleep }
}

func NewClient(cfg Config, opts ...Option) (*Client, error) {
	cfg.applyDefaults()
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("daichi base url: %w", err)
	}
	if cfg.Username == "" {
		return nil, fmt.Errorf("daichi username is required")
	}

	options := clientOptions{
		logger:    slog.Default(),
		commandID: RandomCommandIDs,
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.newHTTP == nil {
		options.newHTTP = func() *http.Client {
			decl := rate.Provider("daichi").
				MaxRequestsPer(rate.Minute, cfg.RequestsPerMinute).
				HonorRetryAfter("Retry-After")
			return rate.WrapHTTP(decl, &http.Client{Timeout: cfg.RequestTimeout})
		}
	}

	logger := options.logger.With("plugin", "daichi")
	pool := newConnPool(options.newHTTP)
	session := newSession(cfg.BaseURL, cfg.Username, cfg.Password, cfg.ClientID, pool, logger)
	tr := &transport{
		baseURL: cfg.BaseURL,
		session: session,
		pool:    pool,
		policy:  cfg.Retry,
		sleep:   options.sleep,
		logger:  logger,
	}

	return &Client{
		cfg:        cfg,
		logger:     logger,
		pool:       pool,
		session:    session,
		transport:  tr,
		directory:  &directory{transport: tr, logger: logger},
		controller: &controller{transport: tr, ids: options.commandID, logger: logger},
	}, nil
}

// Session exposes the auth session (token state and headers).
func (c *Client) Session() *Session {
	return c.session
}

func (c *Client) Authenticate(ctx context.Context) error {
	return c.session.Authenticate(ctx)
}

// Buildings returns the cached building tree unless forced.
func (c *Client) Buildings(ctx context.Context, force bool) ([]Building, error) {
	return c.directory.Buildings(ctx, force)
}

// Devices returns device records for all buildings (buildingID 0) or one building.
func (c *Client) Devices(ctx context.Context, buildingID int64, force bool) ([]Record, error) {
	return c.directory.Devices(ctx, buildingID, force)
}

// DeviceState fetches the deep record of one device.
func (c *Client) DeviceState(ctx context.Context, deviceID int64) (Record, error) {
	return c.directory.DeviceState(ctx, deviceID)
}

func (c *Client) ClearCache() {
	c.directory.ClearCache()
}

// ControlDevice sends a function command to a device.
func (c *Client) ControlDevice(ctx context.Context, deviceID int64, fn FunctionID, value Value, parameters map[string]any) (ControlResult, error) {
	return c.controller.ControlDevice(ctx, deviceID, fn, value, parameters)
}

// Close releases pooled connections. The client may be used again afterwards;
// a fresh pool is created on demand.
func (c *Client) Close() error {
	c.pool.close()
	return nil
}
