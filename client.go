package beacon

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/Tap30/beacon-go/adapters"
	"github.com/Tap30/beacon-go/protocol"
)

// asyncTimeout bounds a single TrackEventAsync request.
const asyncTimeout = 10 * time.Second

// Client encodes tracking calls into beacons and fires them at the
// configured endpoint, one request per call.
type Client struct {
	config        ClientConfig
	host          Host
	addOn         string
	dispatcher    *Dispatcher
	extras        *ExtrasManager
	loggerAdapter LoggerAdapter

	pulseMu sync.Mutex
	pulse   *Pulse
}

// NewClient validates config and creates a client. Construction errors
// indicate programmer mistakes and are returned rather than swallowed.
func NewClient(config ClientConfig) (*Client, error) {
	// Validate required fields
	if config.Host == nil {
		return nil, errors.New("host is required")
	}
	if config.Host.AddOnName() == "" {
		return nil, errors.New("host add-on name is required")
	}
	if config.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}

	// Set defaults
	if config.Environment == "" {
		config.Environment = EnvironmentProduction
	}
	if config.Environment != EnvironmentProduction && config.Environment != EnvironmentDevelopment {
		return nil, fmt.Errorf("unknown environment %q", config.Environment)
	}
	if config.DevEndpoint == "" {
		config.DevEndpoint = config.Endpoint
	}
	if err := validateEndpoint(config.Endpoint, config.AllowInsecure); err != nil {
		return nil, err
	}
	if err := validateEndpoint(config.DevEndpoint, config.AllowInsecure); err != nil {
		return nil, err
	}
	if config.HTTPAdapter == nil {
		config.HTTPAdapter = adapters.NewNetHTTPAdapter()
	}

	client := &Client{
		config: config,
		host:   config.Host,
		addOn:  config.Host.AddOnName(),
		extras: NewExtrasManager(),
	}

	// Use provided logger or the environment default
	switch {
	case config.LoggerAdapter != nil:
		client.loggerAdapter = config.LoggerAdapter
	case config.Environment == EnvironmentDevelopment:
		client.loggerAdapter = adapters.NewPrintLoggerAdapter(adapters.LogLevelWarn)
	default:
		client.loggerAdapter = adapters.NewNoOpLoggerAdapter()
	}

	client.dispatcher = NewDispatcher(client.Endpoint(), config.HTTPAdapter)
	client.dispatcher.SetLoggerAdapter(client.loggerAdapter)
	return client, nil
}

func validateEndpoint(endpoint string, allowInsecure bool) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("malformed endpoint %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return fmt.Errorf("malformed endpoint %q: missing host", endpoint)
	}
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if allowInsecure {
			return nil
		}
		return fmt.Errorf("endpoint %q must use https", endpoint)
	default:
		return fmt.Errorf("endpoint %q has unsupported scheme %q", endpoint, u.Scheme)
	}
}

// Endpoint returns the endpoint selected by the configured environment.
func (c *Client) Endpoint() string {
	if c.IsDevelopment() {
		return c.config.DevEndpoint
	}
	return c.config.Endpoint
}

// IsDevelopment reports whether the client runs in the development environment.
func (c *Client) IsDevelopment() bool {
	return c.config.Environment == EnvironmentDevelopment
}

// SetExtra sets an extension field sent with every beacon.
func (c *Client) SetExtra(key, value string) error {
	keyLen := len(key)
	if keyLen == 0 {
		return fmt.Errorf("%w: extension key cannot be empty", ErrInvalidArgument)
	}
	if keyLen > 255 {
		return fmt.Errorf("%w: extension key cannot exceed 255 characters", ErrInvalidArgument)
	}

	c.extras.Set(key, value)
	return nil
}

// RemoveExtra removes a client-wide extension field.
func (c *Client) RemoveExtra(key string) {
	c.extras.Delete(key)
}

// ClearExtras removes every client-wide extension field.
func (c *Client) ClearExtras() {
	c.extras.Clear()
}

// Extra returns a client-wide extension field and whether it is set.
func (c *Client) Extra(key string) (string, bool) {
	return c.extras.Get(key)
}

// HasExtras reports whether any client-wide extension field is set.
func (c *Client) HasExtras() bool {
	return !c.extras.IsEmpty()
}

// Extras returns a copy of the client-wide extension fields.
func (c *Client) Extras() map[string]string {
	return c.extras.GetAll()
}

// TrackUser reports the current user and device. It returns whether the
// endpoint accepted the beacon.
func (c *Client) TrackUser(ctx context.Context, extra map[string]string) bool {
	userID, err := c.host.UserID(ctx)
	if err != nil {
		c.loggerAdapter.Error("Tracking user failed: user id: %v", err)
		return false
	}
	env, err := c.host.Environment(ctx)
	if err != nil {
		c.loggerAdapter.Error("Tracking user failed: host environment: %v", err)
		return false
	}

	params := EncodeUser(c.addOn, userID, env, c.IsDevelopment(), c.extras.Merge(extra))
	return c.dispatcher.Dispatch(ctx, "user", params, "")
}

// TrackEvent reports a named event. Reserved kinds are rejected with
// ErrInvalidArgument; every other failure is reported as false.
func (c *Client) TrackEvent(ctx context.Context, name string, extra map[string]string) (bool, error) {
	if err := validateEventName(name); err != nil {
		return false, err
	}
	return c.trackEvent(ctx, name, extra), nil
}

// TrackEventAsync is TrackEvent without blocking the caller. The result is
// delivered on the returned channel, which receives exactly one value.
func (c *Client) TrackEventAsync(name string, extra map[string]string) (<-chan bool, error) {
	if err := validateEventName(name); err != nil {
		return nil, err
	}
	result := make(chan bool, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), asyncTimeout)
		defer cancel()
		result <- c.trackEvent(ctx, name, extra)
	}()
	return result, nil
}

// TrackError reports an error. A stack trace travels as the request body.
func (c *Client) TrackError(ctx context.Context, info ErrorInfo, extra map[string]string) bool {
	userID, err := c.host.UserID(ctx)
	if err != nil {
		c.loggerAdapter.Error("Tracking error failed: user id: %v", err)
		return false
	}
	params, body := EncodeError(c.addOn, userID, info, c.extras.Merge(extra))
	return c.dispatcher.Dispatch(ctx, protocol.EventError, params, body)
}

// TrackPulse reports that the add-on is still in use.
func (c *Client) TrackPulse(ctx context.Context) bool {
	return c.trackEvent(ctx, protocol.EventPulse, nil)
}

func (c *Client) trackEvent(ctx context.Context, name string, extra map[string]string) bool {
	userID, err := c.host.UserID(ctx)
	if err != nil {
		c.loggerAdapter.Error("Tracking event %s failed: user id: %v", name, err)
		return false
	}
	params := EncodeEvent(c.addOn, userID, name, c.extras.Merge(extra))
	return c.dispatcher.Dispatch(ctx, name, params, "")
}

// claimPulse makes p the client's running pulse unless another one holds it.
func (c *Client) claimPulse(p *Pulse) bool {
	c.pulseMu.Lock()
	defer c.pulseMu.Unlock()
	if c.pulse != nil && c.pulse != p {
		return false
	}
	c.pulse = p
	return true
}

func (c *Client) releasePulse(p *Pulse) {
	c.pulseMu.Lock()
	defer c.pulseMu.Unlock()
	if c.pulse == p {
		c.pulse = nil
	}
}

func validateEventName(name string) error {
	switch name {
	case "":
		return fmt.Errorf("%w: event name cannot be empty", ErrInvalidArgument)
	case protocol.EventUser:
		return fmt.Errorf("%w: cannot track %s with TrackEvent, use TrackUser instead", ErrInvalidArgument, name)
	case protocol.EventError:
		return fmt.Errorf("%w: cannot track %s with TrackEvent, use TrackError instead", ErrInvalidArgument, name)
	case protocol.EventPulse:
		return fmt.Errorf("%w: cannot track %s with TrackEvent, use a Pulse instead", ErrInvalidArgument, name)
	}
	return nil
}
