package beacon

import (
	"context"

	"github.com/Tap30/beacon-go/adapters"
)

// Dispatcher fires beacons. Each call is one request: nothing is queued,
// retried or persisted, and every failure collapses into a false result.
type Dispatcher struct {
	endpoint      string
	httpAdapter   HTTPAdapter
	loggerAdapter LoggerAdapter
}

func NewDispatcher(endpoint string, httpAdapter HTTPAdapter) *Dispatcher {
	return &Dispatcher{
		endpoint:      endpoint,
		httpAdapter:   httpAdapter,
		loggerAdapter: adapters.NewNoOpLoggerAdapter(),
	}
}

// SetLoggerAdapter sets a custom logger adapter
func (d *Dispatcher) SetLoggerAdapter(logger LoggerAdapter) {
	d.loggerAdapter = logger
}

// Endpoint returns the URL beacons are appended to.
func (d *Dispatcher) Endpoint() string {
	return d.endpoint
}

// Dispatch sends params (and an optional body) and reports whether the
// endpoint answered with a 2xx status. label names the beacon in logs.
func (d *Dispatcher) Dispatch(ctx context.Context, label string, params Params, body string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			d.loggerAdapter.Error("Tracking %s panicked: %v", label, r)
			ok = false
		}
	}()

	beacon := Beacon{URL: BuildURL(d.endpoint, params), Body: body}
	d.loggerAdapter.Debug("Sending %s beacon", label)

	resp, err := d.httpAdapter.Send(ctx, beacon)
	if err != nil {
		d.loggerAdapter.Error("Tracking %s failed: %v", label, err)
		return false
	}
	if resp == nil {
		d.loggerAdapter.Error("Tracking %s failed: empty response", label)
		return false
	}

	if resp.Status >= 200 && resp.Status < 300 {
		d.loggerAdapter.Debug("Tracked %s", label)
		return true
	}

	d.loggerAdapter.Warn("Tracking %s failed: %v", label, &HTTPError{Status: resp.Status, Body: resp.Body})
	return false
}
