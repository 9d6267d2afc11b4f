package beacon

import "context"

// Host is the add-on runtime the client runs inside. It identifies the
// current user and describes the device.
type Host interface {
	// AddOnName is the stable name data is collected under.
	AddOnName() string
	UserID(ctx context.Context) (string, error)
	Environment(ctx context.Context) (HostEnvironment, error)
}

// Platform describes the device the add-on runs on.
type Platform struct {
	Name                 string
	DeviceClass          string
	InAppPurchaseAllowed bool
}

// UI describes the host's current presentation settings.
type UI struct {
	Format string
	Locale string
	Theme  string
}

// Screen holds display metrics.
type Screen struct {
	Width      int
	Height     int
	ColorDepth int
	PixelDepth int
}

// HostEnvironment is everything a _user beacon reports about the user.
type HostEnvironment struct {
	APIVersion   string
	AddOnVersion string
	PremiumUser  bool
	Platform     Platform
	UI           UI
	Screen       Screen
	// SimulateFreeUser is a development flag; it is only sent in development.
	SimulateFreeUser bool
}

// StaticHost is a Host with fixed values, for tools, servers and tests.
type StaticHost struct {
	Name string
	User string
	Env  HostEnvironment
}

var _ Host = (*StaticHost)(nil)

func (h *StaticHost) AddOnName() string { return h.Name }

func (h *StaticHost) UserID(context.Context) (string, error) { return h.User, nil }

func (h *StaticHost) Environment(context.Context) (HostEnvironment, error) { return h.Env, nil }
