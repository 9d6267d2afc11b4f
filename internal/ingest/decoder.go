package ingest

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/Tap30/beacon-go/internal/storage"
	"github.com/Tap30/beacon-go/protocol"
)

// MissingFieldError reports a required query parameter that is absent or empty.
type MissingFieldError struct {
	Field protocol.Key
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field %q", string(e.Field))
}

// InvalidTextError reports a key, value or body that is not valid UTF-8 or
// contains a NUL byte. Field is the query key, or "body".
type InvalidTextError struct {
	Field string
}

func (e *InvalidTextError) Error() string {
	return fmt.Sprintf("field %q is not valid text", e.Field)
}

// Envelope is the part every beacon carries.
type Envelope struct {
	Event  string
	AddOn  string
	UserID string
	// Extensions holds the ex- fields that survived filtering.
	Extensions map[string]string
}

// Request is a decoded beacon: *UserUpsertRequest, *ErrorEventRequest or
// *GenericEventRequest.
type Request interface {
	Header() Envelope
}

func (e Envelope) Header() Envelope { return e }

// UserUpsertRequest is a decoded _user beacon.
type UserUpsertRequest struct {
	Envelope

	Width                int
	Height               int
	ColorDepth           int
	PixelDepth           int
	Locale               string
	Theme                string
	Format               string
	Platform             string
	DeviceClass          string
	InAppPurchaseAllowed bool
	PremiumUser          bool
	Version              string
	APIVersion           string
	// SimulateFreeUser is nil when the beacon did not carry the flag.
	SimulateFreeUser *bool
}

// Profile converts the request into the profile to upsert.
func (r *UserUpsertRequest) Profile() *storage.UserProfile {
	return &storage.UserProfile{
		AddOn:                r.AddOn,
		UserID:               r.UserID,
		Width:                r.Width,
		Height:               r.Height,
		ColorDepth:           r.ColorDepth,
		PixelDepth:           r.PixelDepth,
		Locale:               r.Locale,
		Theme:                r.Theme,
		Format:               r.Format,
		Platform:             r.Platform,
		DeviceClass:          r.DeviceClass,
		InAppPurchaseAllowed: r.InAppPurchaseAllowed,
		PremiumUser:          r.PremiumUser,
		Version:              r.Version,
		APIVersion:           r.APIVersion,
		SimulateFreeUser:     r.SimulateFreeUser,
		Extensions:           r.Extensions,
	}
}

// ErrorEventRequest is a decoded _error beacon.
type ErrorEventRequest struct {
	Envelope
	Name    string
	Message string
	Cause   string
	// Stack is the request body.
	Stack string
}

// Detail returns the stored form of the error.
func (r *ErrorEventRequest) Detail() *storage.ErrorDetail {
	return &storage.ErrorDetail{
		Name:    r.Name,
		Message: r.Message,
		Cause:   r.Cause,
		Stack:   r.Stack,
	}
}

// GenericEventRequest is any other event, including _pulse.
type GenericEventRequest struct {
	Envelope
}

// Attribute names of stored records. An extension may not overwrite them.
var (
	userAttributes = fieldSet(
		"addOn", "userId", "width", "height", "colorDepth", "pixelDepth",
		"locale", "theme", "format", "platform", "deviceClass",
		"inAppPurchaseAllowed", "premiumUser", "version", "apiVersion",
		"simulateFreeUser", "firstUsage", "updatedAt",
	)
	eventAttributes = fieldSet("event", "sessionId")
	errorAttributes = fieldSet("event", "sessionId", "name", "message", "cause", "stack")
)

func fieldSet(names ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[strings.ToLower(n)] = struct{}{}
	}
	return set
}

// Decode turns the parsed query string of a beacon into a typed request.
// values must come from url.ParseQuery or equivalent; nothing is decoded
// twice. body is the raw request body, used as the stack of an _error.
//
// Malformed numeric or boolean metadata decodes to its zero value. Text
// that is not valid UTF-8 or holds a NUL byte rejects the beacon, whatever
// the storage backend would accept.
func Decode(values url.Values, body string) (Request, error) {
	if err := checkText(values, body); err != nil {
		return nil, err
	}
	env := Envelope{
		Event:  values.Get(string(protocol.KeyEvent)),
		AddOn:  values.Get(string(protocol.KeyAddOn)),
		UserID: values.Get(string(protocol.KeyUserID)),
	}
	for _, key := range protocol.RequiredKeys {
		if values.Get(string(key)) == "" {
			return nil, &MissingFieldError{Field: key}
		}
	}

	switch env.Event {
	case protocol.EventUser:
		env.Extensions = extensions(values, userAttributes)
		return decodeUser(env, values), nil
	case protocol.EventError:
		for _, key := range protocol.ErrorRequiredKeys {
			if values.Get(string(key)) == "" {
				return nil, &MissingFieldError{Field: key}
			}
		}
		env.Extensions = extensions(values, errorAttributes)
		return &ErrorEventRequest{
			Envelope: env,
			Name:     values.Get(string(protocol.KeyErrorName)),
			Message:  values.Get(string(protocol.KeyErrorMessage)),
			Cause:    values.Get(string(protocol.KeyErrorCause)),
			Stack:    body,
		}, nil
	default:
		env.Extensions = extensions(values, eventAttributes)
		return &GenericEventRequest{Envelope: env}, nil
	}
}

func decodeUser(env Envelope, values url.Values) *UserUpsertRequest {
	get := func(k protocol.Key) string { return values.Get(string(k)) }

	r := &UserUpsertRequest{
		Envelope:             env,
		Width:                atoi(get(protocol.KeyWidth)),
		Height:               atoi(get(protocol.KeyHeight)),
		ColorDepth:           atoi(get(protocol.KeyColorDepth)),
		PixelDepth:           atoi(get(protocol.KeyPixelDepth)),
		Locale:               get(protocol.KeyLocale),
		Theme:                get(protocol.KeyTheme),
		Format:               get(protocol.KeyFormat),
		Platform:             get(protocol.KeyPlatform),
		DeviceClass:          get(protocol.KeyDeviceClass),
		InAppPurchaseAllowed: parseBool(get(protocol.KeyInAppPurchase)),
		PremiumUser:          parseBool(get(protocol.KeyPremiumUser)),
		Version:              get(protocol.KeyVersion),
		APIVersion:           get(protocol.KeyAPIVersion),
	}
	if s := get(protocol.KeySimulateFreeUser); s != "" {
		v := parseBool(s)
		r.SimulateFreeUser = &v
	}
	return r
}

// extensions collects ex- fields, dropping names that collide with a
// storage identity field or with one of attributes.
func extensions(values url.Values, attributes map[string]struct{}) map[string]string {
	var out map[string]string
	for key, vals := range values {
		name, ok := protocol.ExtensionName(key)
		if !ok || len(vals) == 0 {
			continue
		}
		if protocol.IsReservedField(name) {
			continue
		}
		if _, taken := attributes[strings.ToLower(name)]; taken {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[name] = vals[0]
	}
	return out
}

func checkText(values url.Values, body string) error {
	for key, vals := range values {
		if !validText(key) {
			return &InvalidTextError{Field: key}
		}
		for _, v := range vals {
			if !validText(v) {
				return &InvalidTextError{Field: key}
			}
		}
	}
	if !validText(body) {
		return &InvalidTextError{Field: "body"}
	}
	return nil
}

func validText(s string) bool {
	return utf8.ValidString(s) && strings.IndexByte(s, 0) < 0
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	return err == nil && b
}
