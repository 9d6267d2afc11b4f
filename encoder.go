package beacon

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/Tap30/beacon-go/protocol"
)

// Param is one key=value pair of a beacon query string.
type Param struct {
	Key   string
	Value string
}

// Params is an ordered beacon query. Order is preserved on the wire.
type Params []Param

func (p Params) add(key protocol.Key, value string) Params {
	return append(p, Param{Key: string(key), Value: value})
}

// Get returns the first value stored under key.
func (p Params) Get(key string) (string, bool) {
	for _, param := range p {
		if param.Key == key {
			return param.Value, true
		}
	}
	return "", false
}

// Encode percent-encodes every key and value and joins them with '&'.
func (p Params) Encode() string {
	var b strings.Builder
	for i, param := range p {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(param.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(param.Value))
	}
	return b.String()
}

// ErrorInfo is the error a TrackError call reports.
type ErrorInfo struct {
	Name    string
	Message string
	Cause   string
	// Stack is sent as the request body, never in the URL.
	Stack string
}

// NewErrorInfo describes err. The cause is taken from the wrapped error, if any.
func NewErrorInfo(err error) ErrorInfo {
	if err == nil {
		return ErrorInfo{}
	}
	info := ErrorInfo{
		Name:    strings.TrimPrefix(fmt.Sprintf("%T", err), "*"),
		Message: err.Error(),
	}
	if cause := errors.Unwrap(err); cause != nil {
		info.Cause = cause.Error()
	}
	return info
}

// EncodeUser builds the _user beacon. The development-only simulate flag is
// included only when includeDevFlags is set.
func EncodeUser(addOn, userID string, env HostEnvironment, includeDevFlags bool, extra map[string]string) Params {
	params := make(Params, 0, len(protocol.UserKeys)+3+len(extra))
	params = params.
		add(protocol.KeyAPIVersion, env.APIVersion).
		add(protocol.KeyColorDepth, strconv.Itoa(env.Screen.ColorDepth)).
		add(protocol.KeyDeviceClass, env.Platform.DeviceClass).
		add(protocol.KeyEvent, protocol.EventUser).
		add(protocol.KeyFormat, env.UI.Format).
		add(protocol.KeyHeight, strconv.Itoa(env.Screen.Height)).
		add(protocol.KeyInAppPurchase, strconv.FormatBool(env.Platform.InAppPurchaseAllowed)).
		add(protocol.KeyLocale, env.UI.Locale).
		add(protocol.KeyAddOn, addOn).
		add(protocol.KeyPremiumUser, strconv.FormatBool(env.PremiumUser)).
		add(protocol.KeyPixelDepth, strconv.Itoa(env.Screen.PixelDepth)).
		add(protocol.KeyPlatform, env.Platform.Name).
		add(protocol.KeyTheme, env.UI.Theme).
		add(protocol.KeyUserID, userID).
		add(protocol.KeyVersion, env.AddOnVersion).
		add(protocol.KeyWidth, strconv.Itoa(env.Screen.Width))

	if includeDevFlags {
		params = params.add(protocol.KeySimulateFreeUser, strconv.FormatBool(env.SimulateFreeUser))
	}
	return appendExtensions(params, extra)
}

// EncodeEvent builds a beacon for the event kind.
func EncodeEvent(addOn, userID, kind string, extra map[string]string) Params {
	params := make(Params, 0, 3+len(extra))
	params = params.
		add(protocol.KeyEvent, kind).
		add(protocol.KeyAddOn, addOn).
		add(protocol.KeyUserID, userID)
	return appendExtensions(params, extra)
}

// EncodeError builds the _error beacon and returns the stack trace to send
// as the body.
func EncodeError(addOn, userID string, info ErrorInfo, extra map[string]string) (Params, string) {
	params := make(Params, 0, 6+len(extra))
	params = params.
		add(protocol.KeyEvent, protocol.EventError).
		add(protocol.KeyAddOn, addOn).
		add(protocol.KeyUserID, userID).
		add(protocol.KeyErrorName, info.Name).
		add(protocol.KeyErrorMessage, info.Message)
	if info.Cause != "" {
		params = params.add(protocol.KeyErrorCause, info.Cause)
	}
	return appendExtensions(params, extra), info.Stack
}

// appendExtensions adds extra as ex- fields in key order.
func appendExtensions(params Params, extra map[string]string) Params {
	if len(extra) == 0 {
		return params
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		if k != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		params = append(params, Param{Key: protocol.ExtensionKey(k), Value: extra[k]})
	}
	return params
}

// BuildURL appends params to endpoint, continuing an existing query string
// with '&' or starting one with '?'.
func BuildURL(endpoint string, params Params) string {
	if len(params) == 0 {
		return endpoint
	}
	query := params.Encode()
	switch {
	case !strings.Contains(endpoint, "?"):
		return endpoint + "?" + query
	case strings.HasSuffix(endpoint, "?"), strings.HasSuffix(endpoint, "&"):
		return endpoint + query
	default:
		return endpoint + "&" + query
	}
}
