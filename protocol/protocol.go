// Package protocol declares the beacon wire format shared by the client
// encoder and the ingestion decoder.
//
// A beacon is a list of short query parameters. Every key the protocol
// understands is declared here as a Key; anything else is either an
// extension field (ExtensionPrefix) or ignored.
package protocol

import "strings"

// Key is a single query-string key of the beacon wire format.
type Key string

const (
	KeyEvent  Key = "e"
	KeyAddOn  Key = "n"
	KeyUserID Key = "u"

	KeyAPIVersion       Key = "a"
	KeyColorDepth       Key = "c"
	KeyDeviceClass      Key = "d"
	KeyFormat           Key = "f"
	KeyHeight           Key = "h"
	KeyInAppPurchase    Key = "i"
	KeyLocale           Key = "l"
	KeyPremiumUser      Key = "p"
	KeyPixelDepth       Key = "pd"
	KeyPlatform         Key = "pl"
	KeySimulateFreeUser Key = "s"
	KeyTheme            Key = "t"
	KeyVersion          Key = "v"
	KeyWidth            Key = "w"

	KeyErrorName    Key = "en"
	KeyErrorMessage Key = "m"
	// KeyErrorCause shares its letter with KeyColorDepth; the event kind
	// decides which one applies.
	KeyErrorCause Key = "c"
)

// ExtensionPrefix marks caller supplied fields, e.g. "ex-button=save".
const ExtensionPrefix = "ex-"

// Reserved event kinds. Anything else is a free-form event name.
const (
	EventUser  = "_user"
	EventError = "_error"
	EventPulse = "_pulse"
)

// RequiredKeys must be present on every beacon.
var RequiredKeys = []Key{KeyEvent, KeyAddOn, KeyUserID}

// UserKeys are the metadata keys of a _user beacon, in wire order.
var UserKeys = []Key{
	KeyAPIVersion,
	KeyColorDepth,
	KeyDeviceClass,
	KeyFormat,
	KeyHeight,
	KeyInAppPurchase,
	KeyLocale,
	KeyPremiumUser,
	KeyPixelDepth,
	KeyPlatform,
	KeySimulateFreeUser,
	KeyTheme,
	KeyVersion,
	KeyWidth,
}

// ErrorRequiredKeys must be present on an _error beacon.
var ErrorRequiredKeys = []Key{KeyErrorName, KeyErrorMessage}

// reservedFields are storage field names an extension may never take.
var reservedFields = map[string]struct{}{
	"partitionkey": {},
	"rowkey":       {},
	"timestamp":    {},
}

// IsReservedEvent reports whether kind is one of the protocol's own event
// kinds, which have dedicated client operations.
func IsReservedEvent(kind string) bool {
	switch kind {
	case EventUser, EventError, EventPulse:
		return true
	}
	return false
}

// IsReservedField reports whether name collides with a storage identity
// field. The comparison ignores case.
func IsReservedField(name string) bool {
	_, ok := reservedFields[strings.ToLower(name)]
	return ok
}

// ExtensionKey returns the wire key for the extension field name.
func ExtensionKey(name string) string {
	return ExtensionPrefix + name
}

// ExtensionName returns the field name carried by an extension wire key.
func ExtensionName(key string) (string, bool) {
	if !strings.HasPrefix(key, ExtensionPrefix) {
		return "", false
	}
	name := key[len(ExtensionPrefix):]
	if name == "" {
		return "", false
	}
	return name, true
}

var keyEscaper = strings.NewReplacer("%", "%25", "|", "%7C")

// PartitionKey is the storage partition of an identity's events. "|" and
// "%" inside either part are percent-escaped so distinct identities never
// share a partition.
func PartitionKey(addOn, userID string) string {
	return keyEscaper.Replace(addOn) + "|" + keyEscaper.Replace(userID)
}

// RowKey is the storage row of one event instance.
func RowKey(kind, instanceID string) string {
	return kind + "|" + instanceID
}
