package delivery

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// Platform and naming limits.
const (
	// MaxUnits is the number of delivery units the target platform accepts
	// per application artifact.
	MaxUnits = 50

	// InstallTimeAggregate is the reserved unit that receives all install-time
	// content. It is always present in a plan, even when empty.
	InstallTimeAggregate = "InstallTimeContent"

	// DefaultCustomUnitName is the base name used when a custom unit is added
	// without an explicit name.
	DefaultCustomUnitName = "CustomAssetPack"

	// DefaultDeliveryType applies to new custom units and to groups that do
	// not declare a delivery type.
	DefaultDeliveryType = FastFollow

	// GeneratedNamePrefix is prepended to sanitized group names that are empty
	// or do not start with a letter.
	GeneratedNamePrefix = "Group"
)

var validUnitName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// ValidUnitName reports whether name is a legal delivery unit name.
func ValidUnitName(name string) bool {
	return validUnitName.MatchString(name)
}

// DeliveryType controls when the platform transfers a unit to the device.
type DeliveryType int

const (
	// None keeps content in the base artifact; it is never packed into a unit.
	None DeliveryType = iota
	// InstallTime content is present as soon as the application is installed.
	InstallTime
	// FastFollow content is downloaded automatically right after install.
	FastFollow
	// OnDemand content is downloaded while the application is running.
	OnDemand
)

var deliveryTypeNames = [...]string{
	None:        "None",
	InstallTime: "InstallTime",
	FastFollow:  "FastFollow",
	OnDemand:    "OnDemand",
}

// String returns the manifest spelling of the delivery type.
func (t DeliveryType) String() string {
	if t < None || t > OnDemand {
		return fmt.Sprintf("DeliveryType(%d)", int(t))
	}
	return deliveryTypeNames[t]
}

// Valid reports whether t is one of the declared delivery types.
func (t DeliveryType) Valid() bool {
	return t >= None && t <= OnDemand
}

// Packed reports whether content of this type is placed in a delivery unit.
func (t DeliveryType) Packed() bool {
	return t.Valid() && t != None
}

// ParseDeliveryType converts a manifest spelling into a DeliveryType.
func ParseDeliveryType(s string) (DeliveryType, error) {
	for i, name := range deliveryTypeNames {
		if name == s {
			return DeliveryType(i), nil
		}
	}
	return None, fmt.Errorf("unknown delivery type %q: must be one of %v", s, deliveryTypeNames)
}

// MarshalText implements encoding.TextMarshaler so JSON and YAML carry names.
func (t DeliveryType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid delivery type %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *DeliveryType) UnmarshalText(text []byte) error {
	parsed, err := ParseDeliveryType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// BundleID derives the content bundle identifier from a bundle location:
// the file name without its extension. Backslash separators are accepted.
func BundleID(location string) string {
	location = strings.ReplaceAll(location, `\`, "/")
	base := path.Base(location)
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSuffix(base, path.Ext(base))
}
