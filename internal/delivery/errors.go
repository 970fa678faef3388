package delivery

import (
	"errors"
	"fmt"
)

// Kind is the error category in the delivery error taxonomy.
type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindManifest      Kind = "manifest"
	KindDelivery      Kind = "delivery"
	KindConsistency   Kind = "consistency"
)

// Code identifies a specific error within a Kind.
type Code string

// Configuration error codes.
const (
	ErrCodeInvalidUnitName   Code = "INVALID_UNIT_NAME"
	ErrCodeUnitLimitExceeded Code = "UNIT_LIMIT_EXCEEDED"
	ErrCodeUnknownUnit       Code = "UNKNOWN_UNIT"
	ErrCodeDuplicateUnit     Code = "DUPLICATE_UNIT"
	ErrCodeReservedUnit      Code = "RESERVED_UNIT"
	ErrCodeBundleConflict    Code = "BUNDLE_CONFLICT"
)

// Manifest error codes.
const (
	ErrCodeManifestMissing   Code = "MANIFEST_MISSING"
	ErrCodeManifestMalformed Code = "MANIFEST_MALFORMED"
)

// Delivery error codes.
const (
	ErrCodeDownloadFailed      Code = "DOWNLOAD_FAILED"
	ErrCodeUnitUnavailable     Code = "UNIT_UNAVAILABLE"
	ErrCodeDownloadCanceled    Code = "DOWNLOAD_CANCELED"
	ErrCodePermissionDenied    Code = "PERMISSION_DENIED"
	ErrCodeUnitNotLocated      Code = "UNIT_NOT_LOCATED"
	ErrCodePlatformUnavailable Code = "PLATFORM_UNAVAILABLE"
)

// Consistency error codes.
const (
	ErrCodeLocalPathMissing Code = "LOCAL_PATH_MISSING"
)

// Error is the structured error type for every failure in the taxonomy.
type Error struct {
	Kind    Kind
	Code    Code
	Message string

	// Unit names the affected delivery unit, if any.
	Unit string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Unit != "" {
		msg = fmt.Sprintf("%s (unit=%s)", msg, e.Unit)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func isKind(err error, kind Kind) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind == kind
	}
	return false
}

// IsConfigurationError reports whether err is a build-time configuration error.
func IsConfigurationError(err error) bool { return isKind(err, KindConfiguration) }

// IsManifestError reports whether err is a runtime manifest error.
func IsManifestError(err error) bool { return isKind(err, KindManifest) }

// IsDeliveryError reports whether err is a per-unit delivery failure.
func IsDeliveryError(err error) bool { return isKind(err, KindDelivery) }

// IsConsistencyError reports whether err is a local path consistency error.
func IsConsistencyError(err error) bool { return isKind(err, KindConsistency) }

// CodeOf returns the code carried by err, or "" if err is not an *Error.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// NewConfigurationError creates a ConfigurationError.
func NewConfigurationError(code Code, unit, message string) *Error {
	return &Error{Kind: KindConfiguration, Code: code, Unit: unit, Message: message}
}

// NewManifestError creates a ManifestError wrapping cause.
func NewManifestError(code Code, message string, cause error) *Error {
	return &Error{Kind: KindManifest, Code: code, Message: message, Err: cause}
}

// NewDeliveryError creates a DeliveryError for unit.
func NewDeliveryError(code Code, unit, message string) *Error {
	return &Error{Kind: KindDelivery, Code: code, Unit: unit, Message: message}
}

// NewConsistencyError creates a ConsistencyError for unit.
func NewConsistencyError(unit, path string) *Error {
	return &Error{
		Kind:    KindConsistency,
		Code:    ErrCodeLocalPathMissing,
		Unit:    unit,
		Message: fmt.Sprintf("recorded local path %q no longer exists", path),
	}
}
