// Package permissions checks the OS grants needed for capture and hotkeys.
package permissions

import "errors"

var (
	// ErrMicrophoneDenied means capture would record silence or fail.
	ErrMicrophoneDenied = errors.New("microphone permission not granted")

	// ErrAccessibilityDenied means the global hotkey cannot be registered.
	ErrAccessibilityDenied = errors.New("accessibility permission not granted")
)

// Microphone authorization states, matching AVAuthorizationStatus.
const (
	PermissionNotDetermined = 0
	PermissionRestricted    = 1
	PermissionDenied        = 2
	PermissionAuthorized    = 3
)

// Describe names a microphone authorization state.
func Describe(status int) string {
	switch status {
	case PermissionNotDetermined:
		return "not determined"
	case PermissionRestricted:
		return "restricted"
	case PermissionDenied:
		return "denied"
	case PermissionAuthorized:
		return "authorized"
	default:
		return "unknown"
	}
}
