package hotkey

import "errors"

// ErrUnsupported is returned where no global hotkey backend exists.
var ErrUnsupported = errors.New("global hotkeys not supported on this platform")

// Manager defines the interface for global hotkey management
type Manager interface {
	Register(accel string, callback func(pressed bool)) error
	Unregister(accel string) error
	Close() error
}
