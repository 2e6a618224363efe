//go:build !linux && !darwin

package hotkey

// New reports ErrUnsupported; the app stays usable from the tray and API.
func New() (Manager, error) {
	return nil, ErrUnsupported
}
