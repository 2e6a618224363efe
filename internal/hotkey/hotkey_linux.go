//go:build linux

package hotkey

/*
#cgo pkg-config: x11 xtst
#include <X11/Xlib.h>
#include <X11/keysym.h>
#include <X11/extensions/XTest.h>
#include <stdlib.h>

Display* displayPtr = NULL;

int openDisplay() {
    if (displayPtr == NULL) {
        displayPtr = XOpenDisplay(NULL);
    }
    return displayPtr != NULL;
}

int keycodeFor(const char* name) {
    if (!openDisplay()) return 0;
    KeySym sym = XStringToKeysym(name);
    if (sym == NoSymbol) return 0;
    return XKeysymToKeycode(displayPtr, sym);
}

int grabKey(int keycode, unsigned int modifiers) {
    if (!openDisplay()) return 0;

    Window root = DefaultRootWindow(displayPtr);
    XGrabKey(displayPtr, keycode, modifiers, root, False, GrabModeAsync, GrabModeAsync);
    XSelectInput(displayPtr, root, KeyPressMask | KeyReleaseMask);
    XSync(displayPtr, False);

    return 1;
}

void ungrabKey(int keycode, unsigned int modifiers) {
    if (displayPtr == NULL) return;
    XUngrabKey(displayPtr, keycode, modifiers, DefaultRootWindow(displayPtr));
    XSync(displayPtr, False);
}

int checkEvent(int* keycode, unsigned int* state, int* pressed) {
    if (displayPtr == NULL) return 0;

    XEvent event;
    if (XPending(displayPtr) > 0) {
        XNextEvent(displayPtr, &event);
        if (event.type == KeyPress || event.type == KeyRelease) {
            *keycode = event.xkey.keycode;
            *state = event.xkey.state;
            *pressed = (event.type == KeyPress) ? 1 : 0;
            return 1;
        }
    }
    return 0;
}
*/
import "C"

import (
	"fmt"
	"sync"
	"time"
	"unsafe"
)

// X11 modifier masks.
const (
	x11ShiftMask   = 1 << 0
	x11ControlMask = 1 << 2
	x11Mod1Mask    = 1 << 3 // Alt
	x11Mod4Mask    = 1 << 6 // Super
)

// Only these bits take part in matching, so Caps Lock and Num Lock are ignored.
const x11ModMask = x11ShiftMask | x11ControlMask | x11Mod1Mask | x11Mod4Mask

type grab struct {
	keycode int
	mods    uint
}

type linuxManager struct {
	// mu also serializes every Xlib call, which is not thread safe.
	mu        sync.Mutex
	callbacks map[grab]func(bool)
	accels    map[string]grab
	stop      chan struct{}
	once      sync.Once
}

// New creates a new Linux hotkey manager using X11
func New() (Manager, error) {
	if C.openDisplay() == 0 {
		return nil, fmt.Errorf("cannot open X display")
	}

	mgr := &linuxManager{
		callbacks: make(map[grab]func(bool)),
		accels:    make(map[string]grab),
		stop:      make(chan struct{}),
	}

	go mgr.eventLoop()

	return mgr, nil
}

func x11Mods(m Modifier) uint {
	var mods uint
	if m&ModShift != 0 {
		mods |= x11ShiftMask
	}
	if m&ModCtrl != 0 {
		mods |= x11ControlMask
	}
	if m&ModAlt != 0 {
		mods |= x11Mod1Mask
	}
	if m&ModSuper != 0 {
		mods |= x11Mod4Mask
	}
	return mods
}

func (m *linuxManager) Register(accel string, callback func(pressed bool)) error {
	acc, err := ParseAccelerator(accel)
	if err != nil {
		return err
	}

	name := C.CString(x11Keysym(acc.Key))
	defer C.free(unsafe.Pointer(name))

	m.mu.Lock()
	defer m.mu.Unlock()

	keycode := int(C.keycodeFor(name))
	if keycode == 0 {
		return fmt.Errorf("no keycode for %s", acc.Key)
	}
	g := grab{keycode: keycode, mods: x11Mods(acc.Mods)}

	if C.grabKey(C.int(g.keycode), C.uint(g.mods)) == 0 {
		return fmt.Errorf("failed to grab key %s", acc)
	}

	m.callbacks[g] = callback
	m.accels[accel] = g
	return nil
}

func (m *linuxManager) eventLoop() {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			var keycode, pressed C.int
			var state C.uint

			m.mu.Lock()
			ok := C.checkEvent(&keycode, &state, &pressed) != 0
			cb := m.callbacks[grab{keycode: int(keycode), mods: uint(state) & x11ModMask}]
			m.mu.Unlock()

			if ok && cb != nil {
				cb(pressed == 1)
			}
		}
	}
}

func (m *linuxManager) Unregister(accel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.accels[accel]
	if !ok {
		return fmt.Errorf("hotkey %s is not registered", accel)
	}
	C.ungrabKey(C.int(g.keycode), C.uint(g.mods))
	delete(m.callbacks, g)
	delete(m.accels, accel)
	return nil
}

func (m *linuxManager) Close() error {
	m.once.Do(func() {
		close(m.stop)

		m.mu.Lock()
		defer m.mu.Unlock()
		for accel, g := range m.accels {
			C.ungrabKey(C.int(g.keycode), C.uint(g.mods))
			delete(m.accels, accel)
			delete(m.callbacks, g)
		}
	})
	return nil
}
