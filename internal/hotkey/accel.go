package hotkey

import (
	"fmt"
	"strings"
)

// Modifier is a bit set of modifier keys.
type Modifier uint8

const (
	ModCtrl Modifier = 1 << iota
	ModAlt
	ModShift
	ModSuper
)

// Accelerator is a parsed key combination such as "Ctrl+Shift+R".
type Accelerator struct {
	Mods Modifier
	// Key is the canonical key name: "A".."Z", "0".."9", "F1".."F12",
	// "Space", "Enter", "Tab" or "Escape".
	Key string
}

func (a Accelerator) String() string {
	var parts []string
	for _, m := range []struct {
		mod  Modifier
		name string
	}{{ModCtrl, "Ctrl"}, {ModAlt, "Alt"}, {ModShift, "Shift"}, {ModSuper, "Super"}} {
		if a.Mods&m.mod != 0 {
			parts = append(parts, m.name)
		}
	}
	return strings.Join(append(parts, a.Key), "+")
}

var modifierNames = map[string]Modifier{
	"ctrl":    ModCtrl,
	"control": ModCtrl,
	"alt":     ModAlt,
	"option":  ModAlt,
	"opt":     ModAlt,
	"shift":   ModShift,
	"super":   ModSuper,
	"cmd":     ModSuper,
	"command": ModSuper,
	"meta":    ModSuper,
	"win":     ModSuper,
}

var namedKeys = map[string]string{
	"space":  "Space",
	"enter":  "Enter",
	"return": "Enter",
	"tab":    "Tab",
	"esc":    "Escape",
	"escape": "Escape",
}

// ParseAccelerator parses strings like "Alt+Space" or "cmd+shift+r".
// Exactly one non-modifier key is required.
func ParseAccelerator(s string) (Accelerator, error) {
	var acc Accelerator
	if strings.TrimSpace(s) == "" {
		return acc, fmt.Errorf("empty accelerator")
	}

	for _, raw := range strings.Split(s, "+") {
		part := strings.ToLower(strings.TrimSpace(raw))
		if part == "" {
			return acc, fmt.Errorf("malformed accelerator %q", s)
		}
		if mod, ok := modifierNames[part]; ok {
			acc.Mods |= mod
			continue
		}
		key, err := canonicalKey(part)
		if err != nil {
			return acc, fmt.Errorf("accelerator %q: %w", s, err)
		}
		if acc.Key != "" {
			return acc, fmt.Errorf("accelerator %q has more than one key", s)
		}
		acc.Key = key
	}

	if acc.Key == "" {
		return acc, fmt.Errorf("accelerator %q has no key", s)
	}
	return acc, nil
}

func canonicalKey(part string) (string, error) {
	if k, ok := namedKeys[part]; ok {
		return k, nil
	}
	if len(part) == 1 {
		c := part[0]
		switch {
		case c >= 'a' && c <= 'z':
			return strings.ToUpper(part), nil
		case c >= '0' && c <= '9':
			return part, nil
		}
	}
	if part[0] == 'f' {
		var n int
		if _, err := fmt.Sscanf(part, "f%d", &n); err == nil && n >= 1 && n <= 12 && part == fmt.Sprintf("f%d", n) {
			return fmt.Sprintf("F%d", n), nil
		}
	}
	return "", fmt.Errorf("unknown key %q", part)
}

// x11Keysym returns the X11 keysym name for a canonical key.
func x11Keysym(key string) string {
	switch key {
	case "Space":
		return "space"
	case "Enter":
		return "Return"
	}
	if len(key) == 1 && key[0] >= 'A' && key[0] <= 'Z' {
		return strings.ToLower(key)
	}
	return key
}
