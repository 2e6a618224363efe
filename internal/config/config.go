package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Hotkey modes.
const (
	ModePushToTalk = "PushToTalk"
	ModeToggle     = "Toggle"
)

type Config struct {
	Hotkey         string       `json:"hotkey" validate:"required"`
	HotkeyDarwin   string       `json:"hotkey_darwin"`
	Mode           string       `json:"mode" validate:"oneof=PushToTalk Toggle"`
	LogLevel       string       `json:"log_level" validate:"omitempty,oneof=trace debug info warn error"`
	Audio          AudioConfig  `json:"audio"`
	Output         OutputConfig `json:"output"`
	Upload         UploadConfig `json:"upload"`
	Server         ServerConfig `json:"server"`
	CopyPathOnSave bool         `json:"copy_path_on_save"`
	RunAtLogin     bool         `json:"run_at_login"`

	path string
}

type AudioConfig struct {
	Backend           string   `json:"backend" validate:"oneof=auto pulse portaudio malgo"`
	SampleRate        int      `json:"sample_rate" validate:"gte=8000,lte=192000"`
	ChunkFrames       int      `json:"chunk_frames" validate:"gte=64,lte=16384"`
	ShutdownTimeoutMs int      `json:"shutdown_timeout_ms" validate:"gte=100,lte=60000"`
	MixMarkers        []string `json:"mix_markers"` // names that betray a "Stereo Mix" device
	MicMarkers        []string `json:"mic_markers"`
}

type OutputConfig struct {
	Dir    string `json:"dir"` // empty means RecordingsPath()
	Prefix string `json:"prefix" validate:"required,excludesall=/\\"`
}

type UploadConfig struct {
	Enabled         bool   `json:"enabled"`
	Endpoint        string `json:"endpoint" validate:"omitempty,url"`
	Region          string `json:"region"`
	Bucket          string `json:"bucket" validate:"required_if=Enabled true"`
	Prefix          string `json:"prefix"`
	AccessKeyID     string `json:"access_key_id" validate:"required_if=Enabled true"`
	SecretAccessKey string `json:"secret_access_key" validate:"required_if=Enabled true"`
}

type ServerConfig struct {
	Enabled bool   `json:"enabled"`
	Listen  string `json:"listen" validate:"omitempty,hostname_port"`
}

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	// Report JSON names rather than Go field names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Hotkey:       "Ctrl+Shift+R",
		HotkeyDarwin: "Alt+Shift+R",
		Mode:         ModeToggle,
		LogLevel:     "info",
		Audio: AudioConfig{
			Backend:           "auto",
			SampleRate:        44100,
			ChunkFrames:       1024,
			ShutdownTimeoutMs: 2000,
			MixMarkers:        []string{"Stereo Mix"},
			MicMarkers:        []string{"Microphone"},
		},
		Output: OutputConfig{
			Prefix: "meeting",
		},
		Upload: UploadConfig{
			Region: "auto",
		},
		Server: ServerConfig{
			Enabled: true,
			Listen:  "127.0.0.1:8000",
		},
		CopyPathOnSave: true,
	}
}

// Load reads the config from disk or returns defaults
func Load() (*Config, error) {
	return LoadFrom(configPath())
}

// LoadFrom reads the config at path, falling back to defaults for anything
// the file does not set. A missing file is not an error.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	cfg.path = path

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return cfg, nil
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and reports them by JSON name.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s %s", fieldPath(e), formatValidationMessage(e)))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// fieldPath drops the root struct name, e.g. "audio.sample_rate".
func fieldPath(e validator.FieldError) string {
	ns := e.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func formatValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required", "required_if":
		return "is required"
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", e.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", e.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "url":
		return "must be a valid URL"
	case "hostname_port":
		return "must be host:port"
	case "excludesall":
		return "must not contain path separators"
	default:
		return fmt.Sprintf("failed validation '%s'", e.Tag())
	}
}

// Save writes the config to disk
func (c *Config) Save() error {
	path := c.Path()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Path returns the file this config was loaded from or will be saved to.
func (c *Config) Path() string {
	if c.path == "" {
		return configPath()
	}
	return c.path
}

// PlatformHotkey returns the appropriate hotkey for the current platform
func (c *Config) PlatformHotkey() string {
	if runtime.GOOS == "darwin" && c.HotkeyDarwin != "" {
		return c.HotkeyDarwin
	}
	return c.Hotkey
}

// ShutdownTimeout converts the configured milliseconds.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Audio.ShutdownTimeoutMs) * time.Millisecond
}

// RecordingsDir returns Output.Dir or the platform default.
func (c *Config) RecordingsDir() string {
	if c.Output.Dir != "" {
		return c.Output.Dir
	}
	return RecordingsPath()
}

// configPath returns the platform-specific config file path
func configPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "meeting-tray", "config.json")
}

// RecordingsPath returns the platform-specific recordings directory
func RecordingsPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("LOCALAPPDATA")
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.local/share"
		}
	}

	return filepath.Join(base, "meeting-tray", "recordings")
}
