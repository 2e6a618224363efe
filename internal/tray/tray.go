package tray

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/getlantern/systray"
	"github.com/petems/meeting-tray/internal/app"
	"github.com/petems/meeting-tray/internal/audio"
	"github.com/petems/meeting-tray/internal/config"
	"github.com/petems/meeting-tray/internal/logging"
	"github.com/rs/zerolog"
)

const stopTimeout = 30 * time.Second

type UI struct {
	app     *app.App
	version string
	commit  string
	log     zerolog.Logger
	onQuit  func()

	mu     sync.Mutex
	status string
	ready  bool

	// Menu items
	mStatus     *systray.MenuItem
	mStartStop  *systray.MenuItem
	mMode       *systray.MenuItem
	mDevices    *systray.MenuItem
	mCopyPath   *systray.MenuItem
	mUpload     *systray.MenuItem
	mRunAtLogin *systray.MenuItem
}

// Status update methods for the app to call
func (u *UI) SetIdle() {
	u.updateStatus("idle")
}

func (u *UI) SetRecording() {
	u.updateStatus("recording")
}

func (u *UI) SetProcessing() {
	u.updateStatus("processing")
}

func (u *UI) SetError() {
	u.updateStatus("error")
}

// New creates the tray. onQuit runs when the user picks Quit, before the
// tray exits.
func New(application *app.App, version, commit string, log zerolog.Logger, onQuit func()) *UI {
	return &UI{
		app:     application,
		version: version,
		commit:  commit,
		log:     log,
		onQuit:  onQuit,
		status:  "idle",
	}
}

// SetApp sets the app reference (for circular dependency resolution)
func (u *UI) SetApp(application *app.App) {
	u.app = application
}

// Run blocks until the tray exits. It must be called from the main goroutine.
func (u *UI) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		systray.Quit()
	}()
	systray.Run(u.onReady, u.onExit)
	return nil
}

func (u *UI) onReady() {
	systray.SetTooltip("Meeting recorder")

	u.mStatus = systray.AddMenuItem("Ready", "")
	u.mStatus.Disable()
	u.mStartStop = systray.AddMenuItem(startStopTitle(false), "Record system audio and microphone")
	systray.AddSeparator()

	u.mMode = systray.AddMenuItem(modeTitle(u.app.Mode()), "Toggle between modes")
	u.mDevices = systray.AddMenuItem("Audio Devices", "Capture devices seen by the audio backend")
	u.buildDeviceMenu()

	systray.AddSeparator()
	u.mCopyPath = systray.AddMenuItemCheckbox("Copy Path After Saving", "Put the saved file path on the clipboard", u.app.CopyPathOnSave())
	u.mUpload = systray.AddMenuItemCheckbox("Upload Recordings", "Upload to the configured bucket after saving", u.app.UploadEnabled())
	u.mRunAtLogin = systray.AddMenuItemCheckbox("Run at Login", "Start on system boot", u.app.RunAtLogin())

	systray.AddSeparator()
	mFolder := systray.AddMenuItem("Open Recordings Folder", "Show saved recordings")
	mLogs := systray.AddMenuItem("Open Logs", "View application logs")
	mAbout := systray.AddMenuItem("About", "About MeetingTray")
	mQuit := systray.AddMenuItem("Quit", "Exit application")

	u.mu.Lock()
	u.ready = true
	status := u.status
	u.mu.Unlock()
	u.render(status)

	// Event loop
	go u.handleEvents(mFolder, mLogs, mAbout, mQuit)
}

func (u *UI) handleEvents(mFolder, mLogs, mAbout, mQuit *systray.MenuItem) {
	for {
		select {
		case <-u.mStartStop.ClickedCh:
			go u.toggleRecording()
		case <-u.mMode.ClickedCh:
			u.toggleMode()
		case <-u.mCopyPath.ClickedCh:
			u.toggleCopyPath()
		case <-u.mUpload.ClickedCh:
			u.toggleUpload()
		case <-u.mRunAtLogin.ClickedCh:
			u.toggleRunAtLogin()
		case <-mFolder.ClickedCh:
			u.open(u.app.RecordingsDir())
		case <-mLogs.ClickedCh:
			u.open(logging.Path())
		case <-mAbout.ClickedCh:
			u.showAbout()
		case <-mQuit.ClickedCh:
			if u.onQuit != nil {
				u.onQuit()
			}
			systray.Quit()
			return
		}
	}
}

func (u *UI) buildDeviceMenu() {
	devices, err := u.app.ListDevices()
	if err != nil {
		u.log.Error().Err(err).Msg("Failed to list audio devices")
		u.mDevices.AddSubMenuItem("No devices found", "").Disable()
		return
	}

	for _, dev := range devices {
		item := u.mDevices.AddSubMenuItem(deviceLabel(dev), dev.ID)
		if dev.Default {
			item.Check()
		}
		item.Disable()
	}
}

func (u *UI) toggleRecording() {
	if !u.app.IsRecording() {
		if _, err := u.app.StartRecording(); err != nil {
			u.log.Error().Err(err).Msg("Start from tray failed")
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if _, err := u.app.StopRecording(ctx); err != nil {
		u.log.Error().Err(err).Msg("Stop from tray failed")
	}
}

func (u *UI) toggleMode() {
	oldMode := u.app.Mode()
	newMode := config.ModePushToTalk
	if oldMode == config.ModePushToTalk {
		newMode = config.ModeToggle
	}
	if err := u.app.SetMode(newMode); err != nil {
		u.log.Error().Err(err).Msg("Failed to save mode")
	}
	u.mMode.SetTitle(modeTitle(newMode))
	u.log.Info().Str("from", oldMode).Str("to", newMode).Msg("Changed mode")
}

func (u *UI) toggleCopyPath() {
	on := !u.app.CopyPathOnSave()
	if err := u.app.SetCopyPathOnSave(on); err != nil {
		u.log.Error().Err(err).Msg("Failed to save setting")
	}
	setChecked(u.mCopyPath, on)
	u.log.Info().Bool("enabled", on).Msg("Changed copy path after saving")
}

func (u *UI) toggleUpload() {
	on := !u.app.UploadEnabled()
	if err := u.app.SetUploadEnabled(on); err != nil {
		u.log.Error().Err(err).Msg("Failed to save setting")
	}
	setChecked(u.mUpload, on)
	u.log.Info().Bool("enabled", on).Msg("Changed upload after saving")
}

func (u *UI) toggleRunAtLogin() {
	on := !u.app.RunAtLogin()
	if err := u.app.SetRunAtLogin(on); err != nil {
		u.log.Error().Err(err).Msg("Failed to save setting")
	}
	setChecked(u.mRunAtLogin, on)
	u.log.Info().Bool("enabled", on).Msg("Changed run at login")
}

func (u *UI) open(path string) {
	name, args := openCommand(runtime.GOOS, path)
	if err := exec.Command(name, args...).Start(); err != nil {
		u.log.Error().Err(err).Str("path", path).Msg("Failed to open")
	}
}

func (u *UI) showAbout() {
	u.log.Info().Msg(aboutText(u.version, u.commit))
}

func (u *UI) onExit() {}

func (u *UI) updateStatus(status string) {
	u.mu.Lock()
	u.status = status
	ready := u.ready
	u.mu.Unlock()
	if ready {
		u.render(status)
	}
}

func (u *UI) render(status string) {
	systray.SetTitle(fmt.Sprintf("🎙 %s", emojiForStatus(status)))
	u.mStatus.SetTitle(u.app.Status().Message)
	u.mStartStop.SetTitle(startStopTitle(status == "recording"))
}

func setChecked(item *systray.MenuItem, on bool) {
	if on {
		item.Check()
	} else {
		item.Uncheck()
	}
}

func startStopTitle(recording bool) string {
	if recording {
		return "Stop Recording"
	}
	return "Start Recording"
}

func modeTitle(mode string) string {
	if mode == config.ModePushToTalk {
		return "Mode: Push-to-Talk"
	}
	return "Mode: Toggle"
}

func deviceLabel(dev audio.Device) string {
	if dev.Loopback {
		return dev.Name + " (loopback)"
	}
	return dev.Name
}

func aboutText(version, commit string) string {
	return fmt.Sprintf("MeetingTray %s (%s) - records system audio and microphone into one file", version, commit)
}

// openCommand returns the platform file opener invocation for path.
func openCommand(goos, path string) (string, []string) {
	switch goos {
	case "darwin":
		return "open", []string{path}
	case "windows":
		return "explorer", []string{path}
	default:
		return "xdg-open", []string{path}
	}
}

// emojiForStatus returns the appropriate status emoji
func emojiForStatus(status string) string {
	switch status {
	case "recording":
		return "🔴" // Red - recording
	case "processing":
		return "🟡" // Yellow - uploading
	case "idle":
		return "🟢" // Green - ready/idle
	case "error":
		return "⚪️" // White - error
	default:
		return "🟢" // Green - default to ready
	}
}
