//go:build darwin

package permissions

/*
#cgo LDFLAGS: -framework AVFoundation -framework Cocoa
#import <AVFoundation/AVFoundation.h>
#import <Cocoa/Cocoa.h>

int checkMicrophonePermission() {
    AVAuthorizationStatus status = [AVCaptureDevice authorizationStatusForMediaType:AVMediaTypeAudio];
    return (int)status;
}

void requestMicrophonePermission() {
    [AVCaptureDevice requestAccessForMediaType:AVMediaTypeAudio completionHandler:^(BOOL granted) {}];
}

int checkAccessibilityPermission() {
    NSDictionary *options = @{(__bridge id)kAXTrustedCheckOptionPrompt: @YES};
    return AXIsProcessTrustedWithOptions((__bridge CFDictionaryRef)options) ? 1 : 0;
}
*/
import "C"

import (
	"fmt"

	"github.com/rs/zerolog"
)

// CheckMicrophone returns the current microphone permission status
func CheckMicrophone() int {
	return int(C.checkMicrophonePermission())
}

// RequestMicrophone triggers the system microphone permission dialog
func RequestMicrophone() {
	C.requestMicrophonePermission()
}

// CheckAccessibility reports whether the process is trusted for accessibility,
// showing the system prompt if it is not.
func CheckAccessibility() bool {
	return C.checkAccessibilityPermission() == 1
}

// EnsurePermissions checks microphone access and, when hotkeys are wanted,
// accessibility access. Missing grants trigger the system prompts.
func EnsurePermissions(log zerolog.Logger, hotkeys bool) error {
	status := CheckMicrophone()
	if status != PermissionAuthorized {
		log.Warn().Str("status", Describe(status)).Msg("Microphone permission required")
		if status == PermissionNotDetermined {
			RequestMicrophone()
		}
		return fmt.Errorf("%w (%s)", ErrMicrophoneDenied, Describe(status))
	}

	if hotkeys && !CheckAccessibility() {
		log.Warn().Msg("Accessibility permission required for hotkeys: System Settings > Privacy & Security > Accessibility")
		return ErrAccessibilityDenied
	}

	return nil
}
