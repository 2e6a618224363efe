package permissions

import "testing"

func TestDescribe(t *testing.T) {
	tests := map[int]string{
		PermissionNotDetermined: "not determined",
		PermissionRestricted:    "restricted",
		PermissionDenied:        "denied",
		PermissionAuthorized:    "authorized",
		42:                      "unknown",
	}
	for status, want := range tests {
		if got := Describe(status); got != want {
			t.Errorf("Describe(%d) = %q, want %q", status, got, want)
		}
	}
}
