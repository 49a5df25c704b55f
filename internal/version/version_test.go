package version_test

import (
	"strings"
	"testing"

	"github.com/hazz-dev/upwatch/internal/version"
)

func TestString(t *testing.T) {
	s := version.String()
	if !strings.HasPrefix(s, "upwatch "+version.Version) {
		t.Errorf("unexpected version string %q", s)
	}
	if !strings.Contains(s, version.Commit) {
		t.Errorf("expected commit in %q", s)
	}
}

func TestUserAgent(t *testing.T) {
	if got := version.UserAgent(); got != "upwatch/"+version.Version {
		t.Errorf("unexpected user agent %q", got)
	}
}
