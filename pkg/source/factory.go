package source

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/appresence/appresence/pkg/integrations/x11"
	"github.com/appresence/appresence/pkg/usage"
)

// New returns the usage-signal source for the current session.
func New(logger zerolog.Logger) (usage.Source, error) {
	if DetectDisplayServer() != "x11" {
		return nil, fmt.Errorf("no usage-signal source available for this session")
	}
	return x11.NewSource(logger)
}

func DetectDisplayServer() string {
	sessionType := os.Getenv("XDG_SESSION_TYPE")
	waylandDisplay := os.Getenv("WAYLAND_DISPLAY")
	x11Display := os.Getenv("DISPLAY")

	if sessionType == "wayland" || waylandDisplay != "" {
		return "wayland"
	}

	if sessionType == "x11" || x11Display != "" {
		return "x11"
	}

	return "unknown"
}
