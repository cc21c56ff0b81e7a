package usage

import (
	"fmt"
	"time"
)

// Method records how a foreground decision was reached, in descending
// order of confidence.
type Method int

const (
	// MethodNone means no application could be resolved.
	MethodNone Method = iota
	// MethodEventState means event replay found a still-foregrounded app.
	MethodEventState
	// MethodEventRecent means the most recent foreground event was used
	// even though the app may have been backgrounded since.
	MethodEventRecent
	// MethodPackageOnly means an app was resolved but no label could be
	// found, so the package identifier doubles as the display name.
	MethodPackageOnly
	// MethodStatsFallback means aggregate usage stats decided.
	MethodStatsFallback
)

func (m Method) String() string {
	switch m {
	case MethodEventState:
		return "event_state"
	case MethodEventRecent:
		return "event_recent"
	case MethodPackageOnly:
		return "package_only"
	case MethodStatsFallback:
		return "stats_fallback"
	default:
		return "none"
	}
}

// State is the outcome of one resolution tick. Each tick fully replaces
// the previous state; states are never merged.
type State struct {
	Package     string
	DisplayName string
	Method      Method
	ResolvedAt  time.Time
	Debug       string
}

// Empty reports whether no foreground application was resolved.
func (s State) Empty() bool {
	return s.Package == ""
}

// Bridge renders the legacy four-field encoding
// "appName|packageName|method|debugInfo" with "null" for unknown fields.
func (s State) Bridge() string {
	name := s.DisplayName
	if name == "" {
		name = "null"
	}
	pkg := s.Package
	if pkg == "" {
		pkg = "null"
	}
	debug := s.Debug
	if debug == "" {
		debug = "null"
	}
	return fmt.Sprintf("%s|%s|%s|%s", name, pkg, s.Method, debug)
}
