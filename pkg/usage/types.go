package usage

// EventKind classifies a foreground transition reported by the platform.
type EventKind int

const (
	// ToForeground means the application moved to the foreground.
	ToForeground EventKind = iota
	// ToBackground means the application left the foreground.
	ToBackground
)

func (k EventKind) String() string {
	switch k {
	case ToForeground:
		return "to_foreground"
	case ToBackground:
		return "to_background"
	default:
		return "unknown"
	}
}

// Event is a single foreground/background transition for one application.
type Event struct {
	Package string
	Kind    EventKind
	Time    int64 // Unix milliseconds
}

// Stat is an aggregate usage record for one application.
type Stat struct {
	Package  string
	LastUsed int64 // Unix milliseconds of last foreground use
}

// Source is the interface that all usage-signal implementations must satisfy
type Source interface {
	// Events returns foreground transitions in [start, end), ordered by time
	Events(start, end int64) ([]Event, error)

	// Stats returns aggregate usage for applications active in [start, end)
	Stats(start, end int64) ([]Stat, error)

	// Label resolves a human-readable name for a package identifier
	Label(pkg string) (string, error)

	// IsAvailable checks if this source can run on the current system
	IsAvailable() bool

	// Close cleans up any resources used by the source
	Close() error
}
