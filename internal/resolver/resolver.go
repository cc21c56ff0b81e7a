package resolver

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/appresence/appresence/internal/config"
	"github.com/appresence/appresence/pkg/usage"
)

// defaultSystemPackages are shell and launcher identifiers that never
// count as the user's foreground application.
var defaultSystemPackages = map[string]struct{}{
	"android":                               {},
	"com.android.systemui":                  {},
	"com.android.launcher":                  {},
	"com.android.launcher3":                 {},
	"com.android.settings":                  {},
	"com.google.android.apps.nexuslauncher": {},
	"gnome-shell":                           {},
	"plasmashell":                           {},
	"kwin_x11":                              {},
	"mutter":                                {},
	"xfdesktop":                             {},
}

// Resolver turns raw usage signals into a single foreground decision
// per tick.
type Resolver struct {
	source       usage.Source
	selfPackage  string
	system       map[string]struct{}
	lookback     time.Duration
	statsRecency time.Duration
	log          zerolog.Logger
}

func New(src usage.Source, cfg config.TrackerConfig, logger zerolog.Logger) *Resolver {
	return &Resolver{
		source:       src,
		selfPackage:  cfg.SelfPackage,
		system:       defaultSystemPackages,
		lookback:     cfg.LookbackWindow,
		statsRecency: cfg.StatsRecency,
		log:          logger.With().Str("component", "resolver").Logger(),
	}
}

// Resolve computes the current foreground application. Collaborator
// failures never propagate; they resolve to an empty state with a
// diagnostic.
func (r *Resolver) Resolve() usage.State {
	now := time.Now()
	end := now.UnixMilli()
	start := end - r.lookback.Milliseconds()

	events, err := r.source.Events(start, end)
	if err != nil {
		r.log.Warn().Err(err).Msg("usage event query failed")
		return usage.State{Method: usage.MethodNone, ResolvedAt: now, Debug: fmt.Sprintf("event query failed: %v", err)}
	}

	filtered := r.filter(events)
	sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].Time < filtered[j].Time })

	if pkg, ok := replayWinner(filtered); ok {
		return r.describe(pkg, usage.MethodEventState, now, fmt.Sprintf("events=%d", len(filtered)))
	}

	if pkg, ok := mostRecentForeground(filtered); ok {
		return r.describe(pkg, usage.MethodEventRecent, now, fmt.Sprintf("events=%d", len(filtered)))
	}

	if pkg, ok, err := r.statsWinner(start, end); err != nil {
		r.log.Warn().Err(err).Msg("usage stats query failed")
		return usage.State{Method: usage.MethodNone, ResolvedAt: now, Debug: fmt.Sprintf("stats query failed: %v", err)}
	} else if ok {
		return r.describe(pkg, usage.MethodStatsFallback, now, "stats fallback")
	}

	return usage.State{Method: usage.MethodNone, ResolvedAt: now, Debug: "no usage signals in window"}
}

// filter drops events for the reporting app itself and for system
// packages.
func (r *Resolver) filter(events []usage.Event) []usage.Event {
	var out []usage.Event
	for _, ev := range events {
		if ev.Package == "" || ev.Package == r.selfPackage {
			continue
		}
		if _, ok := r.system[ev.Package]; ok {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// replayWinner replays transitions in timestamp order, keeping a
// last-foreground map. A background event removes its app entirely.
// The winner is the still-foregrounded app with the highest timestamp;
// equal timestamps resolve to the one seen later in replay order.
func replayWinner(events []usage.Event) (string, bool) {
	lastFg := make(map[string]int64)
	for _, ev := range events {
		switch ev.Kind {
		case usage.ToForeground:
			lastFg[ev.Package] = ev.Time
		case usage.ToBackground:
			delete(lastFg, ev.Package)
		}
	}

	if len(lastFg) == 0 {
		return "", false
	}

	var winner string
	var winnerTime int64 = -1
	for _, ev := range events {
		if ev.Kind != usage.ToForeground {
			continue
		}
		if ts, ok := lastFg[ev.Package]; !ok || ts != ev.Time {
			continue
		}
		if ev.Time >= winnerTime {
			winner = ev.Package
			winnerTime = ev.Time
		}
	}
	return winner, winner != ""
}

// mostRecentForeground is the best-effort fallback for the narrow race
// where every app in the window also backgrounded: the latest
// foreground transition wins regardless of backgrounding.
func mostRecentForeground(events []usage.Event) (string, bool) {
	var winner string
	var winnerTime int64 = -1
	for _, ev := range events {
		if ev.Kind != usage.ToForeground {
			continue
		}
		if ev.Time >= winnerTime {
			winner = ev.Package
			winnerTime = ev.Time
		}
	}
	return winner, winner != ""
}

// statsWinner tries aggregate stats over the short recency window, then
// widens to the full lookback window before giving up.
func (r *Resolver) statsWinner(start, end int64) (string, bool, error) {
	for _, windowStart := range []int64{end - r.statsRecency.Milliseconds(), start} {
		stats, err := r.source.Stats(windowStart, end)
		if err != nil {
			return "", false, err
		}

		var winner string
		var winnerTime int64 = -1
		for _, st := range stats {
			if st.Package == "" || st.Package == r.selfPackage {
				continue
			}
			if _, ok := r.system[st.Package]; ok {
				continue
			}
			if st.LastUsed > winnerTime {
				winner = st.Package
				winnerTime = st.LastUsed
			}
		}
		if winner != "" {
			return winner, true, nil
		}
	}
	return "", false, nil
}

// describe resolves the display name for the winning package. When no
// label can be found the package identifier doubles as the name and the
// method is downgraded so callers can tell the difference.
func (r *Resolver) describe(pkg string, method usage.Method, now time.Time, debug string) usage.State {
	state := usage.State{
		Package:    pkg,
		Method:     method,
		ResolvedAt: now,
		Debug:      debug,
	}

	label, err := r.source.Label(pkg)
	if err != nil || label == "" {
		state.DisplayName = pkg
		state.Method = usage.MethodPackageOnly
		return state
	}

	state.DisplayName = label
	return state
}
