package resolver

import (
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"github.com/appresence/appresence/internal/config"
	"github.com/appresence/appresence/pkg/usage"
)

type fakeSource struct {
	events     []usage.Event
	eventsErr  error
	statsFn    func(start, end int64) ([]usage.Stat, error)
	statsCalls int
	labels     map[string]string
	labelErr   error
}

func (f *fakeSource) Events(start, end int64) ([]usage.Event, error) {
	return f.events, f.eventsErr
}

func (f *fakeSource) Stats(start, end int64) ([]usage.Stat, error) {
	f.statsCalls++
	if f.statsFn == nil {
		return nil, nil
	}
	return f.statsFn(start, end)
}

func (f *fakeSource) Label(pkg string) (string, error) {
	if f.labelErr != nil {
		return "", f.labelErr
	}
	return f.labels[pkg], nil
}

func (f *fakeSource) IsAvailable() bool { return true }
func (f *fakeSource) Close() error     { return nil }

func newResolver(src usage.Source) *Resolver {
	cfg := config.Default().Tracker
	return New(src, cfg, zerolog.Nop())
}

func TestResolveStillForegroundedWins(t *testing.T) {
	// Out of timestamp order on purpose; replay must sort first.
	src := &fakeSource{
		events: []usage.Event{
			{Package: "com.app.a", Kind: usage.ToForeground, Time: 0},
			{Package: "com.app.b", Kind: usage.ToForeground, Time: 10},
			{Package: "com.app.a", Kind: usage.ToBackground, Time: 5},
		},
		labels: map[string]string{"com.app.b": "App B"},
	}

	state := newResolver(src).Resolve()

	if state.Package != "com.app.b" {
		t.Fatalf("resolved %q, want com.app.b", state.Package)
	}
	if state.Method != usage.MethodEventState {
		t.Errorf("method = %s, want event_state", state.Method)
	}
	if state.DisplayName != "App B" {
		t.Errorf("display name = %q, want App B", state.DisplayName)
	}
}

func TestResolveNeverReturnsBackgroundedApp(t *testing.T) {
	// Every foreground transition is eventually backgrounded, so event
	// replay yields nothing and the recent-event fallback takes over.
	src := &fakeSource{
		events: []usage.Event{
			{Package: "com.app.a", Kind: usage.ToForeground, Time: 0},
			{Package: "com.app.a", Kind: usage.ToBackground, Time: 10},
			{Package: "com.app.b", Kind: usage.ToForeground, Time: 20},
			{Package: "com.app.b", Kind: usage.ToBackground, Time: 30},
		},
		labels: map[string]string{"com.app.b": "App B"},
	}

	state := newResolver(src).Resolve()

	if state.Method != usage.MethodEventRecent {
		t.Fatalf("method = %s, want event_recent", state.Method)
	}
	if state.Package != "com.app.b" {
		t.Errorf("resolved %q, want com.app.b (latest foreground transition)", state.Package)
	}
}

func TestResolveEqualTimestampsLastWriteWins(t *testing.T) {
	src := &fakeSource{
		events: []usage.Event{
			{Package: "com.app.a", Kind: usage.ToForeground, Time: 10},
			{Package: "com.app.b", Kind: usage.ToForeground, Time: 10},
		},
		labels: map[string]string{"com.app.b": "App B"},
	}

	state := newResolver(src).Resolve()

	if state.Package != "com.app.b" {
		t.Errorf("resolved %q, want com.app.b (later in replay order)", state.Package)
	}
}

func TestResolveFiltersSelfAndSystemPackages(t *testing.T) {
	src := &fakeSource{
		events: []usage.Event{
			{Package: "appresence", Kind: usage.ToForeground, Time: 30},
			{Package: "com.android.systemui", Kind: usage.ToForeground, Time: 20},
			{Package: "com.app.a", Kind: usage.ToForeground, Time: 10},
		},
		labels: map[string]string{"com.app.a": "App A"},
	}

	state := newResolver(src).Resolve()

	if state.Package != "com.app.a" {
		t.Errorf("resolved %q, want com.app.a", state.Package)
	}
}

func TestResolveStatsFallbackWidensWindow(t *testing.T) {
	src := &fakeSource{}
	src.statsFn = func(start, end int64) ([]usage.Stat, error) {
		// Nothing in the short recency window; the widened query hits.
		if src.statsCalls == 1 {
			return nil, nil
		}
		return []usage.Stat{
			{Package: "com.app.a", LastUsed: 100},
			{Package: "com.app.b", LastUsed: 200},
			{Package: "gnome-shell", LastUsed: 900},
		}, nil
	}

	state := newResolver(src).Resolve()

	if src.statsCalls != 2 {
		t.Fatalf("stats queried %d times, want 2", src.statsCalls)
	}
	if state.Package != "com.app.b" {
		t.Errorf("resolved %q, want com.app.b", state.Package)
	}
	if state.Method != usage.MethodPackageOnly {
		t.Errorf("method = %s, want package_only (no label available)", state.Method)
	}
	if state.DisplayName != "com.app.b" {
		t.Errorf("display name = %q, want raw identifier", state.DisplayName)
	}
}

func TestResolveNoSignalsAtAll(t *testing.T) {
	state := newResolver(&fakeSource{}).Resolve()

	if !state.Empty() {
		t.Fatalf("resolved %q, want empty state", state.Package)
	}
	if state.Method != usage.MethodNone {
		t.Errorf("method = %s, want none", state.Method)
	}
	if state.Debug == "" {
		t.Error("empty state carries no diagnostic")
	}
}

func TestResolveCollaboratorErrorsNeverPropagate(t *testing.T) {
	src := &fakeSource{eventsErr: fmt.Errorf("usage access not granted")}

	state := newResolver(src).Resolve()

	if !state.Empty() || state.Method != usage.MethodNone {
		t.Fatalf("error tick resolved %+v, want empty none state", state)
	}
	if state.Debug == "" {
		t.Error("error tick carries no diagnostic")
	}
}

func TestResolveLabelFailureFallsBackToIdentifier(t *testing.T) {
	src := &fakeSource{
		events: []usage.Event{
			{Package: "com.app.a", Kind: usage.ToForeground, Time: 10},
		},
		labelErr: fmt.Errorf("metadata lookup failed"),
	}

	state := newResolver(src).Resolve()

	if state.DisplayName != "com.app.a" {
		t.Errorf("display name = %q, want raw identifier", state.DisplayName)
	}
	if state.Method != usage.MethodPackageOnly {
		t.Errorf("method = %s, want package_only", state.Method)
	}
}
