package usage

import (
	"testing"
	"time"
)

func TestMethodString(t *testing.T) {
	tests := []struct {
		method Method
		want   string
	}{
		{MethodNone, "none"},
		{MethodEventState, "event_state"},
		{MethodEventRecent, "event_recent"},
		{MethodPackageOnly, "package_only"},
		{MethodStatsFallback, "stats_fallback"},
		{Method(99), "none"},
	}

	for _, tt := range tests {
		if got := tt.method.String(); got != tt.want {
			t.Errorf("Method(%d).String() = %q, want %q", tt.method, got, tt.want)
		}
	}
}

func TestStateBridge(t *testing.T) {
	tests := []struct {
		name  string
		state State
		want  string
	}{
		{
			name: "Fully resolved",
			state: State{
				Package:     "org.mozilla.firefox",
				DisplayName: "Firefox",
				Method:      MethodEventState,
				Debug:       "events=3",
			},
			want: "Firefox|org.mozilla.firefox|event_state|events=3",
		},
		{
			name:  "Nothing resolved",
			state: State{Method: MethodNone},
			want:  "null|null|none|null",
		},
		{
			name: "Identifier fallback",
			state: State{
				Package:     "com.example.app",
				DisplayName: "com.example.app",
				Method:      MethodPackageOnly,
			},
			want: "com.example.app|com.example.app|package_only|null",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.Bridge(); got != tt.want {
				t.Errorf("Bridge() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStateEmpty(t *testing.T) {
	s := State{Method: MethodNone, ResolvedAt: time.Now()}
	if !s.Empty() {
		t.Error("Empty() = false for state without package")
	}

	s.Package = "com.example.app"
	if s.Empty() {
		t.Error("Empty() = true for state with package")
	}
}

func TestEventKindString(t *testing.T) {
	if ToForeground.String() != "to_foreground" {
		t.Errorf("ToForeground.String() = %s", ToForeground.String())
	}
	if ToBackground.String() != "to_background" {
		t.Errorf("ToBackground.String() = %s", ToBackground.String())
	}
}
