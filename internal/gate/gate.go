// Package gate decides, per resolved foreground application, whether to
// emit a presence update, clear the displayed presence, or do nothing.
// It is pure decision logic; the caller performs all I/O and threads the
// previously-active package between ticks.
package gate

import (
	"github.com/appresence/appresence/internal/models"
	"github.com/appresence/appresence/pkg/usage"
)

// StepKind is the kind of relay call a decision asks the caller to make.
type StepKind int

const (
	// StepClear asks the caller to clear the displayed presence.
	StepClear StepKind = iota
	// StepEmit asks the caller to send a presence update.
	StepEmit
)

// Step is one relay action. Emit steps carry the resolved identity.
type Step struct {
	Kind        StepKind
	Package     string
	DisplayName string
	ClientID    string
}

// Decide maps a foreground state onto the relay steps for this tick, in
// order. previouslyActive is the package whose presence the relay last
// showed, or "" when nothing is showing; the caller updates it only
// after a step succeeds.
func Decide(state usage.State, configs map[string]models.AppIdentity, previouslyActive string) []Step {
	if state.Empty() {
		if previouslyActive != "" {
			return []Step{{Kind: StepClear}}
		}
		return nil
	}

	cfg, ok := configs[state.Package]
	if !ok || !cfg.Usable() {
		// Switching to a disabled or unknown app clears whatever was
		// showing, no matter which app that was.
		if previouslyActive != "" {
			return []Step{{Kind: StepClear}}
		}
		return nil
	}

	emit := Step{
		Kind:        StepEmit,
		Package:     state.Package,
		DisplayName: displayName(state, cfg),
		ClientID:    cfg.ClientID,
	}

	if previouslyActive != "" && previouslyActive != state.Package {
		// Clear first so stale presence from the old app never lingers
		// while the new session spins up.
		return []Step{{Kind: StepClear}, emit}
	}

	return []Step{emit}
}

// displayName prefers the user-configured name over the resolved one.
func displayName(state usage.State, cfg models.AppIdentity) string {
	if cfg.DisplayName != "" {
		return cfg.DisplayName
	}
	if state.DisplayName != "" {
		return state.DisplayName
	}
	return state.Package
}
