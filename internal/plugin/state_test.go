package plugin

import "testing"

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateUnloaded, "unloaded"},
		{StateLoading, "loading"},
		{StateActive, "active"},
		{StateSuspended, "suspended"},
		{StateUnloading, "unloading"},
		{StateFailed, "failed"},
		{StateDisabled, "disabled"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestStateCanTransitionTo(t *testing.T) {
	tests := []struct {
		name string
		from State
		to   State
		want bool
	}{
		{"unloaded to loading", StateUnloaded, StateLoading, true},
		{"unloaded to active", StateUnloaded, StateActive, false},
		{"loading to active", StateLoading, StateActive, true},
		{"loading to failed", StateLoading, StateFailed, true},
		{"loading to suspended", StateLoading, StateSuspended, false},
		{"active to suspended", StateActive, StateSuspended, true},
		{"active to unloading", StateActive, StateUnloading, true},
		{"active to failed", StateActive, StateFailed, false},
		{"active to loading", StateActive, StateLoading, false},
		{"suspended to active", StateSuspended, StateActive, true},
		{"suspended to unloading", StateSuspended, StateUnloading, true},
		{"suspended to failed", StateSuspended, StateFailed, false},
		{"unloading to unloaded", StateUnloading, StateUnloaded, true},
		{"unloading to failed", StateUnloading, StateFailed, true},
		{"unloading to active", StateUnloading, StateActive, false},
		{"failed to loading", StateFailed, StateLoading, false},
		{"failed to unloaded", StateFailed, StateUnloaded, false},
		{"any to disabled: unloaded", StateUnloaded, StateDisabled, true},
		{"any to disabled: active", StateActive, StateDisabled, true},
		{"any to disabled: failed", StateFailed, StateDisabled, true},
		{"disabled to unloaded", StateDisabled, StateUnloaded, true},
		{"disabled to loading", StateDisabled, StateLoading, false},
		{"disabled to active", StateDisabled, StateActive, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("%s.CanTransitionTo(%s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestStateIsRunning(t *testing.T) {
	running := map[State]bool{
		StateUnloaded:  false,
		StateLoading:   false,
		StateActive:    true,
		StateSuspended: true,
		StateUnloading: false,
		StateFailed:    false,
		StateDisabled:  false,
	}
	for state, want := range running {
		if got := state.IsRunning(); got != want {
			t.Errorf("%s.IsRunning() = %v, want %v", state, got, want)
		}
	}
}
