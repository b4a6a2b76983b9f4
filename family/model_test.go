package family

import "testing"

func TestStateTransitions(t *testing.T) {
	cases := []struct {
		from    State
		to      State
		allowed bool
	}{
		{StateActive, StateRevoked, true},
		{StateActive, StateCompromised, true},
		{StateRevoked, StateCompromised, true},
		{StateRevoked, StateActive, false},
		{StateCompromised, StateActive, false},
		{StateCompromised, StateRevoked, false},
		{StateActive, StateActive, false},
	}

	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.allowed {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", tc.from, tc.to, got, tc.allowed)
		}
	}
}

func TestParseState(t *testing.T) {
	for _, s := range []string{"active", "revoked", "compromised"} {
		state, err := ParseState(s)
		if err != nil {
			t.Fatalf("ParseState(%q) error: %v", s, err)
		}
		if state.String() != s {
			t.Fatalf("ParseState(%q) = %q", s, state)
		}
	}

	if _, err := ParseState("burned"); err == nil {
		t.Fatal("expected unknown state to be rejected")
	}
}
