package gsusb

import "testing"

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpened, "opened"},
		{StateConfigured, "configured"},
		{StateRunning, "running"},
		{StateStopped, "stopped"},
		{State(9), "State(9)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", uint8(tt.state), got, tt.want)
		}
	}
}

func TestStateIn(t *testing.T) {
	if !StateRunning.in(StateConfigured, StateRunning) {
		t.Error("StateRunning.in(Configured, Running) = false, want true")
	}
	if StateClosed.in(StateOpened, StateRunning) {
		t.Error("StateClosed.in(Opened, Running) = true, want false")
	}
	if StateOpened.in() {
		t.Error("StateOpened.in() = true, want false")
	}
}
