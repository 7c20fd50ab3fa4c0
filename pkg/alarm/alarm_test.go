package alarm

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
		want bool
	}{
		{StatusTriggered, StatusAcknowledged, true},
		{StatusTriggered, StatusResolved, true},
		{StatusTriggered, StatusCancelled, true},
		{StatusAcknowledged, StatusResolved, true},
		{StatusAcknowledged, StatusCancelled, true},
		{StatusAcknowledged, StatusTriggered, false},
		{StatusResolved, StatusAcknowledged, false},
		{StatusResolved, StatusCancelled, false},
		{StatusCancelled, StatusResolved, false},
		{StatusCancelled, StatusTriggered, false},
		{StatusTriggered, StatusTriggered, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	for _, terminal := range []Status{StatusResolved, StatusCancelled} {
		for _, to := range []Status{StatusTriggered, StatusAcknowledged, StatusResolved, StatusCancelled} {
			if CanTransition(terminal, to) {
				t.Errorf("terminal state %s must not allow transition to %s", terminal, to)
			}
		}
	}
}

func TestValidStatus(t *testing.T) {
	for _, s := range []Status{StatusTriggered, StatusAcknowledged, StatusResolved, StatusCancelled} {
		if !ValidStatus(s) {
			t.Errorf("ValidStatus(%s) = false", s)
		}
	}
	if ValidStatus("OPEN") {
		t.Error("ValidStatus(OPEN) should be false")
	}
}

func TestValidSeverity(t *testing.T) {
	for _, s := range []string{"P0", "P1", "P2", "P3"} {
		if !ValidSeverity(s) {
			t.Errorf("ValidSeverity(%s) = false", s)
		}
	}
	for _, s := range []string{"p0", "P4", "", "critical"} {
		if ValidSeverity(s) {
			t.Errorf("ValidSeverity(%s) should be false", s)
		}
	}
}
